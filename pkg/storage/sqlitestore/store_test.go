package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vango-dev/prefsync/pkg/pref"
	"github.com/vango-dev/prefsync/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type events struct {
	mu  sync.Mutex
	got []storage.Event
}

func (e *events) add(ev storage.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) snapshot() []storage.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]storage.Event(nil), e.got...)
}

func openAt(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithPollInterval(10 * time.Millisecond)}, opts...)
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openAt(t, filepath.Join(t.TempDir(), "prefs.db"))

	_, ok, err := s.Get(ctx, "theme")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "theme", `"dark"`))
	require.NoError(t, s.Set(ctx, "theme", `"light"`))

	v, ok, err := s.Get(ctx, "theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"light"`, v)

	require.NoError(t, s.Remove(ctx, "theme"))
	_, ok, err = s.Get(ctx, "theme")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Remove(ctx, "theme"), "removing an absent key")
}

func TestValuesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "count", "3"))
	require.NoError(t, s.Close())

	s2 := openAt(t, path)
	v, ok, err := s2.Get(ctx, "count")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestChangesFromOtherOriginsAreDelivered(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.db")
	a := openAt(t, path)
	b := openAt(t, path)
	require.NotEqual(t, a.Origin(), b.Origin())

	var gotA, gotB events
	a.Subscribe(gotA.add)
	b.Subscribe(gotB.add)

	require.NoError(t, a.Set(ctx, "count", "5"))
	require.NoError(t, a.Remove(ctx, "count"))

	require.Eventually(t, func() bool {
		return len(gotB.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	got := gotB.snapshot()
	assert.Equal(t, storage.Event{Key: "count", Value: "5", Present: true, Origin: a.Origin()}, got[0])
	assert.Equal(t, storage.Event{Key: "count", Present: false, Origin: a.Origin()}, got[1])

	// Let a poll its own rows, then confirm it skipped them.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, gotA.snapshot())
}

func TestChangesBeforeOpenAreNotReplayed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.db")
	a := openAt(t, path)
	require.NoError(t, a.Set(ctx, "old", "1"))

	b := openAt(t, path)
	var got events
	b.Subscribe(got.add)

	require.NoError(t, a.Set(ctx, "new", "2"))
	require.Eventually(t, func() bool {
		return len(got.snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	for _, ev := range got.snapshot() {
		assert.Equal(t, "new", ev.Key)
	}
}

func TestRetentionPrunesChangeLog(t *testing.T) {
	ctx := context.Background()
	s := openAt(t, filepath.Join(t.TempDir(), "prefs.db"), WithRetention(time.Millisecond))
	require.NoError(t, s.Set(ctx, "k", "1"))

	require.Eventually(t, func() bool {
		var n int
		err := s.sqlDB.QueryRow(`SELECT COUNT(*) FROM slot_changes`).Scan(&n)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "pruning must not touch slots")
	assert.Equal(t, "1", v)
}

func TestCellsConvergeAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	a := openAt(t, path)
	b := openAt(t, path)

	type counter struct {
		Count int `json:"count"`
	}
	cellA := pref.New(a, "counter", counter{}, pref.WithSink(pref.DiscardSink))
	cellB := pref.New(b, "counter", counter{}, pref.WithSink(pref.DiscardSink))
	defer cellA.Close()
	defer cellB.Close()

	for i := 0; i < 3; i++ {
		cellA.Update(func(c counter) counter {
			c.Count++
			return c
		})
	}

	require.Eventually(t, func() bool {
		return cellB.Get().Count == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.Available())

	_, _, err = s.Get(context.Background(), "k")
	assert.True(t, errors.Is(err, storage.ErrClosed))
}
