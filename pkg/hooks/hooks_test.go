package hooks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vango-dev/prefsync/pkg/owner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestToggle(t *testing.T) {
	tg := NewToggle(false)

	var seen []bool
	cancel := tg.OnChange(func(v bool) { seen = append(seen, v) })

	assert.True(t, tg.Toggle())
	assert.True(t, tg.Get())
	tg.SetTrue() // no change, no callback
	tg.SetFalse()
	tg.Set(true)
	assert.False(t, tg.Toggle())

	assert.Equal(t, []bool{true, false, true, false}, seen)

	cancel()
	tg.Toggle()
	assert.Len(t, seen, 4)
}

func TestToggleConcurrent(t *testing.T) {
	tg := NewToggle(false)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tg.Toggle()
		}()
	}
	wg.Wait()
	assert.False(t, tg.Get(), "an even number of flips returns to the start")
}

func TestFormattedDateStatic(t *testing.T) {
	date := time.Date(2024, time.December, 24, 13, 45, 30, 0, time.UTC)

	d := NewFormattedDate(context.Background(), date, "")
	defer d.Close()
	assert.Equal(t, "2024-12-24 13:45:30", d.Value())

	d2 := NewFormattedDate(context.Background(), date, "YYYY/MM/DD")
	defer d2.Close()
	assert.Equal(t, "2024/12/24", d2.Value())
}

// fakeClock advances one second per call.
type fakeClock struct {
	base  time.Time
	calls atomic.Int64
}

func (c *fakeClock) now() time.Time {
	n := c.calls.Add(1) - 1
	return c.base.Add(time.Duration(n) * time.Second)
}

func TestFormattedDateAutoUpdate(t *testing.T) {
	clock := &fakeClock{base: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := NewFormattedDate(context.Background(), time.Time{}, "HH:mm:ss",
		WithAutoUpdate(), WithInterval(5*time.Millisecond), WithClock(clock.now))
	defer d.Close()

	assert.Equal(t, "00:00:00", d.Value(), "formats the clock immediately, not the given date")

	var changes atomic.Int64
	d.OnChange(func(string) { changes.Add(1) })

	require.Eventually(t, func() bool { return changes.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, "00:00:00", d.Value())
}

func TestFormattedDateStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewFormattedDate(ctx, time.Time{}, "", WithAutoUpdate(), WithInterval(time.Millisecond))

	cancel()
	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker goroutine did not stop on cancel")
	}
	d.Close()
}

func TestFormattedDateStopsOnOwnerDispose(t *testing.T) {
	o := owner.New(nil)
	d := NewFormattedDate(context.Background(), time.Time{}, "", WithAutoUpdate(), WithDateOwner(o))

	o.Dispose()
	select {
	case <-d.done:
	default:
		t.Fatal("dispose should stop the ticker before returning")
	}
}
