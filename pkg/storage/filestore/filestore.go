// Package filestore provides a directory-backed storage backend.
//
// Each key is stored in its own file under the directory. Writes go to a
// temporary file that is renamed into place, so readers never see a
// partial value. An fsnotify watcher turns changes made by other
// processes (or other Store instances) on the same directory into
// storage events; changes made through this Store are not reported back
// to it.
package filestore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/vango-dev/prefsync/pkg/storage"
)

const (
	fileSuffix = ".json"
	tempPrefix = ".tmp-"
)

// Store is a file-per-key backend. It implements storage.Backend.
type Store struct {
	dir    string
	logger *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu     sync.Mutex
	subs   map[uint64]func(storage.Event)
	nextID uint64
	// own holds the last state this instance wrote per key. Watcher
	// events that observe exactly that state are echoes and are skipped.
	own    map[string]ownState
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for watcher errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open creates dir if needed and starts watching it.
func Open(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("filestore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filestore: new watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("filestore: watch %s: %w", dir, err)
	}

	s := &Store{
		dir:     filepath.Clean(dir),
		logger:  slog.Default(),
		watcher: watcher,
		done:    make(chan struct{}),
		subs:    make(map[uint64]func(storage.Event)),
		own:     make(map[string]ownState),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	return s, nil
}

// Dir returns the watched directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileSuffix)
}

// keyOf maps a file name back to its key. ok is false for files that
// are not values (temporaries, foreign files).
func keyOf(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, tempPrefix) || !strings.HasSuffix(base, fileSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(base, fileSuffix))
	if err != nil {
		return "", false
	}
	return key, true
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.check(ctx); err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("filestore: read %q: %w", key, err)
	}
	return string(data), true, nil
}

// Set implements storage.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("filestore: write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("filestore: write %q: %w", key, err)
	}

	s.markOwn(key, ownState{value: value, present: true})
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		s.unmarkOwn(key)
		_ = os.Remove(tmpName)
		return fmt.Errorf("filestore: commit %q: %w", key, err)
	}
	return nil
}

// Remove implements storage.Store.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.markOwn(key, ownState{})
	if err := os.Remove(s.path(key)); err != nil {
		s.unmarkOwn(key)
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("filestore: remove %q: %w", key, err)
	}
	return nil
}

// Subscribe implements storage.Notifier.
func (s *Store) Subscribe(fn func(storage.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Available reports whether the store is open.
func (s *Store) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close stops the watcher and waits for its goroutine to exit.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subs = nil
	s.mu.Unlock()

	err := s.watcher.Close()
	<-s.done
	return err
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

type ownState struct {
	value   string
	present bool
}

func (s *Store) markOwn(key string, st ownState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.own[key] = st
}

func (s *Store) unmarkOwn(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.own, key)
}

// isEchoLocked reports whether ev observes the state this store last
// wrote for its key. A foreign state clears the record. Called with s.mu held.
func (s *Store) isEchoLocked(ev storage.Event) bool {
	st, ok := s.own[ev.Key]
	if !ok {
		return false
	}
	if st.present == ev.Present && st.value == ev.Value {
		return true
	}
	delete(s.own, ev.Key)
	return false
}

// run is the watcher event loop.
func (s *Store) run() {
	defer close(s.done)

	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("filestore: watcher error", slog.String("dir", s.dir), slog.Any("error", err))
		}
	}
}

func (s *Store) handle(ev fsnotify.Event) {
	key, ok := keyOf(ev.Name)
	if !ok {
		return
	}

	var out storage.Event
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		data, err := os.ReadFile(ev.Name)
		if err != nil {
			// Replaced or removed again before we got to it; a later
			// event covers the final state.
			return
		}
		out = storage.Event{Key: key, Value: string(data), Present: true}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if _, err := os.Stat(ev.Name); err == nil {
			return
		}
		out = storage.Event{Key: key, Present: false}
	default:
		return
	}

	s.mu.Lock()
	if s.closed || s.isEchoLocked(out) {
		s.mu.Unlock()
		return
	}
	fns := make([]func(storage.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(out)
	}
}
