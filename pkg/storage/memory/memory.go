// Package memory provides an in-process storage backend.
//
// A Space plays the role of a browser origin's local storage: one shared
// key-value map observed by several contexts (tabs). Each Context is a
// storage.Backend; a write through one context is delivered as an event
// to the subscribers of every other context in the same space.
//
//	space := memory.NewSpace()
//	tabA, tabB := space.Context(), space.Context()
//	a := pref.New(tabA, "count", 0)
//	b := pref.New(tabB, "count", 0)
//	a.Set(5) // b.Get() == 5
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vango-dev/prefsync/pkg/storage"
)

// Space is a shared in-memory key-value map.
type Space struct {
	mu       sync.RWMutex
	data     map[string]string
	used     int64
	quota    int64
	contexts map[string]*Context

	// Committed events awaiting delivery, in commit order.
	pending  []storage.Event
	draining bool
}

// SpaceOption configures a Space.
type SpaceOption func(*spaceConfig)

type spaceConfig struct {
	quota int64
}

// WithQuota limits the total size of keys plus values, in bytes.
// Writes that would exceed it fail with storage.ErrQuotaExceeded.
// Zero means unlimited.
func WithQuota(bytes int64) SpaceOption {
	return func(c *spaceConfig) {
		c.quota = bytes
	}
}

// NewSpace creates an empty space.
func NewSpace(opts ...SpaceOption) *Space {
	cfg := &spaceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Space{
		data:     make(map[string]string),
		quota:    cfg.quota,
		contexts: make(map[string]*Context),
	}
}

// Context creates a new view of the space with a fresh origin.
func (s *Space) Context() *Context {
	c := &Context{
		space:  s,
		origin: uuid.NewString(),
		subs:   make(map[uint64]func(storage.Event)),
	}
	s.mu.Lock()
	s.contexts[c.origin] = c
	s.mu.Unlock()
	return c
}

// Len returns the number of stored keys.
func (s *Space) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Used returns the number of bytes counted against the quota.
func (s *Space) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

// Peek reads key directly, bypassing any context.
func (s *Space) Peek(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *Space) set(key, value, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := int64(len(key) + len(value))
	if old, ok := s.data[key]; ok {
		delta -= int64(len(key) + len(old))
	}
	if s.quota > 0 && s.used+delta > s.quota {
		return storage.ErrQuotaExceeded
	}
	s.data[key] = value
	s.used += delta
	s.pending = append(s.pending, storage.Event{Key: key, Value: value, Present: true, Origin: origin})
	return nil
}

func (s *Space) remove(key, origin string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.data[key]
	if !ok {
		return
	}
	delete(s.data, key)
	s.used -= int64(len(key) + len(old))
	s.pending = append(s.pending, storage.Event{Key: key, Present: false, Origin: origin})
}

// dispatch delivers pending events in commit order, each to every
// context except its origin. One goroutine drains at a time; a writer
// that finds a drain in progress leaves its event to that goroutine.
// Subscribers run without s.mu held and may write to the space.
func (s *Space) dispatch() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.draining = false
			s.mu.Unlock()
			panic(r)
		}
	}()

	for len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		targets := make([]*Context, 0, len(s.contexts))
		for origin, c := range s.contexts {
			if origin != ev.Origin {
				targets = append(targets, c)
			}
		}
		s.mu.Unlock()

		for _, c := range targets {
			c.deliver(ev)
		}
		s.mu.Lock()
	}
	s.pending = nil
	s.draining = false
	s.mu.Unlock()
}

func (s *Space) detach(c *Context) {
	s.mu.Lock()
	delete(s.contexts, c.origin)
	s.mu.Unlock()
}

// Context is one execution context's view of a Space.
// It implements storage.Backend.
type Context struct {
	space  *Space
	origin string

	mu     sync.Mutex
	subs   map[uint64]func(storage.Event)
	nextID uint64
	closed bool
}

// Origin returns the identifier stamped on events from this context.
func (c *Context) Origin() string {
	return c.origin
}

// Get implements storage.Store.
func (c *Context) Get(ctx context.Context, key string) (string, bool, error) {
	if err := c.check(ctx); err != nil {
		return "", false, err
	}
	v, ok := c.space.Peek(key)
	return v, ok, nil
}

// Set implements storage.Store.
func (c *Context) Set(ctx context.Context, key, value string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	if err := c.space.set(key, value, c.origin); err != nil {
		return err
	}
	c.space.dispatch()
	return nil
}

// Remove implements storage.Store.
func (c *Context) Remove(ctx context.Context, key string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.space.remove(key, c.origin)
	c.space.dispatch()
	return nil
}

// Subscribe implements storage.Notifier.
func (c *Context) Subscribe(fn func(storage.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (c *Context) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Available reports whether the context is still open.
func (c *Context) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close detaches the context from its space and drops its subscribers.
// Stored values are kept.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = nil
	c.mu.Unlock()

	c.space.detach(c)
	return nil
}

func (c *Context) deliver(ev storage.Event) {
	c.mu.Lock()
	fns := make([]func(storage.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Context) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storage.ErrClosed
	}
	return nil
}
