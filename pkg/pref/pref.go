// Package pref provides synchronized state cells.
//
// A cell binds a typed value to a slot key in a storage backend:
//   - it initializes from the stored JSON text, or the default if the
//     key is absent, unparseable, or the backend is unavailable
//   - every local write is mirrored back to the backend
//   - writes made by other contexts sharing the backend are observed
//     and applied locally
//
// Backend failures never reach the caller. They are reported to a Sink
// (slog by default) and the cell keeps serving its last good value.
//
// Example:
//
//	space := memory.NewSpace()
//	counter := pref.New(space.Context(), "counter", Counter{})
//
//	counter.Update(func(c Counter) Counter {
//	    c.Count++
//	    return c
//	})
//	counter.Remove() // back to Counter{}, entry deleted
package pref

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/vango-dev/prefsync/internal/errors"
	"github.com/vango-dev/prefsync/pkg/owner"
	"github.com/vango-dev/prefsync/pkg/storage"
)

// Option is a functional option for configuring a cell.
type Option func(*config)

type config struct {
	sink  Sink
	owner *owner.Owner
	ctx   context.Context
}

// WithSink sets where contained failures are reported.
func WithSink(sink Sink) Option {
	return func(c *config) {
		c.sink = sink
	}
}

// WithLogger reports contained failures to logger at warn level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.sink = LogSink(logger)
	}
}

// WithOwner ties the cell's subscription to o. Disposing o closes the cell.
func WithOwner(o *owner.Owner) Option {
	return func(c *config) {
		c.owner = o
	}
}

// WithContext sets the context passed to backend I/O.
func WithContext(ctx context.Context) Option {
	return func(c *config) {
		c.ctx = ctx
	}
}

// Pref is a synchronized state cell holding a value of type T.
// It is safe for concurrent use.
type Pref[T any] struct {
	key       string
	defaults  T
	backend   storage.Backend
	available bool
	config    config

	// wmu serializes local writes and their persistence. It is never
	// taken by the event handler, so a synchronous notification from a
	// peer cell cannot deadlock against this cell's own write.
	wmu sync.Mutex

	mu     sync.Mutex
	value  T
	cancel func()
	closed bool

	listenersMu  sync.Mutex
	listeners    map[uint64]func(T)
	nextListener uint64
}

// New creates a cell bound to key in backend and reads its initial value.
// backend may be nil, in which case the cell holds defaultValue in memory
// only.
func New[T any](backend storage.Backend, key string, defaultValue T, opts ...Option) *Pref[T] {
	cfg := config{
		sink: LogSink(nil),
		ctx:  context.Background(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pref[T]{
		key:       key,
		defaults:  defaultValue,
		value:     defaultValue,
		backend:   backend,
		available: storage.Available(backend),
		config:    cfg,
		listeners: make(map[uint64]func(T)),
	}

	if !p.available {
		p.warn(errors.New("E001").WithKey(key))
	} else {
		// Subscribe before reading so an event racing with the initial
		// read is applied after it rather than lost.
		p.mu.Lock()
		p.cancel = backend.Subscribe(p.handleEvent)
		p.value = p.load()
		p.mu.Unlock()
	}

	if cfg.owner != nil {
		cfg.owner.OnCleanup(p.Close)
	}
	return p
}

// load reads the stored value. Called with p.mu held.
func (p *Pref[T]) load() T {
	text, ok, err := p.backend.Get(p.config.ctx, p.key)
	if err != nil {
		p.warn(errors.New("E010").WithKey(p.key).Wrap(err))
		return p.defaults
	}
	if !ok || text == "" {
		return p.defaults
	}
	v, err := decode[T](text)
	if err != nil {
		p.warn(errors.New("E011").WithKey(p.key).Wrap(err))
		return p.defaults
	}
	return v
}

// Key returns the slot key.
func (p *Pref[T]) Key() string {
	return p.key
}

// Default returns the value the cell was created with.
func (p *Pref[T]) Default() T {
	return p.defaults
}

// Get returns the current value. It never touches storage.
func (p *Pref[T]) Get() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Set replaces the value and persists it.
func (p *Pref[T]) Set(value T) {
	p.Update(func(T) T { return value })
}

// Update computes the next value from the current one, stores it
// locally, then persists it. A failed write is reported to the sink and
// the local value is kept. Backend errors that already carry a code
// (such as a relay publish failure) are reported under that code.
func (p *Pref[T]) Update(fn func(current T) T) {
	p.notify(p.write(fn))
}

// write runs fn on a snapshot of the value and persists the result.
// fn is called without p.mu held so it may read the cell.
func (p *Pref[T]) write(fn func(current T) T) T {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	next := fn(p.Get())

	p.mu.Lock()
	p.value = next
	p.mu.Unlock()

	p.persist(next)
	return next
}

func (p *Pref[T]) persist(value T) {
	if !p.available {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		p.warn(errors.New("E022").WithKey(p.key).Wrap(err))
		return
	}
	if err := p.backend.Set(p.config.ctx, p.key, string(data)); err != nil {
		code := "E020"
		if errors.Is(err, storage.ErrQuotaExceeded) {
			code = "E021"
		}
		p.warn(errors.FromError(err, code).WithKey(p.key))
	}
}

// Remove resets the value to the default and deletes the stored entry.
// The reset happens even if the delete fails.
func (p *Pref[T]) Remove() {
	p.reset()
	p.notify(p.defaults)
}

func (p *Pref[T]) reset() {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	p.mu.Lock()
	p.value = p.defaults
	p.mu.Unlock()

	if !p.available {
		return
	}
	if err := p.backend.Remove(p.config.ctx, p.key); err != nil {
		p.warn(errors.FromError(err, "E030").WithKey(p.key))
	}
}

// handleEvent applies an external change for this cell's key.
// Removals and empty payloads are ignored.
func (p *Pref[T]) handleEvent(ev storage.Event) {
	if ev.Key != p.key || !ev.Present || ev.Value == "" {
		return
	}
	v, err := decode[T](ev.Value)
	if err != nil {
		p.warn(errors.New("E040").WithKey(p.key).Wrap(err))
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.value = v
	p.mu.Unlock()

	p.notify(v)
}

// OnChange registers fn to be called with the new value after every
// change, local or external. The returned function deregisters it.
func (p *Pref[T]) OnChange(fn func(T)) (cancel func()) {
	p.listenersMu.Lock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	p.listenersMu.Unlock()

	return func() {
		p.listenersMu.Lock()
		delete(p.listeners, id)
		p.listenersMu.Unlock()
	}
}

func (p *Pref[T]) notify(v T) {
	p.listenersMu.Lock()
	fns := make([]func(T), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.listenersMu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Close stops observing external changes. The stored value is kept and
// the cell stays usable as a local value. Close is idempotent.
func (p *Pref[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (p *Pref[T]) warn(err *errors.Error) {
	if p.config.sink != nil {
		p.config.sink.Warn(p.key, err)
	}
}

func decode[T any](text string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(text), &v)
	return v, err
}
