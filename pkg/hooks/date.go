package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/vango-dev/prefsync/pkg/format"
	"github.com/vango-dev/prefsync/pkg/owner"
)

// DefaultDateLayout is used when NewFormattedDate is given an empty layout.
const DefaultDateLayout = "YYYY-MM-DD HH:mm:ss"

// DateOption configures a FormattedDate.
type DateOption func(*dateConfig)

type dateConfig struct {
	auto     bool
	interval time.Duration
	now      func() time.Time
	owner    *owner.Owner
}

// WithAutoUpdate makes the date track the clock, reformatting the current
// time every interval instead of the date it was created with.
func WithAutoUpdate() DateOption {
	return func(c *dateConfig) {
		c.auto = true
	}
}

// WithInterval sets the auto-update period (default 1s).
func WithInterval(d time.Duration) DateOption {
	return func(c *dateConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithClock sets the time source used by auto-update.
func WithClock(now func() time.Time) DateOption {
	return func(c *dateConfig) {
		c.now = now
	}
}

// WithDateOwner stops auto-update when o is disposed.
func WithDateOwner(o *owner.Owner) DateOption {
	return func(c *dateConfig) {
		c.owner = o
	}
}

// FormattedDate holds a date rendered with format.Date.
type FormattedDate struct {
	layout string
	now    func() time.Time

	mu        sync.Mutex
	value     string
	listeners map[uint64]func(string)
	nextID    uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewFormattedDate formats date with layout. With WithAutoUpdate it
// formats the clock's current time immediately and then on every tick
// until ctx is done or Close is called.
func NewFormattedDate(ctx context.Context, date time.Time, layout string, opts ...DateOption) *FormattedDate {
	cfg := dateConfig{
		interval: time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if layout == "" {
		layout = DefaultDateLayout
	}

	d := &FormattedDate{
		layout:    layout,
		now:       cfg.now,
		listeners: make(map[uint64]func(string)),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if !cfg.auto {
		d.value = format.Date(date, layout)
		close(d.done)
		return d
	}

	d.value = format.Date(d.now(), layout)
	if cfg.owner != nil {
		cfg.owner.OnCleanup(d.Close)
	}
	go d.run(ctx, cfg.interval)
	return d
}

func (d *FormattedDate) run(ctx context.Context, interval time.Duration) {
	defer close(d.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.update(format.Date(d.now(), d.layout))
		}
	}
}

func (d *FormattedDate) update(v string) {
	d.mu.Lock()
	if d.value == v {
		d.mu.Unlock()
		return
	}
	d.value = v
	fns := make([]func(string), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Value returns the current formatted string.
func (d *FormattedDate) Value() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// OnChange registers fn to run whenever the formatted string changes.
func (d *FormattedDate) OnChange(fn func(string)) (cancel func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

// Close stops auto-update and waits for the ticker goroutine to exit.
// It is idempotent.
func (d *FormattedDate) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}
