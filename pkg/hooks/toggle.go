// Package hooks provides small stateful helpers built around change
// callbacks: a boolean toggle and a self-updating formatted date.
package hooks

import "sync"

// Toggle is a boolean with change notification. It is safe for
// concurrent use.
type Toggle struct {
	mu        sync.Mutex
	value     bool
	listeners map[uint64]func(bool)
	nextID    uint64
}

// NewToggle returns a Toggle holding initial.
func NewToggle(initial bool) *Toggle {
	return &Toggle{
		value:     initial,
		listeners: make(map[uint64]func(bool)),
	}
}

// Get returns the current value.
func (t *Toggle) Get() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Toggle flips the value and returns the new one.
func (t *Toggle) Toggle() bool {
	t.mu.Lock()
	t.value = !t.value
	v := t.value
	fns := t.snapshotLocked()
	t.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
	return v
}

// SetTrue sets the value to true.
func (t *Toggle) SetTrue() { t.Set(true) }

// SetFalse sets the value to false.
func (t *Toggle) SetFalse() { t.Set(false) }

// Set sets the value. Listeners run only if it changed.
func (t *Toggle) Set(v bool) {
	t.mu.Lock()
	if t.value == v {
		t.mu.Unlock()
		return
	}
	t.value = v
	fns := t.snapshotLocked()
	t.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// OnChange registers fn to run after every change. The returned function
// deregisters it.
func (t *Toggle) OnChange(fn func(bool)) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *Toggle) snapshotLocked() []func(bool) {
	fns := make([]func(bool), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	return fns
}
