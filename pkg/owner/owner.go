// Package owner provides lifetime scopes for cells and hooks.
//
// An Owner stands in for a UI component instance: cells and hooks bound
// to it register their teardown with OnCleanup and are released when the
// owner is disposed. Owners form a tree, and disposing a parent disposes
// its children first.
//
//	o := owner.New(nil)
//	defer o.Dispose()
//	theme := pref.New(backend, "theme", "light", pref.WithOwner(o))
package owner

import (
	"sync"
	"sync/atomic"
)

var idCounter atomic.Uint64

// Owner is a disposable scope.
type Owner struct {
	id     uint64
	parent *Owner

	childrenMu sync.Mutex
	children   []*Owner

	cleanupsMu sync.Mutex
	cleanups   []func()

	disposed atomic.Bool
}

// New creates an Owner. If parent is non-nil the new owner is registered
// as its child and is disposed with it.
func New(parent *Owner) *Owner {
	o := &Owner{
		id:     idCounter.Add(1),
		parent: parent,
	}
	if parent != nil {
		parent.addChild(o)
	}
	return o
}

// ID returns the unique identifier for this Owner.
func (o *Owner) ID() uint64 {
	return o.id
}

// Parent returns the parent Owner, or nil for a root.
func (o *Owner) Parent() *Owner {
	return o.parent
}

// IsDisposed reports whether Dispose has been called.
func (o *Owner) IsDisposed() bool {
	return o.disposed.Load()
}

// addChild and OnCleanup check disposed under the list lock. Dispose
// sets it before draining, so an entry is either drained or run here.
func (o *Owner) addChild(child *Owner) {
	o.childrenMu.Lock()
	if o.disposed.Load() {
		o.childrenMu.Unlock()
		child.Dispose()
		return
	}
	o.children = append(o.children, child)
	o.childrenMu.Unlock()
}

func (o *Owner) removeChild(child *Owner) {
	o.childrenMu.Lock()
	defer o.childrenMu.Unlock()

	for i, c := range o.children {
		if c == child {
			o.children = append(o.children[:i], o.children[i+1:]...)
			return
		}
	}
}

// OnCleanup registers fn to run when the owner is disposed.
// If the owner is already disposed, fn runs immediately.
func (o *Owner) OnCleanup(fn func()) {
	o.cleanupsMu.Lock()
	if o.disposed.Load() {
		o.cleanupsMu.Unlock()
		fn()
		return
	}
	o.cleanups = append(o.cleanups, fn)
	o.cleanupsMu.Unlock()
}

// Dispose disposes children in reverse creation order, then runs
// cleanups in reverse registration order. Later calls are no-ops.
// A panicking cleanup does not prevent the remaining ones from running.
func (o *Owner) Dispose() {
	if o.disposed.Swap(true) {
		return
	}

	if o.parent != nil {
		o.parent.removeChild(o)
	}

	o.childrenMu.Lock()
	children := o.children
	o.children = nil
	o.childrenMu.Unlock()

	for i := len(children) - 1; i >= 0; i-- {
		children[i].Dispose()
	}

	o.cleanupsMu.Lock()
	cleanups := o.cleanups
	o.cleanups = nil
	o.cleanupsMu.Unlock()

	var recovered any
	for i := len(cleanups) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil && recovered == nil {
					recovered = r
				}
			}()
			cleanups[i]()
		}()
	}
	if recovered != nil {
		panic(recovered)
	}
}
