package storage

import (
	"context"
	"errors"
)

// Store is a textual key-value store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the text stored at key.
	// Returns ("", false, nil) if the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value at key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// Notifier delivers change events made by other contexts sharing the
// same backend. A context never receives events for its own writes.
type Notifier interface {
	// Subscribe registers fn and returns a function that deregisters it.
	// The returned function is safe to call more than once.
	Subscribe(fn func(Event)) (cancel func())
}

// Backend is a Store with a change-notification channel.
type Backend interface {
	Store
	Notifier
}

// Availability is implemented by backends that can report whether they
// are usable in the current environment.
type Availability interface {
	Available() bool
}

// Event is an external change notification for a single key.
type Event struct {
	// Key is the slot key that changed.
	Key string `json:"key"`

	// Value is the new stored text. Empty when Present is false.
	Value string `json:"value,omitempty"`

	// Present is false when the entry was removed.
	Present bool `json:"present"`

	// Origin identifies the context that made the change.
	Origin string `json:"origin,omitempty"`
}

var (
	// ErrUnavailable is returned when no backend is present.
	ErrUnavailable = errors.New("storage: backend unavailable")

	// ErrQuotaExceeded is returned when a write would exceed the backend's capacity.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")

	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("storage: store is closed")
)

// Available reports whether b can be used. A nil backend is unavailable.
func Available(b Store) bool {
	if b == nil {
		return false
	}
	if a, ok := b.(Availability); ok {
		return a.Available()
	}
	return true
}

// Compose joins a Store and a Notifier into a Backend.
// A nil notifier is replaced with NopNotifier. A nil store yields an
// unavailable backend whose operations fail with ErrUnavailable.
func Compose(store Store, notifier Notifier) Backend {
	if store == nil {
		store = unavailable{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return composed{Store: store, Notifier: notifier}
}

type composed struct {
	Store
	Notifier
}

func (c composed) Available() bool {
	return Available(c.Store)
}

// NopNotifier never delivers events.
type NopNotifier struct{}

// Subscribe implements Notifier.
func (NopNotifier) Subscribe(func(Event)) func() {
	return func() {}
}

type unavailable struct{}

func (unavailable) Get(context.Context, string) (string, bool, error) {
	return "", false, ErrUnavailable
}

func (unavailable) Set(context.Context, string, string) error { return ErrUnavailable }

func (unavailable) Remove(context.Context, string) error { return ErrUnavailable }

func (unavailable) Available() bool { return false }
