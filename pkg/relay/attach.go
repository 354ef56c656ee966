package relay

import (
	"context"

	"github.com/vango-dev/prefsync/internal/errors"
	"github.com/vango-dev/prefsync/pkg/storage"
)

// Publisher sends change events to other contexts.
type Publisher interface {
	storage.Notifier
	Publish(ctx context.Context, ev storage.Event) error
}

// Attach returns a Backend that stores through store and publishes every
// successful Set and Remove through pub. Events arrive from pub and, if
// store is itself a Notifier, from store as well.
//
// A write that is stored but cannot be published is reported as E051.
func Attach(store storage.Store, pub Publisher) storage.Backend {
	return &attached{store: store, pub: pub}
}

type attached struct {
	store storage.Store
	pub   Publisher
}

func (a *attached) Get(ctx context.Context, key string) (string, bool, error) {
	return a.store.Get(ctx, key)
}

func (a *attached) Set(ctx context.Context, key, value string) error {
	if err := a.store.Set(ctx, key, value); err != nil {
		return err
	}
	return a.publish(ctx, storage.Event{Key: key, Value: value, Present: true})
}

func (a *attached) Remove(ctx context.Context, key string) error {
	if err := a.store.Remove(ctx, key); err != nil {
		return err
	}
	return a.publish(ctx, storage.Event{Key: key})
}

func (a *attached) publish(ctx context.Context, ev storage.Event) error {
	if err := a.pub.Publish(ctx, ev); err != nil {
		return errors.New("E051").WithKey(ev.Key).Wrap(err)
	}
	return nil
}

func (a *attached) Subscribe(fn func(storage.Event)) func() {
	cancelPub := a.pub.Subscribe(fn)
	n, ok := a.store.(storage.Notifier)
	if !ok {
		return cancelPub
	}
	cancelStore := n.Subscribe(fn)
	return func() {
		cancelPub()
		cancelStore()
	}
}

// Available reports whether the underlying store is usable. A closed
// relay only loses notifications, so it does not make the backend
// unavailable.
func (a *attached) Available() bool {
	return storage.Available(a.store)
}
