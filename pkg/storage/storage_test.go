package storage

import (
	"context"
	"errors"
	"testing"
)

type mapStore map[string]string

func (m mapStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapStore) Set(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func (m mapStore) Remove(_ context.Context, key string) error {
	delete(m, key)
	return nil
}

type offStore struct{ mapStore }

func (offStore) Available() bool { return false }

func TestAvailable(t *testing.T) {
	if Available(nil) {
		t.Error("nil store should be unavailable")
	}
	if !Available(mapStore{}) {
		t.Error("plain store should be available")
	}
	if Available(offStore{mapStore{}}) {
		t.Error("store reporting Available()=false should be unavailable")
	}
}

func TestCompose(t *testing.T) {
	store := mapStore{}
	b := Compose(store, nil)

	if err := b.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := b.Get(context.Background(), "k")
	if err != nil || !ok || v != "v" {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}

	cancel := b.Subscribe(func(Event) { t.Error("NopNotifier delivered an event") })
	cancel()
	cancel()

	if !Available(b) {
		t.Error("composed backend over available store should be available")
	}
	if Available(Compose(offStore{mapStore{}}, NopNotifier{})) {
		t.Error("composed backend should inherit store availability")
	}
}

func TestComposeNilStore(t *testing.T) {
	b := Compose(nil, nil)
	if Available(b) {
		t.Error("backend over a nil store should be unavailable")
	}

	ctx := context.Background()
	if _, ok, err := b.Get(ctx, "k"); ok || !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get ok=%v err=%v, want ErrUnavailable", ok, err)
	}
	if err := b.Set(ctx, "k", "v"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Set err = %v, want ErrUnavailable", err)
	}
	if err := b.Remove(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Remove err = %v, want ErrUnavailable", err)
	}
}
