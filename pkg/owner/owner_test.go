package owner

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOwnerBasic(t *testing.T) {
	o := New(nil)

	if o.ID() == 0 {
		t.Error("owner should have non-zero ID")
	}
	if o.Parent() != nil {
		t.Error("root owner should have nil parent")
	}
	if o.IsDisposed() {
		t.Error("new owner should not be disposed")
	}

	other := New(nil)
	if other.ID() == o.ID() {
		t.Error("owners should have distinct IDs")
	}
}

func TestOwnerCleanupOrder(t *testing.T) {
	o := New(nil)

	var order []int
	o.OnCleanup(func() { order = append(order, 1) })
	o.OnCleanup(func() { order = append(order, 2) })
	o.OnCleanup(func() { order = append(order, 3) })

	o.Dispose()
	o.Dispose()

	if diff := cmp.Diff([]int{3, 2, 1}, order); diff != "" {
		t.Errorf("cleanup order (-want +got):\n%s", diff)
	}
	if !o.IsDisposed() {
		t.Error("owner should be disposed after Dispose()")
	}
}

func TestOwnerCleanupAfterDispose(t *testing.T) {
	o := New(nil)
	o.Dispose()

	ran := false
	o.OnCleanup(func() { ran = true })
	if !ran {
		t.Error("cleanup registered after Dispose should run immediately")
	}
}

func TestOwnerHierarchy(t *testing.T) {
	root := New(nil)
	child1 := New(root)
	child2 := New(root)
	grandchild := New(child1)

	if child1.Parent() != root || grandchild.Parent() != child1 {
		t.Fatal("parent links are wrong")
	}

	var order []string
	root.OnCleanup(func() { order = append(order, "root") })
	child1.OnCleanup(func() { order = append(order, "child1") })
	child2.OnCleanup(func() { order = append(order, "child2") })
	grandchild.OnCleanup(func() { order = append(order, "grandchild") })

	root.Dispose()

	want := []string{"child2", "grandchild", "child1", "root"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("dispose order (-want +got):\n%s", diff)
	}
	for _, o := range []*Owner{child1, child2, grandchild} {
		if !o.IsDisposed() {
			t.Errorf("owner %d not disposed", o.ID())
		}
	}
}

func TestOwnerChildDisposeDetaches(t *testing.T) {
	root := New(nil)
	child := New(root)

	calls := 0
	child.OnCleanup(func() { calls++ })

	child.Dispose()
	root.Dispose()

	if calls != 1 {
		t.Errorf("child cleanup ran %d times, want 1", calls)
	}
}

func TestOwnerChildOfDisposedParent(t *testing.T) {
	root := New(nil)
	root.Dispose()

	child := New(root)
	if !child.IsDisposed() {
		t.Error("child of a disposed owner should be disposed")
	}
}

func TestOwnerPanickingCleanup(t *testing.T) {
	o := New(nil)

	ran := false
	o.OnCleanup(func() { ran = true })
	o.OnCleanup(func() { panic("boom") })

	defer func() {
		if r := recover(); r != "boom" {
			t.Errorf("recovered %v, want boom", r)
		}
		if !ran {
			t.Error("cleanup after a panicking one should still run")
		}
	}()
	o.Dispose()
}

func TestOwnerConcurrentCleanupAndDispose(t *testing.T) {
	for i := 0; i < 200; i++ {
		o := New(nil)

		var ran atomic.Int32
		var children []*Owner
		var childrenMu sync.Mutex
		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				o.OnCleanup(func() { ran.Add(1) })
			}()
			go func() {
				defer wg.Done()
				c := New(o)
				childrenMu.Lock()
				children = append(children, c)
				childrenMu.Unlock()
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Dispose()
		}()
		wg.Wait()

		if got := ran.Load(); got != 8 {
			t.Fatalf("iteration %d: %d of 8 cleanups ran", i, got)
		}
		for _, c := range children {
			if !c.IsDisposed() {
				t.Fatalf("iteration %d: child registered during Dispose was not disposed", i)
			}
		}
	}
}
