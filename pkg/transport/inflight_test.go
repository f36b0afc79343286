package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/majordomo/pkg/api"
)

func TestInFlightRegistryRegisterAndRemove(t *testing.T) {
	r := NewInFlightRegistry()

	key := r.Register("req_1", "deploy")
	if key != "req_1" {
		t.Errorf("key = %q, want %q", key, "req_1")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].Address != "deploy" || snap[0].ID != "req_1" {
		t.Errorf("Snapshot() = %+v", snap)
	}

	r.Remove(key)
	if r.Len() != 0 {
		t.Errorf("Len() after Remove = %d, want 0", r.Len())
	}
}

func TestInFlightRegistryDuplicateAndEmptyIDs(t *testing.T) {
	r := NewInFlightRegistry()

	a := r.Register("same", "x")
	b := r.Register("same", "y")
	c := r.Register("", "z")
	if a == b || b == c || a == c {
		t.Errorf("keys not unique: %q %q %q", a, b, c)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}

	r.Remove(b)
	snap := r.Snapshot()
	for _, e := range snap {
		if e.Address == "y" {
			t.Error("removed entry still present")
		}
	}
}

func TestInFlightRegistryRemoveUnknown(t *testing.T) {
	r := NewInFlightRegistry()
	// Should not panic.
	r.Remove("nonexistent")
}

func TestInFlightRegistrySnapshotOrder(t *testing.T) {
	r := NewInFlightRegistry()
	base := time.Unix(1000, 0)
	tick := 0
	r.nowFunc = func() time.Time {
		tick++
		return base.Add(time.Duration(-tick) * time.Second)
	}

	r.Register("newest", "a")
	r.Register("middle", "b")
	r.Register("oldest", "c")

	snap := r.Snapshot()
	if snap[0].ID != "oldest" || snap[2].ID != "newest" {
		t.Errorf("Snapshot() order = %v, want oldest first", snap)
	}
}

func TestTrackMiddleware(t *testing.T) {
	r := NewInFlightRegistry()

	var during int
	inv := Track(r)(InvokerFunc(func(ctx context.Context, address, payload string) api.Result {
		during = r.Len()
		return api.Success()
	}))

	inv.Invoke(ContextWithRequestID(context.Background(), "req_9"), "a", "")

	if during != 1 {
		t.Errorf("Len() during invocation = %d, want 1", during)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after invocation = %d, want 0", r.Len())
	}
}

func TestInFlightRegistryConcurrentAccess(t *testing.T) {
	r := NewInFlightRegistry()
	const n = 100

	var wg sync.WaitGroup
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i] = r.Register("req", "addr")
		}(i)
	}
	wg.Wait()

	if r.Len() != n {
		t.Fatalf("Len() = %d, want %d", r.Len(), n)
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			r.Remove(k)
		}(keys[i])
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}
