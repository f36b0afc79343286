package transport

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rhuss/majordomo/pkg/api"
	"github.com/rhuss/majordomo/pkg/observability"
)

// InFlight describes a running invocation.
type InFlight struct {
	ID      string
	Address string
	Started time.Time
}

// InFlightRegistry tracks running invocations. Handlers cannot be
// cancelled once started, so the registry exists for visibility: the
// in-flight gauge and the shutdown report.
//
// All methods are safe for concurrent access.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]InFlight
	seq     atomic.Uint64
	nowFunc func() time.Time
}

// NewInFlightRegistry creates a new empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]InFlight),
		nowFunc: time.Now,
	}
}

// Register records a started invocation and returns the key to pass to
// Remove. The key is id when non-empty and unused.
func (r *InFlightRegistry) Register(id, address string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := id
	if _, taken := r.entries[key]; key == "" || taken {
		key = id + "#" + strconv.FormatUint(r.seq.Add(1), 10)
	}
	r.entries[key] = InFlight{ID: id, Address: address, Started: r.nowFunc()}
	observability.InvocationsInFlight.Set(float64(len(r.entries)))
	return key
}

// Remove drops a finished invocation.
func (r *InFlightRegistry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	observability.InvocationsInFlight.Set(float64(len(r.entries)))
}

// Len returns the number of running invocations.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns the running invocations, oldest first.
func (r *InFlightRegistry) Snapshot() []InFlight {
	r.mu.Lock()
	out := make([]InFlight, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Track returns middleware that registers each invocation for its
// duration.
func Track(r *InFlightRegistry) Middleware {
	return func(next Invoker) Invoker {
		return InvokerFunc(func(ctx context.Context, address, payload string) api.Result {
			key := r.Register(RequestIDFromContext(ctx), address)
			defer r.Remove(key)
			return next.Invoke(ctx, address, payload)
		})
	}
}
