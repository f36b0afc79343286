// Package registry is the authoritative map from handler address to
// tenant-owned script.
//
// All access goes through one sync.RWMutex:
//   - lookups and invocations (Run) share the read lock, so any number of
//     handlers execute concurrently
//   - upserts take the write lock, wait for in-flight invocations to
//     finish, and persist the whole map before releasing it
//
// A handler's owner is fixed by its first successful upsert. The source
// and compiled program are always replaced together, and the program is
// rederived from the source on every load.
package registry

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rhuss/majordomo/pkg/api"
	"github.com/rhuss/majordomo/pkg/debug"
	"github.com/rhuss/majordomo/pkg/engine"
	"github.com/rhuss/majordomo/pkg/observability"
	"github.com/rhuss/majordomo/pkg/storage"
)

// Sentinel errors, reachable with errors.Is through the *api.Error values
// returned by Registry methods.
var (
	ErrUnknownHandler    = errors.New("unknown handler")
	ErrOwnershipMismatch = errors.New("handler owned by another key")
)

// PersistenceError reports a snapshot write that failed after the
// in-memory map was already updated.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting handlers: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// View is the read-only projection of a handler handed to callers. It
// never carries the owner's key.
type View struct {
	Address string
	Source  string
	Program engine.Program
}

type handler struct {
	address  string
	ownerKey string
	source   string
	program  engine.Program
}

// Registry holds every handler.
type Registry struct {
	engine engine.Engine
	store  storage.Store
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]*handler
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// New creates an empty registry that compiles with eng and persists to
// store.
func New(eng engine.Engine, store storage.Store, opts ...Option) *Registry {
	r := &Registry{
		engine:   eng,
		store:    store,
		logger:   slog.Default(),
		handlers: make(map[string]*handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Upsert creates or replaces the handler at address. The caller must have
// already verified ownerKey against the key store.
//
// Errors are *api.Error values:
//   - compile_error: source was rejected; the registry is unchanged
//   - ownership_mismatch: address belongs to another key; unchanged
//   - persistence_error: the map was updated but the snapshot failed;
//     the update is NOT rolled back
func (r *Registry) Upsert(ctx context.Context, address, ownerKey, source string) error {
	prog, err := r.engine.Compile(source)
	if err != nil {
		observability.UpsertsTotal.WithLabelValues("compile_error").Inc()
		return api.NewCompileError(compileDiagnostic(err), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.handlers[address]
	if exists && !sameKey(existing.ownerKey, ownerKey) {
		observability.UpsertsTotal.WithLabelValues("ownership_mismatch").Inc()
		apiErr := api.NewOwnershipMismatchError(address)
		apiErr.Err = ErrOwnershipMismatch
		return apiErr
	}

	r.handlers[address] = &handler{
		address:  address,
		ownerKey: ownerKey,
		source:   source,
		program:  prog,
	}
	observability.HandlersRegistered.Set(float64(len(r.handlers)))

	if err := r.store.SaveHandlers(ctx, r.snapshotLocked()); err != nil {
		observability.UpsertsTotal.WithLabelValues("persistence_error").Inc()
		r.logger.Error("failed to persist handlers", "address", address, "error", err)
		return api.NewPersistenceError(&PersistenceError{Err: err})
	}

	if exists {
		observability.UpsertsTotal.WithLabelValues("updated").Inc()
		debug.Log("registry", "handler updated", "address", address)
	} else {
		observability.UpsertsTotal.WithLabelValues("created").Inc()
		r.logger.Info("handler created", "address", address)
	}
	return nil
}

// Lookup returns the handler at address.
func (r *Registry) Lookup(address string) (View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[address]
	if !ok {
		return View{}, false
	}
	return h.view(), true
}

// List returns every registered address in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addrs := make([]string, 0, len(r.handlers))
	for addr := range r.handlers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Find returns the source of the handler at address if requesterKey owns
// it. The two failure cases are reported separately: unknown_handler for
// a missing address and ownership_mismatch for a foreign one.
func (r *Registry) Find(address, requesterKey string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[address]
	if !ok {
		apiErr := api.NewUnknownHandlerError(address)
		apiErr.Err = ErrUnknownHandler
		return "", apiErr
	}
	if !sameKey(h.ownerKey, requesterKey) {
		apiErr := api.NewOwnershipMismatchError(address)
		apiErr.Err = ErrOwnershipMismatch
		return "", apiErr
	}
	return h.source, nil
}

// Run calls fn with the handler at address while holding the read lock,
// so the handler cannot be replaced while fn executes. It returns
// ErrUnknownHandler if there is no such handler, otherwise fn's error.
func (r *Registry) Run(address string, fn func(View) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[address]
	if !ok {
		return ErrUnknownHandler
	}
	return fn(h.view())
}

// Load replaces the registry contents with the persisted snapshot,
// recompiling every record. Records that no longer compile are skipped.
// A missing or unreadable snapshot leaves the registry empty; both are
// logged as warnings, never returned, so a damaged snapshot cannot keep
// the server from starting.
func (r *Registry) Load(ctx context.Context) {
	records, err := r.store.LoadHandlers(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.logger.Warn("no saved handlers, starting empty", "error", err)
		records = nil
	case err != nil:
		r.logger.Warn("handler snapshot unreadable, starting empty", "error", err)
		records = nil
	}

	handlers := make(map[string]*handler, len(records))
	for _, rec := range records {
		if rec.Address == "" {
			r.logger.Warn("skipping handler record without address")
			continue
		}
		prog, err := r.engine.Compile(rec.Source)
		if err != nil {
			r.logger.Warn("skipping handler that no longer compiles",
				"address", rec.Address,
				"engine", r.engine.Name(),
				"error", err,
			)
			continue
		}
		handlers[rec.Address] = &handler{
			address:  rec.Address,
			ownerKey: rec.OwnerKey,
			source:   rec.Source,
			program:  prog,
		}
	}

	r.mu.Lock()
	r.handlers = handlers
	r.mu.Unlock()

	observability.HandlersRegistered.Set(float64(len(handlers)))
	r.logger.Info("loaded handlers", "count", len(handlers), "skipped", len(records)-len(handlers))
}

// snapshotLocked returns the persisted form of every handler. Called with
// r.mu held.
func (r *Registry) snapshotLocked() []storage.HandlerRecord {
	records := make([]storage.HandlerRecord, 0, len(r.handlers))
	for _, h := range r.handlers {
		records = append(records, storage.HandlerRecord{
			Address:  h.address,
			OwnerKey: h.ownerKey,
			Source:   h.source,
		})
	}
	storage.SortRecords(records)
	return records
}

func (h *handler) view() View {
	return View{Address: h.address, Source: h.source, Program: h.program}
}

func sameKey(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func compileDiagnostic(err error) string {
	var ce *engine.CompileError
	if errors.As(err, &ce) {
		return ce.Diagnostic
	}
	return err.Error()
}
