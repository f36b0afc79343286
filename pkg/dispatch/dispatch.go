// Package dispatch runs one handler invocation: look the handler up,
// build a capability broker for it, execute it, and fold the outcome
// into the uniform result envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/majordomo/pkg/api"
	"github.com/rhuss/majordomo/pkg/broker"
	"github.com/rhuss/majordomo/pkg/debug"
	"github.com/rhuss/majordomo/pkg/engine"
	"github.com/rhuss/majordomo/pkg/observability"
	"github.com/rhuss/majordomo/pkg/registry"
)

// RuntimeFailureMessage is the only detail a caller sees when a handler
// fails. The diagnostic stays in the server log.
const RuntimeFailureMessage = "Error running client code!"

// Runner executes fn against a registered handler under the registry's
// shared lock. Implemented by *registry.Registry.
type Runner interface {
	Run(address string, fn func(registry.View) error) error
}

// Dispatcher executes handlers.
type Dispatcher struct {
	handlers   Runner
	engine     engine.Engine
	brokers    *broker.Factory
	entrypoint string
	logger     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithEntrypoint overrides the function invoked in each handler.
func WithEntrypoint(name string) Option {
	return func(d *Dispatcher) {
		d.entrypoint = name
	}
}

// New creates a Dispatcher.
func New(handlers Runner, eng engine.Engine, brokers *broker.Factory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers:   handlers,
		engine:     eng,
		brokers:    brokers,
		entrypoint: engine.DefaultEntrypoint,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Invoke runs the handler at address with payload. Lookup and execution
// happen under the same shared registry lock, so the handler cannot be
// replaced mid-run. Invoke never returns an error: every outcome is an
// envelope.
func (d *Dispatcher) Invoke(ctx context.Context, address, payload string) api.Result {
	id := uuid.NewString()
	start := time.Now()

	var output string
	err := d.handlers.Run(address, func(h registry.View) error {
		debug.Payload("dispatch", "invoking handler", payload, "invocation_id", id, "address", address)
		var runErr error
		output, runErr = d.engine.Invoke(ctx, h.Program, d.brokers.New(address), d.entrypoint, payload)
		return runErr
	})
	elapsed := time.Since(start)

	switch {
	case err == nil:
		observability.InvocationsTotal.WithLabelValues("success").Inc()
		observability.InvocationDuration.Observe(elapsed.Seconds())
		debug.Payload("dispatch", "handler succeeded", output, "invocation_id", id, "address", address, "duration", elapsed)
		return api.SuccessWithData(output)

	case errors.Is(err, registry.ErrUnknownHandler):
		observability.InvocationsTotal.WithLabelValues("unknown_handler").Inc()
		debug.Log("dispatch", "no handler", "invocation_id", id, "address", address)
		return api.Failure(fmt.Sprintf("Unable to find endpoint %s", address))

	default:
		label := "runtime_error"
		if errors.Is(err, engine.ErrStepLimit) {
			label = "step_limit"
		}
		observability.InvocationsTotal.WithLabelValues(label).Inc()
		observability.InvocationDuration.Observe(elapsed.Seconds())
		d.logger.Warn("handler failed",
			"invocation_id", id,
			"address", address,
			"duration", elapsed,
			"error", diagnostic(err),
		)
		return api.Failure(RuntimeFailureMessage)
	}
}

func diagnostic(err error) string {
	var rtErr *engine.RuntimeError
	if errors.As(err, &rtErr) {
		return rtErr.Diagnostic
	}
	return err.Error()
}
