package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrStepLimit is wrapped by the RuntimeError returned when an invocation
// exceeds its step ceiling.
var ErrStepLimit = errors.New("step limit exceeded")

// ErrSizeLimit is wrapped by the RuntimeError returned when an operation
// would build a value larger than the configured ceiling.
var ErrSizeLimit = errors.New("value size limit exceeded")

// ErrForeignProgram is returned when a Program compiled by one engine is
// passed to another.
var ErrForeignProgram = errors.New("program was compiled by a different engine")

// Ticket describes an issue created on behalf of a script.
type Ticket struct {
	URL   string
	ID    int64
	Title string
}

// Capabilities is the complete set of host operations a script can reach.
// The implementation holds any credentials; scripts never see them.
type Capabilities interface {
	// SendChatMessage posts text to a chat channel and reports whether
	// the message was delivered.
	SendChatMessage(ctx context.Context, channel, text string) bool

	// CreateTicket files an issue in repo ("owner/name").
	CreateTicket(ctx context.Context, repo, title, body string) (*Ticket, error)

	// Log records a diagnostic line attributed to the running handler.
	Log(ctx context.Context, text string)
}

// Program is the compiled form of a handler. It is immutable and safe to
// invoke from many goroutines at once.
type Program interface {
	// Source returns the text the program was compiled from.
	Source() string
}

// Engine compiles and runs handler scripts.
type Engine interface {
	// Name identifies the script language ("starlark", "hcl").
	Name() string

	// Compile parses and checks source. It returns a *CompileError when
	// the source is invalid, uses an unbounded construct, or lacks the
	// handle entrypoint.
	Compile(source string) (Program, error)

	// Invoke calls entrypoint with payload and returns its string result.
	// Any failure, including exceeding the step ceiling, is reported as a
	// *RuntimeError.
	Invoke(ctx context.Context, prog Program, caps Capabilities, entrypoint, payload string) (string, error)
}

// CompileError reports source an engine refused to compile. Diagnostic
// is meant for the handler's author.
type CompileError struct {
	Diagnostic string
	Err        error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error: %s", e.Diagnostic)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// RuntimeError reports a failed invocation. Diagnostic is logged by the
// host and never returned to the caller of the handler.
type RuntimeError struct {
	Diagnostic string
	Err        error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %s", e.Diagnostic)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NopCapabilities grants nothing: messages are not delivered, tickets are
// refused, and log lines are discarded. Useful for dry runs and tests.
type NopCapabilities struct{}

var _ Capabilities = NopCapabilities{}

func (NopCapabilities) SendChatMessage(context.Context, string, string) bool { return false }

func (NopCapabilities) CreateTicket(context.Context, string, string, string) (*Ticket, error) {
	return nil, errors.New("ticket capability not available")
}

func (NopCapabilities) Log(context.Context, string) {}
