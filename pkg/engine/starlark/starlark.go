// Package starlark implements engine.Engine with the Starlark language.
//
// Handlers are Starlark files defining a top-level function handle(payload)
// that returns a string. The dialect is the strict default: no while loops,
// no recursion, no top-level control flow, no load statements. Host access
// is limited to three predeclared builtins bound per invocation:
//
//	send_chat_message(channel, text) -> bool
//	create_ticket(repo, title, body="") -> struct(url, id, title) or None
//	log(text)
//
// print() is routed to log, and the json module (encode, decode, indent)
// is predeclared.
//
// Every invocation runs under two ceilings from engine.Config. The step
// ceiling counts interpreter steps plus one step per element a builtin
// walks (sorted, list, dict, str, comparisons of containers, and so on).
// The value size ceiling bounds the string or list any single operation
// may build: repetition, concatenation, %-formatting, and the replace,
// join, format and extend methods are checked before they run. To make
// that possible those operators and methods are routed through checking
// helpers at compile time, which is why an augmented assignment target
// may not contain a call (write k = key(x); d[k] += 1).
package starlark

import (
	"context"
	"errors"
	"fmt"
	"sort"

	starlarklib "go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/rhuss/majordomo/pkg/engine"
)

const filename = "handler.star"

// fileOptions leaves every dialect extension off: while, recursion, set,
// top-level control flow and global reassignment are all rejected.
var fileOptions = &syntax.FileOptions{}

// Engine is the Starlark execution engine.
type Engine struct {
	cfg engine.Config
}

var _ engine.Engine = (*Engine)(nil)

// New creates a Starlark engine.
func New(cfg engine.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Name returns "starlark".
func (e *Engine) Name() string {
	return "starlark"
}

type program struct {
	source string
	prog   *starlarklib.Program
}

func (p *program) Source() string {
	return p.source
}

// Compile parses and resolves source, then checks that it defines handle
// and contains no recursive call chain between top-level functions.
func (e *Engine) Compile(source string) (engine.Program, error) {
	f, err := fileOptions.Parse(filename, source, 0)
	if err != nil {
		return nil, &engine.CompileError{Diagnostic: err.Error(), Err: err}
	}
	if err := rewriteFile(f); err != nil {
		return nil, &engine.CompileError{Diagnostic: err.Error(), Err: err}
	}
	prog, err := starlarklib.FileProgram(f, isPredeclared)
	if err != nil {
		return nil, &engine.CompileError{Diagnostic: err.Error(), Err: err}
	}

	if !definesFunction(f, engine.DefaultEntrypoint) {
		return nil, &engine.CompileError{
			Diagnostic: fmt.Sprintf("%s: missing top-level function %s(payload)", filename, engine.DefaultEntrypoint),
		}
	}

	if name := recursiveFunction(f); name != "" {
		return nil, &engine.CompileError{
			Diagnostic: fmt.Sprintf("%s: function %s is recursive; recursion is not allowed", filename, name),
		}
	}

	return &program{source: source, prog: prog}, nil
}

// Invoke initializes a fresh module instance and calls entrypoint(payload).
// The result must be a string or None.
func (e *Engine) Invoke(ctx context.Context, p engine.Program, caps engine.Capabilities, entrypoint, payload string) (string, error) {
	prog, ok := p.(*program)
	if !ok {
		return "", &engine.RuntimeError{Diagnostic: engine.ErrForeignProgram.Error(), Err: engine.ErrForeignProgram}
	}

	thread := &starlarklib.Thread{
		Name: "handler",
		Print: func(_ *starlarklib.Thread, msg string) {
			caps.Log(ctx, msg)
		},
	}
	lim := newLimits(thread, e.cfg)
	thread.OnMaxSteps = func(th *starlarklib.Thread) {
		lim.exhausted = true
		th.Cancel("too many steps")
	}
	thread.SetMaxExecutionSteps(uint64(e.cfg.Steps()))

	globals, err := prog.prog.Init(thread, builtins(ctx, caps, lim))
	if err != nil {
		return "", runtimeError(err, lim.exhausted)
	}

	fn, ok := globals[entrypoint].(starlarklib.Callable)
	if !ok {
		return "", &engine.RuntimeError{Diagnostic: fmt.Sprintf("function %s is not defined", entrypoint)}
	}

	v, err := starlarklib.Call(thread, fn, starlarklib.Tuple{starlarklib.String(payload)}, nil)
	if err != nil {
		return "", runtimeError(err, lim.exhausted)
	}

	switch v := v.(type) {
	case starlarklib.String:
		return string(v), nil
	case starlarklib.NoneType:
		return "", nil
	default:
		return "", &engine.RuntimeError{
			Diagnostic: fmt.Sprintf("%s returned %s, want string", entrypoint, v.Type()),
		}
	}
}

func runtimeError(err error, exhausted bool) error {
	diag := err.Error()
	var evalErr *starlarklib.EvalError
	if errors.As(err, &evalErr) {
		diag = evalErr.Backtrace()
	}
	if exhausted && !errors.Is(err, engine.ErrStepLimit) {
		return &engine.RuntimeError{Diagnostic: diag, Err: fmt.Errorf("%w: %w", engine.ErrStepLimit, err)}
	}
	return &engine.RuntimeError{Diagnostic: diag, Err: err}
}

func definesFunction(f *syntax.File, name string) bool {
	for _, stmt := range f.Stmts {
		if def, ok := stmt.(*syntax.DefStmt); ok && def.Name.Name == name {
			return true
		}
	}
	return false
}

// recursiveFunction returns the name of a top-level function that can
// reach itself through direct calls by name, or "" if there is none.
func recursiveFunction(f *syntax.File) string {
	calls := make(map[string][]string)
	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok {
			continue
		}
		caller := def.Name.Name
		calls[caller] = nil
		for _, body := range def.Body {
			syntax.Walk(body, func(n syntax.Node) bool {
				if call, ok := n.(*syntax.CallExpr); ok {
					if id, ok := call.Fn.(*syntax.Ident); ok {
						calls[caller] = append(calls[caller], id.Name)
					}
				}
				return true
			})
		}
	}

	names := make([]string, 0, len(calls))
	for name := range calls {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(calls))
	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			return true
		case done:
			return false
		}
		state[name] = visiting
		for _, callee := range calls[name] {
			if _, defined := calls[callee]; defined && visit(callee) {
				return true
			}
		}
		state[name] = done
		return false
	}

	for _, name := range names {
		if state[name] == unvisited && visit(name) {
			return name
		}
	}
	return ""
}
