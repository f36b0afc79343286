// Package hclexpr implements engine.Engine with HCL expressions.
//
// A handler is an HCL body with exactly one attribute:
//
//	handle = upper(payload)
//
// The expression sees one variable, payload, plus a fixed function table:
// string helpers from the cty standard library and the host capabilities
// send_chat_message, create_ticket and log. HCL has no loops beyond
// bounded for-expressions and no user-defined functions, so every
// handler terminates. The step ceiling is charged once per syntax node at
// compile time, and at run time once per function call and once per
// element a for or splat expression iterates. replace, join and format
// are refused when their result would exceed the value size ceiling.
package hclexpr

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/rhuss/majordomo/pkg/engine"
)

const (
	filename    = "handler.hcl"
	payloadName = "payload"
)

var handlerSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: engine.DefaultEntrypoint, Required: true},
	},
}

// Engine is the HCL expression engine.
type Engine struct {
	cfg engine.Config
}

var _ engine.Engine = (*Engine)(nil)

// New creates an HCL expression engine.
func New(cfg engine.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Name returns "hcl".
func (e *Engine) Name() string {
	return "hcl"
}

type program struct {
	source string
	expr   hclsyntax.Expression
	nodes  int
}

func (p *program) Source() string {
	return p.source
}

// Compile parses source and checks that the handle expression only
// references payload and known functions and fits the step ceiling.
func (e *Engine) Compile(source string) (engine.Program, error) {
	file, diags := hclsyntax.ParseConfig([]byte(source), filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, &engine.CompileError{Diagnostic: diags.Error(), Err: diags}
	}

	content, diags := file.Body.Content(handlerSchema)
	if diags.HasErrors() {
		return nil, &engine.CompileError{Diagnostic: diags.Error(), Err: diags}
	}

	expr, ok := content.Attributes[engine.DefaultEntrypoint].Expr.(hclsyntax.Expression)
	if !ok {
		return nil, &engine.CompileError{Diagnostic: fmt.Sprintf("%s: unsupported expression", filename)}
	}

	for _, traversal := range expr.Variables() {
		if name := traversal.RootName(); name != payloadName {
			return nil, &engine.CompileError{
				Diagnostic: fmt.Sprintf("%s: unknown variable %q; only %s is available", traversal.SourceRange(), name, payloadName),
			}
		}
	}

	nodes := 0
	var loops []hclsyntax.Node
	diags = hclsyntax.VisitAll(expr, func(n hclsyntax.Node) hcl.Diagnostics {
		nodes++
		switch n.(type) {
		case *hclsyntax.ForExpr, *hclsyntax.SplatExpr:
			loops = append(loops, n)
		}
		if call, ok := n.(*hclsyntax.FunctionCallExpr); ok && !knownFunction(call.Name) {
			return hcl.Diagnostics{{
				Severity: hcl.DiagError,
				Summary:  "Call to unknown function",
				Detail:   fmt.Sprintf("There is no function named %q.", call.Name),
				Subject:  call.NameRange.Ptr(),
			}}
		}
		return nil
	})
	if diags.HasErrors() {
		return nil, &engine.CompileError{Diagnostic: diags.Error(), Err: diags}
	}
	if nodes > e.cfg.Steps() {
		return nil, &engine.CompileError{
			Diagnostic: fmt.Sprintf("%s: expression has %d nodes, limit is %d", filename, nodes, e.cfg.Steps()),
		}
	}

	for _, n := range loops {
		switch loop := n.(type) {
		case *hclsyntax.ForExpr:
			loop.CollExpr = eachCall(loop.CollExpr)
		case *hclsyntax.SplatExpr:
			loop.Source = eachCall(loop.Source)
		}
	}

	return &program{source: source, expr: expr, nodes: nodes}, nil
}

// eachCall routes a collection through the metering function so its
// elements are charged before the loop body runs. The name is not in the
// user-visible table, so source cannot call it directly.
func eachCall(coll hclsyntax.Expression) hclsyntax.Expression {
	rng := coll.Range()
	return &hclsyntax.FunctionCallExpr{
		Name:            funcEach,
		Args:            []hclsyntax.Expression{coll},
		NameRange:       rng,
		OpenParenRange:  rng,
		CloseParenRange: rng,
	}
}

// Invoke evaluates the handle expression with payload bound.
func (e *Engine) Invoke(ctx context.Context, p engine.Program, caps engine.Capabilities, entrypoint, payload string) (string, error) {
	prog, ok := p.(*program)
	if !ok {
		return "", &engine.RuntimeError{Diagnostic: engine.ErrForeignProgram.Error(), Err: engine.ErrForeignProgram}
	}
	if entrypoint != engine.DefaultEntrypoint {
		return "", &engine.RuntimeError{Diagnostic: fmt.Sprintf("attribute %s is not defined", entrypoint)}
	}

	b := &budget{remaining: e.cfg.Steps() - prog.nodes}
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			payloadName: cty.StringVal(payload),
		},
		Functions: functions(ctx, caps, b, e.cfg.ValueSize()),
	}

	val, diags := prog.expr.Value(evalCtx)
	if b.exhausted {
		return "", &engine.RuntimeError{Diagnostic: "too many steps", Err: engine.ErrStepLimit}
	}
	for _, d := range diags {
		if extra, ok := hcl.DiagnosticExtra[hclsyntax.FunctionCallDiagExtra](d); ok && errors.Is(extra.FunctionCallError(), engine.ErrSizeLimit) {
			return "", &engine.RuntimeError{Diagnostic: diags.Error(), Err: extra.FunctionCallError()}
		}
	}
	if diags.HasErrors() {
		return "", &engine.RuntimeError{Diagnostic: diags.Error(), Err: diags}
	}

	if val.IsNull() {
		return "", nil
	}
	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", &engine.RuntimeError{
			Diagnostic: fmt.Sprintf("%s evaluated to %s, want string", entrypoint, val.Type().FriendlyName()),
			Err:        err,
		}
	}
	if str.IsNull() {
		return "", nil
	}
	return str.AsString(), nil
}
