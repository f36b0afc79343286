package hclexpr

import (
	"context"
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/rhuss/majordomo/pkg/engine"
)

const (
	funcSendChatMessage = "send_chat_message"
	funcCreateTicket    = "create_ticket"
	funcLog             = "log"

	// funcEach wraps the collection of every for and splat expression.
	funcEach = "__each"
)

var ticketType = cty.Object(map[string]cty.Type{
	"url":   cty.String,
	"id":    cty.Number,
	"title": cty.String,
})

var stdFunctions = map[string]function.Function{
	"chomp":      stdlib.ChompFunc,
	"coalesce":   stdlib.CoalesceFunc,
	"contains":   stdlib.ContainsFunc,
	"element":    stdlib.ElementFunc,
	"format":     stdlib.FormatFunc,
	"join":       stdlib.JoinFunc,
	"jsondecode": stdlib.JSONDecodeFunc,
	"jsonencode": stdlib.JSONEncodeFunc,
	"length":     stdlib.LengthFunc,
	"lower":      stdlib.LowerFunc,
	"regex":      stdlib.RegexFunc,
	"replace":    stdlib.ReplaceFunc,
	"split":      stdlib.SplitFunc,
	"strlen":     stdlib.StrlenFunc,
	"substr":     stdlib.SubstrFunc,
	"trimprefix": stdlib.TrimPrefixFunc,
	"trimspace":  stdlib.TrimSpaceFunc,
	"trimsuffix": stdlib.TrimSuffixFunc,
	"upper":      stdlib.UpperFunc,
}

func knownFunction(name string) bool {
	switch name {
	case funcSendChatMessage, funcCreateTicket, funcLog:
		return true
	}
	_, ok := stdFunctions[name]
	return ok
}

// budget counts run-time steps for one evaluation. HCL evaluates on the
// calling goroutine, so no locking is needed.
type budget struct {
	remaining int
	exhausted bool
}

func (b *budget) take() error {
	b.remaining--
	if b.remaining < 0 {
		b.exhausted = true
		return engine.ErrStepLimit
	}
	return nil
}

func (b *budget) takeN(n int) error {
	b.remaining -= n
	if b.remaining < 0 {
		b.exhausted = true
		return engine.ErrStepLimit
	}
	return nil
}

// each passes its argument through unchanged after charging one step per
// element. Once the budget is gone every nested loop fails on entry, so a
// runaway comprehension stops after work proportional to the ceiling.
func each(b *budget) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{
			Name:             "collection",
			Type:             cty.DynamicPseudoType,
			AllowNull:        true,
			AllowUnknown:     true,
			AllowDynamicType: true,
			AllowMarked:      true,
		}},
		Type: func(args []cty.Value) (cty.Type, error) {
			return args[0].Type(), nil
		},
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			coll := args[0]
			if b.exhausted {
				return cty.NilVal, engine.ErrStepLimit
			}
			if unmarked, _ := coll.Unmark(); unmarked.IsKnown() && !unmarked.IsNull() && unmarked.CanIterateElements() {
				if err := b.takeN(unmarked.LengthInt()); err != nil {
					return cty.NilVal, err
				}
			}
			return coll, nil
		},
	})
}

// sizeCheck rejects calls to the string functions whose result can be
// far larger than their arguments before they run.
func sizeCheck(name string, args []cty.Value, limit int) error {
	for _, a := range args {
		if !a.IsWhollyKnown() || a.IsNull() {
			return nil
		}
	}
	str := func(v cty.Value) (string, bool) {
		v, _ = v.Unmark()
		if v.Type() != cty.String || !v.IsKnown() || v.IsNull() {
			return "", false
		}
		return v.AsString(), true
	}
	size := 0
	switch name {
	case "replace":
		s, ok1 := str(args[0])
		old, ok2 := str(args[1])
		repl, ok3 := str(args[2])
		if !ok1 || !ok2 || !ok3 || old == "" || len(repl) <= len(old) {
			return nil
		}
		n, growth := strings.Count(s, old), len(repl)-len(old)
		if n > 0 && growth > (limit-len(s))/n {
			size = limit + 1
			break
		}
		size = len(s) + n*growth
	case "join":
		sep, ok := str(args[0])
		if !ok {
			return nil
		}
		for _, list := range args[1:] {
			list, _ = list.Unmark()
			if !list.CanIterateElements() {
				continue
			}
			for it := list.ElementIterator(); it.Next() && size <= limit; {
				_, v := it.Element()
				e, _ := str(v)
				size += len(e) + len(sep)
			}
		}
	case "format":
		f, ok := str(args[0])
		if !ok {
			return nil
		}
		largest, total := 0, 0
		for _, a := range args[1:] {
			n := 32
			if s, ok := str(a); ok {
				n = len(s)
			}
			largest, total = max(largest, n), total+n
		}
		if strings.Contains(f, "[") {
			// Explicit argument indexes may reuse one argument.
			fields := strings.Count(f, "%")
			if fields > 0 && largest > limit/fields {
				size = limit + 1
				break
			}
			total = fields * largest
		}
		size = len(f) + total
	default:
		return nil
	}
	if size > limit {
		return fmt.Errorf("%w: %s result would have %d bytes, limit is %d", engine.ErrSizeLimit, name, size, limit)
	}
	return nil
}

// metered wraps f so every call is charged against b.
func metered(f function.Function, b *budget) function.Function {
	return function.New(&function.Spec{
		Params:   f.Params(),
		VarParam: f.VarParam(),
		Type: func(args []cty.Value) (cty.Type, error) {
			return f.ReturnTypeForValues(args)
		},
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			if err := b.take(); err != nil {
				return cty.NilVal, err
			}
			return f.Call(args)
		},
	})
}

// sized runs sizeCheck before f.
func sized(name string, f function.Function, limit int) function.Function {
	switch name {
	case "replace", "join", "format":
	default:
		return f
	}
	return function.New(&function.Spec{
		Params:   f.Params(),
		VarParam: f.VarParam(),
		Type: func(args []cty.Value) (cty.Type, error) {
			return f.ReturnTypeForValues(args)
		},
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			if err := sizeCheck(name, args, limit); err != nil {
				return cty.NilVal, err
			}
			return f.Call(args)
		},
	})
}

// functions builds the function table for one invocation.
func functions(ctx context.Context, caps engine.Capabilities, b *budget, limit int) map[string]function.Function {
	fns := make(map[string]function.Function, len(stdFunctions)+4)
	for name, f := range stdFunctions {
		fns[name] = sized(name, metered(f, b), limit)
	}
	fns[funcEach] = each(b)

	fns[funcSendChatMessage] = metered(function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "channel", Type: cty.String},
			{Name: "text", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.BoolVal(caps.SendChatMessage(ctx, args[0].AsString(), args[1].AsString())), nil
		},
	}), b)

	fns[funcCreateTicket] = metered(function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "repo", Type: cty.String},
			{Name: "title", Type: cty.String},
			{Name: "body", Type: cty.String},
		},
		Type: function.StaticReturnType(ticketType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			ticket, err := caps.CreateTicket(ctx, args[0].AsString(), args[1].AsString(), args[2].AsString())
			if err != nil || ticket == nil {
				return cty.NullVal(ticketType), nil
			}
			return cty.ObjectVal(map[string]cty.Value{
				"url":   cty.StringVal(ticket.URL),
				"id":    cty.NumberIntVal(ticket.ID),
				"title": cty.StringVal(ticket.Title),
			}), nil
		},
	}), b)

	fns[funcLog] = metered(function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "text", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.String),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			text := args[0].AsString()
			caps.Log(ctx, text)
			return cty.StringVal(text), nil
		},
	}), b)

	return fns
}
