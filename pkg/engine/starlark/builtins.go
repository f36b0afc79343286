package starlark

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.starlark.net/lib/json"
	starlarklib "go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/rhuss/majordomo/pkg/engine"
)

const (
	builtinSendChatMessage = "send_chat_message"
	builtinCreateTicket    = "create_ticket"
	builtinLog             = "log"
)

// Universe builtins whose cost grows with their input. Each is replaced by
// a version that charges that cost first.
var (
	iterating = []string{"list", "tuple", "reversed", "enumerate", "any", "all", "zip", "dict"}
	comparing = []string{"sorted", "min", "max"}
	rendering = []string{"str", "repr", "print", "fail"}
)

func isPredeclared(name string) bool {
	switch name {
	case builtinSendChatMessage, builtinCreateTicket, builtinLog, "json", "getattr", "int":
		return true
	}
	for _, group := range [][]string{iterating, comparing, rendering} {
		if slices.Contains(group, name) {
			return true
		}
	}
	return isHelper(name)
}

// builtins binds the host capabilities and the limited builtins for one
// invocation.
func builtins(ctx context.Context, caps engine.Capabilities, l *limits) starlarklib.StringDict {
	d := l.bindings()
	maps.Copy(d, capabilities(ctx, caps))
	return d
}

func capabilities(ctx context.Context, caps engine.Capabilities) starlarklib.StringDict {
	return starlarklib.StringDict{
		builtinSendChatMessage: starlarklib.NewBuiltin(builtinSendChatMessage,
			func(_ *starlarklib.Thread, b *starlarklib.Builtin, args starlarklib.Tuple, kwargs []starlarklib.Tuple) (starlarklib.Value, error) {
				var channel, text string
				if err := starlarklib.UnpackArgs(b.Name(), args, kwargs, "channel", &channel, "text", &text); err != nil {
					return nil, err
				}
				return starlarklib.Bool(caps.SendChatMessage(ctx, channel, text)), nil
			}),

		builtinCreateTicket: starlarklib.NewBuiltin(builtinCreateTicket,
			func(_ *starlarklib.Thread, b *starlarklib.Builtin, args starlarklib.Tuple, kwargs []starlarklib.Tuple) (starlarklib.Value, error) {
				var repo, title, body string
				if err := starlarklib.UnpackArgs(b.Name(), args, kwargs, "repo", &repo, "title", &title, "body?", &body); err != nil {
					return nil, err
				}
				ticket, err := caps.CreateTicket(ctx, repo, title, body)
				if err != nil || ticket == nil {
					return starlarklib.None, nil
				}
				return starlarkstruct.FromStringDict(starlarkstruct.Default, starlarklib.StringDict{
					"url":   starlarklib.String(ticket.URL),
					"id":    starlarklib.MakeInt64(ticket.ID),
					"title": starlarklib.String(ticket.Title),
				}), nil
			}),

		builtinLog: starlarklib.NewBuiltin(builtinLog,
			func(_ *starlarklib.Thread, b *starlarklib.Builtin, args starlarklib.Tuple, kwargs []starlarklib.Tuple) (starlarklib.Value, error) {
				var text string
				if err := starlarklib.UnpackArgs(b.Name(), args, kwargs, "text", &text); err != nil {
					return nil, err
				}
				caps.Log(ctx, text)
				return starlarklib.None, nil
			}),
	}
}

// bindings returns the operator helpers and the limited replacements for
// universe builtins.
func (l *limits) bindings() starlarklib.StringDict {
	d := starlarklib.StringDict{
		opHelper(syntax.PLUS_EQ): starlarklib.NewBuiltin("+=", l.inplaceAdd),
		helperAttr:               starlarklib.NewBuiltin("getattr", l.attr),
		"getattr":                starlarklib.NewBuiltin("getattr", l.getattr),
		"int":                    starlarklib.NewBuiltin("int", l.parseInt),
		"json":                   l.jsonModule(),
	}
	for op := range checkedOps {
		d[opHelper(op)] = l.binary(op)
	}
	for _, name := range iterating {
		d[name] = l.charged(name, false)
	}
	for _, name := range comparing {
		d[name] = l.charged(name, true)
	}
	for _, name := range rendering {
		d[name] = l.rendered(name)
	}
	return d
}

func (l *limits) binary(op syntax.Token) *starlarklib.Builtin {
	return starlarklib.NewBuiltin(op.String(), func(_ *starlarklib.Thread, _ *starlarklib.Builtin, args starlarklib.Tuple, _ []starlarklib.Tuple) (starlarklib.Value, error) {
		x, y := args[0], args[1]
		switch op {
		case syntax.PLUS, syntax.STAR, syntax.PERCENT:
			if err := l.checkBinary(op, x, y); err != nil {
				return nil, err
			}
			return starlarklib.Binary(op, x, y)
		case syntax.IN, syntax.NOT_IN:
			if err := l.cost(x, y); err != nil {
				return nil, err
			}
			return starlarklib.Binary(op, x, y)
		default:
			if err := l.cost(x, y); err != nil {
				return nil, err
			}
			ok, err := starlarklib.Compare(op, x, y)
			return starlarklib.Bool(ok), err
		}
	})
}

// inplaceAdd implements x += y. A list is extended in place, so other
// references to it see the new elements.
func (l *limits) inplaceAdd(_ *starlarklib.Thread, _ *starlarklib.Builtin, args starlarklib.Tuple, _ []starlarklib.Tuple) (starlarklib.Value, error) {
	x, y := args[0], args[1]
	list, ok := x.(*starlarklib.List)
	if !ok {
		if err := l.checkBinary(syntax.PLUS, x, y); err != nil {
			return nil, err
		}
		return starlarklib.Binary(syntax.PLUS, x, y)
	}
	iterable, ok := y.(starlarklib.Iterable)
	if !ok {
		return starlarklib.Binary(syntax.PLUS, x, y)
	}

	var elems []starlarklib.Value
	iter := iterable.Iterate()
	var v starlarklib.Value
	for iter.Next(&v) {
		elems = append(elems, v)
		if list.Len()+len(elems) > l.maxSize {
			iter.Done()
			return nil, l.fits("list", list.Len()+len(elems))
		}
	}
	iter.Done()
	for _, v := range elems {
		if err := list.Append(v); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (l *limits) attr(_ *starlarklib.Thread, _ *starlarklib.Builtin, args starlarklib.Tuple, _ []starlarklib.Tuple) (starlarklib.Value, error) {
	x, name := args[0], string(args[1].(starlarklib.String))
	v, err := attribute(x, name)
	if err != nil {
		return nil, err
	}
	return l.checked(x, name, v), nil
}

func (l *limits) getattr(thread *starlarklib.Thread, b *starlarklib.Builtin, args starlarklib.Tuple, kwargs []starlarklib.Tuple) (starlarklib.Value, error) {
	v, err := starlarklib.Call(thread, starlarklib.Universe["getattr"], args, kwargs)
	if err != nil || len(args) < 2 {
		return v, err
	}
	if name, ok := args[1].(starlarklib.String); ok {
		return l.checked(args[0], string(name), v), nil
	}
	return v, nil
}

func attribute(x starlarklib.Value, name string) (starlarklib.Value, error) {
	if ha, ok := x.(starlarklib.HasAttrs); ok {
		v, err := ha.Attr(name)
		if err != nil || v != nil {
			return v, err
		}
	}
	return nil, fmt.Errorf("%s has no .%s field or method", x.Type(), name)
}

// checked wraps a bound string or list method so its arguments are
// checked before it runs.
func (l *limits) checked(recv starlarklib.Value, name string, method starlarklib.Value) starlarklib.Value {
	b, ok := method.(*starlarklib.Builtin)
	if !ok || !checkedMethods[name] {
		return method
	}
	switch recv.(type) {
	case starlarklib.String, *starlarklib.List:
	default:
		return method
	}
	return starlarklib.NewBuiltin(b.Name(), func(thread *starlarklib.Thread, _ *starlarklib.Builtin, args starlarklib.Tuple, kwargs []starlarklib.Tuple) (starlarklib.Value, error) {
		if err := l.checkMethod(recv, name, args, kwargs); err != nil {
			return nil, err
		}
		return starlarklib.Call(thread, b, args, kwargs)
	})
}

// charged wraps a universe builtin that walks its arguments. Comparing
// builtins are charged for every element reachable from the argument,
// the rest for its length.
func (l *limits) charged(name string, deep bool) *starlarklib.Builtin {
	orig := starlarklib.Universe[name]
	return starlarklib.NewBuiltin(name, func(thread *starlarklib.Thread, _ *starlarklib.Builtin, args starlarklib.Tuple, kwargs []starlarklib.Tuple) (starlarklib.Value, error) {
		for _, a := range args {
			if err := l.chargeArg(a, deep); err != nil {
				return nil, err
			}
		}
		return starlarklib.Call(thread, orig, args, kwargs)
	})
}

func (l *limits) chargeArg(a starlarklib.Value, deep bool) error {
	if deep {
		switch a.(type) {
		case *starlarklib.List, starlarklib.Tuple, *starlarklib.Dict:
			return l.cost(a)
		}
	}
	return l.charge(starlarklib.Len(a))
}

// rendered wraps a universe builtin that formats its arguments as text.
func (l *limits) rendered(name string) *starlarklib.Builtin {
	orig := starlarklib.Universe[name]
	return starlarklib.NewBuiltin(name, func(thread *starlarklib.Thread, _ *starlarklib.Builtin, args starlarklib.Tuple, kwargs []starlarklib.Tuple) (starlarklib.Value, error) {
		vals := append(starlarklib.Tuple(nil), args...)
		for _, kv := range kwargs {
			vals = append(vals, kv[1])
		}
		size, err := l.measure(vals...)
		if err != nil {
			return nil, err
		}
		if err := l.fits(name+" output", size); err != nil {
			return nil, err
		}
		return starlarklib.Call(thread, orig, args, kwargs)
	})
}

func (l *limits) parseInt(thread *starlarklib.Thread, _ *starlarklib.Builtin, args starlarklib.Tuple, kwargs []starlarklib.Tuple) (starlarklib.Value, error) {
	if len(args) > 0 {
		if s, ok := args[0].(starlarklib.String); ok && len(s) > maxIntDigits {
			return nil, fmt.Errorf("%w: int() of a %d-character string, limit is %d", engine.ErrSizeLimit, len(s), maxIntDigits)
		}
	}
	return starlarklib.Call(thread, starlarklib.Universe["int"], args, kwargs)
}

// jsonModule is the json library with encode and indent bounded by the
// value size ceiling and decode by nesting depth.
func (l *limits) jsonModule() *starlarkstruct.Module {
	lib := json.Module.Members
	return &starlarkstruct.Module{
		Name: "json",
		Members: starlarklib.StringDict{
			"encode": starlarklib.NewBuiltin("json.encode", func(thread *starlarklib.Thread, _ *starlarklib.Builtin, args starlarklib.Tuple, kwargs []starlarklib.Tuple) (starlarklib.Value, error) {
				size, err := l.measure(args...)
				if err != nil {
					return nil, err
				}
				if err := l.fits("json.encode output", size); err != nil {
					return nil, err
				}
				return starlarklib.Call(thread, lib["encode"], args, kwargs)
			}),
			"decode": starlarklib.NewBuiltin("json.decode", func(thread *starlarklib.Thread, _ *starlarklib.Builtin, args starlarklib.Tuple, kwargs []starlarklib.Tuple) (starlarklib.Value, error) {
				if len(args) > 0 {
					if doc, ok := args[0].(starlarklib.String); ok {
						if _, depth := jsonShape(string(doc)); depth > maxDepth {
							return nil, fmt.Errorf("%w: json.decode nesting depth %d, limit is %d", engine.ErrSizeLimit, depth, maxDepth)
						}
					}
				}
				return starlarklib.Call(thread, lib["decode"], args, kwargs)
			}),
			"indent": starlarklib.NewBuiltin("json.indent", func(thread *starlarklib.Thread, _ *starlarklib.Builtin, args starlarklib.Tuple, kwargs []starlarklib.Tuple) (starlarklib.Value, error) {
				prefix, indent := "", "\t"
				for _, kv := range kwargs {
					k, _ := starlarklib.AsString(kv[0])
					v, _ := starlarklib.AsString(kv[1])
					switch k {
					case "prefix":
						prefix = v
					case "indent":
						indent = v
					}
				}
				if len(args) > 0 {
					if doc, ok := args[0].(starlarklib.String); ok {
						if err := l.checkIndent(string(doc), prefix, indent); err != nil {
							return nil, err
						}
					}
				}
				return starlarklib.Call(thread, lib["indent"], args, kwargs)
			}),
		},
	}
}
