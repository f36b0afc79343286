package transport

import (
	"context"

	"github.com/rhuss/majordomo/pkg/api"
)

// Invoker runs the handler at address with payload.
type Invoker interface {
	Invoke(ctx context.Context, address, payload string) api.Result
}

// InvokerFunc is an adapter that allows using an ordinary function as an
// Invoker.
type InvokerFunc func(ctx context.Context, address, payload string) api.Result

// Invoke calls f(ctx, address, payload).
func (f InvokerFunc) Invoke(ctx context.Context, address, payload string) api.Result {
	return f(ctx, address, payload)
}

// Middleware decorates an Invoker. Every invocation path (POST /h, Slack
// events, MCP) runs through the same stack.
type Middleware func(Invoker) Invoker

// Wrap decorates inv with mws. mws[0] is outermost: it sees the call first
// and the result last.
func Wrap(inv Invoker, mws ...Middleware) Invoker {
	for i := len(mws) - 1; i >= 0; i-- {
		inv = mws[i](inv)
	}
	return inv
}
