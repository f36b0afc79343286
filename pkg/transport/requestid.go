package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/rhuss/majordomo/pkg/api"
)

// RequestID returns middleware that assigns a unique request ID to each
// invocation. If the context already carries one (set by the HTTP
// adapter from the X-Request-ID header), that value is used.
func RequestID() Middleware {
	return func(next Invoker) Invoker {
		return InvokerFunc(func(ctx context.Context, address, payload string) api.Result {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, uuid.NewString())
			}
			return next.Invoke(ctx, address, payload)
		})
	}
}

type requestIDKey struct{}

// RequestIDFromContext returns the request ID carried by ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID returns ctx carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}
