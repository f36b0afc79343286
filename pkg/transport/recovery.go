package transport

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/majordomo/pkg/api"
)

// Recovery returns middleware that catches panics during an invocation
// and converts them to a failure envelope. The server keeps serving
// after a recovered panic.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Invoker) Invoker {
		return InvokerFunc(func(ctx context.Context, address, payload string) (res api.Result) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic during invocation",
						"address", address,
						"request_id", RequestIDFromContext(ctx),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					res = api.FromError(api.NewServerError("Internal server error"))
				}
			}()
			return next.Invoke(ctx, address, payload)
		})
	}
}
