package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/majordomo/pkg/api"
)

// Logging returns middleware that emits one structured log entry per
// invocation with the address, request ID, duration and outcome.
// Failures log the envelope's cause, never the engine diagnostic.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Invoker) Invoker {
		return InvokerFunc(func(ctx context.Context, address, payload string) api.Result {
			start := time.Now()

			res := next.Invoke(ctx, address, payload)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("address", address),
				slog.Int("payload_bytes", len(payload)),
				slog.Duration("duration", time.Since(start)),
			}

			if !res.Status {
				attrs = append(attrs, slog.String("cause", res.DataString()))
				logger.LogAttrs(ctx, slog.LevelWarn, "invocation failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "invocation completed", attrs...)
			}

			return res
		})
	}
}
