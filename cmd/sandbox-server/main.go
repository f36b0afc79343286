// Command sandbox-server runs handler scripts on request without
// registering or persisting them. Chat messages and tickets are recorded
// in the response instead of being sent, so scripts can be tried out
// before they are uploaded.
//
// Configuration:
//
//	SANDBOX_PORT           - Listen port (default: 8081)
//	SANDBOX_ENGINE         - Script language: starlark or hcl (default: starlark)
//	SANDBOX_MAX_STEPS      - Operation ceiling per run (default: engine default)
//	SANDBOX_MAX_CONCURRENT - Max concurrent executions (default: 3)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rhuss/majordomo/pkg/engine"
	"github.com/rhuss/majordomo/pkg/engine/hclexpr"
	"github.com/rhuss/majordomo/pkg/engine/starlark"
)

func main() {
	port := envOr("SANDBOX_PORT", "8081")
	language := envOr("SANDBOX_ENGINE", "starlark")
	maxSteps := envOrInt("SANDBOX_MAX_STEPS", 0)
	maxConcurrent := envOrInt("SANDBOX_MAX_CONCURRENT", 3)

	eng, err := newEngine(language, maxSteps)
	if err != nil {
		slog.Error("invalid engine", "engine", language, "error", err.Error())
		os.Exit(1)
	}

	srv := newSandboxServer(eng, int32(maxConcurrent))

	httpSrv := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("sandbox server starting", "port", port, "engine", eng.Name(), "max_concurrent", maxConcurrent)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
}

func newEngine(language string, maxSteps int) (engine.Engine, error) {
	cfg := engine.Config{MaxSteps: maxSteps}
	switch language {
	case "starlark":
		return starlark.New(cfg), nil
	case "hcl":
		return hclexpr.New(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported engine %q (want starlark or hcl)", language)
	}
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
