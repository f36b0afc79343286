package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/majordomo/pkg/api"
	"github.com/rhuss/majordomo/pkg/auth"
	"github.com/rhuss/majordomo/pkg/debug"
	"github.com/rhuss/majordomo/pkg/events"
	"github.com/rhuss/majordomo/pkg/observability"
	"github.com/rhuss/majordomo/pkg/transport"
)

//go:embed index.html
var indexHTML []byte

// HandlerRegistry is the part of the registry the HTTP surface needs.
// Implemented by *registry.Registry.
type HandlerRegistry interface {
	Upsert(ctx context.Context, address, ownerKey, source string) error
	Find(address, requesterKey string) (string, error)
	List() []string
}

// KeyChecker validates API keys. Implemented by *auth.KeyStore.
type KeyChecker interface {
	Contains(key string) bool
}

// EventRouter routes Slack events. Implemented by *events.Router.
type EventRouter interface {
	OnEvent(ctx context.Context, ev *events.Event)
}

// HealthChecker reports backend health. Implemented by storage.Store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Services are the collaborators behind the routes. Events, Limiter and
// Health are optional.
type Services struct {
	Invoker  transport.Invoker
	Handlers HandlerRegistry
	Keys     KeyChecker
	Events   EventRouter
	Limiter  auth.RateLimiter
	Health   HealthChecker
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// SlackSigningSecret enables request signature checks on the event
	// endpoint when non-empty.
	SlackSigningSecret string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 1 << 20, // 1 MB
	}
}

// Adapter serves the majordomo HTTP API.
type Adapter struct {
	svc     Services
	config  Config
	mux     *http.ServeMux
	logger  *slog.Logger
	nowFunc func() time.Time

	// pending tracks events routed in the background.
	pending sync.WaitGroup
}

// NewAdapter creates an HTTP adapter. Middleware is applied to the
// invoker in the given order and also covers Slack-triggered runs.
func NewAdapter(svc Services, cfg Config, logger *slog.Logger, middlewares ...transport.Middleware) *Adapter {
	svc.Invoker = transport.Wrap(svc.Invoker, middlewares...)
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	a := &Adapter{
		svc:     svc,
		config:  cfg,
		mux:     http.NewServeMux(),
		logger:  logger,
		nowFunc: time.Now,
	}

	a.mux.HandleFunc("POST /h/{address}", a.handleInvoke)
	a.mux.HandleFunc("POST /upsert_handler", a.handleUpsert)
	a.mux.HandleFunc("POST /find_handler", a.handleFind)
	a.mux.HandleFunc("POST /list_handlers", a.handleList)
	a.mux.HandleFunc("POST /verify_key", a.handleVerifyKey)
	a.mux.HandleFunc("POST /slack_redirector", a.handleSlack)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("GET /{$}", a.handleIndex)
	a.mux.HandleFunc("/", a.handleNotFound)

	return a
}

// Invoker returns the middleware-wrapped invoker, for other surfaces
// (MCP) that should behave exactly like POST /h/{address}.
func (a *Adapter) Invoker() transport.Invoker {
	return a.svc.Invoker
}

// SetEventRouter installs the router for Slack events. It must be called
// before the adapter serves requests.
func (a *Adapter) SetEventRouter(r EventRouter) {
	a.svc.Events = r
}

// Mount registers an extra handler, such as /metrics or /mcp.
func (a *Adapter) Mount(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler includes
// HTTP-level middleware for request ID propagation and request metrics.
func (a *Adapter) Handler() http.Handler {
	// Metrics must wrap the mux directly: ServeMux records the matched
	// pattern on the request it receives.
	return httpRequestIDMiddleware(observability.MetricsMiddleware(a.mux))
}

// Wait blocks until every background event has been routed or ctx ends.
func (a *Adapter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// httpRequestIDMiddleware is HTTP-level middleware that propagates the
// X-Request-ID header. If present in the request, it is forwarded to
// the response. After the handler runs, it checks the context for a
// request ID (set by the transport-level RequestID middleware) and adds
// it to the response headers if not already set.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx := transport.ContextWithRequestID(r.Context(), id)
			r = r.WithContext(ctx)
		}
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter wraps http.ResponseWriter to inject the
// X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// handleInvoke handles POST /h/{address}. The body is the raw payload.
func (a *Adapter) handleInvoke(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	body, ok := a.readBody(w, r)
	if !ok {
		return
	}

	if a.svc.Limiter != nil {
		if err := a.svc.Limiter.Allow(r.Context(), "h:"+address); err != nil {
			observability.RateLimitRejectedTotal.WithLabelValues("handler").Inc()
			debug.Log("transport", "invocation rate limited", "address", address)
			transport.WriteError(w, api.NewTooManyRequestsError(address))
			return
		}
	}

	res := a.svc.Invoker.Invoke(r.Context(), address, string(body))
	transport.WriteResult(w, res, http.StatusOK)
}

// handleUpsert handles POST /upsert_handler.
func (a *Adapter) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req api.UpsertHandlerRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if apiErr := req.Validate(r.URL.Path); apiErr != nil {
		transport.WriteError(w, apiErr)
		return
	}
	if !a.checkKey(w, req.APIKey) {
		return
	}

	if err := a.svc.Handlers.Upsert(r.Context(), req.Address, req.APIKey, req.Code); err != nil {
		a.writeErr(w, err)
		return
	}
	transport.WriteResult(w, api.Success(), http.StatusOK)
}

// handleFind handles POST /find_handler.
func (a *Adapter) handleFind(w http.ResponseWriter, r *http.Request) {
	var req api.FindHandlerRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if apiErr := req.Validate(r.URL.Path); apiErr != nil {
		transport.WriteError(w, apiErr)
		return
	}
	if !a.checkKey(w, req.APIKey) {
		return
	}

	source, err := a.svc.Handlers.Find(req.Address, req.APIKey)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	transport.WriteResult(w, api.SuccessWithData(source), http.StatusOK)
}

// handleList handles POST /list_handlers. Any valid key may list every
// address.
func (a *Adapter) handleList(w http.ResponseWriter, r *http.Request) {
	var req api.APIKeyRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if apiErr := req.Validate(r.URL.Path); apiErr != nil {
		transport.WriteError(w, apiErr)
		return
	}
	if !a.checkKey(w, req.APIKey) {
		return
	}

	res, err := api.SuccessWithJSON(a.svc.Handlers.List())
	if err != nil {
		a.writeErr(w, err)
		return
	}
	transport.WriteResult(w, res, http.StatusOK)
}

// handleVerifyKey handles POST /verify_key.
func (a *Adapter) handleVerifyKey(w http.ResponseWriter, r *http.Request) {
	var req api.APIKeyRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if apiErr := req.Validate(r.URL.Path); apiErr != nil {
		transport.WriteError(w, apiErr)
		return
	}
	if !a.checkKey(w, req.APIKey) {
		return
	}
	transport.WriteResult(w, api.Success(), http.StatusOK)
}

// handleSlack handles POST /slack_redirector. Events are acknowledged
// immediately and routed in the background; Slack only needs a 2xx
// within three seconds.
func (a *Adapter) handleSlack(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}

	if a.config.SlackSigningSecret != "" {
		if err := events.VerifySignature(a.config.SlackSigningSecret, r.Header, body, a.nowFunc()); err != nil {
			observability.AuthFailuresTotal.WithLabelValues("slack_signature").Inc()
			a.logger.Warn("rejected slack request", "remote_addr", r.RemoteAddr, "error", err)
			transport.WriteResult(w, api.FromError(api.NewInvalidAPIKeyError()), http.StatusUnauthorized)
			return
		}
	}

	var env events.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		transport.WriteResult(w, api.FromError(api.NewMalformedRequestError(r.URL.Path)), http.StatusBadRequest)
		return
	}

	if env.Type == events.TypeURLVerification {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events.ChallengeResponse{Challenge: env.Challenge})
		return
	}

	switch {
	case env.Event == nil:
		observability.EventsTotal.WithLabelValues("ignored").Inc()
		debug.Log("events", "envelope without event", "type", env.Type)
	case r.Header.Get("X-Slack-Retry-Num") != "":
		observability.EventsTotal.WithLabelValues("ignored").Inc()
		debug.Log("events", "ignoring slack retry", "event_id", env.EventID, "retry", r.Header.Get("X-Slack-Retry-Num"))
	case a.svc.Events == nil:
		observability.EventsTotal.WithLabelValues("ignored").Inc()
		a.logger.Warn("dropping slack event, event routing disabled", "event_id", env.EventID)
	default:
		ctx := context.WithoutCancel(r.Context())
		ev := env.Event
		a.pending.Add(1)
		go func() {
			defer a.pending.Done()
			a.svc.Events.OnEvent(ctx, ev)
		}()
	}

	transport.WriteResult(w, api.Success(), http.StatusOK)
}

// handleHealth handles GET /healthz.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.svc.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.svc.Health.HealthCheck(ctx); err != nil {
			a.logger.Warn("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unavailable\n"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// handleIndex handles GET /.
func (a *Adapter) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (a *Adapter) handleNotFound(w http.ResponseWriter, r *http.Request) {
	transport.WriteResult(w, api.Failure(fmt.Sprintf("No route for %s %s", r.Method, r.URL.Path)), http.StatusNotFound)
}

// readBody reads a size-limited body, writing the failure response itself
// when it returns false.
func (a *Adapter) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.config.MaxBodySize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteResult(w,
				api.Failure(fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return nil, false
		}
		transport.WriteResult(w, api.FromError(api.NewMalformedRequestError(r.URL.Path)), http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// decodeJSON decodes a JSON request body into v. Syntax errors are 400;
// well-formed JSON of the wrong shape is 422.
func (a *Adapter) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		transport.WriteResult(w, api.Failure("Content-Type must be application/json"), http.StatusUnsupportedMediaType)
		return false
	}

	body, ok := a.readBody(w, r)
	if !ok {
		return false
	}

	if err := json.Unmarshal(body, v); err != nil {
		status := http.StatusBadRequest
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			status = http.StatusUnprocessableEntity
		}
		debug.Log("transport", "malformed request body", "path", r.URL.Path, "error", err)
		transport.WriteResult(w, api.FromError(api.NewMalformedRequestError(r.URL.Path)), status)
		return false
	}
	return true
}

// checkKey writes the invalid-key failure and returns false when key is
// not in the key store.
func (a *Adapter) checkKey(w http.ResponseWriter, key string) bool {
	if a.svc.Keys.Contains(key) {
		return true
	}
	observability.AuthFailuresTotal.WithLabelValues("body").Inc()
	transport.WriteError(w, api.NewInvalidAPIKeyError())
	return false
}

// writeErr writes err as an envelope. Errors without a category are
// logged and reported as a generic server error.
func (a *Adapter) writeErr(w http.ResponseWriter, err error) {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		a.logger.Error("unexpected error", "error", err)
		apiErr = api.NewServerError("Internal server error")
	}
	if apiErr.Err != nil {
		debug.Log("transport", "request failed", "type", apiErr.Type, "cause", apiErr.Err)
	}
	transport.WriteError(w, apiErr)
}
