package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rhuss/majordomo/pkg/debug"
	"github.com/rhuss/majordomo/pkg/engine"
)

const maxRequestBytes = 1 << 20

type sandboxServer struct {
	engine        engine.Engine
	maxConcurrent int32
	currentLoad   atomic.Int32
	startTime     time.Time
}

func newSandboxServer(eng engine.Engine, maxConcurrent int32) *sandboxServer {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &sandboxServer{engine: eng, maxConcurrent: maxConcurrent, startTime: time.Now()}
}

func (s *sandboxServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// --- Execute handler ---

type executeRequest struct {
	Code    string `json:"code"`
	Payload string `json:"payload"`
}

type chatMessage struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type ticket struct {
	Repo  string `json:"repo"`
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

type executeResponse struct {
	Status          string        `json:"status"` // ok, compile_error, runtime_error
	Output          string        `json:"output,omitempty"`
	Error           string        `json:"error,omitempty"`
	Messages        []chatMessage `json:"messages,omitempty"`
	Tickets         []ticket      `json:"tickets,omitempty"`
	Logs            []string      `json:"logs,omitempty"`
	ExecutionTimeMs int64         `json:"execution_time_ms"`
}

func (s *sandboxServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	current := s.currentLoad.Add(1)
	defer s.currentLoad.Add(-1)

	if current > s.maxConcurrent {
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("at capacity (%d/%d concurrent executions)", current, s.maxConcurrent))
		return
	}

	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	slog.Info("execute request",
		"code", debug.Truncate(req.Code, 120),
		"payload_bytes", len(req.Payload),
	)

	resp := s.execute(r.Context(), req)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// execute compiles and runs one script against recording capabilities.
func (s *sandboxServer) execute(ctx context.Context, req executeRequest) executeResponse {
	start := time.Now()

	prog, err := s.engine.Compile(req.Code)
	if err != nil {
		return executeResponse{
			Status:          "compile_error",
			Error:           diagnostic(err),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	caps := &recorder{}
	out, err := s.engine.Invoke(ctx, prog, caps, engine.DefaultEntrypoint, req.Payload)

	resp := executeResponse{
		Status:          "ok",
		Output:          out,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	resp.Messages, resp.Tickets, resp.Logs = caps.snapshot()
	if err != nil {
		resp.Status = "runtime_error"
		resp.Output = ""
		resp.Error = diagnostic(err)
	}
	return resp
}

func diagnostic(err error) string {
	var ce *engine.CompileError
	if errors.As(err, &ce) {
		return ce.Diagnostic
	}
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return re.Diagnostic
	}
	return err.Error()
}

// recorder implements engine.Capabilities by recording every call.
type recorder struct {
	mu       sync.Mutex
	messages []chatMessage
	tickets  []ticket
	logs     []string
}

var _ engine.Capabilities = (*recorder)(nil)

func (c *recorder) SendChatMessage(_ context.Context, channel, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, chatMessage{Channel: channel, Text: text})
	return true
}

func (c *recorder) CreateTicket(_ context.Context, repo, title, body string) (*engine.Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickets = append(c.tickets, ticket{Repo: repo, Title: title, Body: body})
	n := len(c.tickets)
	return &engine.Ticket{
		URL:   fmt.Sprintf("sandbox://%s/issues/%d", repo, n),
		ID:    int64(n),
		Title: title,
	}, nil
}

func (c *recorder) Log(_ context.Context, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, text)
}

func (c *recorder) snapshot() ([]chatMessage, []ticket, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages, c.tickets, c.logs
}

// --- Health ---

func (s *sandboxServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "healthy",
		"engine":         s.engine.Name(),
		"current_load":   s.currentLoad.Load(),
		"max_concurrent": s.maxConcurrent,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
