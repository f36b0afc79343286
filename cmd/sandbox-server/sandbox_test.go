package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhuss/majordomo/pkg/engine"
	"github.com/rhuss/majordomo/pkg/engine/starlark"
)

func execute(t *testing.T, srv *sandboxServer, req executeRequest) (int, executeResponse) {
	t.Helper()
	body, _ := json.Marshal(req)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body)))

	var resp executeResponse
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return rec.Code, resp
}

func TestExecute_RecordsEffects(t *testing.T) {
	srv := newSandboxServer(starlark.New(engine.Config{}), 2)
	code := `
def handle(p):
    log("got " + p)
    send_chat_message("C1", "hi " + p)
    t = create_ticket("acme/app", "title", "body")
    return t.url
`
	status, resp := execute(t, srv, executeRequest{Code: code, Payload: "bob"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if resp.Status != "ok" {
		t.Fatalf("status = %q, error = %q", resp.Status, resp.Error)
	}
	if resp.Output != "sandbox://acme/app/issues/1" {
		t.Errorf("output = %q", resp.Output)
	}
	if len(resp.Messages) != 1 || resp.Messages[0] != (chatMessage{Channel: "C1", Text: "hi bob"}) {
		t.Errorf("messages = %+v", resp.Messages)
	}
	if len(resp.Tickets) != 1 || resp.Tickets[0].Repo != "acme/app" {
		t.Errorf("tickets = %+v", resp.Tickets)
	}
	if len(resp.Logs) != 1 || resp.Logs[0] != "got bob" {
		t.Errorf("logs = %v", resp.Logs)
	}
}

func TestExecute_CompileError(t *testing.T) {
	srv := newSandboxServer(starlark.New(engine.Config{}), 1)

	_, resp := execute(t, srv, executeRequest{Code: "def other(p):\n    return p\n"})
	if resp.Status != "compile_error" {
		t.Errorf("status = %q, want compile_error", resp.Status)
	}
	if !strings.Contains(resp.Error, "handle") {
		t.Errorf("error = %q, want it to mention handle", resp.Error)
	}
}

func TestExecute_RuntimeErrorKeepsEffects(t *testing.T) {
	srv := newSandboxServer(starlark.New(engine.Config{}), 1)
	code := "def handle(p):\n    log('before')\n    return str(1 // 0)\n"

	_, resp := execute(t, srv, executeRequest{Code: code})
	if resp.Status != "runtime_error" {
		t.Fatalf("status = %q, want runtime_error", resp.Status)
	}
	if resp.Error == "" {
		t.Error("error is empty")
	}
	if len(resp.Logs) != 1 {
		t.Errorf("logs = %v, want the line logged before the failure", resp.Logs)
	}
}

func TestExecute_BadRequest(t *testing.T) {
	srv := newSandboxServer(starlark.New(engine.Config{}), 1)

	if status, _ := execute(t, srv, executeRequest{}); status != http.StatusBadRequest {
		t.Errorf("empty code status = %d, want 400", status)
	}

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestExecute_AtCapacity(t *testing.T) {
	srv := newSandboxServer(starlark.New(engine.Config{}), 1)
	srv.currentLoad.Store(1)

	status, _ := execute(t, srv, executeRequest{Code: "def handle(p):\n    return p\n"})
	if status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", status)
	}
}

func TestHealth(t *testing.T) {
	srv := newSandboxServer(starlark.New(engine.Config{}), 3)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "healthy" || body["engine"] != "starlark" {
		t.Errorf("health = %v", body)
	}
}

func TestNewEngine(t *testing.T) {
	for _, lang := range []string{"starlark", "hcl"} {
		eng, err := newEngine(lang, 0)
		if err != nil {
			t.Errorf("newEngine(%q) error: %v", lang, err)
			continue
		}
		if eng.Name() != lang {
			t.Errorf("Name() = %q, want %q", eng.Name(), lang)
		}
	}
	if _, err := newEngine("lua", 0); err == nil {
		t.Error("newEngine(lua) expected error")
	}
}
