package hclexpr

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/majordomo/pkg/engine"
)

type fakeCaps struct {
	messages []string
	logs     []string
	ticket   *engine.Ticket
	sendOK   bool
}

func (f *fakeCaps) SendChatMessage(_ context.Context, channel, text string) bool {
	f.messages = append(f.messages, channel+":"+text)
	return f.sendOK
}

func (f *fakeCaps) CreateTicket(context.Context, string, string, string) (*engine.Ticket, error) {
	if f.ticket == nil {
		return nil, errors.New("disabled")
	}
	return f.ticket, nil
}

func (f *fakeCaps) Log(_ context.Context, text string) {
	f.logs = append(f.logs, text)
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantErr  bool
		wantDiag string
	}{
		{"echo", `handle = payload`, false, ""},
		{"template", `handle = "got ${upper(payload)}"`, false, ""},
		{"missing handle", `other = payload`, true, "handle"},
		{"empty", ``, true, "handle"},
		{"syntax error", `handle = (payload`, true, "handler.hcl"},
		{"unknown variable", `handle = env.SLACK_TOKEN`, true, "unknown variable"},
		{"unknown function", `handle = file("/etc/passwd")`, true, "no function named"},
		{"block not allowed", "handle = payload\nextra {\n}\n", true, "handler.hcl"},
	}
	e := New(engine.Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Compile(tt.src)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Compile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var ce *engine.CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("error type = %T, want *engine.CompileError", err)
			}
			if !strings.Contains(ce.Diagnostic, tt.wantDiag) {
				t.Errorf("Diagnostic = %q, want substring %q", ce.Diagnostic, tt.wantDiag)
			}
		})
	}
}

func TestCompileTooLarge(t *testing.T) {
	e := New(engine.Config{MaxSteps: 5})
	_, err := e.Compile(`handle = join(",", [payload, payload, payload, payload, payload])`)
	var ce *engine.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("Compile() error = %v, want *engine.CompileError", err)
	}
	if !strings.Contains(ce.Diagnostic, "limit is 5") {
		t.Errorf("Diagnostic = %q", ce.Diagnostic)
	}
}

func TestInvoke(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		payload string
		want    string
		wantErr bool
	}{
		{"echo", `handle = payload`, "hello", "hello", false},
		{"upper", `handle = upper(payload)`, "hello", "HELLO", false},
		{"template", `handle = "<${trimspace(payload)}>"`, "  x  ", "<x>", false},
		{"conditional", `handle = payload == "ping" ? "pong" : "?"`, "ping", "pong", false},
		{"split join", `handle = join("-", split(" ", payload))`, "a b c", "a-b-c", false},
		{"number converts", `handle = length(payload)`, "abcd", "4", false},
		{"null is empty", `handle = null`, "x", "", false},
		{"object fails", `handle = { a = payload }`, "x", "", true},
		{"bad index", `handle = split(" ", payload)[5]`, "a b", "", true},
	}
	e := New(engine.Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := e.Compile(tt.src)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			got, err := e.Invoke(context.Background(), prog, &fakeCaps{}, engine.DefaultEntrypoint, tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Invoke() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var re *engine.RuntimeError
				if !errors.As(err, &re) {
					t.Errorf("error type = %T, want *engine.RuntimeError", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Invoke() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInvokeStepLimit(t *testing.T) {
	e := New(engine.Config{MaxSteps: 20})
	prog, err := e.Compile(`handle = join("", [for w in split(" ", payload) : upper(w)])`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if _, err := e.Invoke(context.Background(), prog, &fakeCaps{}, engine.DefaultEntrypoint, "a b"); err != nil {
		t.Fatalf("Invoke(short) error = %v", err)
	}

	long := strings.Repeat("w ", 50)
	_, err = e.Invoke(context.Background(), prog, &fakeCaps{}, engine.DefaultEntrypoint, long)
	if !errors.Is(err, engine.ErrStepLimit) {
		t.Errorf("Invoke(long) error = %v, want ErrStepLimit", err)
	}
}

func TestInvokeNestedForStepLimit(t *testing.T) {
	e := New(engine.Config{})
	prog, err := e.Compile(`handle = length([for x in jsondecode(payload) : [for y in x : [for z in x : z]]])`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	nums := make([]string, 2000)
	for i := range nums {
		nums[i] = strconv.Itoa(i)
	}
	payload := "[[" + strings.Join(nums, ",") + "]]"

	start := time.Now()
	_, err = e.Invoke(context.Background(), prog, &fakeCaps{}, engine.DefaultEntrypoint, payload)
	if !errors.Is(err, engine.ErrStepLimit) {
		t.Fatalf("Invoke() error = %v, want ErrStepLimit", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Invoke() took %v after the ceiling was hit", elapsed)
	}
}

func TestInvokeSplatCharged(t *testing.T) {
	e := New(engine.Config{MaxSteps: 30})
	prog, err := e.Compile(`handle = length(jsondecode(payload)[*].n)`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	got, err := e.Invoke(context.Background(), prog, &fakeCaps{}, engine.DefaultEntrypoint, `[{"n":1},{"n":2}]`)
	if err != nil || got != "2" {
		t.Fatalf("Invoke(small) = %q, %v; want 2", got, err)
	}

	items := strings.TrimSuffix(strings.Repeat(`{"n":1},`, 100), ",")
	_, err = e.Invoke(context.Background(), prog, &fakeCaps{}, engine.DefaultEntrypoint, "["+items+"]")
	if !errors.Is(err, engine.ErrStepLimit) {
		t.Errorf("Invoke(large) error = %v, want ErrStepLimit", err)
	}
}

func TestInvokeValueSizeLimit(t *testing.T) {
	big := strings.Repeat("a", 2000)
	tests := []struct {
		name string
		src  string
	}{
		{"replace", `handle = replace(payload, "a", payload)`},
		{"join", `handle = join(payload, split("", payload))`},
		{"format index reuse", `handle = format(join("", [for i in split("", substr(payload, 0, 600)) : "%[1]s"]), payload)`},
	}
	e := New(engine.Config{MaxSteps: 10000})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := e.Compile(tt.src)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			_, err = e.Invoke(context.Background(), prog, &fakeCaps{}, engine.DefaultEntrypoint, big)
			if !errors.Is(err, engine.ErrSizeLimit) {
				t.Errorf("Invoke() error = %v, want ErrSizeLimit", err)
			}
		})
	}

	prog, err := e.Compile(`handle = replace(payload, "a", "bb")`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if got, err := e.Invoke(context.Background(), prog, &fakeCaps{}, engine.DefaultEntrypoint, "aXa"); err != nil || got != "bbXbb" {
		t.Errorf("Invoke(small) = %q, %v; want bbXbb", got, err)
	}
}

func TestEachNotCallable(t *testing.T) {
	_, err := New(engine.Config{}).Compile(`handle = __each(payload)`)
	var ce *engine.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("Compile() error = %v, want *engine.CompileError", err)
	}
}

func TestCapabilities(t *testing.T) {
	e := New(engine.Config{})
	prog, err := e.Compile(`handle = send_chat_message("general", log(payload)) ? "sent" : "dropped"`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	caps := &fakeCaps{sendOK: true}
	got, err := e.Invoke(context.Background(), prog, caps, engine.DefaultEntrypoint, "deploying")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got != "sent" {
		t.Errorf("Invoke() = %q, want %q", got, "sent")
	}
	if len(caps.messages) != 1 || caps.messages[0] != "general:deploying" {
		t.Errorf("messages = %v", caps.messages)
	}
	if len(caps.logs) != 1 || caps.logs[0] != "deploying" {
		t.Errorf("logs = %v", caps.logs)
	}
}

func TestCreateTicket(t *testing.T) {
	e := New(engine.Config{})
	prog, err := e.Compile(`handle = create_ticket("acme/app", payload, "").url`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	caps := &fakeCaps{ticket: &engine.Ticket{URL: "https://github.com/acme/app/issues/3", ID: 3, Title: "x"}}
	got, err := e.Invoke(context.Background(), prog, caps, engine.DefaultEntrypoint, "x")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got != "https://github.com/acme/app/issues/3" {
		t.Errorf("Invoke() = %q", got)
	}

	guarded, err := e.Compile(`handle = create_ticket("acme/app", payload, "") == null ? "no ticket" : "ok"`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	got, err = e.Invoke(context.Background(), guarded, &fakeCaps{}, engine.DefaultEntrypoint, "x")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got != "no ticket" {
		t.Errorf("Invoke() with disabled tickets = %q, want %q", got, "no ticket")
	}
}

func TestInvokeUnknownEntrypoint(t *testing.T) {
	e := New(engine.Config{})
	prog, err := e.Compile(`handle = payload`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := e.Invoke(context.Background(), prog, &fakeCaps{}, "other", "x"); err == nil {
		t.Error("Invoke(other) error = nil, want error")
	}
}
