package debug

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

// withLogger swaps the default logger and categories for one test.
func withLogger(t *testing.T, cats string, level slog.Level) *bytes.Buffer {
	t.Helper()
	origCats, origLogger := categories, slog.Default()
	t.Cleanup(func() {
		categories = origCats
		slog.SetDefault(origLogger)
	})
	var buf bytes.Buffer
	categories = parseCategories(cats)
	slog.SetDefault(slog.New(NewHandler(&buf, "text", level)))
	return &buf
}

func TestParseCategories(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"registry", []string{"registry"}},
		{" Registry , ENGINE ", []string{"registry", "engine"}},
		{"registry,,engine,", []string{"registry", "engine"}},
	}
	for _, tt := range tests {
		got := parseCategories(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("parseCategories(%q) has %d entries, want %d", tt.input, len(got), len(tt.want))
		}
		for _, c := range tt.want {
			if !got[c] {
				t.Errorf("parseCategories(%q) missing %q", tt.input, c)
			}
		}
	}
}

func TestEnabled(t *testing.T) {
	withLogger(t, "registry,engine", slog.LevelDebug)
	if !Enabled("registry") || !Enabled("engine") {
		t.Error("configured categories should be enabled")
	}
	if Enabled("events") {
		t.Error("events should not be enabled")
	}

	categories = parseCategories("all")
	if !Enabled("events") {
		t.Error("all should enable every category")
	}
}

func TestInitReportsUnknownCategories(t *testing.T) {
	origCats, origLogger := categories, slog.Default()
	t.Cleanup(func() {
		categories = origCats
		slog.SetDefault(origLogger)
	})
	t.Setenv(EnvCategories, "")
	t.Setenv(EnvLevel, "")

	unknown := Init("dispatch,dispath,all,slack", "debug", "json")
	if len(unknown) != 2 || unknown[0] != "dispath" || unknown[1] != "slack" {
		t.Errorf("unknown = %v, want [dispath slack]", unknown)
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("configured level DEBUG not applied")
	}
}

func TestInitEnvironmentWins(t *testing.T) {
	origCats, origLogger := categories, slog.Default()
	t.Cleanup(func() {
		categories = origCats
		slog.SetDefault(origLogger)
	})
	t.Setenv(EnvCategories, "events")
	t.Setenv(EnvLevel, "ERROR")

	Init("registry", "DEBUG", "text")
	if Enabled("registry") || !Enabled("events") {
		t.Error("environment categories should replace configured ones")
	}
	if slog.Default().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("environment level ERROR not applied")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate short = %q, want %q", got, "short")
	}
	if got := Truncate("this is a long string", 10); got != "this is a ..." {
		t.Errorf("Truncate long = %q, want %q", got, "this is a ...")
	}
	// "é" is two bytes; cutting at 2 would split it.
	if got := Truncate("aéb", 2); got != "a..." {
		t.Errorf("Truncate multibyte = %q, want %q", got, "a...")
	}
}

func TestLogDisabledCategory(t *testing.T) {
	buf := withLogger(t, "", LevelTrace)
	Log("registry", "hidden")
	Trace("registry", "hidden")
	Payload("registry", "hidden", "body")
	if buf.Len() != 0 {
		t.Errorf("disabled category logged: %q", buf.String())
	}
}

func TestPayloadTruncatedAtDebug(t *testing.T) {
	buf := withLogger(t, "dispatch", slog.LevelDebug)
	Payload("dispatch", "invoking handler", strings.Repeat("x", PayloadLimit+50), "address", "deploy")

	out := buf.String()
	if !strings.Contains(out, "address=deploy") || !strings.Contains(out, "debug=dispatch") {
		t.Errorf("missing attributes: %q", out)
	}
	if strings.Contains(out, strings.Repeat("x", PayloadLimit+1)) {
		t.Errorf("payload not truncated at DEBUG: %q", out)
	}
	if !strings.Contains(out, "bytes=306") {
		t.Errorf("missing byte count: %q", out)
	}
}

func TestPayloadWholeAtTrace(t *testing.T) {
	buf := withLogger(t, "dispatch", LevelTrace)
	body := strings.Repeat("y", PayloadLimit+50)
	Payload("dispatch", "handler succeeded", body)
	if !strings.Contains(buf.String(), body) {
		t.Errorf("payload truncated at TRACE: %q", buf.String())
	}
}

func TestNewHandler(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, "JSON", slog.LevelInfo)).Info("hello", "address", "deploy")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"address":"deploy"`) {
		t.Errorf("json handler output = %q", buf.String())
	}

	buf.Reset()
	slog.New(NewHandler(&buf, "text", slog.LevelWarn)).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
}
