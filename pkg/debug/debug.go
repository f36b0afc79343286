// Package debug gates verbose logging per subsystem.
//
// Categories pick which subsystems log (MAJORDOMO_DEBUG, comma separated);
// the level picks how much detail survives (MAJORDOMO_LOG_LEVEL). Payloads
// and script output are logged truncated at DEBUG and whole at TRACE.
//
//	debug.Log("dispatch", "invoking handler", "address", addr)
//	debug.Payload("dispatch", "handler output", out, "address", addr)
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	EnvCategories = "MAJORDOMO_DEBUG"
	EnvLevel      = "MAJORDOMO_LOG_LEVEL"
)

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

// PayloadLimit is how much of a payload is kept below TRACE.
const PayloadLimit = 256

// Known lists the subsystems that log through this package.
var Known = []string{
	"registry", "dispatch", "broker", "events", "engine", "storage",
	"transport", "chat", "github", "mcp", "config",
}

// categories is written by init and Init only, before any goroutine reads it.
var categories = parseCategories(os.Getenv(EnvCategories))

// Init installs the process-wide slog handler. Environment values win over
// the configured ones. It returns the requested categories no subsystem
// recognizes so the caller can warn about typos.
func Init(configCategories, configLevel, format string) (unknown []string) {
	cats := os.Getenv(EnvCategories)
	if cats == "" {
		cats = configCategories
	}
	categories = parseCategories(cats)

	level := os.Getenv(EnvLevel)
	if level == "" {
		level = configLevel
	}
	slog.SetDefault(slog.New(NewHandler(os.Stderr, format, ParseLevel(level))))

	for c := range categories {
		if c != "all" && !slices.Contains(Known, c) {
			unknown = append(unknown, c)
		}
	}
	slices.Sort(unknown)
	return unknown
}

// NewHandler returns a JSON handler for format "json" and a text handler
// otherwise.
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a DEBUG record tagged with category, if enabled.
func Log(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a TRACE record tagged with category, if enabled.
func Trace(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// Payload logs body under category. The full text is attached only when
// TRACE is active; otherwise it is cut to PayloadLimit.
func Payload(category, msg, body string, args ...any) {
	if !Enabled(category) {
		return
	}
	if slog.Default().Enabled(context.Background(), LevelTrace) {
		Trace(category, msg, append(args, "body", body)...)
		return
	}
	Log(category, msg, append(args, "body", Truncate(body, PayloadLimit), "bytes", len(body))...)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Truncate cuts s to at most maxLen bytes without splitting a rune and
// marks the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		if cat = strings.ToLower(strings.TrimSpace(cat)); cat != "" {
			m[cat] = true
		}
	}
	return m
}
