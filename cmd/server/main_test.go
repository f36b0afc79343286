package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rhuss/majordomo/pkg/auth"
	"github.com/rhuss/majordomo/pkg/engine"
	"github.com/rhuss/majordomo/pkg/engine/starlark"
	"github.com/rhuss/majordomo/pkg/registry"
	"github.com/rhuss/majordomo/pkg/storage/file"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCorruptSnapshotsDoNotStopStartup(t *testing.T) {
	dir := t.TempDir()
	handlersPath := filepath.Join(dir, "handlers.json")
	keysPath := filepath.Join(dir, "api_keys.json")
	writeFile(t, handlersPath, "{not json")
	writeFile(t, keysPath, `["k1"`)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	store := file.New(handlersPath, keysPath)
	ctx := context.Background()

	keys := auth.NewKeyStore()
	loadAPIKeys(ctx, keys, store, logger)
	if keys.Contains("k1") {
		t.Error("key from a truncated list was loaded")
	}

	handlers := registry.New(starlark.New(engine.Config{}), store, registry.WithLogger(logger))
	handlers.Load(ctx)
	if handlers.Len() != 0 {
		t.Errorf("handlers.Len() = %d, want 0", handlers.Len())
	}

	out := logs.String()
	for _, want := range []string{"api key list unreadable", "handler snapshot unreadable"} {
		if !strings.Contains(out, want) {
			t.Errorf("logs missing %q:\n%s", want, out)
		}
	}
}

func TestLoadAPIKeys(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "api_keys.json")
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	// Missing file: empty set, no panic.
	keys := auth.NewKeyStore()
	loadAPIKeys(context.Background(), keys, file.New(filepath.Join(dir, "handlers.json"), keysPath), logger)
	if keys.Contains("k1") {
		t.Error("Contains(k1) = true with no key file")
	}

	writeFile(t, keysPath, `["k1", "k2"]`)
	loadAPIKeys(context.Background(), keys, file.New(filepath.Join(dir, "handlers.json"), keysPath), logger)
	if !keys.Contains("k1") || !keys.Contains("k2") {
		t.Error("keys from a valid list were not loaded")
	}
}
