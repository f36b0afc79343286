package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rhuss/majordomo/pkg/storage"
)

func TestSaveAndLoadHandlers(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "handlers.json"), filepath.Join(dir, "api_keys.json"))
	ctx := context.Background()

	records := []storage.HandlerRecord{
		{Address: "zeta", OwnerKey: "k1", Source: "def handle(p):\n    return p\n"},
		{Address: "alpha", OwnerKey: "k2", Source: "def handle(p):\n    return \"a\"\n"},
	}
	if err := s.SaveHandlers(ctx, records); err != nil {
		t.Fatalf("SaveHandlers() error = %v", err)
	}

	got, err := s.LoadHandlers(ctx)
	if err != nil {
		t.Fatalf("LoadHandlers() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Address != "alpha" || got[1].Address != "zeta" {
		t.Errorf("order = [%s %s], want [alpha zeta]", got[0].Address, got[1].Address)
	}
	if got[1].Source != records[0].Source || got[1].OwnerKey != "k1" {
		t.Errorf("record = %+v, want %+v", got[1], records[0])
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

func TestSaveOverwrites(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "handlers.json"), "")
	ctx := context.Background()

	s.SaveHandlers(ctx, []storage.HandlerRecord{{Address: "a", OwnerKey: "k", Source: "x"}})
	s.SaveHandlers(ctx, []storage.HandlerRecord{{Address: "b", OwnerKey: "k", Source: "y"}})

	got, err := s.LoadHandlers(ctx)
	if err != nil {
		t.Fatalf("LoadHandlers() error = %v", err)
	}
	if len(got) != 1 || got[0].Address != "b" {
		t.Errorf("LoadHandlers() = %+v, want only b", got)
	}
}

func TestLoadLegacyFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handlers.json")
	legacy := `{"deploy":{"uri":"deploy","api_key":"secret","code":"fn handle(x) { x }"}}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := New(path, "").LoadHandlers(context.Background())
	if err != nil {
		t.Fatalf("LoadHandlers() error = %v", err)
	}
	want := storage.HandlerRecord{Address: "deploy", OwnerKey: "secret", Source: "fn handle(x) { x }"}
	if len(got) != 1 || got[0] != want {
		t.Errorf("LoadHandlers() = %+v, want [%+v]", got, want)
	}
}

func TestLoadMissing(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "none.json"), filepath.Join(dir, "none-keys.json"))

	if _, err := s.LoadHandlers(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LoadHandlers() error = %v, want ErrNotFound", err)
	}
	if _, err := s.LoadAPIKeys(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LoadAPIKeys() error = %v, want ErrNotFound", err)
	}
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handlers.json")
	os.WriteFile(path, []byte("{not json"), 0o600)

	_, err := New(path, "").LoadHandlers(context.Background())
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LoadHandlers() error = %v, want parse error", err)
	}
}

func TestLoadAPIKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "api_keys.json")
	os.WriteFile(path, []byte(`["key-1","key-2"]`), 0o600)

	keys, err := New(storage.DoNotWrite, path).LoadAPIKeys(context.Background())
	if err != nil {
		t.Fatalf("LoadAPIKeys() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "key-1" || keys[1] != "key-2" {
		t.Errorf("LoadAPIKeys() = %v", keys)
	}
}

func TestDoNotWrite(t *testing.T) {
	s := New(storage.DoNotWrite, "")
	ctx := context.Background()

	if err := s.SaveHandlers(ctx, []storage.HandlerRecord{{Address: "a"}}); err != nil {
		t.Errorf("SaveHandlers() error = %v, want nil", err)
	}
	if _, err := os.Stat(storage.DoNotWrite); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("sentinel file was created: %v", err)
	}
	if _, err := s.LoadHandlers(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LoadHandlers() error = %v, want ErrNotFound", err)
	}
	if err := s.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestSaveUnwritable(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing-dir", "handlers.json"), "")
	if err := s.SaveHandlers(context.Background(), nil); err == nil {
		t.Error("SaveHandlers() into missing directory = nil, want error")
	}
	if err := s.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() with missing directory = nil, want error")
	}
}
