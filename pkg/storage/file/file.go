// Package file provides a storage.Store backed by two JSON files: a map of
// address to handler record, and a flat array of API keys. Snapshots are
// written to a temporary file in the same directory and renamed into
// place, so readers never observe a partial write.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rhuss/majordomo/pkg/debug"
	"github.com/rhuss/majordomo/pkg/storage"
)

// Store is a file-backed snapshot store.
type Store struct {
	handlersPath string
	apiKeysPath  string
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a file store. handlersPath may be storage.DoNotWrite, in
// which case loads find nothing and saves are discarded.
func New(handlersPath, apiKeysPath string) *Store {
	return &Store{handlersPath: handlersPath, apiKeysPath: apiKeysPath}
}

// LoadHandlers reads the handler map.
func (s *Store) LoadHandlers(_ context.Context) ([]storage.HandlerRecord, error) {
	if s.handlersPath == storage.DoNotWrite {
		return nil, fmt.Errorf("handlers: %w", storage.ErrNotFound)
	}

	var byAddress map[string]storage.HandlerRecord
	if err := readJSON(s.handlersPath, &byAddress); err != nil {
		return nil, fmt.Errorf("handlers: %w", err)
	}

	records := make([]storage.HandlerRecord, 0, len(byAddress))
	for addr, rec := range byAddress {
		if rec.Address == "" {
			rec.Address = addr
		}
		records = append(records, rec)
	}
	storage.SortRecords(records)
	return records, nil
}

// SaveHandlers overwrites the handler map.
func (s *Store) SaveHandlers(_ context.Context, records []storage.HandlerRecord) error {
	if s.handlersPath == storage.DoNotWrite {
		debug.Log("storage", "snapshot write disabled", "records", len(records))
		return nil
	}

	byAddress := make(map[string]storage.HandlerRecord, len(records))
	for _, rec := range records {
		byAddress[rec.Address] = rec
	}

	data, err := json.Marshal(byAddress)
	if err != nil {
		return fmt.Errorf("marshaling handlers: %w", err)
	}
	if err := writeAtomic(s.handlersPath, data); err != nil {
		return fmt.Errorf("writing handlers: %w", err)
	}

	debug.Log("storage", "snapshot written", "path", s.handlersPath, "records", len(records))
	return nil
}

// LoadAPIKeys reads the API key array.
func (s *Store) LoadAPIKeys(_ context.Context) ([]string, error) {
	var keys []string
	if err := readJSON(s.apiKeysPath, &keys); err != nil {
		return nil, fmt.Errorf("api keys: %w", err)
	}
	return keys, nil
}

// HealthCheck verifies that the handler snapshot directory exists.
func (s *Store) HealthCheck(_ context.Context) error {
	if s.handlersPath == storage.DoNotWrite {
		return nil
	}
	dir := filepath.Dir(s.handlersPath)
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, storage.ErrNotFound)
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
