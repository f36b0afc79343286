package storage

import (
	"context"
	"sort"
)

// DoNotWrite is a sentinel handler path that disables snapshot writes.
const DoNotWrite = "do-not-write"

// HandlerRecord is the persisted form of a handler. The JSON names match
// the snapshot files written by earlier deployments.
type HandlerRecord struct {
	Address  string `json:"uri"`
	OwnerKey string `json:"api_key"`
	Source   string `json:"code"`
}

// Store persists handler snapshots and supplies API keys.
type Store interface {
	// LoadHandlers returns the last saved snapshot. It returns an error
	// wrapping ErrNotFound if nothing has been saved.
	LoadHandlers(ctx context.Context) ([]HandlerRecord, error)

	// SaveHandlers replaces the saved snapshot with records.
	SaveHandlers(ctx context.Context, records []HandlerRecord) error

	// LoadAPIKeys returns the configured API keys. It returns an error
	// wrapping ErrNotFound if no key list exists.
	LoadAPIKeys(ctx context.Context) ([]string, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// SortRecords orders records by address so snapshots are stable.
func SortRecords(records []HandlerRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Address < records[j].Address
	})
}
