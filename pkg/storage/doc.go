// Package storage defines the snapshot persistence contract for handlers
// and API keys.
//
// Persistence is whole-snapshot: every successful upsert rewrites the full
// handler map, and the API key list is read once at startup. Compiled
// programs are never persisted; the registry recompiles every record on
// load. Adapters:
//   - file: JSON files, whole-file overwrite via atomic rename
//   - postgres: one table per snapshot, replaced in a single transaction
//   - memory: process-local, for tests and ephemeral deployments
package storage
