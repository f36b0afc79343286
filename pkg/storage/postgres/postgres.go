// Package postgres provides a PostgreSQL implementation of storage.Store.
// It uses pgx/v5 for connection pooling. Each handler snapshot replaces the
// handlers table inside one transaction, so a reader sees either the old
// or the new map, never a mix.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/majordomo/pkg/debug"
	"github.com/rhuss/majordomo/pkg/storage"
)

// Store is a PostgreSQL-backed snapshot store.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// LoadHandlers returns the current snapshot.
func (s *Store) LoadHandlers(ctx context.Context) ([]storage.HandlerRecord, error) {
	var snapshots int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM handler_snapshots").Scan(&snapshots); err != nil {
		return nil, fmt.Errorf("counting snapshots: %w", err)
	}
	if snapshots == 0 {
		return nil, fmt.Errorf("handlers: %w", storage.ErrNotFound)
	}

	rows, err := s.pool.Query(ctx, "SELECT address, owner_key, source FROM handlers ORDER BY address")
	if err != nil {
		return nil, fmt.Errorf("querying handlers: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.HandlerRecord, error) {
		var rec storage.HandlerRecord
		err := row.Scan(&rec.Address, &rec.OwnerKey, &rec.Source)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning handlers: %w", err)
	}
	return records, nil
}

// SaveHandlers replaces the handlers table with records in a single
// transaction and records the snapshot.
func (s *Store) SaveHandlers(ctx context.Context, records []storage.HandlerRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM handlers"); err != nil {
		return fmt.Errorf("clearing handlers: %w", err)
	}

	if len(records) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"handlers"},
			[]string{"address", "owner_key", "source"},
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				return []any{records[i].Address, records[i].OwnerKey, records[i].Source}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("inserting handlers: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, "INSERT INTO handler_snapshots (records) VALUES ($1)", len(records)); err != nil {
		return fmt.Errorf("recording snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}

	debug.Log("storage", "snapshot written", "backend", "postgres", "records", len(records))
	return nil
}

// LoadAPIKeys returns every key in the api_keys table.
func (s *Store) LoadAPIKeys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT key FROM api_keys ORDER BY created_at, key")
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning api keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("api keys: %w", storage.ErrNotFound)
	}
	return keys, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
