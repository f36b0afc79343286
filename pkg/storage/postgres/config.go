package postgres

import "time"

// Pool defaults. Snapshot writes are rare and short, so a handful of idle
// connections covers health checks and the occasional upsert.
const (
	DefaultMaxConns        = 25
	DefaultMinConns        = 2
	DefaultMaxConnLifetime = 30 * time.Minute
)

// Config configures the snapshot store.
type Config struct {
	// DSN is a libpq connection string or postgres:// URL.
	DSN string

	// MaxConns caps the pool. Zero uses DefaultMaxConns.
	MaxConns int32

	// MinConns is kept open even when idle. Zero uses DefaultMinConns;
	// it never exceeds MaxConns.
	MinConns int32

	// MaxConnLifetime recycles connections after this age. Zero uses
	// DefaultMaxConnLifetime.
	MaxConnLifetime time.Duration

	// MigrateOnStart applies the embedded schema before the store is used.
	MigrateOnStart bool
}

func (c *Config) defaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns <= 0 {
		c.MinConns = DefaultMinConns
	}
	c.MinConns = min(c.MinConns, c.MaxConns)
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
}
