package postgres

import "time"

// Config holds the connection pool settings.
type Config struct {
	// DSN is a PostgreSQL connection string or URL.
	DSN string

	// MaxConns and MinConns bound the pool size. Defaults: 10 and 1.
	MaxConns int32
	MinConns int32

	// MaxConnLifetime recycles connections after this long. Default: 5m.
	MaxConnLifetime time.Duration

	// ConnectTimeout bounds establishing a connection. Default: 10s.
	ConnectTimeout time.Duration

	// MigrateOnStart applies the embedded schema migrations in New.
	MigrateOnStart bool
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 5 * time.Minute
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}
