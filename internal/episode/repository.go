// Package episode provides episode metadata lookups backed by DuckDB.
//
// The schema mirrors the upstream catalog: episodes belong to subdatasets,
// which reference an embodiment and a teleoperation mode.
package episode

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/logging"
)

var log = logging.Component("episode")

// =============================================================================
// Repository Configuration
// =============================================================================

// Config holds repository configuration options.
type Config struct {
	// DSN is the database connection string. An empty DSN opens an
	// in-memory database.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration

	// QueryTimeout bounds a single lookup.
	QueryTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DSN:             config.DefaultEpisodesDB,
		MaxOpenConns:    8,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		QueryTimeout:    config.DefaultQueryTimeout,
	}
}

// =============================================================================
// Repository
// =============================================================================

// Repository provides episode lookups.
//
// Repository is safe for concurrent use.
type Repository struct {
	db     *sql.DB
	config Config
	mu     sync.RWMutex
	closed bool
}

// Open opens the database described by cfg.
func Open(cfg Config) (*Repository, error) {
	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = config.DefaultQueryTimeout
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Debug("episode database opened", "dsn", cfg.DSN)
	return &Repository{
		db:     db,
		config: cfg,
	}, nil
}

// Close closes the repository.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	return r.db.Close()
}

// DB returns the underlying database connection.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Health checks database connectivity.
func (r *Repository) Health(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// TransactionContext executes fn within a database transaction.
//
// If fn returns an error, the transaction is rolled back.
// If fn returns nil, the transaction is committed.
func (r *Repository) TransactionContext(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// withTimeout derives a query context bounded by the configured timeout.
func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.config.QueryTimeout)
}

// =============================================================================
// Schema
// =============================================================================

var schema = []string{
	`CREATE TABLE IF NOT EXISTS embodiments (
		id   BIGINT PRIMARY KEY,
		name VARCHAR NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS teleop_modes (
		id   BIGINT PRIMARY KEY,
		name VARCHAR NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subdatasets (
		id             BIGINT PRIMARY KEY,
		name           VARCHAR NOT NULL,
		description    VARCHAR,
		embodiment_id  BIGINT,
		teleop_mode_id BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS episodes (
		id            BIGINT PRIMARY KEY,
		url           VARCHAR,
		uploaded_at   TIMESTAMP,
		subdataset_id BIGINT
	)`,
}

// Migrate creates the schema if it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.TransactionContext(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		return nil
	})
}
