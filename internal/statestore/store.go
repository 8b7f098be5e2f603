// Package statestore is the State Store Client: the single read/write
// surface over Postgres used by every layer above it — a thin pgxpool
// holder with hand-written parameterized queries plus golang-migrate schema
// migrations.
package statestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver used by Migrate
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a pgx connection pool. Every higher layer (Memory Client,
// Scheduler, Ingestion Pipeline) is handed a *Store rather than touching the
// pool directly, so callers only ever depend on this package's query
// methods, never on pgx types.
type Store struct {
	Pool *pgxpool.Pool
}

// Open connects to Postgres and verifies connectivity with a 5s probe.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("state store connectivity probe failed: %w", err)
	}

	return &Store{Pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.Pool.Close()
}

// Migrate runs all pending embedded migrations. Safe to call on every
// startup: golang-migrate is a no-op once the schema is current. Opens a
// separate database/sql connection (via the pgx stdlib adapter) since
// golang-migrate's postgres driver wants a *sql.DB, not a pgxpool.Pool.
func (s *Store) Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Ping re-probes connectivity, used by the /health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.Pool.Ping(pingCtx)
}
