// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/learnertrace/internal/model"
	"github.com/alfredjeanlab/learnertrace/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) InsertEvents(ctx context.Context, events []*model.Event) store.WriteResult {
	return queryInsertEvents(ctx, s.db, events)
}

func (s *PostgresStore) EventsByUser(ctx context.Context, participantID string, opts model.UserEventOptions) ([]*model.Event, error) {
	return queryEventsByUser(ctx, s.db, participantID, opts)
}

func (s *PostgresStore) EventsBySession(ctx context.Context, sessionID string) ([]*model.Event, error) {
	return queryEventsBySession(ctx, s.db, sessionID)
}

func (s *PostgresStore) EventCounts(ctx context.Context, start, end *time.Time, groupBy model.GroupBy) ([]model.EventCount, error) {
	return queryEventCounts(ctx, s.db, start, end, groupBy)
}

func (s *PostgresStore) SummaryStats(ctx context.Context, filter model.SummaryFilter) (*model.SummaryStats, error) {
	return querySummaryStats(ctx, s.db, filter)
}

func (s *PostgresStore) ExperimentEvents(ctx context.Context, experimentID, group string) ([]*model.Event, error) {
	return queryExperimentEvents(ctx, s.db, experimentID, group)
}

func (s *PostgresStore) ListEventsSynced(ctx context.Context, from, to time.Time) ([]*model.Event, error) {
	return queryListEventsSynced(ctx, s.db, from, to)
}

func (s *PostgresStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return queryPurgeBefore(ctx, s.db, cutoff)
}
