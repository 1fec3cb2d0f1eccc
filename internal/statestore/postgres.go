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
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore keeps state in the sync_state table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to Postgres and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("state dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB reuses an existing handle. No migration is run.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, connectorID string) (State, error) {
	if connectorID == "" {
		return State{}, ErrEmptyConnector
	}
	var (
		st                State
		status            string
		syncAt, updatedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync_at, last_updated_at, last_job_id, status, message FROM sync_state WHERE connector_id=$1`,
		connectorID).Scan(&syncAt, &updatedAt, &st.LastJobID, &status, &st.Message)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load state: %w", err)
	}
	st.Status = Status(status)
	if syncAt.Valid {
		st.LastSyncAt = syncAt.Time.UTC()
	}
	if updatedAt.Valid {
		st.LastUpdatedAt = updatedAt.Time.UTC()
	}
	return st, nil
}

func (s *PostgresStore) Save(ctx context.Context, connectorID string, state State) error {
	if connectorID == "" {
		return ErrEmptyConnector
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_state (connector_id, last_sync_at, last_updated_at, last_job_id, status, message, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (connector_id) DO UPDATE SET
  last_sync_at = EXCLUDED.last_sync_at,
  last_updated_at = EXCLUDED.last_updated_at,
  last_job_id = EXCLUDED.last_job_id,
  status = EXCLUDED.status,
  message = EXCLUDED.message,
  updated_at = now()`,
		connectorID, nullTime(state.LastSyncAt), nullTime(state.LastUpdatedAt),
		state.LastJobID, string(state.Status), state.Message)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
