// Package statestore persists the incremental sync position of each connector.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the outcome of the most recent run.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// State is the persisted position of one connector.
type State struct {
	LastSyncAt    time.Time `yaml:"last_sync_at,omitempty"`
	LastUpdatedAt time.Time `yaml:"last_updated_at,omitempty"`
	LastJobID     string    `yaml:"last_job_id,omitempty"`
	Status        Status    `yaml:"status,omitempty"`
	Message       string    `yaml:"message,omitempty"`
}

// Store loads and saves connector state.
type Store interface {
	// Load returns the zero State when nothing was saved yet.
	Load(ctx context.Context, connectorID string) (State, error)
	Save(ctx context.Context, connectorID string, state State) error
	Close() error
}

// Config selects and configures a store backend.
type Config struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// ErrEmptyConnector is returned when no connector id is given.
var ErrEmptyConnector = errors.New("connector id is required")

// Open builds the store selected by cfg.Driver. Postgres stores are migrated
// before they are returned.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFile:
		path := cfg.Path
		if path == "" {
			path = "hull-sql-state.yaml"
		}
		return NewFileStore(path), nil
	case DriverPostgres:
		store, err := NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown state driver %q", cfg.Driver)
}
