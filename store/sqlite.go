// Package store persists exported activity state so stopped runs can be
// recovered in another process.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowstone-io/flowstone"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// ErrNotFound is returned when no snapshot exists for an id.
var ErrNotFound = errors.New("snapshot not found")

// SQLiteStoreConfig configures the SQLite snapshot store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string
}

// SQLiteSnapshotStore persists activity state snapshots to a SQLite
// database, one row per element id. Saving again overwrites the previous
// snapshot. WAL mode is enabled for concurrent read access.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore opens (or creates) a SQLite snapshot store.
func NewSQLiteSnapshotStore(cfg SQLiteStoreConfig) (*SQLiteSnapshotStore, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &SQLiteSnapshotStore{db: db}, nil
}

// Save writes a snapshot, replacing any previous one for the same id.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, state *flowstone.ActivityState) error {
	if state == nil || state.ID == "" {
		return errors.New("store: snapshot has no id")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, type, status, state, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   type = excluded.type,
		   status = excluded.status,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		state.ID,
		state.Type,
		string(state.Status),
		string(payload),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", state.ID, err)
	}
	return nil
}

// Load reads the snapshot for an id.
func (s *SQLiteSnapshotStore) Load(ctx context.Context, id string) (*flowstone.ActivityState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM snapshots WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", id, err)
	}

	var state flowstone.ActivityState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("store: unmarshal %s: %w", id, err)
	}
	return &state, nil
}

// Delete removes the snapshot for an id. Deleting a missing snapshot is
// not an error.
func (s *SQLiteSnapshotStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}

// List returns the ids of all stored snapshots.
func (s *SQLiteSnapshotStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM snapshots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteSnapshotStore) Close() error {
	return s.db.Close()
}
