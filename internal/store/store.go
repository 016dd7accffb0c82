// Package store persists versioned records in an embedded SQLite
// database. Version bumps happen only through compare-and-swap updates,
// which is what the concurrency engine builds its conflict detection on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Record is a stored row. Version starts at 1 and increments on every
// successful save.
type Record struct {
	ID        string    `db:"id" json:"id"`
	Version   int64     `db:"version" json:"version"`
	Data      []byte    `db:"data" json:"data"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	data       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// Store is a sqlx-backed record repository.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the database at path. ":memory:"
// gives an in-process database.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// table-locked errors under concurrent saves.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get fetches a record by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, `SELECT id, version, data, updated_at FROM records WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return &rec, nil
}

// Insert stores a new record at version 1.
func (s *Store) Insert(ctx context.Context, id string, data []byte) (*Record, error) {
	rec := &Record{
		ID:        id,
		Version:   1,
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, version, data, updated_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Version, rec.Data, rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert record %s: %w", id, err)
	}
	return rec, nil
}

// CompareAndSwap updates a record only if its stored version still equals
// expected. It reports whether the swap happened; false with a nil error
// means the version moved (or the record is gone).
func (s *Store) CompareAndSwap(ctx context.Context, id string, expected int64, data []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET version = version + 1, data = ?, updated_at = ? WHERE id = ? AND version = ?`,
		data, time.Now().UTC(), id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update record %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for %s: %w", id, err)
	}
	return affected == 1, nil
}

// ForceUpdate writes a record unconditionally, bumping the version. Used
// when concurrency checking is disabled.
func (s *Store) ForceUpdate(ctx context.Context, id string, data []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET version = version + 1, data = ?, updated_at = ? WHERE id = ?`,
		data, time.Now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("failed to update record %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var version int64
	if err := s.db.GetContext(ctx, &version, `SELECT version FROM records WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("failed to read version of %s: %w", id, err)
	}
	return version, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SwapRequest is one compare-and-swap inside a batch.
type SwapRequest struct {
	ID       string
	Expected int64
	Data     []byte
}

// CompareAndSwapAll runs every swap inside one transaction and commits
// only if all of them succeed. On the first version miss the transaction
// rolls back and the index of the failing request is returned.
func (s *Store) CompareAndSwapAll(ctx context.Context, reqs []SwapRequest) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return -1, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for i, req := range reqs {
		res, err := tx.ExecContext(ctx,
			`UPDATE records SET version = version + 1, data = ?, updated_at = ? WHERE id = ? AND version = ?`,
			req.Data, now, req.ID, req.Expected)
		if err != nil {
			return i, fmt.Errorf("failed to update record %s: %w", req.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return i, err
		}
		if affected != 1 {
			return i, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return -1, fmt.Errorf("failed to commit batch: %w", err)
	}
	return -1, nil
}
