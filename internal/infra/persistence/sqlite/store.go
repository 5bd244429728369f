// Package sqlite persists records in an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"fhirdoc/pkg/domain"
)

var _ domain.RecordStore = (*Store)(nil)

const schema = `CREATE TABLE IF NOT EXISTS resources (
	resource_type TEXT NOT NULL,
	id TEXT NOT NULL,
	version INTEGER NOT NULL,
	last_updated TEXT NOT NULL,
	body BLOB NOT NULL,
	PRIMARY KEY (resource_type, id)
)`

// Store keeps one row per (type,id), holding the latest version only.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewStore opens (creating when needed) the sqlite file at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "fhirdoc.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serialises writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create resources table: %w", err)
	}
	return &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Get implements domain.RecordReader.
func (s *Store) Get(ctx context.Context, key domain.Key) (domain.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, last_updated, body FROM resources WHERE resource_type = ? AND id = ?`,
		key.Type, key.ID)
	rec, err := scanRecord(key, row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, domain.NotFoundError{Key: key}
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	return rec, nil
}

// Put upserts the record, bumping its version.
func (s *Store) Put(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if err := rec.Key.Validate(); err != nil {
		return domain.Record{}, fmt.Errorf("put: %w", err)
	}
	updated := s.now()
	var version int64
	err := s.db.QueryRowContext(ctx, `INSERT INTO resources(resource_type, id, version, last_updated, body)
		VALUES(?, ?, 1, ?, ?)
		ON CONFLICT(resource_type, id) DO UPDATE SET
			version = resources.version + 1,
			last_updated = excluded.last_updated,
			body = excluded.body
		RETURNING version`,
		rec.Key.Type, rec.Key.ID, updated.Format(time.RFC3339Nano), []byte(rec.Body)).Scan(&version)
	if err != nil {
		return domain.Record{}, fmt.Errorf("upsert %s: %w", rec.Key, err)
	}
	return domain.Record{
		Key:         rec.Key,
		VersionID:   strconv.FormatInt(version, 10),
		LastUpdated: updated,
		Body:        append([]byte(nil), rec.Body...),
	}, nil
}

// Delete implements domain.RecordStore.
func (s *Store) Delete(ctx context.Context, key domain.Key) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE resource_type = ? AND id = ?`, key.Type, key.ID)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List implements domain.RecordStore.
func (s *Store) List(ctx context.Context, resourceType string) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version, last_updated, body FROM resources WHERE resource_type = ? ORDER BY id`, resourceType)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", resourceType, err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.Record, 0)
	for rows.Next() {
		var id string
		rec, err := scanRecord(domain.Key{Type: resourceType}, func(dest ...any) error {
			return rows.Scan(append([]any{&id}, dest...)...)
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", resourceType, err)
		}
		rec.Key.ID = id
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func scanRecord(key domain.Key, scan func(dest ...any) error) (domain.Record, error) {
	var (
		version int64
		updated string
		body    []byte
	)
	if err := scan(&version, &updated, &body); err != nil {
		return domain.Record{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return domain.Record{}, fmt.Errorf("parse last_updated: %w", err)
	}
	return domain.Record{Key: key, VersionID: strconv.FormatInt(version, 10), LastUpdated: ts, Body: body}, nil
}
