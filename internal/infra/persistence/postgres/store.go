// Package postgres provides a Postgres-backed record store. Bodies are kept in
// a JSONB column so they can be inspected with the usual SQL json operators.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"fhirdoc/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.RecordStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/fhirdoc?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the function used to open connections and returns a
// restore func. Tests use it to inject a stub driver.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

const schema = `CREATE TABLE IF NOT EXISTS fhir_resources (
	resource_type TEXT NOT NULL,
	id TEXT NOT NULL,
	version BIGINT NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	body JSONB NOT NULL,
	PRIMARY KEY (resource_type, id)
)`

// Store persists records to Postgres.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN) and ensures the resource table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure resource table: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Get implements domain.RecordReader.
func (s *Store) Get(ctx context.Context, key domain.Key) (domain.Record, error) {
	var (
		version int64
		updated time.Time
		body    []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, last_updated, body FROM fhir_resources WHERE resource_type = $1 AND id = $2`,
		key.Type, key.ID).Scan(&version, &updated, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, domain.NotFoundError{Key: key}
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	return domain.Record{Key: key, VersionID: strconv.FormatInt(version, 10), LastUpdated: updated.UTC(), Body: body}, nil
}

// Put upserts the record, bumping its version.
func (s *Store) Put(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if err := rec.Key.Validate(); err != nil {
		return domain.Record{}, fmt.Errorf("put: %w", err)
	}
	updated := s.now()
	var version int64
	err := s.db.QueryRowContext(ctx, `INSERT INTO fhir_resources (resource_type, id, version, last_updated, body)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (resource_type, id) DO UPDATE SET
			version = fhir_resources.version + 1,
			last_updated = EXCLUDED.last_updated,
			body = EXCLUDED.body
		RETURNING version`,
		rec.Key.Type, rec.Key.ID, updated, string(rec.Body)).Scan(&version)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM fhir_resources WHERE resource_type = $1 AND id = $2`, key.Type, key.ID)
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
		`SELECT id, version, last_updated, body FROM fhir_resources WHERE resource_type = $1 ORDER BY id`, resourceType)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", resourceType, err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.Record, 0)
	for rows.Next() {
		var (
			id      string
			version int64
			updated time.Time
			body    []byte
		)
		if err := rows.Scan(&id, &version, &updated, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", resourceType, err)
		}
		out = append(out, domain.Record{
			Key:         domain.NewKey(resourceType, id),
			VersionID:   strconv.FormatInt(version, 10),
			LastUpdated: updated.UTC(),
			Body:        body,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", resourceType, err)
	}
	return out, nil
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }
