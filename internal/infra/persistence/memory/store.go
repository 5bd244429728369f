// Package memory provides an in-memory record store used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"fhirdoc/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.RecordStore = (*Store)(nil)

type entry struct {
	version     int
	lastUpdated time.Time
	body        []byte
}

// Store keeps the latest version of each record keyed by (type,id).
type Store struct {
	mu      sync.RWMutex
	records map[domain.Key]entry
	now     func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used for lastUpdated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		records: make(map[domain.Key]entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements domain.RecordReader.
func (s *Store) Get(ctx context.Context, key domain.Key) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	s.mu.RLock()
	e, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return domain.Record{}, domain.NotFoundError{Key: key}
	}
	return e.record(key), nil
}

// Put stores a copy of the record and assigns the next version.
func (s *Store) Put(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	if err := rec.Key.Validate(); err != nil {
		return domain.Record{}, fmt.Errorf("put: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.records[rec.Key]
	e := entry{
		version:     prev.version + 1,
		lastUpdated: s.now(),
		body:        append([]byte(nil), rec.Body...),
	}
	s.records[rec.Key] = e
	return e.record(rec.Key), nil
}

// Delete implements domain.RecordStore.
func (s *Store) Delete(ctx context.Context, key domain.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return false, nil
	}
	delete(s.records, key)
	return true, nil
}

// List returns every record of the type ordered by id.
func (s *Store) List(ctx context.Context, resourceType string) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Record, 0)
	for k, e := range s.records {
		if k.Type == resourceType {
			out = append(out, e.record(k))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.ID < out[j].Key.ID })
	return out, nil
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close implements domain.RecordStore.
func (s *Store) Close() error { return nil }

func (e entry) record(key domain.Key) domain.Record {
	return domain.Record{
		Key:         key,
		VersionID:   strconv.Itoa(e.version),
		LastUpdated: e.lastUpdated,
		Body:        append([]byte(nil), e.body...),
	}
}
