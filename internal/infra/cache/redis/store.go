// Package redis decorates a record store with a read-through redis cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"fhirdoc/internal/platform/logger"
	"fhirdoc/pkg/domain"
)

var _ domain.RecordStore = (*Store)(nil)

const (
	defaultTTL        = 5 * time.Minute
	defaultWriteGuard = 5 * time.Second
	defaultPrefix     = "fhirdoc:record:"
)

// tombstone marks a key written recently. Fills never replace it, so a read
// that started before the write cannot cache the older record.
const tombstone = "\x00written"

// Client is the subset of the go-redis API the cache needs.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// Options configures the cache.
type Options struct {
	TTL time.Duration
	// WriteGuard is how long a written key stays uncacheable. It bounds how
	// slow a concurrent read may be and still not cache a stale record.
	WriteGuard time.Duration
	Prefix     string
}

// Store serves Get from redis when possible and falls back to the wrapped
// store. Writes go to the wrapped store first, then replace the cached entry
// with a tombstone for WriteGuard; fills only land on absent keys.
// Redis failures never fail a call; they are logged and the wrapped store
// answers instead.
type Store struct {
	next   domain.RecordStore
	client Client
	ttl    time.Duration
	guard  time.Duration
	prefix string
	log    *logger.Logger
	closer func() error
}

type cachedRecord struct {
	Version     string          `json:"v"`
	LastUpdated time.Time       `json:"u"`
	Body        json.RawMessage `json:"b"`
}

// New wraps next with the given client.
func New(next domain.RecordStore, client Client, opts Options, log *logger.Logger) *Store {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.WriteGuard <= 0 {
		opts.WriteGuard = defaultWriteGuard
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		next:   next,
		client: client,
		ttl:    opts.TTL,
		guard:  opts.WriteGuard,
		prefix: opts.Prefix,
		log:    log.With("component", "record_cache"),
	}
}

// Dial connects to addr, pings it and wraps next.
func Dial(ctx context.Context, addr string, next domain.RecordStore, opts Options, log *logger.Logger) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s := New(next, rdb, opts, log)
	s.closer = rdb.Close
	return s, nil
}

func (s *Store) cacheKey(key domain.Key) string {
	return s.prefix + key.String()
}

// Get implements domain.RecordReader.
func (s *Store) Get(ctx context.Context, key domain.Key) (domain.Record, error) {
	raw, err := s.client.Get(ctx, s.cacheKey(key)).Bytes()
	fillable := true
	switch {
	case err == nil && string(raw) == tombstone:
		fillable = false
	case err == nil:
		var c cachedRecord
		if jerr := json.Unmarshal(raw, &c); jerr == nil {
			return domain.Record{Key: key, VersionID: c.Version, LastUpdated: c.LastUpdated, Body: c.Body}, nil
		}
		s.log.Warn("discarding undecodable cache entry", "key", key.String())
		s.evict(ctx, key)
	case !errors.Is(err, goredis.Nil):
		s.log.Warn("redis get failed", "key", key.String(), "error", err)
	}

	rec, err := s.next.Get(ctx, key)
	if err != nil {
		return domain.Record{}, err
	}
	if fillable {
		s.fill(ctx, rec)
	}
	return rec, nil
}

func (s *Store) fill(ctx context.Context, rec domain.Record) {
	payload, err := json.Marshal(cachedRecord{Version: rec.VersionID, LastUpdated: rec.LastUpdated, Body: rec.Body})
	if err != nil {
		return
	}
	if err := s.client.SetNX(ctx, s.cacheKey(rec.Key), payload, s.ttl).Err(); err != nil {
		s.log.Warn("redis set failed", "key", rec.Key.String(), "error", err)
	}
}

// invalidate replaces any cached entry with a tombstone. When redis refuses
// the write the entry is deleted instead.
func (s *Store) invalidate(ctx context.Context, key domain.Key) {
	if err := s.client.Set(ctx, s.cacheKey(key), tombstone, s.guard).Err(); err != nil {
		s.log.Warn("redis tombstone failed", "key", key.String(), "error", err)
		s.evict(ctx, key)
	}
}

func (s *Store) evict(ctx context.Context, key domain.Key) {
	if err := s.client.Del(ctx, s.cacheKey(key)).Err(); err != nil {
		s.log.Warn("redis del failed", "key", key.String(), "error", err)
	}
}

// Put implements domain.RecordStore.
func (s *Store) Put(ctx context.Context, rec domain.Record) (domain.Record, error) {
	out, err := s.next.Put(ctx, rec)
	if err != nil {
		return domain.Record{}, err
	}
	s.invalidate(ctx, rec.Key)
	return out, nil
}

// Delete implements domain.RecordStore.
func (s *Store) Delete(ctx context.Context, key domain.Key) (bool, error) {
	existed, err := s.next.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	s.invalidate(ctx, key)
	return existed, nil
}

// List bypasses the cache.
func (s *Store) List(ctx context.Context, resourceType string) ([]domain.Record, error) {
	return s.next.List(ctx, resourceType)
}

// Close closes the redis connection (when dialled here) and the wrapped store.
func (s *Store) Close() error {
	var errs []error
	if s.closer != nil {
		errs = append(errs, s.closer())
	}
	errs = append(errs, s.next.Close())
	return errors.Join(errs...)
}
