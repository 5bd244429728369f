package core

import (
	"context"
	"fmt"
	"time"

	"fhirdoc/internal/infra/cache/redis"
	"fhirdoc/internal/infra/persistence/memory"
	"fhirdoc/internal/infra/persistence/postgres"
	"fhirdoc/internal/infra/persistence/sqlite"
	"fhirdoc/internal/platform/logger"
	"fhirdoc/pkg/domain"
)

// StorageDriver identifies a concrete record store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and configures the record store.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
	// RedisAddr enables the read-through cache when set.
	RedisAddr       string
	CacheTTL        time.Duration
	CacheWriteGuard time.Duration
}

// OpenRecordStore builds the configured store, wrapped in the redis cache when
// one is configured.
func OpenRecordStore(ctx context.Context, cfg StorageConfig, log *logger.Logger) (domain.RecordStore, error) {
	var (
		store domain.RecordStore
		err   error
	)
	switch cfg.Driver {
	case StorageMemory, "":
		store = memory.NewStore()
	case StorageSQLite:
		store, err = sqlite.NewStore(cfg.SQLitePath)
	case StoragePostgres:
		store, err = postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RedisAddr == "" {
		return store, nil
	}
	cached, err := redis.Dial(ctx, cfg.RedisAddr, store, redis.Options{TTL: cfg.CacheTTL, WriteGuard: cfg.CacheWriteGuard}, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return cached, nil
}
