package core

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fhirdoc/internal/infra/persistence/memory"
	"fhirdoc/internal/infra/persistence/postgres"
	pgtestutil "fhirdoc/internal/infra/persistence/postgres/testutil"
	"fhirdoc/internal/infra/persistence/sqlite"
	"fhirdoc/internal/platform/logger"
	"fhirdoc/pkg/domain"
)

func TestOpenRecordStoreDrivers(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenRecordStore(ctx, StorageConfig{}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, mem)

	path := filepath.Join(t.TempDir(), "records.db")
	lite, err := OpenRecordStore(ctx, StorageConfig{Driver: StorageSQLite, SQLitePath: path}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })
	require.IsType(t, &sqlite.Store{}, lite)
	assert.Equal(t, path, lite.(*sqlite.Store).Path())

	db, _ := pgtestutil.NewStubDB()
	restore := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	pg, err := OpenRecordStore(ctx, StorageConfig{Driver: StoragePostgres, PostgresDSN: "postgres://stub"}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &postgres.Store{}, pg)
}

func TestOpenRecordStoreUnknownDriver(t *testing.T) {
	_, err := OpenRecordStore(context.Background(), StorageConfig{Driver: "mongo"}, logger.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestOpenRecordStoreUnreachableCache(t *testing.T) {
	_, err := OpenRecordStore(context.Background(), StorageConfig{Driver: StorageMemory, RedisAddr: "127.0.0.1:1"}, logger.Nop())
	assert.Error(t, err)
}

func TestOpenedStoreServesAssembler(t *testing.T) {
	store, err := OpenRecordStore(context.Background(), StorageConfig{Driver: StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pat := put(t, store, "Patient", "p1", nil)
	root := put(t, store, "Composition", "c1", map[string]any{"section": []any{section(pat)}})
	out, err := newTestAssembler(t, store, nil).Assemble(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []domain.Key{root, pat}, out.Keys())
}
