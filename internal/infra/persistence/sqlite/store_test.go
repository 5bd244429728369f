package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fhirdoc/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "nested", "fhirdoc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorePutGetVersions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := domain.NewKey("Patient", "p1")

	_, err := store.Get(ctx, key)
	require.ErrorIs(t, err, domain.ErrNotFound)

	first, err := store.Put(ctx, domain.Record{Key: key, Body: []byte(`{"resourceType":"Patient","id":"p1"}`)})
	require.NoError(t, err)
	assert.Equal(t, "1", first.VersionID)

	second, err := store.Put(ctx, domain.Record{Key: key, Body: []byte(`{"resourceType":"Patient","id":"p1","active":true}`)})
	require.NoError(t, err)
	assert.Equal(t, "2", second.VersionID)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "2", got.VersionID)
	assert.Equal(t, key, got.Key)
	assert.JSONEq(t, `{"resourceType":"Patient","id":"p1","active":true}`, string(got.Body))
	assert.False(t, got.LastUpdated.IsZero())
}

func TestStoreListDeleteAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fhirdoc.db")
	store, err := NewStore(path)
	require.NoError(t, err)
	for _, id := range []string{"o2", "o1"} {
		_, err := store.Put(ctx, domain.Record{Key: domain.NewKey("Observation", id), Body: []byte(`{"resourceType":"Observation"}`)})
		require.NoError(t, err)
	}
	existed, err := store.Delete(ctx, domain.NewKey("Observation", "o2"))
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = store.Delete(ctx, domain.NewKey("Observation", "o2"))
	require.NoError(t, err)
	assert.False(t, existed)
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	assert.Equal(t, path, reopened.Path())
	list, err := reopened.List(ctx, "Observation")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "o1", list[0].Key.ID)
	assert.Equal(t, "Observation", list[0].Key.Type)
}

func TestStoreRejectsInvalidKey(t *testing.T) {
	_, err := newTestStore(t).Put(context.Background(), domain.Record{Key: domain.NewKey("", "x")})
	assert.Error(t, err)
}
