package fs

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fhirdoc/internal/blob/core"
)

func TestStorePutGetListDelete(t *testing.T) {
	ctx := context.Background()
	store, err := New(filepath.Join(t.TempDir(), "docs"))
	require.NoError(t, err)
	assert.Equal(t, core.DriverFilesystem, store.Driver())

	info, err := store.Put(ctx, "Bundle/b1.json", bytes.NewBufferString("payload"), core.PutOptions{ContentType: "application/fhir+json", Metadata: map[string]string{"root": "Composition/c1"}})
	require.NoError(t, err)
	assert.EqualValues(t, 7, info.Size)
	assert.Len(t, info.ETag, 64)

	_, err = store.Put(ctx, "Bundle/b1.json", bytes.NewBufferString("again"), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists)

	head, err := store.Head(ctx, "Bundle/b1.json")
	require.NoError(t, err)
	assert.Equal(t, "application/fhir+json", head.ContentType)
	assert.Equal(t, "Composition/c1", head.Metadata["root"])

	_, rc, err := store.Get(ctx, "Bundle/b1.json")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))

	_, err = store.Put(ctx, "Other/x.json", bytes.NewBufferString("x"), core.PutOptions{})
	require.NoError(t, err)
	list, err := store.List(ctx, "Bundle/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Bundle/b1.json", list[0].Key)

	existed, err := store.Delete(ctx, "Bundle/b1.json")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = store.Delete(ctx, "Bundle/b1.json")
	require.NoError(t, err)
	assert.False(t, existed)

	_, _, err = store.Get(ctx, "Bundle/b1.json")
	assert.ErrorIs(t, err, core.ErrNotExist)
}

func TestStoreRejectsEscapingKeys(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "/abs", "../up", "a/../../b", "x.meta"} {
		_, err := store.Put(context.Background(), key, bytes.NewBufferString("x"), core.PutOptions{})
		assert.Error(t, err, key)
	}
}
