package fixtures

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fhirdoc/internal/infra/persistence/memory"
	"fhirdoc/pkg/domain"
)

func TestDocumentScenarioShape(t *testing.T) {
	s := DocumentScenario()
	assert.Len(t, s.Records, 10)
	assert.Len(t, s.Keys(), 10)

	seen := map[domain.Key]bool{}
	for _, rec := range s.Records {
		assert.False(t, seen[rec.Key], "duplicate %s", rec.Key)
		seen[rec.Key] = true
		parsed, err := domain.ParseRecord(rec.Body)
		require.NoError(t, err)
		assert.Equal(t, rec.Key, parsed.Key)
	}
	for _, k := range s.Keys() {
		assert.True(t, seen[k], "missing %s", k)
	}
}

func TestLoadAndCollectionBundle(t *testing.T) {
	s := DocumentScenario()
	store := memory.NewStore()
	require.NoError(t, s.Load(context.Background(), store))
	assert.Equal(t, 10, store.Len())

	raw, err := s.CollectionBundle()
	require.NoError(t, err)
	var b domain.Bundle
	require.NoError(t, json.Unmarshal(raw, &b))
	assert.Equal(t, "collection", b.Type)
	assert.Len(t, b.Entry, 10)
}
