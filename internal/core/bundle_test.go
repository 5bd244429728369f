package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fhirdoc/pkg/domain"
)

func TestBuildDocumentBundleRelativeURLs(t *testing.T) {
	root := domain.NewKey("Composition", "c1")
	a := Assembly{
		Root: root,
		Records: []domain.Record{
			{Key: root, VersionID: "3", Body: []byte(`{"resourceType":"Composition","id":"c1"}`)},
		},
	}
	b, err := BuildDocumentBundle(a, "", fixedNow)
	require.NoError(t, err)
	self, ok := b.FindLink("self")
	require.True(t, ok)
	assert.Equal(t, "Composition/c1/$document", self.URL)
	assert.Equal(t, "Composition/c1", b.Entry[0].FullURL)
	assert.JSONEq(t, `{"resourceType":"Composition","id":"c1","meta":{"versionId":"3"}}`, string(b.Entry[0].Resource))
	assert.Len(t, b.Link, 1)
}

func TestBuildDocumentBundleUniqueIDs(t *testing.T) {
	a := Assembly{Root: domain.NewKey("Composition", "c1")}
	first, err := BuildDocumentBundle(a, "", fixedNow)
	require.NoError(t, err)
	second, err := BuildDocumentBundle(a, "", fixedNow)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, first.Entry)
}

func TestBuildDocumentBundleRejectsCorruptBody(t *testing.T) {
	root := domain.NewKey("Composition", "c1")
	_, err := BuildDocumentBundle(Assembly{Root: root, Records: []domain.Record{{Key: root, Body: []byte("{")}}}, "", fixedNow)
	assert.Error(t, err)
}
