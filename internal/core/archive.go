package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"fhirdoc/internal/blob"
	"fhirdoc/pkg/domain"
)

// DocumentArchive stores generated document bundles in a blob store under
// Bundle/<id>.json.
type DocumentArchive struct {
	store blob.Store
}

// NewDocumentArchive wraps a blob store.
func NewDocumentArchive(store blob.Store) *DocumentArchive {
	return &DocumentArchive{store: store}
}

func archiveKey(id string) string {
	return domain.TypeBundle + "/" + id + ".json"
}

// Save writes the bundle generated for root. Bundle ids are fresh UUIDs so a
// collision surfaces as blob.ErrExists.
func (a *DocumentArchive) Save(ctx context.Context, root domain.Key, b domain.Bundle) (blob.Info, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode bundle %s: %w", b.ID, err)
	}
	info, err := a.store.Put(ctx, archiveKey(b.ID), bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/fhir+json",
		Metadata: map[string]string{
			"bundle-type": b.Type,
			"root":        root.String(),
		},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("archive bundle %s: %w", b.ID, err)
	}
	return info, nil
}

// Load reads a stored bundle. Unknown ids yield a domain.NotFoundError.
func (a *DocumentArchive) Load(ctx context.Context, id string) (domain.Bundle, error) {
	_, rc, err := a.store.Get(ctx, archiveKey(id))
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) {
			return domain.Bundle{}, domain.NotFoundError{Key: domain.NewKey(domain.TypeBundle, id)}
		}
		return domain.Bundle{}, err
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return domain.Bundle{}, fmt.Errorf("read bundle %s: %w", id, err)
	}
	var b domain.Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return domain.Bundle{}, fmt.Errorf("decode bundle %s: %w", id, err)
	}
	return b, nil
}
