package core

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"fhirdoc/pkg/domain"
)

// identifierSystem marks bundle identifiers as URIs per RFC 3986.
const identifierSystem = "urn:ietf:rfc:3986"

// BuildDocumentBundle wraps an assembly in a Bundle of type document. baseURL
// is the server base (for example http://host/fhir) used for fullUrl and the
// self link; an empty base yields relative URLs.
func BuildDocumentBundle(a Assembly, baseURL string, now time.Time) (domain.Bundle, error) {
	base := strings.TrimRight(baseURL, "/")
	id := uuid.NewString()
	stamp := domain.FormatInstant(now)
	b := domain.Bundle{
		ResourceType: domain.TypeBundle,
		ID:           id,
		Meta:         &domain.BundleMeta{LastUpdated: stamp},
		Identifier:   &domain.Identifier{System: identifierSystem, Value: "urn:uuid:" + id},
		Type:         domain.BundleTypeDocument,
		Timestamp:    stamp,
		Link: []domain.BundleLink{{
			Relation: "self",
			URL:      resourceURL(base, a.Root) + "/$document",
		}},
		Entry: make([]domain.BundleEntry, 0, len(a.Records)),
	}
	for _, rec := range a.Records {
		withMeta, err := rec.WithMeta()
		if err != nil {
			return domain.Bundle{}, err
		}
		b.Entry = append(b.Entry, domain.BundleEntry{
			FullURL:  resourceURL(base, rec.Key),
			Resource: withMeta.Body,
		})
	}
	return b, nil
}

func resourceURL(base string, key domain.Key) string {
	if base == "" {
		return key.String()
	}
	return base + "/" + key.String()
}
