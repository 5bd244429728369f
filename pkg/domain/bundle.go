package domain

import (
	"encoding/json"
	"time"
)

// Bundle types produced by the server.
const (
	BundleTypeDocument = "document"
)

// Bundle is the FHIR Bundle envelope produced by document assembly.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *BundleMeta   `json:"meta,omitempty"`
	Identifier   *Identifier   `json:"identifier,omitempty"`
	Type         string        `json:"type"`
	Timestamp    string        `json:"timestamp,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleMeta carries the bundle's last update instant.
type BundleMeta struct {
	LastUpdated string `json:"lastUpdated,omitempty"`
}

// Identifier is a FHIR business identifier.
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value"`
}

// BundleLink is a navigation link. Document bundles only ever carry "self".
type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// BundleEntry wraps one resource of the bundle.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

// BundleResponse reports the outcome of one entry of a transaction.
type BundleResponse struct {
	Status   string `json:"status"`
	Location string `json:"location,omitempty"`
}

// FindLink returns the link with the relation, if present.
func (b Bundle) FindLink(relation string) (BundleLink, bool) {
	for _, l := range b.Link {
		if l.Relation == relation {
			return l, true
		}
	}
	return BundleLink{}, false
}

// FormatInstant renders t in the FHIR instant format.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// OperationOutcome is the FHIR error payload.
type OperationOutcome struct {
	ResourceType string         `json:"resourceType"`
	Issue        []OutcomeIssue `json:"issue"`
}

// OutcomeIssue is a single issue in an OperationOutcome.
type OutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// NewOperationOutcome builds a single-issue error outcome.
func NewOperationOutcome(code, diagnostics string) OperationOutcome {
	return OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue:        []OutcomeIssue{{Severity: "error", Code: code, Diagnostics: diagnostics}},
	}
}
