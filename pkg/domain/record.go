// Package domain defines the record model shared by the assembler, the record
// stores and the transport adapters. Records are opaque FHIR resources keyed by
// resource type and logical id.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Resource types with special meaning to document assembly.
const (
	TypeComposition = "Composition"
	TypeList        = "List"
	TypeBundle      = "Bundle"
)

// Key identifies a record independent of its version or content.
type Key struct {
	Type string `json:"resourceType"`
	ID   string `json:"id"`
}

// NewKey constructs a key from a resource type and logical id.
func NewKey(resourceType, id string) Key {
	return Key{Type: resourceType, ID: id}
}

// String renders the key in relative reference form (Type/id).
func (k Key) String() string {
	return k.Type + "/" + k.ID
}

// IsZero reports whether either half of the key is missing.
func (k Key) IsZero() bool {
	return k.Type == "" || k.ID == ""
}

// Validate checks the key has a well-formed type and id.
func (k Key) Validate() error {
	if !validType(k.Type) {
		return fmt.Errorf("invalid resource type %q", k.Type)
	}
	if !validID(k.ID) {
		return fmt.Errorf("invalid resource id %q", k.ID)
	}
	return nil
}

// Record is a stored resource. Body holds the full JSON resource including its
// resourceType and id members.
type Record struct {
	Key         Key
	VersionID   string
	LastUpdated time.Time
	Body        json.RawMessage
}

// ParseRecord decodes a JSON resource and derives its key from the resourceType
// and id members. A missing id is allowed so callers can assign one.
func ParseRecord(body []byte) (Record, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return Record{}, fmt.Errorf("decode resource: %w", err)
	}
	if !validType(head.ResourceType) {
		return Record{}, fmt.Errorf("resource is missing a valid resourceType")
	}
	raw := make(json.RawMessage, len(body))
	copy(raw, body)
	return Record{Key: Key{Type: head.ResourceType, ID: head.ID}, Body: raw}, nil
}

// WithID returns a copy of the record whose key and body carry the supplied id.
func (r Record) WithID(id string) (Record, error) {
	return r.withMember("id", id, func(out *Record) { out.Key.ID = id })
}

// WithMeta returns a copy whose body meta.versionId/meta.lastUpdated mirror the
// record fields.
func (r Record) WithMeta() (Record, error) {
	var doc map[string]any
	if err := json.Unmarshal(r.Body, &doc); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", r.Key, err)
	}
	meta, _ := doc["meta"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	if r.VersionID != "" {
		meta["versionId"] = r.VersionID
	}
	if !r.LastUpdated.IsZero() {
		meta["lastUpdated"] = r.LastUpdated.UTC().Format(time.RFC3339Nano)
	}
	doc["meta"] = meta
	body, err := json.Marshal(doc)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", r.Key, err)
	}
	out := r
	out.Body = body
	return out, nil
}

func (r Record) withMember(name string, value any, apply func(*Record)) (Record, error) {
	var doc map[string]any
	if err := json.Unmarshal(r.Body, &doc); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", r.Key, err)
	}
	doc[name] = value
	body, err := json.Marshal(doc)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", r.Key, err)
	}
	out := r
	out.Body = body
	apply(&out)
	return out, nil
}

func validType(t string) bool {
	if t == "" {
		return false
	}
	if t[0] < 'A' || t[0] > 'Z' {
		return false
	}
	for _, c := range t {
		if !isAlpha(c) {
			return false
		}
	}
	return true
}

func validID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	return strings.IndexFunc(id, func(c rune) bool {
		return !isAlpha(c) && !(c >= '0' && c <= '9') && c != '-' && c != '.'
	}) < 0
}

func isAlpha(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
