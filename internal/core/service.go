package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fhirdoc/internal/blob"
	"fhirdoc/pkg/domain"
)

// Service is the application facade used by the HTTP adapter and the CLI. It
// owns the record store, the assembler and the optional document archive.
type Service struct {
	store     domain.RecordStore
	assembler *Assembler
	archive   *DocumentArchive
	log       Logger
	baseURL   string
	now       func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service logger.
func WithServiceLogger(log Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithArchive enables persisting generated documents.
func WithArchive(archive *DocumentArchive) ServiceOption {
	return func(s *Service) { s.archive = archive }
}

// WithBaseURL sets the server base used for fullUrl and self links.
func WithBaseURL(base string) ServiceOption {
	return func(s *Service) { s.baseURL = base }
}

// WithClock overrides the clock used for bundle timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a service over store and assembler.
func NewService(store domain.RecordStore, assembler *Assembler, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		assembler: assembler,
		log:       noopLogger{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseURL returns the configured server base.
func (s *Service) BaseURL() string { return s.baseURL }

// DocumentOptions tunes a single $document call.
type DocumentOptions struct {
	// BaseURL overrides the service base URL for this call.
	BaseURL string
}

// Document is a generated document bundle plus how it was produced.
type Document struct {
	Bundle   domain.Bundle
	Assembly Assembly
	// Stored is set once SaveDocument persisted the bundle.
	Stored *blob.Info
}

// CanArchive reports whether documents can be persisted.
func (s *Service) CanArchive() bool { return s.archive != nil }

// Document assembles the Composition with the given id into a document bundle.
func (s *Service) Document(ctx context.Context, compositionID string, opts DocumentOptions) (Document, error) {
	root := domain.NewKey(domain.TypeComposition, compositionID)
	if err := root.Validate(); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidResource, err)
	}
	assembly, err := s.assembler.Assemble(ctx, root)
	if err != nil {
		s.log.Warn("document assembly failed", "root", root.String(), "error", err)
		return Document{}, err
	}
	base := opts.BaseURL
	if base == "" {
		base = s.baseURL
	}
	bundle, err := BuildDocumentBundle(assembly, base, s.now())
	if err != nil {
		return Document{}, &StoreFailureError{Key: root, Err: err}
	}
	s.log.Info("document assembled",
		"root", root.String(),
		"bundle", bundle.ID,
		"entries", len(bundle.Entry),
		"dangling", len(assembly.Dangling),
		"suppressed", len(assembly.Suppressed),
	)
	return Document{Bundle: bundle, Assembly: assembly}, nil
}

// SaveDocument stores a generated bundle in the archive. Callers encode the
// bundle for their response first so a failed encode leaves nothing behind.
func (s *Service) SaveDocument(ctx context.Context, doc Document) (Document, error) {
	if s.archive == nil {
		return Document{}, ErrArchiveDisabled
	}
	info, err := s.archive.Save(ctx, doc.Assembly.Root, doc.Bundle)
	if err != nil {
		return Document{}, err
	}
	doc.Stored = &info
	s.log.Info("document archived", "root", doc.Assembly.Root.String(), "bundle", doc.Bundle.ID, "key", info.Key)
	return doc, nil
}

// StoredDocument reads a previously persisted document bundle.
func (s *Service) StoredDocument(ctx context.Context, id string) (domain.Bundle, error) {
	if s.archive == nil {
		return domain.Bundle{}, ErrArchiveDisabled
	}
	return s.archive.Load(ctx, id)
}

// Create stores a new resource under a server-assigned id.
func (s *Service) Create(ctx context.Context, resourceType string, body []byte) (domain.Record, error) {
	rec, err := parseFor(resourceType, body)
	if err != nil {
		return domain.Record{}, err
	}
	rec, err = rec.WithID(uuid.NewString())
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", ErrInvalidResource, err)
	}
	return s.store.Put(ctx, rec)
}

// Upsert creates or replaces the resource at key. A body id, when present,
// must match the key.
func (s *Service) Upsert(ctx context.Context, key domain.Key, body []byte) (domain.Record, error) {
	if err := key.Validate(); err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", ErrInvalidResource, err)
	}
	rec, err := parseFor(key.Type, body)
	if err != nil {
		return domain.Record{}, err
	}
	if rec.Key.ID != "" && rec.Key.ID != key.ID {
		return domain.Record{}, fmt.Errorf("%w: body id %q does not match %s", ErrInvalidResource, rec.Key.ID, key)
	}
	if rec.Key.ID == "" {
		if rec, err = rec.WithID(key.ID); err != nil {
			return domain.Record{}, fmt.Errorf("%w: %v", ErrInvalidResource, err)
		}
	}
	return s.store.Put(ctx, rec)
}

// Read returns the current version of the resource.
func (s *Service) Read(ctx context.Context, key domain.Key) (domain.Record, error) {
	return s.store.Get(ctx, key)
}

// Delete removes the resource, reporting whether it existed.
func (s *Service) Delete(ctx context.Context, key domain.Key) (bool, error) {
	return s.store.Delete(ctx, key)
}

// List returns all resources of a type.
func (s *Service) List(ctx context.Context, resourceType string) ([]domain.Record, error) {
	return s.store.List(ctx, resourceType)
}

// ImportBundle stores every entry resource of a collection or transaction
// style bundle. Entries without an id receive a fresh one. References between
// entries are stored as written.
func (s *Service) ImportBundle(ctx context.Context, body []byte) ([]domain.Record, error) {
	var b domain.Bundle
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("%w: decode bundle: %v", ErrInvalidResource, err)
	}
	if b.ResourceType != domain.TypeBundle {
		return nil, fmt.Errorf("%w: expected Bundle, got %q", ErrInvalidResource, b.ResourceType)
	}
	out := make([]domain.Record, 0, len(b.Entry))
	for i, e := range b.Entry {
		rec, err := domain.ParseRecord(e.Resource)
		if err != nil {
			return out, fmt.Errorf("%w: entry %d: %v", ErrInvalidResource, i, err)
		}
		var stored domain.Record
		if rec.Key.ID == "" {
			stored, err = s.Create(ctx, rec.Key.Type, rec.Body)
		} else {
			stored, err = s.Upsert(ctx, rec.Key, rec.Body)
		}
		if err != nil {
			return out, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, stored)
	}
	s.log.Info("bundle imported", "entries", len(out))
	return out, nil
}

func parseFor(resourceType string, body []byte) (domain.Record, error) {
	rec, err := domain.ParseRecord(body)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", ErrInvalidResource, err)
	}
	if rec.Key.Type != resourceType {
		return domain.Record{}, fmt.Errorf("%w: resourceType %q does not match %q", ErrInvalidResource, rec.Key.Type, resourceType)
	}
	return rec, nil
}
