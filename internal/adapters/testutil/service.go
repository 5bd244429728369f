// Package testutil builds document services preloaded with the sample
// scenario for adapter tests.
package testutil

import (
	"context"
	"time"

	"fhirdoc/internal/core"
	"fhirdoc/internal/fixtures"
	"fhirdoc/internal/hook"
	memblob "fhirdoc/internal/infra/blob/memory"
	"fhirdoc/internal/infra/persistence/memory"
	"fhirdoc/internal/refs"
)

// FixedNow is the clock used by services built here.
var FixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// Options tweaks the service built by NewDocumentService.
type Options struct {
	BaseURL string
	Archive bool
	// Observers are registered for ResourceMayBeReturned before the recorder.
	Observers []hook.Observer
}

// Fixture bundles the service with the pieces tests inspect.
type Fixture struct {
	Service  *core.Service
	Store    *memory.Store
	Hooks    *hook.Registry
	Recorder *hook.Recorder
	Scenario fixtures.Scenario
	// Blobs backs the document archive; nil unless Options.Archive is set.
	Blobs *memblob.Store
}

// NewDocumentService loads the sample document scenario into a memory store
// and wires an assembler whose hub carries a recorder.
func NewDocumentService(opts Options) (Fixture, error) {
	store := memory.NewStore(memory.WithClock(func() time.Time { return FixedNow }))
	scenario := fixtures.DocumentScenario()
	if err := scenario.Load(context.Background(), store); err != nil {
		return Fixture{}, err
	}
	hooks := hook.NewRegistry()
	for _, obs := range opts.Observers {
		if _, err := hooks.Register(hook.ResourceMayBeReturned, obs); err != nil {
			return Fixture{}, err
		}
	}
	recorder := &hook.Recorder{}
	if _, err := hooks.Register(hook.ResourceMayBeReturned, recorder); err != nil {
		return Fixture{}, err
	}
	extractor, err := refs.New(refs.ModeDocument)
	if err != nil {
		return Fixture{}, err
	}
	svcOpts := []core.ServiceOption{
		core.WithClock(func() time.Time { return FixedNow }),
		core.WithBaseURL(opts.BaseURL),
	}
	var blobs *memblob.Store
	if opts.Archive {
		blobs = memblob.New()
		svcOpts = append(svcOpts, core.WithArchive(core.NewDocumentArchive(blobs)))
	}
	svc := core.NewService(store, core.NewAssembler(store, extractor, hooks), svcOpts...)
	return Fixture{Service: svc, Store: store, Hooks: hooks, Recorder: recorder, Scenario: scenario, Blobs: blobs}, nil
}
