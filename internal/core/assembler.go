package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fhirdoc/internal/hook"
	"fhirdoc/internal/refs"
	"fhirdoc/pkg/domain"
)

const tracerName = "fhirdoc/internal/core"

// Assembly is the outcome of one traversal.
type Assembly struct {
	Root domain.Key
	// Records holds the accepted records, root first, in discovery order.
	Records []domain.Record
	// Suppressed lists candidates an observer vetoed, in discovery order.
	Suppressed []domain.Key
	// Dangling lists references whose targets did not resolve.
	Dangling []DanglingReference
	// Offered counts candidates handed to the observer hub.
	Offered int
}

// Keys returns the keys of the accepted records in order.
func (a Assembly) Keys() []domain.Key {
	out := make([]domain.Key, len(a.Records))
	for i, r := range a.Records {
		out[i] = r.Key
	}
	return out
}

// AssemblerOption customises an Assembler.
type AssemblerOption func(*Assembler)

// WithLogger sets the logger.
func WithLogger(log Logger) AssemblerOption {
	return func(a *Assembler) {
		if log != nil {
			a.log = log
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) AssemblerOption {
	return func(a *Assembler) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) AssemblerOption {
	return func(a *Assembler) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithFetchConcurrency bounds the number of parallel fetches per wave. Values
// below 2 fetch one key at a time.
func WithFetchConcurrency(n int) AssemblerOption {
	return func(a *Assembler) {
		if n < 1 {
			n = 1
		}
		a.concurrency = n
	}
}

// WithMaxRecords caps the number of distinct keys a traversal may discover.
// Zero disables the cap.
func WithMaxRecords(n int) AssemblerOption {
	return func(a *Assembler) {
		if n < 0 {
			n = 0
		}
		a.maxRecords = n
	}
}

// Assembler walks the reference graph below a root record.
type Assembler struct {
	store       domain.RecordReader
	extractor   refs.Extractor
	hooks       *hook.Registry
	log         Logger
	metrics     MetricsRecorder
	tracer      trace.Tracer
	concurrency int
	maxRecords  int
}

// NewAssembler constructs an assembler. A nil registry is replaced with an
// empty one.
func NewAssembler(store domain.RecordReader, extractor refs.Extractor, hooks *hook.Registry, opts ...AssemblerOption) *Assembler {
	if hooks == nil {
		hooks = hook.NewRegistry()
	}
	a := &Assembler{
		store:       store,
		extractor:   extractor,
		hooks:       hooks,
		log:         noopLogger{},
		metrics:     noopMetrics{},
		tracer:      otel.Tracer(tracerName),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble resolves the root and every record reachable from it. Only a
// missing root, an observer error, a store error other than not-found or an
// exceeded record cap fail the call; no partial result is returned then.
func (a *Assembler) Assemble(ctx context.Context, root domain.Key) (Assembly, error) {
	ctx, span := a.tracer.Start(ctx, "document.assemble", trace.WithAttributes(
		attribute.String("fhir.root", root.String()),
	))
	defer span.End()

	started := time.Now()
	out, err := a.assemble(ctx, root)
	a.metrics.ObserveAssembly(outcomeOf(err), time.Since(started), len(out.Records))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Assembly{}, err
	}
	span.SetAttributes(
		attribute.Int("fhir.records", len(out.Records)),
		attribute.Int("fhir.dangling", len(out.Dangling)),
		attribute.Int("fhir.suppressed", len(out.Suppressed)),
	)
	return out, nil
}

// pending is a queued reference target.
type pending struct {
	key      domain.Key
	referrer domain.Key
}

type fetched struct {
	record  domain.Record
	missing bool
}

func (a *Assembler) assemble(ctx context.Context, rootKey domain.Key) (Assembly, error) {
	root, err := a.store.Get(ctx, rootKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Assembly{}, &RootNotFoundError{Key: rootKey}
		}
		return Assembly{}, &StoreFailureError{Key: rootKey, Err: err}
	}

	out := Assembly{Root: rootKey}
	visited := map[domain.Key]struct{}{rootKey: {}}
	if err := a.offer(ctx, &out, hook.Candidate{Record: root}); err != nil {
		return Assembly{}, err
	}
	// References are followed even when the root itself was suppressed.
	queue, err := a.references(root)
	if err != nil {
		return Assembly{}, err
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return Assembly{}, err
		}
		var wave []pending
		wave, queue = a.claim(queue, visited)
		if a.maxRecords > 0 && len(visited) > a.maxRecords {
			return Assembly{}, fmt.Errorf("%w: more than %d records below %s", ErrDocumentTooLarge, a.maxRecords, rootKey)
		}
		if len(wave) == 0 {
			continue
		}
		results, err := a.fetchWave(ctx, wave)
		if err != nil {
			return Assembly{}, err
		}
		for i, p := range wave {
			if results[i].missing {
				a.log.Warn("dangling reference omitted from document", "root", rootKey.String(), "from", p.referrer.String(), "target", p.key.String())
				a.metrics.ObserveDangling(p.key.Type)
				out.Dangling = append(out.Dangling, DanglingReference{From: p.referrer, Target: p.key})
				continue
			}
			rec := results[i].record
			if err := a.offer(ctx, &out, hook.Candidate{Record: rec, Position: out.Offered, Referrer: p.referrer}); err != nil {
				return Assembly{}, err
			}
			next, err := a.references(rec)
			if err != nil {
				return Assembly{}, err
			}
			queue = append(queue, next...)
		}
	}
	return out, nil
}

// claim pops queued targets until a full wave of unvisited keys is collected,
// marking each one visited before it is fetched. Keys already visited are
// discarded, which both deduplicates and breaks cycles.
func (a *Assembler) claim(queue []pending, visited map[domain.Key]struct{}) ([]pending, []pending) {
	wave := make([]pending, 0, a.concurrency)
	for len(queue) > 0 && len(wave) < a.concurrency {
		p := queue[0]
		queue = queue[1:]
		if _, seen := visited[p.key]; seen {
			continue
		}
		visited[p.key] = struct{}{}
		wave = append(wave, p)
	}
	return wave, queue
}

func (a *Assembler) fetchWave(ctx context.Context, wave []pending) ([]fetched, error) {
	results := make([]fetched, len(wave))
	if len(wave) == 1 {
		r, err := a.fetch(ctx, wave[0].key)
		results[0] = r
		return results, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, p := range wave {
		g.Go(func() error {
			r, err := a.fetch(gctx, p.key)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Assembler) fetch(ctx context.Context, key domain.Key) (fetched, error) {
	ctx, span := a.tracer.Start(ctx, "document.fetch", trace.WithAttributes(attribute.String("fhir.key", key.String())))
	defer span.End()
	rec, err := a.store.Get(ctx, key)
	switch {
	case err == nil:
		return fetched{record: rec}, nil
	case errors.Is(err, domain.ErrNotFound):
		span.SetAttributes(attribute.Bool("fhir.missing", true))
		return fetched{missing: true}, nil
	default:
		span.RecordError(err)
		return fetched{}, &StoreFailureError{Key: key, Err: err}
	}
}

func (a *Assembler) offer(ctx context.Context, out *Assembly, c hook.Candidate) error {
	decision, err := a.hooks.Notify(ctx, hook.ResourceMayBeReturned, c)
	out.Offered++
	if err != nil {
		return &ObserverFailureError{Key: c.Record.Key, Err: err}
	}
	a.metrics.ObserveCandidate(c.Record.Key.Type, decision)
	if decision == hook.Suppress {
		a.log.Debug("candidate suppressed", "resource", c.Record.Key.String(), "position", c.Position)
		out.Suppressed = append(out.Suppressed, c.Record.Key)
		return nil
	}
	out.Records = append(out.Records, c.Record)
	return nil
}

func (a *Assembler) references(rec domain.Record) ([]pending, error) {
	keys, err := a.extractor.Extract(rec)
	if err != nil {
		return nil, &StoreFailureError{Key: rec.Key, Err: err}
	}
	out := make([]pending, len(keys))
	for i, k := range keys {
		out[i] = pending{key: k, referrer: rec.Key}
	}
	return out, nil
}
