package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fhirdoc/internal/fixtures"
	"fhirdoc/internal/hook"
	"fhirdoc/internal/infra/persistence/memory"
	"fhirdoc/internal/refs"
	"fhirdoc/pkg/domain"
)

// countingStore wraps the memory store, counting fetches per key and failing
// keys listed in fail.
type countingStore struct {
	*memory.Store
	mu    sync.Mutex
	gets  map[domain.Key]int
	fail  map[domain.Key]error
	delay time.Duration
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.NewStore(), gets: map[domain.Key]int{}, fail: map[domain.Key]error{}}
}

func (s *countingStore) Get(ctx context.Context, key domain.Key) (domain.Record, error) {
	s.mu.Lock()
	s.gets[key]++
	err := s.fail[key]
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err != nil {
		return domain.Record{}, err
	}
	return s.Store.Get(ctx, key)
}

func put(t *testing.T, store domain.RecordStore, typ, id string, fields map[string]any) domain.Key {
	t.Helper()
	if fields == nil {
		fields = map[string]any{}
	}
	fields["resourceType"] = typ
	fields["id"] = id
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	key := domain.NewKey(typ, id)
	_, err = store.Put(context.Background(), domain.Record{Key: key, Body: body})
	require.NoError(t, err)
	return key
}

func ref(k domain.Key) map[string]any { return map[string]any{"reference": k.String()} }

func section(keys ...domain.Key) map[string]any {
	entries := make([]any, len(keys))
	for i, k := range keys {
		entries[i] = ref(k)
	}
	return map[string]any{"entry": entries}
}

func newTestAssembler(t *testing.T, store domain.RecordReader, hooks *hook.Registry, opts ...AssemblerOption) *Assembler {
	t.Helper()
	ex, err := refs.New(refs.ModeDocument)
	require.NoError(t, err)
	return NewAssembler(store, ex, hooks, opts...)
}

func loadScenario(t *testing.T) (*countingStore, fixtures.Scenario) {
	t.Helper()
	store := newCountingStore()
	s := fixtures.DocumentScenario()
	require.NoError(t, s.Load(context.Background(), store))
	return store, s
}

func TestAssembleDocumentScenario(t *testing.T) {
	store, scenario := loadScenario(t)
	hooks := hook.NewRegistry()
	rec := &hook.Recorder{}
	_, err := hooks.Register(hook.ResourceMayBeReturned, rec)
	require.NoError(t, err)

	out, err := newTestAssembler(t, store, hooks).Assemble(context.Background(), scenario.Composition)
	require.NoError(t, err)

	assert.Equal(t, scenario.Keys(), out.Keys())
	assert.Equal(t, 10, out.Offered)
	assert.Empty(t, out.Dangling)
	assert.Empty(t, out.Suppressed)

	seen := rec.Keys()
	require.Len(t, seen, 10)
	assert.Contains(t, seen, scenario.Composition)
	assert.Contains(t, seen, scenario.Organization)
	for key, n := range store.gets {
		assert.Equal(t, 1, n, "fetch count for %s", key)
	}
	assert.True(t, rec.Candidates()[0].Root())
}

func TestAssembleRootNotFound(t *testing.T) {
	store := newCountingStore()
	_, err := newTestAssembler(t, store, nil).Assemble(context.Background(), domain.NewKey("Composition", "missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRootNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	var rnf *RootNotFoundError
	require.ErrorAs(t, err, &rnf)
	assert.Equal(t, "missing", rnf.Key.ID)
}

func TestAssembleDeduplicatesSharedTargets(t *testing.T) {
	store := newCountingStore()
	pat := put(t, store, "Patient", "p", nil)
	list := put(t, store, "List", "l", map[string]any{"subject": ref(pat), "entry": []any{map[string]any{"item": ref(pat)}}})
	root := put(t, store, "Composition", "c", map[string]any{
		"subject": ref(pat),
		"section": []any{section(pat, list), section(list)},
	})
	hooks := hook.NewRegistry()
	rec := &hook.Recorder{}
	_, err := hooks.Register(hook.ResourceMayBeReturned, rec)
	require.NoError(t, err)

	out, err := newTestAssembler(t, store, hooks).Assemble(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []domain.Key{root, pat, list}, out.Keys())
	assert.Equal(t, []domain.Key{root, pat, list}, rec.Keys())
	assert.Equal(t, 1, store.gets[pat])
}

func TestAssembleTerminatesOnCycles(t *testing.T) {
	store := newCountingStore()
	root := domain.NewKey("Composition", "c")
	a := put(t, store, "List", "a", map[string]any{"entry": []any{map[string]any{"item": ref(domain.NewKey("List", "b"))}}})
	put(t, store, "List", "b", map[string]any{"entry": []any{
		map[string]any{"item": ref(a)},
		map[string]any{"item": ref(root)},
	}})
	put(t, store, "Composition", "c", map[string]any{"section": []any{section(a)}})

	out, err := newTestAssembler(t, store, nil).Assemble(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []domain.Key{root, a, domain.NewKey("List", "b")}, out.Keys())
	assert.Equal(t, 1, store.gets[root])
}

func TestAssembleFlattensLists(t *testing.T) {
	store := newCountingStore()
	var items []any
	var obs []domain.Key
	for i := 0; i < 7; i++ {
		k := put(t, store, "Observation", fmt.Sprintf("o%d", i), nil)
		obs = append(obs, k)
		items = append(items, map[string]any{"item": ref(k)})
	}
	list := put(t, store, "List", "l", map[string]any{"entry": items})
	root := put(t, store, "Composition", "c", map[string]any{"section": []any{section(list)}})

	out, err := newTestAssembler(t, store, nil).Assemble(context.Background(), root)
	require.NoError(t, err)
	want := append([]domain.Key{root, list}, obs...)
	assert.Equal(t, want, out.Keys())
}

func TestAssembleToleratesDanglingReferences(t *testing.T) {
	store := newCountingStore()
	pat := put(t, store, "Patient", "p", nil)
	ghost := domain.NewKey("Observation", "ghost")
	root := put(t, store, "Composition", "c", map[string]any{"section": []any{section(ghost, pat)}})
	metrics := &recordingMetrics{}

	out, err := newTestAssembler(t, store, nil, WithMetrics(metrics)).Assemble(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []domain.Key{root, pat}, out.Keys())
	require.Len(t, out.Dangling, 1)
	assert.Equal(t, DanglingReference{From: root, Target: ghost}, out.Dangling[0])
	assert.Equal(t, "Composition/c -> Observation/ghost", out.Dangling[0].String())
	assert.Equal(t, []string{"Observation"}, metrics.dangling)
	assert.Equal(t, []string{OutcomeSuccess}, metrics.outcomes)
}

func TestSuppressedRecordsAreStillTraversed(t *testing.T) {
	store := newCountingStore()
	obs := put(t, store, "Observation", "o", nil)
	list := put(t, store, "List", "l", map[string]any{"entry": []any{map[string]any{"item": ref(obs)}}})
	root := put(t, store, "Composition", "c", map[string]any{"section": []any{section(list)}})
	hooks := hook.NewRegistry()
	_, err := hooks.Register(hook.ResourceMayBeReturned, hook.NewTypeFilter("List"))
	require.NoError(t, err)

	out, err := newTestAssembler(t, store, hooks).Assemble(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []domain.Key{root, obs}, out.Keys())
	assert.Equal(t, []domain.Key{list}, out.Suppressed)
	assert.Equal(t, 3, out.Offered)
}

func TestSuppressedRootStillTraversed(t *testing.T) {
	store := newCountingStore()
	pat := put(t, store, "Patient", "p", nil)
	root := put(t, store, "Composition", "c", map[string]any{"subject": ref(pat)})
	hooks := hook.NewRegistry()
	_, err := hooks.Register(hook.ResourceMayBeReturned, hook.NewTypeFilter("Composition"))
	require.NoError(t, err)

	out, err := newTestAssembler(t, store, hooks).Assemble(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []domain.Key{pat}, out.Keys())
	assert.Equal(t, []domain.Key{root}, out.Suppressed)
}

func TestObserverFailureAbortsAssembly(t *testing.T) {
	store, scenario := loadScenario(t)
	boom := errors.New("boom")
	hooks := hook.NewRegistry()
	_, err := hooks.Register(hook.ResourceMayBeReturned, hook.Func(func(_ context.Context, _ hook.Pointcut, c hook.Candidate) (hook.Decision, error) {
		if c.Record.Key.Type == "Encounter" {
			return hook.Accept, boom
		}
		return hook.Accept, nil
	}))
	require.NoError(t, err)
	metrics := &recordingMetrics{}

	out, err := newTestAssembler(t, store, hooks, WithMetrics(metrics)).Assemble(context.Background(), scenario.Composition)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrObserverFailure)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, out.Records)
	assert.Equal(t, []string{OutcomeObserverFailed}, metrics.outcomes)
}

func TestStoreFailureIsFatal(t *testing.T) {
	store, scenario := loadScenario(t)
	store.fail[scenario.Encounter] = errors.New("disk on fire")

	_, err := newTestAssembler(t, store, nil).Assemble(context.Background(), scenario.Composition)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreFailure)
	var sfe *StoreFailureError
	require.ErrorAs(t, err, &sfe)
	assert.Equal(t, scenario.Encounter, sfe.Key)
}

func TestUndecodableRecordIsStoreFailure(t *testing.T) {
	store := newCountingStore()
	list := domain.NewKey("List", "l")
	_, err := store.Put(context.Background(), domain.Record{Key: list, Body: []byte(`{"resourceType":"List","id":"l",`)})
	require.NoError(t, err)
	root := put(t, store, "Composition", "c", map[string]any{"section": []any{section(list)}})

	_, err = newTestAssembler(t, store, nil).Assemble(context.Background(), root)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	var sfe *StoreFailureError
	require.ErrorAs(t, err, &sfe)
	assert.Equal(t, list, sfe.Key)
}

func TestRootStoreFailureIsNotRootNotFound(t *testing.T) {
	store, scenario := loadScenario(t)
	store.fail[scenario.Composition] = errors.New("timeout")
	_, err := newTestAssembler(t, store, nil).Assemble(context.Background(), scenario.Composition)
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.NotErrorIs(t, err, ErrRootNotFound)
}

func TestParallelFetchMatchesSequentialOrder(t *testing.T) {
	store, scenario := loadScenario(t)
	store.delay = time.Millisecond

	seq, err := newTestAssembler(t, store, nil).Assemble(context.Background(), scenario.Composition)
	require.NoError(t, err)
	for _, n := range []int{2, 4, 16} {
		par, err := newTestAssembler(t, store, nil, WithFetchConcurrency(n)).Assemble(context.Background(), scenario.Composition)
		require.NoError(t, err)
		assert.Equal(t, seq.Keys(), par.Keys(), "concurrency %d", n)
	}
}

func TestParallelFetchFetchesEachKeyOnce(t *testing.T) {
	store, scenario := loadScenario(t)
	hooks := hook.NewRegistry()
	rec := &hook.Recorder{}
	_, err := hooks.Register(hook.ResourceMayBeReturned, rec)
	require.NoError(t, err)

	_, err = newTestAssembler(t, store, hooks, WithFetchConcurrency(8)).Assemble(context.Background(), scenario.Composition)
	require.NoError(t, err)
	assert.Len(t, rec.Keys(), 10)
	for key, n := range store.gets {
		assert.Equal(t, 1, n, "fetch count for %s", key)
	}
}

func TestMaxRecordsCap(t *testing.T) {
	store, scenario := loadScenario(t)
	_, err := newTestAssembler(t, store, nil, WithMaxRecords(4)).Assemble(context.Background(), scenario.Composition)
	assert.ErrorIs(t, err, ErrDocumentTooLarge)

	out, err := newTestAssembler(t, store, nil, WithMaxRecords(10)).Assemble(context.Background(), scenario.Composition)
	require.NoError(t, err)
	assert.Len(t, out.Records, 10)
}

func TestAssembleHonoursCancellation(t *testing.T) {
	store, scenario := loadScenario(t)
	ctx, cancel := context.WithCancel(context.Background())
	hooks := hook.NewRegistry()
	_, err := hooks.Register(hook.ResourceMayBeReturned, hook.Func(func(context.Context, hook.Pointcut, hook.Candidate) (hook.Decision, error) {
		cancel()
		return hook.Accept, nil
	}))
	require.NoError(t, err)
	_, err = newTestAssembler(t, store, hooks).Assemble(ctx, scenario.Composition)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestObserversRegisteredMidAssemblyAreSeen(t *testing.T) {
	store, scenario := loadScenario(t)
	hooks := hook.NewRegistry()
	late := &hook.Recorder{}
	var once sync.Once
	_, err := hooks.Register(hook.ResourceMayBeReturned, hook.Func(func(context.Context, hook.Pointcut, hook.Candidate) (hook.Decision, error) {
		once.Do(func() { _, _ = hooks.Register(hook.ResourceMayBeReturned, late) })
		return hook.Accept, nil
	}))
	require.NoError(t, err)

	_, err = newTestAssembler(t, store, hooks).Assemble(context.Background(), scenario.Composition)
	require.NoError(t, err)
	assert.Len(t, late.Keys(), 9)
}

type recordingMetrics struct {
	outcomes  []string
	dangling  []string
	decisions []hook.Decision
}

func (m *recordingMetrics) ObserveAssembly(outcome string, _ time.Duration, _ int) {
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) ObserveCandidate(_ string, d hook.Decision) {
	m.decisions = append(m.decisions, d)
}

func (m *recordingMetrics) ObserveDangling(resourceType string) {
	m.dangling = append(m.dangling, resourceType)
}
