package hook

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fhirdoc/pkg/domain"
)

func candidate(resourceType, id string, pos int) Candidate {
	return Candidate{Record: domain.Record{Key: domain.NewKey(resourceType, id)}, Position: pos}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register("", &Recorder{})
	assert.Error(t, err)
	_, err = reg.Register(ResourceMayBeReturned, nil)
	assert.Error(t, err)
}

func TestNotifyInvokesAllObserversInOrder(t *testing.T) {
	reg := NewRegistry()
	var calls []string
	record := func(name string, d Decision) Observer {
		return Func(func(context.Context, Pointcut, Candidate) (Decision, error) {
			calls = append(calls, name)
			return d, nil
		})
	}
	_, err := reg.Register(ResourceMayBeReturned, record("first", Accept))
	require.NoError(t, err)
	_, err = reg.Register(ResourceMayBeReturned, record("second", Suppress))
	require.NoError(t, err)
	_, err = reg.Register(ResourceMayBeReturned, record("third", Accept))
	require.NoError(t, err)

	d, err := reg.Notify(context.Background(), ResourceMayBeReturned, candidate("Patient", "1", 1))
	require.NoError(t, err)
	assert.Equal(t, Suppress, d)
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestNotifyWithoutObserversAccepts(t *testing.T) {
	d, err := NewRegistry().Notify(context.Background(), ResourceMayBeReturned, candidate("Patient", "1", 0))
	require.NoError(t, err)
	assert.Equal(t, Accept, d)
}

func TestNotifyStopsOnObserverError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	after := &Recorder{}
	_, _ = reg.Register(ResourceMayBeReturned, Func(func(context.Context, Pointcut, Candidate) (Decision, error) {
		return Accept, boom
	}))
	_, _ = reg.Register(ResourceMayBeReturned, after)

	_, err := reg.Notify(context.Background(), ResourceMayBeReturned, candidate("Patient", "1", 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var oe *ObserverError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, 0, oe.Index)
	assert.Empty(t, after.Candidates())
}

func TestUnregisterByToken(t *testing.T) {
	reg := NewRegistry()
	a, b := &Recorder{}, &Recorder{}
	ta, err := reg.Register(ResourceMayBeReturned, a)
	require.NoError(t, err)
	_, err = reg.Register(ResourceMayBeReturned, b)
	require.NoError(t, err)
	assert.True(t, ta.Valid())
	assert.Equal(t, ResourceMayBeReturned, ta.Pointcut())

	assert.True(t, reg.Unregister(ta))
	assert.False(t, reg.Unregister(ta))
	assert.False(t, reg.Unregister(Token{}))
	assert.Equal(t, 1, reg.Len(ResourceMayBeReturned))

	_, err = reg.Notify(context.Background(), ResourceMayBeReturned, candidate("Patient", "1", 0))
	require.NoError(t, err)
	assert.Empty(t, a.Candidates())
	assert.Len(t, b.Candidates(), 1)
}

func TestObserversArePointcutScoped(t *testing.T) {
	reg := NewRegistry()
	rec := &Recorder{}
	_, _ = reg.Register("OTHER", rec)
	_, err := reg.Notify(context.Background(), ResourceMayBeReturned, candidate("Patient", "1", 0))
	require.NoError(t, err)
	assert.Empty(t, rec.Candidates())
}

func TestConcurrentRegistrationAndDispatch(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tok, err := reg.Register(ResourceMayBeReturned, &Recorder{})
			if err == nil {
				reg.Unregister(tok)
			}
		}()
		go func(i int) {
			defer wg.Done()
			_, _ = reg.Notify(context.Background(), ResourceMayBeReturned, candidate("Observation", "o", i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, reg.Len(ResourceMayBeReturned))
}
