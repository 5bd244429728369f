package hook

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Token identifies one registration and is required to remove it.
type Token struct {
	id       uint64
	pointcut Pointcut
}

// Pointcut returns the pointcut the registration belongs to.
func (t Token) Pointcut() Pointcut { return t.pointcut }

// Valid reports whether the token came from a successful Register call.
func (t Token) Valid() bool { return t.id != 0 }

type subscription struct {
	id       uint64
	observer Observer
}

// Registry holds observer subscriptions. It is safe for concurrent
// registration and dispatch; each dispatch works on a snapshot taken when the
// candidate is offered.
type Registry struct {
	mu   sync.RWMutex
	seq  uint64
	subs map[Pointcut][]subscription
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[Pointcut][]subscription)}
}

// Register subscribes the observer to the pointcut.
func (r *Registry) Register(pointcut Pointcut, observer Observer) (Token, error) {
	if pointcut == "" {
		return Token{}, errors.New("pointcut cannot be empty")
	}
	if observer == nil {
		return Token{}, errors.New("observer cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.subs[pointcut] = append(r.subs[pointcut], subscription{id: r.seq, observer: observer})
	return Token{id: r.seq, pointcut: pointcut}, nil
}

// Unregister removes the registration behind the token. It reports false when
// the token is unknown or was already removed.
func (r *Registry) Unregister(token Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.subs[token.pointcut]
	for i, sub := range subs {
		if sub.id != token.id {
			continue
		}
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, token.pointcut)
		} else {
			r.subs[token.pointcut] = next
		}
		return true
	}
	return false
}

// Observers returns the observers subscribed to the pointcut in registration order.
func (r *Registry) Observers(pointcut Pointcut) []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.subs[pointcut]
	out := make([]Observer, len(subs))
	for i, sub := range subs {
		out[i] = sub.observer
	}
	return out
}

// Len returns the number of observers subscribed to the pointcut.
func (r *Registry) Len(pointcut Pointcut) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[pointcut])
}

// Notify offers the candidate to every observer of the pointcut. All observers
// are invoked even after one suppresses; the net decision is Suppress when any
// observer suppressed. The first observer error stops dispatch.
func (r *Registry) Notify(ctx context.Context, pointcut Pointcut, candidate Candidate) (Decision, error) {
	decision := Accept
	for i, observer := range r.Observers(pointcut) {
		d, err := observer.Notify(ctx, pointcut, candidate)
		if err != nil {
			return Accept, &ObserverError{Pointcut: pointcut, Index: i, Err: err}
		}
		if d == Suppress {
			decision = Suppress
		}
	}
	return decision, nil
}

// ObserverError reports the observer that failed during dispatch.
type ObserverError struct {
	Pointcut Pointcut
	Index    int
	Err      error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer %d on %s: %v", e.Index, e.Pointcut, e.Err)
}

func (e *ObserverError) Unwrap() error { return e.Err }
