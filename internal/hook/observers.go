package hook

import (
	"context"
	"sync"

	"fhirdoc/internal/platform/logger"
	"fhirdoc/pkg/domain"
)

// TypeFilter suppresses candidates whose resource type is in the set.
type TypeFilter struct {
	types map[string]struct{}
}

// NewTypeFilter builds a filter for the resource types.
func NewTypeFilter(types ...string) *TypeFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return &TypeFilter{types: set}
}

// Notify implements Observer.
func (f *TypeFilter) Notify(_ context.Context, _ Pointcut, c Candidate) (Decision, error) {
	if _, ok := f.types[c.Record.Key.Type]; ok {
		return Suppress, nil
	}
	return Accept, nil
}

// Recorder keeps every candidate it sees. It never suppresses.
type Recorder struct {
	mu   sync.Mutex
	seen []Candidate
}

// Notify implements Observer.
func (r *Recorder) Notify(_ context.Context, _ Pointcut, c Candidate) (Decision, error) {
	r.mu.Lock()
	r.seen = append(r.seen, c)
	r.mu.Unlock()
	return Accept, nil
}

// Candidates returns the recorded candidates in arrival order.
func (r *Recorder) Candidates() []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Candidate, len(r.seen))
	copy(out, r.seen)
	return out
}

// Keys returns the keys of the recorded candidates in arrival order.
func (r *Recorder) Keys() []domain.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Key, len(r.seen))
	for i, c := range r.seen {
		out[i] = c.Record.Key
	}
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.seen = nil
	r.mu.Unlock()
}

// AuditLog writes one debug line per candidate.
type AuditLog struct {
	log *logger.Logger
}

// NewAuditLog constructs an audit observer writing to log.
func NewAuditLog(log *logger.Logger) *AuditLog {
	return &AuditLog{log: log.With("observer", "audit")}
}

// Notify implements Observer.
func (a *AuditLog) Notify(_ context.Context, p Pointcut, c Candidate) (Decision, error) {
	fields := []interface{}{"pointcut", string(p), "resource", c.Record.Key.String(), "position", c.Position}
	if !c.Referrer.IsZero() {
		fields = append(fields, "referrer", c.Referrer.String())
	}
	a.log.Debug("resource may be returned", fields...)
	return Accept, nil
}
