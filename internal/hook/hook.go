// Package hook implements the observer hub consulted while a document is
// assembled. Observers subscribe to a pointcut on a Registry and are invoked
// synchronously, in registration order, once per candidate record.
package hook

import (
	"context"
	"fmt"

	"fhirdoc/pkg/domain"
)

// Pointcut names an extension point observers can subscribe to.
type Pointcut string

// ResourceMayBeReturned fires once for every distinct record that is about to be
// placed into a response.
const ResourceMayBeReturned Pointcut = "RESOURCE_MAY_BE_RETURNED"

// Decision is an observer's verdict on a candidate.
type Decision int

const (
	// Accept keeps the candidate in the response.
	Accept Decision = iota
	// Suppress drops the candidate from the response. Its references are still followed.
	Suppress
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Suppress:
		return "suppress"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Candidate is a record offered to observers before it is returned.
type Candidate struct {
	Record domain.Record
	// Position is the discovery index within the assembly; the root is 0.
	Position int
	// Referrer is the record whose reference led to this candidate. Zero for the root.
	Referrer domain.Key
}

// Root reports whether the candidate is the record the assembly started from.
func (c Candidate) Root() bool {
	return c.Position == 0
}

// Observer receives candidates for the pointcuts it is registered on.
type Observer interface {
	Notify(ctx context.Context, pointcut Pointcut, candidate Candidate) (Decision, error)
}

// Func adapts a plain function to the Observer interface.
type Func func(ctx context.Context, pointcut Pointcut, candidate Candidate) (Decision, error)

// Notify implements Observer.
func (f Func) Notify(ctx context.Context, pointcut Pointcut, candidate Candidate) (Decision, error) {
	return f(ctx, pointcut, candidate)
}
