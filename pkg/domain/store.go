package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is matched by every not-found error returned from a RecordStore.
var ErrNotFound = errors.New("record not found")

// NotFoundError reports a key that does not resolve in a store.
type NotFoundError struct {
	Key Key
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Key)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// RecordReader resolves a single record by key. Implementations return an
// error matching ErrNotFound when the key does not resolve.
type RecordReader interface {
	Get(ctx context.Context, key Key) (Record, error)
}

// RecordStore is the persistence contract used by the service layer.
type RecordStore interface {
	RecordReader
	// Put creates or replaces the record, assigning a new version.
	Put(ctx context.Context, record Record) (Record, error)
	// Delete removes the record, reporting whether it existed.
	Delete(ctx context.Context, key Key) (bool, error)
	// List returns every record of the type ordered by id.
	List(ctx context.Context, resourceType string) ([]Record, error)
	Close() error
}
