package core

import (
	"errors"
	"fmt"

	"fhirdoc/pkg/domain"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrRootNotFound     = errors.New("root record not found")
	ErrObserverFailure  = errors.New("observer failure")
	ErrStoreFailure     = errors.New("record store failure")
	ErrDocumentTooLarge = errors.New("document exceeds record limit")
	// ErrInvalidResource reports a malformed resource or key supplied by a caller.
	ErrInvalidResource = errors.New("invalid resource")
	// ErrArchiveDisabled is returned when persistence is requested without an archive.
	ErrArchiveDisabled = errors.New("document archive disabled")
)

// RootNotFoundError is returned when the assembly root does not resolve.
type RootNotFoundError struct {
	Key domain.Key
}

func (e *RootNotFoundError) Error() string {
	return fmt.Sprintf("root %s not found", e.Key)
}

func (e *RootNotFoundError) Is(target error) bool {
	return target == ErrRootNotFound || target == domain.ErrNotFound
}

// ObserverFailureError aborts an assembly when an observer fails on a candidate.
type ObserverFailureError struct {
	Key domain.Key
	Err error
}

func (e *ObserverFailureError) Error() string {
	return fmt.Sprintf("observer failed on %s: %v", e.Key, e.Err)
}

func (e *ObserverFailureError) Is(target error) bool { return target == ErrObserverFailure }

func (e *ObserverFailureError) Unwrap() error { return e.Err }

// StoreFailureError reports a store error other than not-found.
type StoreFailureError struct {
	Key domain.Key
	Err error
}

func (e *StoreFailureError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *StoreFailureError) Is(target error) bool { return target == ErrStoreFailure }

func (e *StoreFailureError) Unwrap() error { return e.Err }

// DanglingReference is a reference whose target did not resolve. It is not an
// error for the assembly as a whole; the target is left out.
type DanglingReference struct {
	From   domain.Key
	Target domain.Key
}

func (d DanglingReference) String() string {
	return fmt.Sprintf("%s -> %s", d.From, d.Target)
}
