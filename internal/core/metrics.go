package core

import (
	"errors"
	"time"

	"fhirdoc/internal/hook"
)

// Assembly outcomes reported to MetricsRecorder.
const (
	OutcomeSuccess        = "success"
	OutcomeRootNotFound   = "root_not_found"
	OutcomeObserverFailed = "observer_failure"
	OutcomeStoreFailed    = "store_failure"
	OutcomeTooLarge       = "too_large"
	OutcomeCanceled       = "canceled"
)

// MetricsRecorder receives assembly measurements.
type MetricsRecorder interface {
	ObserveAssembly(outcome string, duration time.Duration, records int)
	ObserveCandidate(resourceType string, decision hook.Decision)
	ObserveDangling(resourceType string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveAssembly(string, time.Duration, int) {}
func (noopMetrics) ObserveCandidate(string, hook.Decision)     {}
func (noopMetrics) ObserveDangling(string)                     {}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrRootNotFound):
		return OutcomeRootNotFound
	case errors.Is(err, ErrObserverFailure):
		return OutcomeObserverFailed
	case errors.Is(err, ErrDocumentTooLarge):
		return OutcomeTooLarge
	case errors.Is(err, ErrStoreFailure):
		return OutcomeStoreFailed
	default:
		return OutcomeCanceled
	}
}
