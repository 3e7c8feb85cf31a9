package fleet

import (
	"errors"
	"fmt"
)

// Sentinel errors for the query and ingest boundaries. Callers match with
// errors.Is; ValidationError and DependencyError carry detail and match
// their sentinel through Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrStopNotFound    = errors.New("stop not found")
	ErrVehicleNotFound = errors.New("vehicle not found")
	ErrTripNotFound    = errors.New("trip not found")
	ErrInvalidLimit    = errors.New("limit must be positive")
	ErrStale           = errors.New("position is stale")
)

// ValidationError reports a malformed input, naming the offending field.
// Never persisted.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// DependencyError wraps a failure of the persistence or messaging
// collaborator. Not retried internally beyond the single attempt; the
// caller's policy decides.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }
