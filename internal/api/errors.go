package api

import (
	"errors"
	"fmt"
)

// Error taxonomy for the pipeline. Only ConfigurationError crosses the
// subsystem boundary as a hard failure at startup; every per-request failure
// degrades to a "no result" outcome plus a log line.

// ErrNoData indicates no contributor responses were available for a subject.
var ErrNoData = errors.New("no model responses available")

// ErrTimeout indicates the calculation deadline elapsed before completion.
var ErrTimeout = errors.New("calculation deadline exceeded")

// NoDataError wraps ErrNoData with the subject it applies to.
func NoDataError(subjectID string) error {
	return fmt.Errorf("subject %s: %w", subjectID, ErrNoData)
}

// PersistenceError marks a failed transactional write. The in-memory result is
// still valid; durability is best effort.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigurationError is fatal at construction time and prevents the subsystem
// from initializing. The surrounding application keeps running with the
// subsystem reporting disabled/unhealthy.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
