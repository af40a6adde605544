package entitlements

import (
	"errors"
	"fmt"
)

var (
	// ErrPollExhausted labels the terminal state reached when every attempt ran without
	// confirmation. It is reported to auditors and logs, never returned from operations.
	ErrPollExhausted = errors.New("entitlement poll exhausted")
	// ErrStaleTimer labels a timer that fired after its course was cancelled or settled.
	ErrStaleTimer = errors.New("stale timer fire")
)

// PersistenceReadError wraps a failed or malformed read of a persisted intent.
type PersistenceReadError struct {
	CourseID string
	Err      error
}

func (e *PersistenceReadError) Error() string {
	return fmt.Sprintf("read intent %q: %v", e.CourseID, e.Err)
}

func (e *PersistenceReadError) Unwrap() error { return e.Err }

// PersistenceWriteError wraps a failed write of an intent (e.g., quota or connectivity).
type PersistenceWriteError struct {
	CourseID string
	Op       string
	Err      error
}

func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("%s intent %q: %v", e.Op, e.CourseID, e.Err)
}

func (e *PersistenceWriteError) Unwrap() error { return e.Err }
