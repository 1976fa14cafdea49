package session

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by session operations.
var (
	ErrResourceNotFound  = errors.New("exam or questions not found")
	ErrInvalidCoordinate = errors.New("coordinate out of range")
	ErrSessionClosed     = errors.New("session is closed for changes")
	ErrSessionPaused     = errors.New("session is paused")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// TransientNetworkError wraps a failed call to a remote collaborator.
// Only manual submissions are retried by the caller.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// DataIntegrityError reports a checkpoint that could not be trusted.
// The loader recovers from it by discarding the checkpoint.
type DataIntegrityError struct {
	Reason string
	Err    error
}

func (e *DataIntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkpoint integrity: %s: %v", e.Reason, e.Err)
	}
	return "checkpoint integrity: " + e.Reason
}

func (e *DataIntegrityError) Unwrap() error { return e.Err }
