package model

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the caller's role may not perform an operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned for ids unknown to the open map.
	ErrNotFound = errors.New("not found")
	// ErrSessionClosed is returned for map operations while no map is open.
	ErrSessionClosed = errors.New("no map is open")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// LoadError wraps a failed map, device or edge fetch.
type LoadError struct {
	MapID string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load map %s: %v", e.MapID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RemoteError is a store rejection; Message is kept verbatim.
type RemoteError struct {
	Action  string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("store %s failed (%d): %s", e.Action, e.Status, e.Message)
	}
	return fmt.Sprintf("store %s failed: %s", e.Action, e.Message)
}
