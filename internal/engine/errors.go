package engine

import (
	"errors"
	"fmt"
)

// InvalidTypeError indicates a request type that does not resolve in the code
// registry.
type InvalidTypeError struct {
	Group string
	Code  string
}

func (e InvalidTypeError) Error() string {
	return fmt.Sprintf("code %s not found in registry group %s", e.Code, e.Group)
}

// InvalidTransitionError indicates an operation attempted from a status that
// does not permit it.
type InvalidTransitionError struct {
	RequestID string
	Status    string
	Op        string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s not allowed while request %s is %s", e.Op, e.RequestID, e.Status)
}

// ValidationError indicates a missing or malformed required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ErrConcurrencyConflict is returned when a guarded status write loses a race
// with another writer. It is the only error a caller should retry.
var ErrConcurrencyConflict = errors.New("request modified concurrently; re-read and retry")
