package models

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when a caller touches a document or
	// query record owned by someone else. Owner mismatch is a permission
	// failure, never a lookup failure.
	ErrPermissionDenied = errors.New("permission denied")

	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessing rejects a second ingestion of a document whose
	// current run has not reached a terminal status.
	ErrAlreadyProcessing = errors.New("document is already being processed")

	// ErrIngestQueueFull is returned when the ingestion queue is saturated.
	// The upload is not scheduled; the caller may retry.
	ErrIngestQueueFull = errors.New("ingestion queue is full")
)

// ValidationError reports bad input rejected synchronously before any
// task is scheduled.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ProcessingError captures an asynchronous ingestion failure. The message
// is what gets persisted on the FAILED document.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
