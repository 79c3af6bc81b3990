package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the referenced asset does not exist.
	ErrNotFound = errors.New("asset not found")
	// ErrMalformedHistory marks a stored workflow log that could not be decoded.
	ErrMalformedHistory = errors.New("malformed workflow history")
	// ErrStorageUnavailable classifies backing store failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError carries the client-facing reason a decision was refused.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// MalformedHistoryError wraps the decode failure of a stored history blob.
type MalformedHistoryError struct {
	Err error
}

func (e *MalformedHistoryError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedHistory, e.Err)
}

func (e *MalformedHistoryError) Unwrap() error { return e.Err }

func (e *MalformedHistoryError) Is(target error) bool { return target == ErrMalformedHistory }

// StorageError wraps a driver failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// AuditWriteError reports an audit append that failed after the transition committed.
type AuditWriteError struct {
	AssetID string
	Err     error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write for asset %s: %v", e.AssetID, e.Err)
}

func (e *AuditWriteError) Unwrap() error { return e.Err }
