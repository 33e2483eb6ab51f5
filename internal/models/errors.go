package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation.
var (
	ErrInvalidResourceType = errors.New("invalid resource type")
	ErrMissingTitle        = errors.New("title is required")
	ErrEmptyUpdate         = errors.New("update sets no fields")
	ErrUnsupportedField    = errors.New("field not supported by resource type")
	ErrInvalidVersion      = errors.New("version must be positive")
	// ErrValidation is matched by every error ValidateCreate and ValidateUpdate return.
	ErrValidation = errors.New("validation failed")
)

// ValidationError marks a mutation the caller must fix.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

// Unwrap matches both ErrValidation and the underlying cause.
func (e *ValidationError) Unwrap() []error { return []error{ErrValidation, e.Err} }

func invalid(err error) error {
	if err == nil {
		return nil
	}

	return &ValidationError{Err: err}
}

// Sentinel errors for lookups and writes.
var (
	// ErrNotFound covers both missing rows and rows outside the caller's scope.
	ErrNotFound = errors.New("resource not found")
	// ErrVersionConflict is matched by every *VersionConflictError.
	ErrVersionConflict = errors.New("version conflict")
	// ErrSchemaUnsupported means the backing table lacks a column the operation needs.
	ErrSchemaUnsupported = errors.New("table schema does not support operation")
	// ErrInvalidReference means a write named a related record that does not exist.
	ErrInvalidReference = errors.New("referenced record does not exist")
)

// ErrDuplicateKey indicates a unique constraint violation (maps to HTTP 409 Conflict).
var ErrDuplicateKey = errors.New("duplicate key")

// VersionConflictError reports that a versioned write lost a race.
type VersionConflictError struct {
	Resource         ResourceType
	ID               string
	CurrentVersion   int
	AttemptedVersion int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s %s: version conflict: current version %d, attempted %d",
		e.Resource, e.ID, e.CurrentVersion, e.AttemptedVersion)
}

// Unwrap lets errors.Is match ErrVersionConflict.
func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

// ErrFieldTooLong returns an error indicating a field exceeds its maximum length.
func ErrFieldTooLong(field string, maxLen int) error {
	return fmt.Errorf("%s exceeds maximum length of %d", field, maxLen)
}

func unsupportedField(col Column, rt ResourceType) error {
	return fmt.Errorf("%w: %s on %s", ErrUnsupportedField, col, rt)
}
