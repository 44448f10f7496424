// Package common defines sentinel errors and typed error carriers shared by
// the promptseal pipeline. Callers should use errors.Is / errors.As to match
// these values.
package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Generic errors.
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")

	// Form validation.
	ErrValidation = errors.New("validation error")

	// Blob store errors.
	ErrEmptyBlob       = errors.New("blob is empty")
	ErrStorageWrite    = errors.New("storage write failed")
	ErrStorageNotFound = errors.New("blob not found")
	ErrStorageResponse = errors.New("unexpected storage response")

	// Encryption errors.
	ErrKeyServerUnavailable = errors.New("no key servers available")
	ErrInvalidThreshold     = errors.New("invalid threshold")
	ErrNotEnoughShares      = errors.New("not enough key shares")

	// Ledger errors.
	ErrMissingCapability = errors.New("missing capability object")
	ErrLedger            = errors.New("ledger error")
)

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

// FieldError describes a single invalid field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return fmt.Sprintf("validation error: %s", strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add records a failed field.
func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// Has reports whether the field was recorded.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// OrNil returns nil when no field failed, so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// StorageError is returned by blob store backends. Kind is one of
// ErrStorageWrite, ErrStorageNotFound or ErrStorageResponse; Cause, when set,
// is the transport or read error behind it.
type StorageError struct {
	Kind       error
	StatusCode int
	BlobID     string
	Body       string
	Cause      error
}

func (e *StorageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.BlobID != "" {
		b.WriteString(": blob ")
		b.WriteString(e.BlobID)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if e.Body != "" {
		b.WriteString("; body: ")
		b.WriteString(e.Body)
	}
	return b.String()
}

func (e *StorageError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
