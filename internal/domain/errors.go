package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when an append reuses an existing record ID.
var ErrConflict = errors.New("record already exists")

// ValidationError rejects a single record. Batches continue past it.
type ValidationError struct {
	Field    string `json:"field"`
	Reason   string `json:"reason"`
	RecordID string `json:"recordId,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("validation: %s %s (record %s)", e.Field, e.Reason, e.RecordID)
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// StoreError is a persistence failure. The current pass is aborted and
// nothing from it is committed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ParseError marks a malformed source record or field that was skipped.
type ParseError struct {
	Source string
	Field  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %s.%s: %v", e.Source, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err for op. A nil err stays nil.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStore reports whether err is a StoreError.
func IsStore(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsParse reports whether err is a ParseError.
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
