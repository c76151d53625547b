package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("stale version")
	ErrValidation    = errors.New("validation failed")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)

// ValidationError rejects a request whose input can never succeed unchanged.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IneligibleError marks a catalog item that cannot enter a trade. It counts
// as a validation failure for HTTP mapping purposes.
type IneligibleError struct {
	ProductID string
	Reason    string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("product %s not eligible: %s", e.ProductID, e.Reason)
}

func (e *IneligibleError) Unwrap() error { return ErrValidation }

// ConflictError reports an optimistic-concurrency failure: the write was
// conditioned on Expected but another actor got there first.
type ConflictError struct {
	TradeID  string
	Expected int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("trade %s: stale version %d", e.TradeID, e.Expected)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
