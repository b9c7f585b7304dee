package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain layer operations.
var (
	// ErrNotFound indicates that a requested entity was not found
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidationFailed indicates that validation checks have failed
	ErrValidationFailed = errors.New("validation failed")

	// ErrDuplicateURL indicates a canonical_url unique-constraint collision.
	// Expected under concurrent ingest and resolved by upsert (spec §7).
	ErrDuplicateURL = errors.New("duplicate canonical url")

	// ErrAggregatorHost indicates the canonical URL's host is on the
	// aggregator blocklist and must not be persisted as an article.
	ErrAggregatorHost = errors.New("aggregator host blocked")

	// ErrAlreadyClustered indicates an article already belongs to a
	// cluster and cannot be assigned to another (invariant 2).
	ErrAlreadyClustered = errors.New("article already clustered")
)

// ValidationError represents a validation error with detailed field information.
// It implements the error interface and provides context about which field failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a formatted error message for the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}
