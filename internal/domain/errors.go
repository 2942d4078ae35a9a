package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors
var (
	ErrInvalidStatRecord      = errors.New("invalid stat record")
	ErrUnknownPlayer          = errors.New("unknown player")
	ErrPersistenceConflict    = errors.New("persistence conflict")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrPlayerExists           = errors.New("player already exists")
	ErrInvalidPlayer          = errors.New("invalid player")
	ErrInvalidMetric          = errors.New("invalid leaderboard metric")
	ErrInvalidLimit           = errors.New("limit must be positive")
	ErrInvalidDelta           = errors.New("xp delta must not be negative")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInternalError          = errors.New("internal server error")
)

// FieldViolation describes one rejected field of a stat submission.
type FieldViolation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every field that failed validation. It matches
// ErrInvalidStatRecord under errors.Is.
type ValidationError struct {
	Violations []FieldViolation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidStatRecord, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidStatRecord
}

// Add records a violation for field.
func (e *ValidationError) Add(field, reason string) {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Reason: reason})
}

// HasViolations reports whether any field was rejected.
func (e *ValidationError) HasViolations() bool {
	return len(e.Violations) > 0
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrUnknownPlayer)
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidStatRecord) ||
		errors.Is(err, ErrInvalidMetric) ||
		errors.Is(err, ErrInvalidLimit) ||
		errors.Is(err, ErrInvalidDelta) ||
		errors.Is(err, ErrInvalidPlayer) ||
		errors.Is(err, ErrInvalidRequest)
}
