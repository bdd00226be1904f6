package feed

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across subsystems. Wrap with %w and check with
// errors.Is.
var (
	// ErrFeedNotFound indicates an unknown feed id.
	ErrFeedNotFound = errors.New("feed not found")
	// ErrRunNotFound indicates an unknown run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrFetchDenied indicates robots.txt disallows the target.
	ErrFetchDenied = errors.New("fetch disallowed by robots.txt")
	// ErrInvalidMarkup indicates the fetched page could not be parsed at all.
	ErrInvalidMarkup = errors.New("unparseable markup")
)

// ValidationError describes a malformed feed definition or field selector.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
