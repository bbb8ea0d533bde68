package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoteNotFound is returned when a note cannot be found in the repository
	ErrNoteNotFound = errors.New("note not found")

	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotActive is returned when completing or failing a job that is not active
	ErrJobNotActive = errors.New("job is not active")

	// ErrDuplicateActiveJob is returned when a note already has a waiting or active job in a queue
	ErrDuplicateActiveJob = errors.New("note already has an active job in this queue")

	// ErrInvalidTransition is returned when a note status change is not allowed
	ErrInvalidTransition = errors.New("invalid note status transition")

	// ErrInvalidPayload is returned when a job payload cannot be decoded
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrInternal is the opaque error reported to operational callers
	ErrInternal = errors.New("internal error")
)

// ValidationError reports bad input from a caller. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a field
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is or wraps a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ProviderErrorKind classifies external provider failures
type ProviderErrorKind int

const (
	// ProviderTransient covers network errors, timeouts and 5xx responses
	ProviderTransient ProviderErrorKind = iota
	// ProviderTerminal covers malformed input and 4xx responses
	ProviderTerminal
)

func (k ProviderErrorKind) String() string {
	if k == ProviderTerminal {
		return "terminal"
	}
	return "transient"
}

// ProviderError wraps a failure of a transcription or summarization provider
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider error (%s, http %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a retryable provider error
func NewTransientError(provider string, statusCode int, err error) error {
	return &ProviderError{Provider: provider, Kind: ProviderTransient, StatusCode: statusCode, Err: err}
}

// NewTerminalError creates a provider error that must not be retried
func NewTerminalError(provider string, statusCode int, err error) error {
	return &ProviderError{Provider: provider, Kind: ProviderTerminal, StatusCode: statusCode, Err: err}
}

// IsRetryable decides whether a job failure should go back to the queue.
// Unknown errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Kind == ProviderTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	switch {
	case IsValidation(err),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrNoteNotFound):
		return false
	}

	return true
}
