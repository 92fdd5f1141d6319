// Package apperr defines the error taxonomy shared by the orchestration layer:
// validation failures, provider failures, transient poll failures and
// pipeline step failures. Each type carries enough context to produce a
// human-readable message and an HTTP status at the API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a resource is not in a state that allows
	// the requested operation.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports bad user input. It is never retried.
type ValidationError struct {
	// Field is the name of the offending input field.
	Field string
	// Reason is a human-readable explanation.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NewValidation creates a ValidationError.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ProviderError reports a failed call to an external provider: a non-2xx
// response, a malformed payload or a transport failure that exhausted retries.
type ProviderError struct {
	// Provider is the provider name (e.g. "video", "image", "speech").
	Provider string
	// Op is the operation that failed (e.g. "submit", "poll").
	Op string
	// Message is the provider-reported message, if any.
	Message string
	// Err is the underlying client error.
	Err error
	// Permanent marks failures that repeating the call cannot fix, such as
	// a rejected request or a payload the client cannot interpret.
	Permanent bool
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s provider %s failed: %s", e.Provider, e.Op, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProvider wraps err as a ProviderError.
func NewProvider(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// TransientPollError reports a failed status request. The poll loop records
// it and keeps going.
type TransientPollError struct {
	JobID   string
	Attempt int
	Err     error
}

func (e *TransientPollError) Error() string {
	return fmt.Sprintf("poll %s (attempt %d): %v", e.JobID, e.Attempt, e.Err)
}

func (e *TransientPollError) Unwrap() error {
	return e.Err
}

// PipelineStepError reports that a pipeline step failed. Downstream steps
// are not run and the pipeline takes this error's message.
type PipelineStepError struct {
	Pipeline string
	Step     string
	Err      error
}

func (e *PipelineStepError) Error() string {
	return fmt.Sprintf("pipeline %s: step %s failed: %v", e.Pipeline, e.Step, e.Err)
}

func (e *PipelineStepError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps an error to the HTTP status returned by the API.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		pe *ProviderError
		se *PipelineStepError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.As(err, &pe), errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code maps an error to the machine-readable error code returned by the API.
func Code(err error) string {
	var (
		ve *ValidationError
		pe *ProviderError
		se *PipelineStepError
	)
	switch {
	case errors.As(err, &ve):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.As(err, &se):
		return "PIPELINE_STEP_FAILED"
	case errors.As(err, &pe):
		return "PROVIDER_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
