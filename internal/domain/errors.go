// Package domain contains the core domain models and types.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure cases.
var (
	// ErrEmptyLog indicates the log content is empty or whitespace only.
	ErrEmptyLog = errors.New("log content is empty")

	// ErrLogTooLarge indicates the log exceeds the maximum allowed size.
	ErrLogTooLarge = errors.New("log content exceeds maximum size")

	// ErrNoLogs indicates neither logs nor a fetchable run were supplied.
	ErrNoLogs = errors.New("no logs supplied and run logs unavailable")

	// ErrAITimeout indicates the reasoning backend did not respond in time.
	ErrAITimeout = errors.New("reasoning backend timeout")

	// ErrAIUnavailable indicates the reasoning backend is not available.
	ErrAIUnavailable = errors.New("reasoning backend unavailable")

	// ErrInvalidAIResponse indicates the backend response failed parsing or validation.
	ErrInvalidAIResponse = errors.New("invalid reasoning backend response format")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotFound indicates a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidOutcome indicates a feedback outcome other than approve/reject.
	ErrInvalidOutcome = errors.New("outcome must be approve or reject")

	// ErrNoTrainingData indicates training was requested without examples.
	ErrNoTrainingData = errors.New("no training data provided")

	// ErrSCMUnavailable indicates no source-control integration is configured.
	ErrSCMUnavailable = errors.New("source control integration not configured")
)

// ErrorKind classifies failures for propagation decisions.
type ErrorKind string

const (
	// KindTransientIO covers unreachable or timed-out collaborators.
	KindTransientIO ErrorKind = "transient_io"

	// KindMalformedResponse covers unparseable collaborator output.
	KindMalformedResponse ErrorKind = "malformed_response"

	// KindValidation covers rejected input at the boundary.
	KindValidation ErrorKind = "validation"

	// KindModelUnavailable covers an untrained or missing predictor model.
	KindModelUnavailable ErrorKind = "model_unavailable"

	// KindInternal covers everything else.
	KindInternal ErrorKind = "internal"
)

// AnalysisError wraps an error with additional context.
type AnalysisError struct {
	// Op is the operation that failed.
	Op string

	// Kind classifies the failure.
	Kind ErrorKind

	// Err is the underlying error.
	Err error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *AnalysisError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// WrapError creates a new AnalysisError with context. Retryable errors are
// classified as transient IO, the rest by their sentinel.
func WrapError(op string, err error, retryable bool) *AnalysisError {
	kind := KindInternal
	switch {
	case retryable:
		kind = KindTransientIO
	case errors.Is(err, ErrInvalidAIResponse):
		kind = KindMalformedResponse
	case errors.Is(err, ErrEmptyLog), errors.Is(err, ErrLogTooLarge), errors.Is(err, ErrInvalidOutcome), errors.Is(err, ErrNoLogs):
		kind = KindValidation
	}
	return &AnalysisError{
		Op:        op,
		Kind:      kind,
		Err:       err,
		Retryable: retryable,
	}
}

// NewValidationError reports rejected input at the boundary.
func NewValidationError(op string, err error) *AnalysisError {
	return &AnalysisError{Op: op, Kind: KindValidation, Err: err}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// KindOf returns the kind of an error, or KindInternal when unclassified.
func KindOf(err error) ErrorKind {
	var ae *AnalysisError
	if errors.As(err, &ae) && ae.Kind != "" {
		return ae.Kind
	}
	if errors.Is(err, ErrEmptyLog) || errors.Is(err, ErrLogTooLarge) || errors.Is(err, ErrInvalidOutcome) {
		return KindValidation
	}
	return KindInternal
}

// IsValidation reports whether err was caused by rejected input.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}
