package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed
	// on retry. Examples: model call timeouts, temporary file locks.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid graph, missing artifact, cache schema mismatch.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes for programmatic handling.
const (
	ErrCodeValidation = "validation"
	ErrCodeCache      = "cache"
	ErrCodeExecution  = "execution"
	ErrCodeDependency = "dependency_failed"
	ErrCodeInternal   = "internal"
)

// EngineError represents a classified error with artifact context.
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Artifact is the artifact ID that caused the error, if applicable.
	Artifact string `json:"artifact,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Artifact != "" {
		base = fmt.Sprintf("[%s] %s (artifact=%s)", e.Class, e.Message, e.Artifact)
	}
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithCode sets the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithArtifact sets the artifact context.
func (e *EngineError) WithArtifact(id string) *EngineError {
	e.Artifact = id
	return e
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// IsRetryable reports whether an error is worth retrying.
func IsRetryable(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Class == ErrorClassTransient
	}
	return false
}
