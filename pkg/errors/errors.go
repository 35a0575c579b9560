package errors

import (
	"errors"
	"fmt"
)

// Domain error types for the orchestrator

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")

	// ErrNotImplemented indicates a feature is not implemented
	ErrNotImplemented = errors.New("not implemented")
)

// Run lifecycle errors

var (
	// ErrRunNotFound indicates the run id is unknown or has expired
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidSymbol indicates the requested ticker symbol is malformed
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrUnsupportedModel indicates the model id is not in the allow-list
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrMissingCredential indicates the resolved provider has no API key configured
	ErrMissingCredential = errors.New("missing provider credential")

	// ErrRunTerminal indicates the run already reached a terminal status
	ErrRunTerminal = errors.New("run already terminal")
)

// Node and tool execution errors

var (
	// ErrTransientTool indicates an upstream tool failure that may succeed on retry
	ErrTransientTool = errors.New("transient tool failure")

	// ErrTransientModel indicates a model API failure that may succeed on retry
	ErrTransientModel = errors.New("transient model failure")

	// ErrFatalNode indicates an unrecoverable failure inside a node body
	ErrFatalNode = errors.New("fatal node failure")

	// ErrGraphCycle indicates the graph executor exceeded its step budget
	ErrGraphCycle = errors.New("graph step budget exceeded")
)

// IsTransient reports whether err is retryable by the graph executor.
func IsTransient(err error) bool {
	return Is(err, ErrTransientTool) || Is(err, ErrTransientModel) || Is(err, ErrTimeout)
}

// DomainError wraps an error with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error with field-specific details
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
