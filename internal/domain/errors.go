// Package domain defines core types, interfaces, and errors for the query gate.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConfigurationBlockedError indicates an operation category is disabled by a
// feature flag. Recoverable only by operator action; never retried.
type ConfigurationBlockedError struct {
	Flag    string
	Message string
}

func (e *ConfigurationBlockedError) Error() string { return e.Message }

// TokenNotFoundError indicates a confirmation token is absent, already
// consumed, or past its TTL. The caller must re-propose the operation.
type TokenNotFoundError struct {
	Message string
}

func (e *TokenNotFoundError) Error() string { return e.Message }

// ExecutionFailedError wraps a database error from executing a statement.
// The underlying message is surfaced verbatim and the attempt is never
// retried: retrying a mutation is unsafe.
type ExecutionFailedError struct {
	Err error
}

func (e *ExecutionFailedError) Error() string { return e.Err.Error() }

func (e *ExecutionFailedError) Unwrap() error { return e.Err }

// AuditWriteFailedError indicates the security audit log could not be
// written. It is reported on the diagnostic channel and otherwise swallowed;
// it never aborts the gated operation.
type AuditWriteFailedError struct {
	Err error
}

func (e *AuditWriteFailedError) Error() string { return fmt.Sprintf("audit write failed: %v", e.Err) }

func (e *AuditWriteFailedError) Unwrap() error { return e.Err }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConfigurationBlocked creates a ConfigurationBlockedError naming the flag
// that must be enabled.
func ErrConfigurationBlocked(flag, format string, args ...interface{}) *ConfigurationBlockedError {
	return &ConfigurationBlockedError{Flag: flag, Message: fmt.Sprintf(format, args...)}
}

// ErrTokenNotFound creates a TokenNotFoundError with a formatted message.
func ErrTokenNotFound(format string, args ...interface{}) *TokenNotFoundError {
	return &TokenNotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrExecutionFailed wraps a database execution error.
func ErrExecutionFailed(err error) *ExecutionFailedError {
	return &ExecutionFailedError{Err: err}
}
