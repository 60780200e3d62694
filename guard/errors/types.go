package errors

import (
	"fmt"
)

// ErrorCode classifies a failure by how the guard must react to it.
type ErrorCode string

const (
	// ErrCodeDomain marks expected domain conditions (insufficient custody funds, a transaction that is
	// no longer valid, a lost majority). They drive explicit state transitions.
	ErrCodeDomain ErrorCode = "DOMAIN"

	// ErrCodeProtocolInput marks malformed or unauthenticated protocol input. Dropped at the message
	// boundary without any state change.
	ErrCodeProtocolInput ErrorCode = "PROTOCOL_INPUT"

	// ErrCodeInvariant marks invariant violations such as two active transactions for one event.
	// These indicate a bug or storage corruption and are never routed around.
	ErrCodeInvariant ErrorCode = "INVARIANT"

	// ErrCodeTransient marks infrastructure failures (chain API timeout, store unavailable) that the
	// next scheduled sweep retries.
	ErrCodeTransient ErrorCode = "TRANSIENT"

	// ErrCodeConfig indicates configuration errors
	ErrCodeConfig ErrorCode = "CONFIG"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// GuardError is an error tagged with its class in the guard error taxonomy.
type GuardError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Severity Severity               `json:"severity"`
	Cause    error                  `json:"-"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// New creates a new GuardError
func New(code ErrorCode, message string, cause error) *GuardError {
	return &GuardError{
		Code:     code,
		Message:  message,
		Severity: determineSeverity(code),
		Cause:    cause,
		Context:  make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *GuardError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *GuardError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *GuardError) WithContext(key string, value interface{}) *GuardError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity overrides the default severity
func (e *GuardError) WithSeverity(severity Severity) *GuardError {
	e.Severity = severity
	return e
}

func determineSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeInvariant:
		return SeverityCritical
	case ErrCodeTransient:
		return SeverityMedium
	case ErrCodeDomain:
		return SeverityLow
	case ErrCodeProtocolInput, ErrCodeConfig:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// NewInvariantError creates an invariant violation error
func NewInvariantError(message string) *GuardError {
	return New(ErrCodeInvariant, message, nil)
}

// NewProtocolInputError creates an error for a dropped protocol message
func NewProtocolInputError(message string) *GuardError {
	return New(ErrCodeProtocolInput, message, nil)
}

// NewDomainError creates an expected domain condition error
func NewDomainError(message string) *GuardError {
	return New(ErrCodeDomain, message, nil)
}

// NewTransientError creates a transient infrastructure error
func NewTransientError(message string, cause error) *GuardError {
	return New(ErrCodeTransient, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string) *GuardError {
	return New(ErrCodeConfig, message, nil)
}
