package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// WrapGuardError wraps an error as a GuardError if it isn't already one.
func WrapGuardError(err error, code ErrorCode, message string) *GuardError {
	if err == nil {
		return nil
	}

	var guardErr *GuardError
	if errors.As(err, &guardErr) {
		guardErr.WithContext("wrapped_message", message)
		return guardErr
	}

	return New(code, message, err)
}

// IsCode reports whether err is a GuardError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var guardErr *GuardError
	if errors.As(err, &guardErr) {
		return guardErr.Code == code
	}
	return false
}

// IsInvariant reports whether err signals a broken invariant.
func IsInvariant(err error) bool {
	return IsCode(err, ErrCodeInvariant)
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityInfo
	}

	var guardErr *GuardError
	if errors.As(err, &guardErr) {
		return guardErr.Severity
	}
	return SeverityHigh
}
