package errors

import (
	"errors"
	"fmt"
)

// ValidationError reports an invalid batch or request that was rejected before
// any work started (for example a dependsOn reference to an unknown task id).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Reason)
}

// NewValidationError creates a ValidationError with a formatted reason.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// ConfigurationError reports missing or contradictory executor configuration.
// It is fatal at initialize time, never deferred to first use.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// NewConfigurationError creates a ConfigurationError with a formatted reason.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// PermissionDeniedError reports that the permission layer refused a concrete
// action. The sandbox side effect was never attempted.
type PermissionDeniedError struct {
	Action string // "bash", "file_write", "file_read"
	Target string // command or path
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("permission denied: %s %q", e.Action, e.Target)
	}
	return fmt.Sprintf("permission denied: %s %q: %s", e.Action, e.Target, e.Reason)
}

// NewPermissionDenied creates a PermissionDeniedError for the given action.
func NewPermissionDenied(action, target, reason string) *PermissionDeniedError {
	return &PermissionDeniedError{Action: action, Target: target, Reason: reason}
}

// IsPermissionDenied reports whether err is (or wraps) a PermissionDeniedError.
func IsPermissionDenied(err error) bool {
	var target *PermissionDeniedError
	return errors.As(err, &target)
}

// SecurityError reports an attempt to perform an operation the sandbox does
// not support, such as changing the working directory of a running container
// or using an executor before Initialize.
type SecurityError struct {
	Op     string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security error: %s: %s", e.Op, e.Reason)
}

// NewSecurityError creates a SecurityError for the given operation.
func NewSecurityError(op, format string, args ...any) *SecurityError {
	return &SecurityError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// IsSecurity reports whether err is (or wraps) a SecurityError.
func IsSecurity(err error) bool {
	var target *SecurityError
	return errors.As(err, &target)
}
