package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an engine failure for recovery and reporting.
type ErrorKind string

const (
	// ErrorKindValidation indicates a structural, dependency or preserve violation.
	// Execution never starts when a validation error is raised.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindConnectivity indicates a pre-flight failure against a channel.
	ErrorKindConnectivity ErrorKind = "connectivity"

	// ErrorKindChannelExecution indicates that a backend rejected or failed a batch.
	ErrorKindChannelExecution ErrorKind = "channel_execution"

	// ErrorKindChecksum indicates a firmware artifact failed integrity validation.
	ErrorKindChecksum ErrorKind = "checksum"

	// ErrorKindTimeout indicates a poll budget or call deadline was exceeded.
	// Timeouts are a specialisation of channel execution failures.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindCancelled indicates that the operation was cancelled cooperatively.
	ErrorKindCancelled ErrorKind = "cancelled"

	// ErrorKindInternal indicates an unexpected fault caught at the coordinator boundary.
	ErrorKindInternal ErrorKind = "internal"
)

// EngineError represents a classified error with target context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Target is the target (server) identifier, if applicable.
	Target string `json:"target,omitempty"`

	// Setting is the setting or component the error refers to, if applicable.
	Setting string `json:"setting,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Target != "" {
		msg += fmt.Sprintf(" (target=%s)", e.Target)
	}
	if e.Setting != "" {
		msg += fmt.Sprintf(" (setting=%s)", e.Setting)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements equality checking for errors.Is. Two engine errors match when
// their kinds match and, if the target carries a code, the codes match too.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if t.Code != "" && e.Code != t.Code {
		return false
	}
	if e.Kind == t.Kind {
		return true
	}
	// A timeout is also a channel execution failure.
	return e.Kind == ErrorKindTimeout && t.Kind == ErrorKindChannelExecution
}

func newError(kind ErrorKind, message string, err error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Err: err}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return newError(ErrorKindValidation, message, err)
}

// NewConnectivityError creates a new connectivity error.
func NewConnectivityError(message string, err error) *EngineError {
	return newError(ErrorKindConnectivity, message, err)
}

// NewChannelExecutionError creates a new channel execution error.
func NewChannelExecutionError(message string, err error) *EngineError {
	return newError(ErrorKindChannelExecution, message, err)
}

// NewChecksumError creates a new checksum error.
func NewChecksumError(message string, err error) *EngineError {
	return newError(ErrorKindChecksum, message, err)
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(message string, err error) *EngineError {
	return newError(ErrorKindTimeout, message, err)
}

// NewCancelledError creates a new cancellation error.
func NewCancelledError(message string) *EngineError {
	return newError(ErrorKindCancelled, message, nil)
}

// NewInternalError creates a new internal fault error.
func NewInternalError(message string, err error) *EngineError {
	return newError(ErrorKindInternal, message, err)
}

// WithTarget adds target context to an error.
func (e *EngineError) WithTarget(target string) *EngineError {
	e.Target = target
	return e
}

// WithSetting adds setting context to an error.
func (e *EngineError) WithSetting(name string) *EngineError {
	e.Setting = name
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail key-value pair to an error.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasKind(err error, kind ErrorKind) bool {
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		return false
	}
	return engErr.Is(&EngineError{Kind: kind})
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool { return hasKind(err, ErrorKindValidation) }

// IsConnectivity returns true if the error is a connectivity error.
func IsConnectivity(err error) bool { return hasKind(err, ErrorKindConnectivity) }

// IsChannelExecution returns true if the error is a channel execution error,
// including timeouts.
func IsChannelExecution(err error) bool { return hasKind(err, ErrorKindChannelExecution) }

// IsChecksum returns true if the error is a checksum error.
func IsChecksum(err error) bool { return hasKind(err, ErrorKindChecksum) }

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool { return hasKind(err, ErrorKindTimeout) }

// IsCancelled returns true if the error reports a cooperative cancellation.
func IsCancelled(err error) bool { return hasKind(err, ErrorKindCancelled) }

// GetErrorKind extracts the kind from an error, or ErrorKindInternal if the
// error is not an EngineError.
func GetErrorKind(err error) ErrorKind {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Kind
	}
	return ErrorKindInternal
}

// Common error codes.
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodePreserveViolation = "PRESERVE_VIOLATION"
	ErrCodeRequiredMissing   = "REQUIRED_MISSING"
	ErrCodeConflict          = "CONFLICTING_SETTINGS"
	ErrCodePolicyDenied      = "POLICY_DENIED"
	ErrCodeConnectionFailed  = "CONNECTION_FAILED"
	ErrCodeCapabilityProbe   = "CAPABILITY_PROBE_FAILED"
	ErrCodePullFailed        = "PULL_FAILED"
	ErrCodeBatchFailed       = "BATCH_FAILED"
	ErrCodeSettingRejected   = "SETTING_REJECTED"
	ErrCodePollBudget        = "POLL_BUDGET_EXCEEDED"
	ErrCodeChecksumMismatch  = "CHECKSUM_MISMATCH"
	ErrCodeArtifactMissing   = "ARTIFACT_MISSING"
	ErrCodeUpdateFailed      = "UPDATE_FAILED"
	ErrCodePanic             = "PANIC"
)
