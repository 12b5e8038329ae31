// Package errors provides the error taxonomy for scriptdeck. It defines
// sentinel errors, domain errors for the instance, run and stream
// subsystems, semantic errors, and classification helpers used by the
// console to decide what to show an operator.
//
// # Error Types
//
// Domain-specific errors:
//   - InstanceError: failures tied to a single execution instance
//   - RunError: failures talking to the run execution backend
//   - StreamError: failures of a live event stream
//
// Semantic errors:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewRunError("start request rejected", errors.ErrRunStartFailed).
//		WithScript("android_login").
//		WithStatusCode(500)
//
//	if errors.Is(err, errors.ErrRunStartFailed) { ... }
//
//	var runErr *errors.RunError
//	if errors.As(err, &runErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers only import this package.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Instance-related sentinel errors
var (
	// ErrInstanceNotFound indicates that no instance exists with the given id.
	ErrInstanceNotFound = New("instance not found")
	// ErrRegistryClosed indicates that the registry has been shut down.
	ErrRegistryClosed = New("registry closed")
	// ErrParamsRequired indicates a script cannot start without a required param.
	ErrParamsRequired = New("required parameter missing")
)

// Run-related sentinel errors
var (
	// ErrRunStartFailed indicates the backend refused or failed to start a run.
	ErrRunStartFailed = New("run failed to start")
	// ErrRunStopFailed indicates the backend failed to stop a run.
	ErrRunStopFailed = New("run failed to stop")
	// ErrRunFailed indicates a run reached the error status.
	ErrRunFailed = New("run ended with an error")
	// ErrBackendUnavailable indicates the backend could not be reached.
	ErrBackendUnavailable = New("backend unavailable")
)

// Stream-related sentinel errors
var (
	// ErrStreamFailed indicates a stream connection failed before the run ended.
	ErrStreamFailed = New("stream failed")
	// ErrStreamClosed indicates an operation on a stream that is already closed.
	ErrStreamClosed = New("stream closed")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// DeckError is the base interface for all scriptdeck errors.
type DeckError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the message is safe to show an operator.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) IsRetryable() bool {
	return e.retryable
}

func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

func newBase(message string, cause error) baseError {
	return baseError{
		message:    message,
		cause:      cause,
		severity:   SeverityError,
		userFacing: true,
	}
}

// formatDomain renders "<kind> [k=v, ...]: message: cause".
func formatDomain(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// InstanceError represents a failure scoped to one execution instance.
//
// Example:
//
//	err := errors.NewInstanceError("cannot start", errors.ErrParamsRequired).
//		WithInstanceID("5f0c...")
//	fmt.Println(err) // "instance error [instance=5f0c...]: cannot start: required parameter missing"
type InstanceError struct {
	baseError
	InstanceID string
	RunID      string
}

// NewInstanceError creates a new InstanceError.
func NewInstanceError(message string, cause error) *InstanceError {
	return &InstanceError{baseError: newBase(message, cause)}
}

// WithInstanceID adds an instance ID to the error context.
func (e *InstanceError) WithInstanceID(id string) *InstanceError {
	e.InstanceID = id
	return e
}

// WithRunID adds a run ID to the error context.
func (e *InstanceError) WithRunID(id string) *InstanceError {
	e.RunID = id
	return e
}

// WithSeverity sets the error severity.
func (e *InstanceError) WithSeverity(s Severity) *InstanceError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *InstanceError) Error() string {
	var parts []string
	if e.InstanceID != "" {
		parts = append(parts, fmt.Sprintf("instance=%s", e.InstanceID))
	}
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunID))
	}
	return formatDomain("instance error", parts, e.message, e.cause)
}

// IsRetryable reports whether the instance operation may succeed on retry,
// either because it was marked so or because its cause is transient.
func (e *InstanceError) IsRetryable() bool {
	return e.retryable || IsRetryable(e.cause)
}

// Is checks if this error matches the target.
func (e *InstanceError) Is(target error) bool {
	if _, ok := target.(*InstanceError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// RunError represents a failure of the run execution backend.
//
// Example:
//
//	err := errors.NewRunError("start request rejected", errors.ErrRunStartFailed).
//		WithScript("login").WithStatusCode(500)
//	fmt.Println(err) // "run error [script=login, status=500]: start request rejected: run failed to start"
type RunError struct {
	baseError
	ScriptRef  string
	RunID      string
	StatusCode int
}

// NewRunError creates a new RunError.
func NewRunError(message string, cause error) *RunError {
	return &RunError{baseError: newBase(message, cause)}
}

// WithScript adds the script reference to the error context.
func (e *RunError) WithScript(ref string) *RunError {
	e.ScriptRef = ref
	return e
}

// WithRunID adds the run ID to the error context.
func (e *RunError) WithRunID(id string) *RunError {
	e.RunID = id
	return e
}

// WithStatusCode records the HTTP status the backend answered with.
// 5xx and 429 responses are marked retryable; other 4xx answers are
// operator mistakes and drop to warning severity.
func (e *RunError) WithStatusCode(code int) *RunError {
	e.StatusCode = code
	e.retryable = code >= 500 || code == 429
	if code >= 400 && code < 500 && code != 429 {
		e.severity = SeverityWarning
	}
	return e
}

// WithSeverity sets the error severity.
func (e *RunError) WithSeverity(s Severity) *RunError {
	e.severity = s
	return e
}

// WithUserFacing sets whether the message may be shown to an operator.
func (e *RunError) WithUserFacing(u bool) *RunError {
	e.userFacing = u
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *RunError) WithRetryable(r bool) *RunError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *RunError) Error() string {
	var parts []string
	if e.ScriptRef != "" {
		parts = append(parts, fmt.Sprintf("script=%s", e.ScriptRef))
	}
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunID))
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	return formatDomain("run error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *RunError) Is(target error) bool {
	if _, ok := target.(*RunError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// StreamError represents a failure of a live event stream.
type StreamError struct {
	baseError
	InstanceID string
	RunID      string
}

// NewStreamError creates a new StreamError.
func NewStreamError(message string, cause error) *StreamError {
	b := newBase(message, cause)
	b.retryable = true
	return &StreamError{baseError: b}
}

// WithInstanceID adds an instance ID to the error context.
func (e *StreamError) WithInstanceID(id string) *StreamError {
	e.InstanceID = id
	return e
}

// WithRunID adds the run ID to the error context.
func (e *StreamError) WithRunID(id string) *StreamError {
	e.RunID = id
	return e
}

// Error returns the formatted error message.
func (e *StreamError) Error() string {
	var parts []string
	if e.InstanceID != "" {
		parts = append(parts, fmt.Sprintf("instance=%s", e.InstanceID))
	}
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunID))
	}
	return formatDomain("stream error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *StreamError) Is(target error) bool {
	if _, ok := target.(*StreamError); ok {
		return true
	}
	if errors.Is(target, ErrStreamFailed) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("instance", "abc123")
//	fmt.Println(err) // "instance 'abc123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("deviceId is required for android scripts").
//		WithField("deviceId")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatDomain("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var deckErr DeckError
	if As(err, &deckErr) {
		return deckErr.IsRetryable()
	}

	return Is(err, ErrTimeout) || Is(err, ErrBackendUnavailable)
}

// IsUserFacing returns true if the error message is safe to display to an
// operator as-is.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var deckErr DeckError
	if As(err, &deckErr) {
		return deckErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement DeckError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var deckErr DeckError
	if As(err, &deckErr) {
		return deckErr.Severity()
	}
	return SeverityError
}

// internalReason replaces messages that are not fit for an operator.
const internalReason = "internal error, see the log for details"

// Reason returns a message suitable for an operator-visible log line: the
// backend's message for run errors, the message and cause for stream errors,
// the bare message for validation errors, otherwise the plain error text.
// Run errors marked as not user facing collapse to a generic message.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var runErr *RunError
	if As(err, &runErr) {
		if !IsUserFacing(runErr) {
			return internalReason
		}
		return runErr.message
	}
	var streamErr *StreamError
	if As(err, &streamErr) {
		if streamErr.cause != nil {
			return fmt.Sprintf("%s: %v", streamErr.message, streamErr.cause)
		}
		return streamErr.message
	}
	var valErr *ValidationError
	if As(err, &valErr) {
		return valErr.message
	}
	return err.Error()
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
