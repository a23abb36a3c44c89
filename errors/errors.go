// Package errors provides standardized error handling for the intelligence pipeline.
// It includes error classification, the taxonomy codes surfaced to callers, and
// helper functions for consistent error wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guarzo/eveDMV-sub012/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Code is the stable, caller-visible identifier of a failure.
type Code string

// Taxonomy codes
const (
	CodeUnknown               Code = "unknown"
	CodeInvalidDomain         Code = "invalid-domain"
	CodeInvalidEntityID       Code = "invalid-entity-id"
	CodeInvalidScope          Code = "invalid-scope"
	CodeNoPluginsAvailable    Code = "no-plugins-available"
	CodePluginNotFound        Code = "plugin-not-found"
	CodeMissingPluginContract Code = "missing-plugin-contract"
	CodePluginInfoException   Code = "plugin-info-exception"
	CodePluginException       Code = "plugin-exception"
	CodeDataGatheringFailed   Code = "data-gathering-failed"
	CodeTimeout               Code = "timeout"
	CodeNotFound              Code = "not-found"
	CodeInvalidRequest        Code = "invalid-request"
	CodeDependencyMissing     Code = "dependency-missing"
)

// Standard error variables for common conditions
var (
	// Pipeline input errors
	ErrInvalidDomain      = errors.New("invalid domain")
	ErrInvalidEntityID    = errors.New("invalid entity id")
	ErrInvalidScope       = errors.New("invalid scope")
	ErrNoPluginsAvailable = errors.New("no plugins available")

	// Plugin errors
	ErrPluginNotFound        = errors.New("plugin not found")
	ErrMissingPluginContract = errors.New("missing plugin contract")
	ErrPluginInfo            = errors.New("plugin info exception")
	ErrPluginException       = errors.New("plugin exception")
	ErrDependencyMissing     = errors.New("plugin dependency missing")

	// Data errors
	ErrDataGathering  = errors.New("data gathering failed")
	ErrEntityNotFound = errors.New("entity not found")
	ErrInvalidData    = errors.New("invalid data format")

	// Execution errors
	ErrTimeout = errors.New("timeout")

	// Lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")

	// Connection and storage errors
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrKeyNotFound        = errors.New("key not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Resource errors
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

var codeBySentinel = []struct {
	err  error
	code Code
}{
	{ErrInvalidDomain, CodeInvalidDomain},
	{ErrInvalidEntityID, CodeInvalidEntityID},
	{ErrInvalidScope, CodeInvalidScope},
	{ErrNoPluginsAvailable, CodeNoPluginsAvailable},
	{ErrPluginNotFound, CodePluginNotFound},
	{ErrMissingPluginContract, CodeMissingPluginContract},
	{ErrPluginInfo, CodePluginInfoException},
	{ErrTimeout, CodeTimeout},
	{ErrPluginException, CodePluginException},
	{ErrDataGathering, CodeDataGatheringFailed},
	{ErrEntityNotFound, CodeNotFound},
	{ErrDependencyMissing, CodeDependencyMissing},
	{ErrInvalidData, CodeInvalidRequest},
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// CodeOf returns the taxonomy code carried by err, or CodeUnknown.
// Timeouts win over plugin exceptions so a plugin that ran out of time is
// reported as such even when the timeout was wrapped at the plugin boundary.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	for _, entry := range codeBySentinel {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}

// New returns a classified error for a taxonomy sentinel with extra detail.
// The result matches the sentinel with errors.Is.
func New(sentinel error, class ErrorClass, component, operation, detail string) error {
	msg := sentinel.Error()
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", sentinel.Error(), detail)
	}
	return newClassified(class, sentinel, component, operation, fmt.Sprintf("%s.%s: %s", component, operation, msg))
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
		"busy",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrResourceExhausted)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrInvalidDomain) ||
		errors.Is(err, ErrInvalidEntityID) ||
		errors.Is(err, ErrInvalidScope)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsInvalid(err) {
		return ErrorInvalid
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	return ErrorTransient
}

// newClassified creates a new classified error.
// Use WrapTransient(), WrapFatal(), WrapInvalid() or New() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry determines if an error should be retried based on config
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	return IsTransient(err)
}

// ToRetryConfig converts RetryConfig to the retry package's Config.
// MaxRetries counts additional attempts, so one is added for the first try.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}
