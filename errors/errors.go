// Package errors provides standardized error handling for TrackStream
// components. It includes error classification, sentinel errors for the
// ingestion and monitoring subsystems, and helpers for consistent error
// wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Class represents the classification of errors for handling purposes
type Class int

const (
	// ClassTransient represents temporary errors that may be retried
	ClassTransient Class = iota
	// ClassInvalid represents errors due to invalid input or configuration
	ClassInvalid
	// ClassFatal represents unrecoverable errors that should stop processing
	ClassFatal
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors for common conditions
var (
	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Circuit breaker errors
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrOperationTimeout  = errors.New("operation timeout")
	ErrMaxRetriesReached = errors.New("maximum retries reached")

	// Upstream position store errors
	ErrUpstreamUnavailable = errors.New("upstream store unavailable")
	ErrFetchTimeout        = errors.New("position fetch timeout")
	ErrKeyNotFound         = errors.New("key not found")

	// Telemetry validation errors
	ErrValidationRejected = errors.New("position rejected by validation")
	ErrStalePosition      = errors.New("position data stale")
	ErrImpossibleSpeed    = errors.New("speed exceeds physical limit")
	ErrInvalidCoordinates = errors.New("coordinates out of range")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     Class
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

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassTransient
	}

	if errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrOperationTimeout) ||
		errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrFetchTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Common transient patterns from upstream drivers
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "network", "temporary", "unavailable", "busy"} {
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
		return ce.Class == ClassFatal
	}

	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassInvalid
	}

	return errors.Is(err, ErrValidationRejected) ||
		errors.Is(err, ErrImpossibleSpeed) ||
		errors.Is(err, ErrInvalidCoordinates)
}

// Classify returns the error class for an error
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	if IsFatal(err) {
		return ClassFatal
	}
	if IsInvalid(err) {
		return ClassInvalid
	}
	// Default to transient for unknown errors to allow retry
	return ClassTransient
}

func newClassified(class Class, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component: action: %w"
func Wrap(err error, component, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %s: %w", component, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, action)
	return newClassified(ClassTransient, wrapped, component, action, wrapped.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, action)
	return newClassified(ClassFatal, wrapped, component, action, wrapped.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, action)
	return newClassified(ClassInvalid, wrapped, component, action, wrapped.Error())
}

// Is reports whether any error in err's chain matches target.
// Re-exported so callers do not need both this package and stdlib errors.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
