// Package errors provides standardized error handling patterns for the
// coupling runtime. It includes error classification, standard error
// variables, and helper functions for consistent error wrapping across
// the library.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input, configuration,
	// or API misuse by the submodel code
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop the instance
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

// Standard error variables for common conditions
var (
	// Instance lifecycle errors
	ErrAlreadyShutDown  = errors.New("instance already shut down")
	ErrNotRegistered    = errors.New("instance not registered")
	ErrMissingInstance  = errors.New("missing --muscle-instance command line argument")
	ErrInvalidReference = errors.New("invalid reference")

	// Port errors
	ErrPortNotFound  = errors.New("port does not exist")
	ErrPortClosed    = errors.New("port is closed")
	ErrNotConnected  = errors.New("port is not connected")
	ErrNotVector     = errors.New("port is not a vector port")
	ErrNotResizable  = errors.New("port is not resizable")
	ErrSlotOutOfRange = errors.New("slot out of range")

	// Receive errors
	ErrDoubleReceive = errors.New("tried to receive twice on the same port in one iteration")
	ErrNoDefault     = errors.New("port not connected and no default value given")

	// Settings errors
	ErrSettingNotFound = errors.New("setting value was not set")
	ErrSettingType     = errors.New("setting has the wrong type")
	ErrOverlayMismatch = errors.New("received data from a parallel universe")
	ErrNotSettings     = errors.New("payload on settings port is not a Settings value")

	// Manager and transport errors
	ErrManagerUnreachable = errors.New("failed to connect to the manager")
	ErrPeerUnreachable    = errors.New("failed to connect to a peer")
	ErrConnectionLost     = errors.New("connection lost")
)

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

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrManagerUnreachable) ||
		errors.Is(err, ErrPeerUnreachable) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid checks if an error is due to invalid input or API misuse
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrPortNotFound) ||
		errors.Is(err, ErrDoubleReceive) ||
		errors.Is(err, ErrNoDefault) ||
		errors.Is(err, ErrOverlayMismatch) ||
		errors.Is(err, ErrNotSettings) ||
		errors.Is(err, ErrSettingNotFound) ||
		errors.Is(err, ErrSettingType) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrMissingInstance)
}

// IsFatal checks if an error is fatal and should stop the instance
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrPortClosed)
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

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
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
