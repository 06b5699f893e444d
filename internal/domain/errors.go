// Package domain holds the error taxonomy shared across the corpus engine.
package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeInput          ErrorType = "input"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeStore          ErrorType = "store"
	ErrorTypeTransientStore ErrorType = "transient_store"
	ErrorTypeInference      ErrorType = "inference"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeInternal       ErrorType = "internal"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func InputError(message string, err error) *DomainError {
	return NewError(ErrorTypeInput, message, err)
}

func NotFoundError(message string) *DomainError {
	return NewError(ErrorTypeNotFound, message, nil)
}

func StoreError(message string, err error) *DomainError {
	return NewError(ErrorTypeStore, message, err)
}

func TransientStoreError(message string, err error) *DomainError {
	return NewError(ErrorTypeTransientStore, message, err)
}

func InferenceError(message string, err error) *DomainError {
	return NewError(ErrorTypeInference, message, err)
}

func RateLimitError(message string, err error) *DomainError {
	return NewError(ErrorTypeRateLimit, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func InternalError(message string, err error) *DomainError {
	return NewError(ErrorTypeInternal, message, err)
}

// TypeOf returns the domain error type, or ErrorTypeInternal for plain errors.
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ErrorTypeInternal
}

// IsNotFound reports whether err is a not-found domain error.
func IsNotFound(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// IsInput reports whether err is an input domain error.
func IsInput(err error) bool {
	return TypeOf(err) == ErrorTypeInput
}

// IsRateLimit reports whether err looks like an upstream rate-limit
// rejection, either by type or by the usual message markers.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if TypeOf(err) == ErrorTypeRateLimit {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "too many requests"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// HTTPStatus maps an error to the response status the API surfaces.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeInput:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
