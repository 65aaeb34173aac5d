package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeRetrieval  ErrorType = "retrieval"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeCompletion ErrorType = "completion"
	ErrorTypeDisabled   ErrorType = "disabled"
	ErrorTypeExternal   ErrorType = "external"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Wrap returns a copy of e carrying err as its cause. e is left untouched,
// so shared sentinels can be wrapped safely.
func (e *DomainError) Wrap(err error) *DomainError {
	return NewDomainError(e.Type, e.Message, err)
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Validation Errors
	ErrEmptyMessage = NewDomainError(ErrorTypeValidation, "message cannot be empty", nil)

	// Upstream Errors
	ErrSearchFailed      = NewDomainError(ErrorTypeRetrieval, "document search failed", nil)
	ErrCompletionFailed  = NewDomainError(ErrorTypeCompletion, "chat completion failed", nil)
	ErrUpstreamThrottled = NewDomainError(ErrorTypeRateLimit, "completion service is throttling requests", nil)

	// Disabled Features
	ErrSpeechDisabled = NewDomainError(ErrorTypeDisabled, "speech service is disabled or missing credentials", nil)
)

// Error type checking helper functions

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsRetrievalError checks if an error came from the document search step
func IsRetrievalError(err error) bool {
	return hasType(err, ErrorTypeRetrieval)
}

// IsRateLimitError checks if an error is an upstream rate limit error
func IsRateLimitError(err error) bool {
	return hasType(err, ErrorTypeRateLimit)
}

// IsCompletionError checks if an error is a generic completion failure
func IsCompletionError(err error) bool {
	return hasType(err, ErrorTypeCompletion)
}

// IsDisabledError checks if an error signals a feature that is switched off
func IsDisabledError(err error) bool {
	return hasType(err, ErrorTypeDisabled)
}

// IsExternalError checks if an error is an external service error
func IsExternalError(err error) bool {
	return hasType(err, ErrorTypeExternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapExternal wraps an error as an external service error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}

// WrapRetrieval wraps a search failure
func WrapRetrieval(message string, err error) error {
	return NewDomainError(ErrorTypeRetrieval, message, err)
}
