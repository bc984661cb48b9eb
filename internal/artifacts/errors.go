package artifacts

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorKind classifies a failed bundle request
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindRateLimited  ErrorKind = "rate_limited"
	KindUnavailable  ErrorKind = "unavailable"
	KindInternal     ErrorKind = "internal"
)

// BundleError is a failure that maps onto an HTTP status and error body
type BundleError struct {
	Kind         ErrorKind
	Status       int
	Message      string
	Details      string
	Retryable    bool
	RequiresAuth bool
	// RetryAfter is in seconds
	RetryAfter int
	Err        error
}

func (e *BundleError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

func (e *BundleError) Unwrap() error {
	return e.Err
}

// ErrorBody is the JSON error response
type ErrorBody struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	Details      string `json:"details,omitempty"`
	Retryable    bool   `json:"retryable"`
	RequiresAuth bool   `json:"requiresAuth"`
	RetryAfter   int    `json:"retryAfter,omitempty"`
	RequestID    string `json:"requestId"`
}

// Body renders the error for the wire
func (e *BundleError) Body(requestID string) ErrorBody {
	return ErrorBody{
		Error:        e.Message,
		Details:      e.Details,
		Retryable:    e.Retryable,
		RequiresAuth: e.RequiresAuth,
		RetryAfter:   e.RetryAfter,
		RequestID:    requestID,
	}
}

func validationError(err error) *BundleError {
	return &BundleError{
		Kind:    KindValidation,
		Status:  fiber.StatusBadRequest,
		Message: "Invalid bundle request",
		Details: err.Error(),
		Err:     err,
	}
}

func unauthorizedError(err error) *BundleError {
	return &BundleError{
		Kind:         KindUnauthorized,
		Status:       fiber.StatusUnauthorized,
		Message:      "Authentication required",
		RequiresAuth: true,
		Err:          err,
	}
}

func forbiddenError(message string) *BundleError {
	return &BundleError{
		Kind:    KindForbidden,
		Status:  fiber.StatusForbidden,
		Message: message,
	}
}

func rateLimitedError(retryAfter int) *BundleError {
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &BundleError{
		Kind:       KindRateLimited,
		Status:     fiber.StatusTooManyRequests,
		Message:    "Rate limit exceeded",
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

func unavailableError(err error) *BundleError {
	return &BundleError{
		Kind:      KindUnavailable,
		Status:    fiber.StatusServiceUnavailable,
		Message:   "Bundle storage is temporarily unavailable",
		Details:   err.Error(),
		Retryable: true,
		Err:       err,
	}
}

func internalError(err error) *BundleError {
	return &BundleError{
		Kind:    KindInternal,
		Status:  fiber.StatusInternalServerError,
		Message: "Internal error while bundling artifact",
		Details: err.Error(),
		Err:     err,
	}
}

// AsBundleError returns err as a BundleError, wrapping unknown errors as internal
func AsBundleError(err error) *BundleError {
	var be *BundleError
	if errors.As(err, &be) {
		return be
	}
	return internalError(err)
}
