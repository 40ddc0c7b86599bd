package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents validation errors (4xx)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeAuthentication represents authentication errors (401)
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeAuthorization represents authorization errors (403)
	ErrorTypeAuthorization ErrorType = "authorization"
	// ErrorTypeNotFound represents resource not found errors (404)
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents business-rule conflicts (409)
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypePayment represents billing/balance errors (402)
	ErrorTypePayment ErrorType = "payment"
	// ErrorTypeRateLimit represents rate limiting errors (429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeProvider represents provider-specific errors (502/503)
	ErrorTypeProvider ErrorType = "provider"
	// ErrorTypeTimeout represents timeout errors (504)
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal server errors (500)
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeCircuitBreaker represents circuit breaker errors (503)
	ErrorTypeCircuitBreaker ErrorType = "circuit_breaker"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitzero"`
	StatusCode int       `json:"-"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap allows error unwrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether the error is retryable
func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// GetStatusCode returns the HTTP status code for the error
func (e *AppError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeAuthorization:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypePayment:
		return http.StatusPaymentRequired
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeProvider, ErrorTypeCircuitBreaker:
		return http.StatusBadGateway
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Ledger and billing business errors. These are terminal decisions and are
// never retried by coordinators; handlers map them straight to responses.
var (
	ErrUnauthenticated      = &AppError{Type: ErrorTypeAuthentication, Message: "authentication required", Code: "UNAUTHENTICATED"}
	ErrAccountNotFound      = &AppError{Type: ErrorTypeNotFound, Message: "account not found", Code: "ACCOUNT_NOT_FOUND"}
	ErrOrderNotFound        = &AppError{Type: ErrorTypeNotFound, Message: "order not found", Code: "ORDER_NOT_FOUND"}
	ErrJobNotFound          = &AppError{Type: ErrorTypeNotFound, Message: "generation job not found", Code: "JOB_NOT_FOUND"}
	ErrInvalidSignature     = &AppError{Type: ErrorTypeAuthentication, Message: "invalid webhook signature", Code: "INVALID_SIGNATURE"}
	ErrAmountMismatch       = &AppError{Type: ErrorTypeConflict, Message: "paid amount does not match order amount", Code: "AMOUNT_MISMATCH"}
	ErrPromoNotFound        = &AppError{Type: ErrorTypeNotFound, Message: "promo code not found", Code: "PROMO_NOT_FOUND"}
	ErrPromoExpired         = &AppError{Type: ErrorTypeConflict, Message: "promo code has expired", Code: "PROMO_EXPIRED"}
	ErrPromoAlreadyUsed     = &AppError{Type: ErrorTypeConflict, Message: "promo code has already been used", Code: "PROMO_ALREADY_USED"}
	ErrPromoAlreadyRedeemed = &AppError{Type: ErrorTypeConflict, Message: "account has already redeemed a promo code", Code: "PROMO_ALREADY_REDEEMED"}
	ErrFeatureNotEntitled   = &AppError{Type: ErrorTypeAuthorization, Message: "subscription tier does not include this feature", Code: "FEATURE_NOT_ENTITLED"}
)

// InsufficientBalanceError carries the amounts needed for user-facing
// messaging ("need N, have M"). Never retryable.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required=%d, available=%d", e.Required, e.Available)
}

// IsInsufficientBalance reports whether err wraps an InsufficientBalanceError.
func IsInsufficientBalance(err error) (*InsufficientBalanceError, bool) {
	var ibe *InsufficientBalanceError
	if errors.As(err, &ibe) {
		return ibe, true
	}
	return nil, false
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewProviderError creates a provider error
func NewProviderError(provider, message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeProvider,
		Message:    fmt.Sprintf("provider %s error: %s", provider, message),
		Code:       fmt.Sprintf("PROVIDER_%s_ERROR", provider),
		StatusCode: http.StatusBadGateway,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation %s timed out", operation),
		StatusCode: http.StatusGatewayTimeout,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewCircuitBreakerError creates a circuit breaker error
func NewCircuitBreakerError(service string) *AppError {
	return &AppError{
		Type:       ErrorTypeCircuitBreaker,
		Message:    fmt.Sprintf("service %s is currently unavailable (circuit breaker open)", service),
		Code:       "CIRCUIT_BREAKER_OPEN",
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    "internal server error",
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// SanitizeError sanitizes an error for external consumption
func SanitizeError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		// Return a copy without internal details
		return &AppError{
			Type:       appErr.Type,
			Message:    appErr.Message,
			Code:       appErr.Code,
			StatusCode: appErr.GetStatusCode(),
			Retryable:  appErr.Retryable,
		}
	}

	if ibe, ok := IsInsufficientBalance(err); ok {
		return &AppError{
			Type:       ErrorTypePayment,
			Message:    ibe.Error(),
			Code:       "INSUFFICIENT_BALANCE",
			StatusCode: http.StatusPaymentRequired,
		}
	}

	return NewInternalError("an unexpected error occurred", err)
}
