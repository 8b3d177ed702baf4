// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All business errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes following domain-driven design
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Business rule violations (422)
	CodeBusinessRule         = "BUSINESS_RULE_VIOLATION"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeInvalidCostingMethod = "INVALID_COSTING_METHOD"
	CodeMoveReversed         = "MOVE_ALREADY_REVERSED"
	CodeLayerConsumed        = "COST_LAYER_ALREADY_CONSUMED"

	// Consistency (internal invariant broken, never retried)
	CodeConsistencyViolation = "CONSISTENCY_VIOLATION"

	// Transient contention (retryable)
	CodeContention = "CONTENTION"

	// Authorization errors (401, 403)
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeCrossTenantReference = "CROSS_TENANT_REFERENCE"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict    = "CONFLICT"
	CodeDuplicate   = "DUPLICATE_ENTRY"
	CodeIdempotency = "IDEMPOTENCY_CONFLICT"
)

// AppError is the standard error type for the service.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field errors, quantities, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewInsufficientStock creates a stock shortage error.
// Shortfall is the quantity that could not be satisfied, in smallest units.
func NewInsufficientStock(productID string, requested, available, shortfall int64) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    "Insufficient stock",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
			"shortfall":  shortfall,
		},
	}
}

// NewContention creates a transient lock-contention error.
// Safe to retry the whole operation after retry_after.
func NewContention(retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       CodeContention,
		Message:    "Aggregate is locked by a concurrent operation, retry",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"retry_after_ms": retryAfter.Milliseconds()},
	}
}

// NewConsistencyViolation signals a broken internal invariant (e.g. cost layers
// not summing to the on-hand balance). Never retried, never self-healed.
func NewConsistencyViolation(details string) *AppError {
	return &AppError{
		Code:       CodeConsistencyViolation,
		Message:    "Internal consistency violation",
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"details": details},
	}
}

// NewInvalidCostingMethod creates an error for an unknown costing method.
func NewInvalidCostingMethod(method string) *AppError {
	return &AppError{
		Code:       CodeInvalidCostingMethod,
		Message:    "Invalid costing method",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"method": method},
	}
}

// NewCrossTenantReference rejects access to an aggregate outside the caller's
// tenant. Always returned before any lock is taken.
func NewCrossTenantReference(tenantID string) *AppError {
	return &AppError{
		Code:       CodeCrossTenantReference,
		Message:    "Referenced aggregate belongs to another tenant",
		HTTPStatus: http.StatusForbidden,
		Details:    map[string]any{"tenant_id": tenantID},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewIdempotencyMismatch is returned when the same idempotency key is reused
// for a different request (different tenant/operation/body hash).
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Idempotency key mismatch",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, field, value string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s with this %s already exists", entity, field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "field": field, "value": value},
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeNotFound
	}
	return false
}

// IsContention reports whether the error is transient lock contention.
// Callers retry the whole operation, never just the lock step.
func IsContention(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeContention
	}
	return false
}

// IsConsistencyViolation reports whether err is a fatal invariant breach.
func IsConsistencyViolation(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeConsistencyViolation
	}
	return false
}

// IsInsufficientStock checks if error is CodeInsufficientStock.
func IsInsufficientStock(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == CodeInsufficientStock
	}
	return false
}
