package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/storemirror/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryRemoteTransient represents retryable remote storefront errors
	CategoryRemoteTransient ErrorCategory = "remote_transient"
	// CategoryRemotePermanent represents non-retryable remote storefront errors
	CategoryRemotePermanent ErrorCategory = "remote_permanent"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryVerification represents signature/integrity verification failures
	CategoryVerification ErrorCategory = "verification"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents concurrency conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// User Input Errors (4xx)

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(code string, message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       code,
		Message:    message,
	}
}

// NewTaskConflictError signals that a live sync task already exists for a store.
func NewTaskConflictError(storeID string, taskID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "TASK_ALREADY_RUNNING",
		Message:    fmt.Sprintf("a sync task is already live for store %s", storeID),
		Details: map[string]interface{}{
			"storeId": storeID,
			"taskId":  taskID,
		},
	}
}

// NewCooldownError signals that a recent full sync makes a rerun redundant.
func NewCooldownError(storeID string, minutes int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "SYNC_COOLDOWN",
		Message:    fmt.Sprintf("store %s completed a full sync within the last %d minutes; pass force to rerun", storeID, minutes),
		Details: map[string]interface{}{
			"storeId":         storeID,
			"cooldownMinutes": minutes,
		},
	}
}

// NewSignatureError creates a webhook signature verification error
func NewSignatureError(storeID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryVerification,
		StatusCode: http.StatusUnauthorized,
		Code:       "SIGNATURE_MISMATCH",
		Message:    fmt.Sprintf("webhook signature verification failed for store %s", storeID),
		Details: map[string]interface{}{
			"storeId": storeID,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Remote storefront errors

// NewRemoteTransientError creates a retryable remote storefront error (timeouts, 5xx, 429)
func NewRemoteTransientError(store string, statusCode int, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRemoteTransient,
		StatusCode: http.StatusBadGateway,
		Code:       "REMOTE_TRANSIENT",
		Message:    fmt.Sprintf("transient error from store %s (status %d)", store, statusCode),
		Cause:      cause,
		Details: map[string]interface{}{
			"store":        store,
			"remoteStatus": statusCode,
		},
	}
}

// NewRemotePermanentError creates a non-retryable remote storefront error (401/404, bad credentials)
func NewRemotePermanentError(store string, statusCode int, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRemotePermanent,
		StatusCode: http.StatusBadGateway,
		Code:       "REMOTE_PERMANENT",
		Message:    fmt.Sprintf("permanent error from store %s (status %d)", store, statusCode),
		Cause:      cause,
		Details: map[string]interface{}{
			"store":        store,
			"remoteStatus": statusCode,
		},
	}
}

// NewRemoteRateLimitError creates a remote rate limit error
func NewRemoteRateLimitError(store string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "REMOTE_RATE_LIMIT",
		Message:    fmt.Sprintf("store %s rate limit exceeded", store),
		Details: map[string]interface{}{
			"store": store,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	switch err.Code {
	case "INVALID_PARAMETER", "INVALID_MODE", "INVALID_KIND":
		return &CategorizedError{
			Category:   CategoryUserInput,
			StatusCode: http.StatusBadRequest,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case "STORE_NOT_FOUND", "TASK_NOT_FOUND", "BATCH_NOT_FOUND", "NOT_FOUND":
		return &CategorizedError{
			Category:   CategoryNotFound,
			StatusCode: http.StatusNotFound,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case "TASK_ALREADY_RUNNING", "SYNC_COOLDOWN", "STEP_ALREADY_CLAIMED":
		return &CategorizedError{
			Category:   CategoryConflict,
			StatusCode: http.StatusConflict,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case "SIGNATURE_MISMATCH":
		return &CategorizedError{
			Category:   CategoryVerification,
			StatusCode: http.StatusUnauthorized,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	default:
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryRemoteTransient, CategoryRateLimit, CategoryDatabase:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsPermanentRemote reports whether an error is a non-retryable remote failure.
func IsPermanentRemote(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryRemotePermanent
}

// IsConflict reports whether an error is a concurrency conflict.
func IsConflict(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryConflict
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
