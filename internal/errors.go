package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
	ErrorTypeTimeout      ErrorType = "TIMEOUT"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidEmail     ErrorCode = "INVALID_EMAIL"
	ErrCodeInvalidEvent     ErrorCode = "INVALID_EVENT"

	ErrCodeUserNotRegistered ErrorCode = "USER_NOT_REGISTERED"
	ErrCodeCompanyNotFound   ErrorCode = "COMPANY_NOT_FOUND"

	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"

	ErrCodeCompanyNotActive ErrorCode = "COMPANY_NOT_ACTIVE"

	ErrCodeInvalidAssistant     ErrorCode = "INVALID_ASSISTANT"
	ErrCodeThreadCreationFailed ErrorCode = "THREAD_CREATION_FAILED"
	ErrCodeMessagePostFailed    ErrorCode = "MESSAGE_POST_FAILED"
	ErrCodeRunStartFailed       ErrorCode = "RUN_START_FAILED"
	ErrCodeRunFailed            ErrorCode = "RUN_FAILED"
	ErrCodeRunTimeout           ErrorCode = "RUN_TIMEOUT"

	ErrCodeDiscoveryFailed   ErrorCode = "DISCOVERY_FAILED"
	ErrCodeStrategyExhausted ErrorCode = "STRATEGY_EXHAUSTED"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewExternalError wraps failures reported by the company backend or the
// assistant service; they surface as 502 so the UI can offer a retry.
func NewExternalError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadGateway,
	}
}

// NewTimeoutError marks polling exhaustion, distinct from a business
// failure so diagnostics keep the attempt count.
func NewTimeoutError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusGatewayTimeout,
	}
}

var (
	ErrUserNotRegistered = NewNotFoundError("User is not registered", ErrCodeUserNotRegistered)
	ErrCompanyNotActive  = NewForbiddenError("Company is not active", ErrCodeCompanyNotActive)

	ErrInvalidToken = NewUnauthorizedError("Invalid identity token", ErrCodeInvalidToken)
	ErrTokenExpired = NewUnauthorizedError("Identity token has expired", ErrCodeTokenExpired)
)

func IsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
