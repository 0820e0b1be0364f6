package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation            ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound              ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized          ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden             ErrorType = "FORBIDDEN"
	ErrorTypeConflict              ErrorType = "CONFLICT"
	ErrorTypeInternal              ErrorType = "INTERNAL_ERROR"
	ErrorTypeConfiguration         ErrorType = "CONFIGURATION_ERROR"
	ErrorTypeGatewayRejection      ErrorType = "GATEWAY_REJECTION"
	ErrorTypeGatewayTransient      ErrorType = "GATEWAY_TRANSIENT"
	ErrorTypeGatewayFailure        ErrorType = "GATEWAY_FAILURE"
	ErrorTypeAlreadySettled        ErrorType = "ALREADY_SETTLED"
	ErrorTypeDuplicateConfirmation ErrorType = "DUPLICATE_CONFIRMATION"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidCurrency  ErrorCode = "INVALID_CURRENCY"
	ErrCodeInvalidStatus    ErrorCode = "INVALID_STATUS"
	ErrCodeInvalidRating    ErrorCode = "INVALID_RATING"

	ErrCodeTransactionNotFound ErrorCode = "TRANSACTION_NOT_FOUND"
	ErrCodeProcessIDTaken      ErrorCode = "PROCESS_ID_TAKEN"
	ErrCodeInvalidTransition   ErrorCode = "INVALID_PAYMENT_TRANSITION"
	ErrCodeRollbackNotAllowed  ErrorCode = "ROLLBACK_NOT_ALLOWED"
	ErrCodeManualReversal      ErrorCode = "MANUAL_REVERSAL_REQUIRED"

	ErrCodeDeliveryRequiresApproval ErrorCode = "DELIVERY_REQUIRES_APPROVED_PAYMENT"
	ErrCodeInvalidDeliveryStep      ErrorCode = "INVALID_DELIVERY_TRANSITION"
	ErrCodeStaleDeliveryStatus      ErrorCode = "STALE_DELIVERY_STATUS"
	ErrCodeAlreadyRated             ErrorCode = "ALREADY_RATED"
	ErrCodeNotDelivered             ErrorCode = "NOT_DELIVERED"
	ErrCodeAlreadyNotified          ErrorCode = "ALREADY_NOTIFIED"

	ErrCodeGatewayMisconfigured ErrorCode = "GATEWAY_MISCONFIGURED"
	ErrCodeGatewayRejected      ErrorCode = "GATEWAY_REJECTED"
	ErrCodeGatewayUnavailable   ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeGatewayFailed        ErrorCode = "GATEWAY_FAILED"
	ErrCodeDuplicateConfirm     ErrorCode = "DUPLICATE_CONFIRMATION"

	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeUserInactive       ErrorCode = "USER_INACTIVE"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"
	ErrCodeGuestNotAllowed    ErrorCode = "GUEST_NOT_ALLOWED"
	ErrCodeUserNotFound       ErrorCode = "USER_NOT_FOUND"
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
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
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

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
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

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewConfigurationError is returned before any gateway call is attempted.
func NewConfigurationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeConfiguration,
		Code:       ErrCodeGatewayMisconfigured,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewGatewayRejectionError reports an explicit decline from the bank.
func NewGatewayRejectionError(message string, details interface{}) *AppError {
	return &AppError{
		Type:       ErrorTypeGatewayRejection,
		Code:       ErrCodeGatewayRejected,
		Message:    message,
		Details:    details,
		StatusCode: http.StatusPaymentRequired,
	}
}

// NewGatewayFailureError reports a status:error answer. The gateway refused to process the
// operation, so no bank decision exists.
func NewGatewayFailureError(message string, details interface{}) *AppError {
	return &AppError{
		Type:       ErrorTypeGatewayFailure,
		Code:       ErrCodeGatewayFailed,
		Message:    message,
		Details:    details,
		StatusCode: http.StatusBadGateway,
	}
}

// NewGatewayTransientError reports a timeout or transport failure. The outcome on the
// gateway side is unknown and must be reconciled later.
func NewGatewayTransientError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeGatewayTransient,
		Code:       ErrCodeGatewayUnavailable,
		Message:    message,
		StatusCode: http.StatusGatewayTimeout,
		Cause:      cause,
	}
}

func NewAlreadySettledError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAlreadySettled,
		Code:       ErrCodeManualReversal,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

var (
	ErrTransactionNotFound = NewNotFoundError("transaction not found", ErrCodeTransactionNotFound)

	// ErrDuplicateConfirmation marks a confirmation that only stamped an already resolved
	// transaction. Callers treat it as success.
	ErrDuplicateConfirmation = &AppError{
		Type:       ErrorTypeDuplicateConfirmation,
		Code:       ErrCodeDuplicateConfirm,
		Message:    "transaction already resolved, confirmation stamped",
		StatusCode: http.StatusOK,
	}

	ErrInvalidCredentials = NewUnauthorizedError("Invalid email or password", ErrCodeInvalidCredentials)
	ErrUserInactive       = NewForbiddenError("User account is inactive", ErrCodeUserInactive)
	ErrInvalidToken       = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired       = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsErrorType(err error, t ErrorType) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Type == t
}

func IsDuplicateConfirmation(err error) bool {
	return IsErrorType(err, ErrorTypeDuplicateConfirmation)
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
