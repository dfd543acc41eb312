package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation     = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrNotFound       = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrConflict       = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrStorage        = NewError("STORAGE_ERROR", "message store unavailable", http.StatusInternalServerError)
	ErrBus            = NewError("BUS_ERROR", "message bus unavailable", http.StatusInternalServerError)
	ErrPartialFailure = NewError("PARTIAL_FAILURE", "message published but not recorded", http.StatusInternalServerError)
	ErrInternal       = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrTimeout        = NewError("TIMEOUT", "operation timed out", http.StatusGatewayTimeout)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

// Error is the application error carried from stores and services up to the
// HTTP layer. Status is the HTTP status the error maps to.
type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
		msg = detailMsg
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so that errors.Is(err, ErrStorage) holds for any
// derived copy produced by WithCause/WithDetail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
	}
	switch e.Code {
	case ErrValidation.Code, ErrNotFound.Code, ErrConflict.Code, ErrPartialFailure.Code:
		return false
	}
	return true
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := e.clone()
	err.Cause = cause
	return err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := e.clone()
	err.Details[key] = value
	return err
}

func (e *Error) WithMessage(message string) *Error {
	return e.WithDetail("message", message)
}

func (e *Error) AsFatal() *Error {
	err := e.clone()
	retryable := false
	err.retryable = &retryable
	return err
}

func (e *Error) clone() *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	return &err
}

// Validationf builds a validation error with a formatted message.
func Validationf(format string, args ...interface{}) *Error {
	return ErrValidation.WithMessage(fmt.Sprintf(format, args...))
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsValidation(err error) bool {
	return hasCode(err, ErrValidation.Code)
}

func IsConflict(err error) bool {
	return hasCode(err, ErrConflict.Code)
}

func IsStorage(err error) bool {
	return hasCode(err, ErrStorage.Code)
}

func IsBus(err error) bool {
	return hasCode(err, ErrBus.Code)
}

func IsPartialFailure(err error) bool {
	return hasCode(err, ErrPartialFailure.Code)
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	message := appErr.Message
	if detailMsg, ok := appErr.Details["message"].(string); ok && detailMsg != "" {
		message = detailMsg
	}

	response := map[string]interface{}{
		"error":      message,
		"error_code": appErr.Code,
	}

	details := make(map[string]interface{}, len(appErr.Details))
	for k, v := range appErr.Details {
		if k == "message" {
			continue
		}
		details[k] = v
	}
	if len(details) > 0 {
		response["details"] = details
	}

	return response
}
