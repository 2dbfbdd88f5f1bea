package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    "BAD_REQUEST",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func Forbidden(message string, err error) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// EmptyMessage rejects a send that carries neither text nor an attachment.
func EmptyMessage() *AppError {
	return &AppError{
		Code:    "EMPTY_MESSAGE",
		Message: "Message must contain text or an attachment",
		Status:  http.StatusBadRequest,
	}
}

// AttachmentFailed means the media upload failed and nothing was persisted.
func AttachmentFailed(err error) *AppError {
	return &AppError{
		Code:    "ATTACHMENT_FAILED",
		Message: "Failed to upload media attachment",
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

// StoreUnavailable means the persistence layer was unreachable or rejected the
// write. The caller decides whether to re-run the whole send pipeline.
func StoreUnavailable(err error) *AppError {
	return &AppError{
		Code:    "STORE_UNAVAILABLE",
		Message: "Message store is unavailable",
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func NotAParticipant(userID, conversationID string) *AppError {
	return &AppError{
		Code:    "NOT_A_PARTICIPANT",
		Message: fmt.Sprintf("User %s is not a participant of conversation %s", userID, conversationID),
		Status:  http.StatusForbidden,
	}
}

// TooManyRequests carries the retry delay in the message so rate-limited
// clients know how long to back off.
func TooManyRequests(message string, waitTime time.Duration) *AppError {
	if waitTime > 0 {
		message = fmt.Sprintf("%s (retry in %s)", message, waitTime.Round(time.Second))
	}
	return &AppError{
		Code:    "TOO_MANY_REQUESTS",
		Message: message,
		Status:  http.StatusTooManyRequests,
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
