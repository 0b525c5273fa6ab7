// Package errors provides error codes and sentinels for the attendance pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a stable error code surfaced to the host UI layer.
type ErrorCode string

const (
	// General errors
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrInvalid      ErrorCode = "INVALID_INPUT"
	ErrNotFoundCode ErrorCode = "NOT_FOUND"

	// Storage errors
	ErrStorage         ErrorCode = "STORAGE_ERROR"
	ErrStorageFallback ErrorCode = "STORAGE_FALLBACK_USED"
	ErrDurabilityLost  ErrorCode = "DURABILITY_LOST"

	// Capture errors
	ErrCaptureFailed   ErrorCode = "CAPTURE_FAILED"
	ErrWatermarkFailed ErrorCode = "WATERMARK_FAILED"
	ErrQueueFull       ErrorCode = "QUEUE_FULL"

	// Sync errors
	ErrOfflineCode    ErrorCode = "OFFLINE"
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrUploadFailed   ErrorCode = "UPLOAD_FAILED"
	ErrSubmitFailed   ErrorCode = "EVENT_SUBMIT_FAILED"
	ErrAttachFailed   ErrorCode = "PHOTO_ATTACH_FAILED"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"

	// Clock errors
	ErrClockUntrusted ErrorCode = "CLOCK_UNTRUSTED"
)

// Sentinels for control flow across layers, usable with errors.Is.
var (
	// ErrNotFound indicates the requested record or blob does not exist.
	ErrNotFound = stderrors.New("not found")

	// ErrOffline indicates a sync was attempted without connectivity.
	ErrOffline = stderrors.New("no network connection")

	// ErrSyncInFlight indicates another sync pass is already running.
	ErrSyncInFlight = stderrors.New("sync already in progress")
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is checks if an error carries a specific code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
