package usecase

import (
	"errors"
	"net/http"
)

var (
	// ErrMissingFilename is returned when the upload has no filename.
	ErrMissingFilename = &ValidationError{Message: "No selected image file"}
	// ErrEmptyImage is returned when the upload has no bytes.
	ErrEmptyImage = &ValidationError{Message: "Image file is empty"}
	// ErrUndecodableImage is returned when the upload is not a supported image.
	ErrUndecodableImage = &ValidationError{Message: "Image file could not be decoded"}
	// ErrImageTooLarge is returned when the image declares more pixels than allowed.
	ErrImageTooLarge = &ValidationError{Message: "Image dimensions are too large"}

	// ErrQueueFull is returned when the worker pool cannot take more jobs.
	ErrQueueFull = errors.New("task queue is full")
	// ErrPoolClosed is returned once shutdown has begun.
	ErrPoolClosed = errors.New("task queue is closed")
	// ErrStatsUnavailable is returned when no outcome log is configured.
	ErrStatsUnavailable = errors.New("task statistics are not enabled")
)

// ValidationError rejects a submission before any task exists.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidation reports whether err is a submission validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// HTTPStatus maps a Submit error onto a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusAccepted
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
