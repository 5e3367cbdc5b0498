package pipeline

import (
	"errors"
	"fmt"
)

// Error is returned by the pipeline's public operations.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes pipeline errors.
type ErrorCode string

const (
	// ErrCodeStopped means Run has returned and no more messages are accepted.
	ErrCodeStopped ErrorCode = "PIPELINE_STOPPED"

	// ErrCodeInvalidFix means a fix was rejected before entering the queue.
	ErrCodeInvalidFix ErrorCode = "INVALID_FIX"

	// ErrCodeInvalidDirection means an expected-direction request carried
	// neither a direction nor a usable train identifier.
	ErrCodeInvalidDirection ErrorCode = "INVALID_DIRECTION"
)

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsStoppedError reports whether err is (or wraps) a stopped-pipeline error.
func IsStoppedError(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == ErrCodeStopped
}

// IsInvalidFixError reports whether err is (or wraps) an invalid-fix error.
func IsInvalidFixError(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == ErrCodeInvalidFix
}

func errStopped() *Error {
	return &Error{Code: ErrCodeStopped, Message: "pipeline is not running"}
}

func newInvalidFixError(lat, lon float64) *Error {
	return &Error{
		Code:    ErrCodeInvalidFix,
		Message: fmt.Sprintf("coordinates (%v, %v) outside [-90,90]x[-180,180]", lat, lon),
		Details: map[string]string{
			"lat": fmt.Sprintf("%v", lat),
			"lon": fmt.Sprintf("%v", lon),
		},
	}
}
