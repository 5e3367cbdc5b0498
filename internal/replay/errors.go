package replay

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes replay failures.
type ErrorCode string

const (
	// ErrCodeUnreachable means the source could not be opened or read.
	ErrCodeUnreachable ErrorCode = "SOURCE_UNREACHABLE"

	// ErrCodeEmpty means the source held no usable fix record.
	ErrCodeEmpty ErrorCode = "SOURCE_EMPTY"

	// ErrCodeUnsupported means the URI scheme is not known.
	ErrCodeUnsupported ErrorCode = "SOURCE_UNSUPPORTED"

	// ErrCodeInvalidSpeed means the speed multiplier is not a positive
	// finite number.
	ErrCodeInvalidSpeed ErrorCode = "INVALID_SPEED"
)

// SourceError is returned when a replay cannot start. It is surfaced once;
// the replay never begins.
type SourceError struct {
	Code ErrorCode
	URI  string
	Err  error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.URI, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.URI)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsSourceError reports whether err is (or wraps) a SourceError.
func IsSourceError(err error) bool {
	var se *SourceError
	return errors.As(err, &se)
}

// SourceErrorCode returns the code of a wrapped SourceError, or "".
func SourceErrorCode(err error) ErrorCode {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
