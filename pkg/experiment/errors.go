package experiment

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Manager and StateStore operations. Callers
// match with errors.Is.
var (
	// ErrNotFound indicates the experiment id is unknown.
	ErrNotFound = errors.New("experiment not found")

	// ErrAlreadyRunning indicates a start was requested while a
	// supervisor task for the experiment is live.
	ErrAlreadyRunning = errors.New("experiment already running")

	// ErrNotRunning indicates a stop was requested for an experiment
	// without a live supervisor task.
	ErrNotRunning = errors.New("experiment not running")

	// ErrRunTimeout indicates the subprocess exceeded the hard runtime
	// ceiling and was killed by the supervisor.
	ErrRunTimeout = errors.New("experiment exceeded maximum runtime")
)

// ValidationError reports a rejected configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationErrorf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
