package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoSteps is returned when a pipeline resolves to an empty step list
var ErrNoSteps = errors.New("nothing to run for this location")

// SetupError wraps a context builder failure. No job is created for it.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return e.Err.Error()
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// IsSetupError reports whether err happened while preparing a pipeline
func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}

// UserError carries a stable, human readable message that is safe to show
// as a warning in place of the underlying provider error.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// UserErrorf wraps cause with a formatted user-facing message
func UserErrorf(cause error, format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...), Err: cause}
}

// WarningFor returns the message recorded when a step with the given label fails
func WarningFor(label string, err error) string {
	var ue *UserError
	if errors.As(err, &ue) && ue.Message != "" {
		return ue.Message
	}
	return label + " failed"
}

// panicError is returned by a step body that panicked
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("step panicked: %v", e.value)
}
