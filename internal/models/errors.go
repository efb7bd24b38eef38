package models

import (
	"github.com/pkg/errors"
)

var (
	// ErrValidation marks bad, user-correctable input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a job that does not exist or is not owned by the caller.
	ErrNotFound = errors.New("download not found")
	// ErrConflict marks a lost claim race; the scheduler retries it.
	ErrConflict = errors.New("claim conflict")
)

// TransientWorkerError is a fetch failure worth another attempt within the retry budget.
type TransientWorkerError struct {
	Err error
}

func (e *TransientWorkerError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientWorkerError) Unwrap() error { return e.Err }

// TerminalWorkerError is a fetch failure that fails the job outright.
type TerminalWorkerError struct {
	Err error
}

func (e *TerminalWorkerError) Error() string { return e.Err.Error() }
func (e *TerminalWorkerError) Unwrap() error { return e.Err }

// ValidationError carries the user facing reason and matches ErrValidation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string        { return e.Msg }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(msg string) error {
	return &ValidationError{Msg: msg}
}

func IsTransient(err error) bool {
	var t *TransientWorkerError
	return errors.As(err, &t)
}
