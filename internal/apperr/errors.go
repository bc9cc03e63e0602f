// Package apperr holds the error taxonomy shared by the command, scheduler and
// storage layers. Errors are plain sentinels; callers wrap them with context and
// classify with errors.Is or Kind.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed user input (bad time, missing arguments).
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a reference to a job or room that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an operation on a job owned by another room.
	ErrForbidden = errors.New("forbidden")
	// ErrCollaborator marks a transport, AI or transcription failure.
	ErrCollaborator = errors.New("collaborator error")
	// ErrStorage marks a persistence I/O failure.
	ErrStorage = errors.New("storage error")
)

// Kind returns a short classification label for logs and status output.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrCollaborator):
		return "collaborator"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

// Validation wraps a user-facing corrective message as ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Collaborator tags err as a collaborator failure of the named dependency.
func Collaborator(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrCollaborator, name, err)
}

// Storage tags err as a persistence failure.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Message strips the sentinel prefix from a validation error so the remaining
// text can be shown to a user as-is.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")
}
