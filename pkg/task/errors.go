package task

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no task is registered under a name.
	ErrNotFound = errors.New("task not found")
	// ErrValidation classifies malformed definitions and invocations.
	ErrValidation = errors.New("task validation error")
)

func taskError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
