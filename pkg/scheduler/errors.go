package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies entry and configuration validation failures.
	ErrValidation = errors.New("scheduler validation error")
	// ErrConflict classifies duplicate entries and double starts.
	ErrConflict = errors.New("scheduler conflict")
	// ErrInvalidArgument classifies invalid constructor arguments.
	ErrInvalidArgument = errors.New("scheduler invalid argument")
	// ErrNotInitialized classifies calls on a nil runtime.
	ErrNotInitialized = errors.New("scheduler not initialized")
	// ErrRetryable classifies claim and enqueue failures the next tick may recover from.
	ErrRetryable = errors.New("scheduler retryable error")
)

func schedulerError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
