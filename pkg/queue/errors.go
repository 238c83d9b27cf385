package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies caller mistakes.
	ErrInvalidArgument = errors.New("queue invalid argument")
	// ErrNotInitialized is returned by zero-value queues.
	ErrNotInitialized = errors.New("queue not initialized")
	// ErrRetryable marks store failures the caller may retry.
	ErrRetryable = errors.New("queue retryable error")
)

func queueError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

func storeError(op string, err error) error {
	return errors.Join(queueError(ErrRetryable, op), err)
}
