package lock

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidArgument classifies bad keys, tokens and ttls.
	ErrInvalidArgument = errors.New("lock invalid argument")
	// ErrNotInitialized classifies calls on a nil or unconfigured locker.
	ErrNotInitialized = errors.New("lock not initialized")
	// ErrRetryable classifies store failures; the store is expected to recover.
	ErrRetryable = errors.New("lock retryable error")
	// ErrValidation classifies bad configuration.
	ErrValidation = errors.New("lock validation error")
	// ErrLockLost is the cancellation cause seen by a guarded function whose
	// lock was taken over before it finished.
	ErrLockLost = errors.New("lock lost")
)

func lockError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

func validateAcquire(key string, ttl time.Duration) error {
	if key == "" {
		return lockError(ErrInvalidArgument, "lock key is required")
	}
	if ttl <= 0 {
		return lockError(ErrInvalidArgument, "ttl must be > 0")
	}
	return nil
}

func validateHeld(key, token string) error {
	if key == "" || token == "" {
		return lockError(ErrInvalidArgument, "lock key and token are required")
	}
	return nil
}
