package worker

import (
	"errors"
	"fmt"

	"github.com/nimburion/taskcore/pkg/resilience"
)

var (
	// ErrInvalidArgument classifies invalid constructor arguments and config.
	ErrInvalidArgument = errors.New("worker invalid argument")
	// ErrNotInitialized classifies calls on a nil worker.
	ErrNotInitialized = errors.New("worker not initialized")
	// ErrConflict classifies double starts.
	ErrConflict = errors.New("worker conflict")

	// ErrSoftTimeout is the cancellation cause a handler observes once its
	// soft timeout passes.
	ErrSoftTimeout = resilience.ErrSoftTimeout
	// ErrHardTimeout is recorded on results whose execution was abandoned.
	ErrHardTimeout = resilience.ErrHardTimeout
)

func workerError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
