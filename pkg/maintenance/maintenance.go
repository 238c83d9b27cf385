// Package maintenance holds the built-in tasks: an echo task for smoke
// testing a deployment and a lock-guarded materialized view refresh.
package maintenance

import (
	"errors"
	"fmt"

	"github.com/nimburion/taskcore/pkg/task"
)

const (
	EchoTask        = "echo"
	RefreshViewTask = "maintenance.refresh_view"
	Queue           = "maintenance"
)

var (
	// ErrInvalidArgument classifies invalid constructor arguments and payloads.
	ErrInvalidArgument = errors.New("maintenance invalid argument")
	// ErrValidation classifies unknown or malformed view names.
	ErrValidation = errors.New("maintenance validation error")
)

func maintenanceError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// Register binds the built-in tasks. refresher may be nil when no database
// is configured; the refresh task is then not registered.
func Register(registry *task.Registry, echo *Echo, refresher *ViewRefresher) error {
	if registry == nil {
		return maintenanceError(ErrInvalidArgument, "task registry is required")
	}
	if echo != nil {
		if err := registry.Register(EchoTask, echo.Handle); err != nil {
			return err
		}
	}
	if refresher != nil {
		if err := registry.Register(RefreshViewTask, refresher.Handle,
			task.WithQueue(Queue),
			task.WithTimeouts(refresher.config.SoftTimeout, refresher.config.HardTimeout),
		); err != nil {
			return err
		}
	}
	return nil
}
