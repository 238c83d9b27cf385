package inspect

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies invalid constructor arguments.
	ErrInvalidArgument = errors.New("inspect invalid argument")
	// ErrPartial marks a snapshot where some sections could not be read.
	ErrPartial = errors.New("inspect partial snapshot")
)

func inspectError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
