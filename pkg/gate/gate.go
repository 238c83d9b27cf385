// Package gate implements the fleet-wide pre-execution veto consulted by
// workers before every invocation.
package gate

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies caller mistakes.
	ErrInvalidArgument = errors.New("gate invalid argument")
	// ErrRetryable marks store failures while reading or writing the flag.
	ErrRetryable = errors.New("gate retryable error")
)

func gateError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// Gate reports whether task execution is currently prevented. It is called
// once per dequeued invocation and must stay cheap.
type Gate interface {
	ShouldPrevent(ctx context.Context) (bool, error)
}

// Func adapts a function to Gate.
type Func func(ctx context.Context) (bool, error)

// ShouldPrevent calls f.
func (f Func) ShouldPrevent(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Static is a Gate with a fixed answer.
type Static bool

// ShouldPrevent returns the fixed answer.
func (s Static) ShouldPrevent(context.Context) (bool, error) {
	return bool(s), nil
}

// Open never prevents execution.
var Open Gate = Static(false)
