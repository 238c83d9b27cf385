package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSoftTimeout is the cancellation cause delivered to a function whose
	// soft deadline passed.
	ErrSoftTimeout = errors.New("soft timeout exceeded")
	// ErrHardTimeout is reported when the supervisor stops waiting.
	ErrHardTimeout = errors.New("hard timeout exceeded")
)

// Limits are the two deadlines of a supervised run. Zero disables a tier.
type Limits struct {
	Soft time.Duration
	Hard time.Duration
}

// Supervision describes how a supervised run ended.
type Supervision struct {
	Err error
	// SoftTripped is set when the soft deadline passed before fn returned.
	SoftTripped bool
	// Abandoned is set when the hard deadline passed; fn may still be running.
	Abandoned bool
	// Done is closed when fn actually returns, even after abandonment.
	Done <-chan struct{}
}

// PanicError wraps a value recovered from a supervised function.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Supervise runs fn under two deadlines. At the soft deadline fn's context is
// cancelled with cause ErrSoftTimeout and onSoft is called. At the hard
// deadline Supervise returns without waiting for fn. A goroutine cannot be
// killed, so an abandoned fn keeps running until it observes its context.
func Supervise(ctx context.Context, limits Limits, fn func(context.Context) error, onSoft func()) Supervision {
	runCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	result := make(chan error, 1)

	go func() {
		defer close(done)
		defer func() {
			if recovered := recover(); recovered != nil {
				result <- &PanicError{Value: recovered}
			}
		}()
		result <- fn(runCtx)
	}()

	var softC, hardC <-chan time.Time
	if limits.Soft > 0 {
		softTimer := time.NewTimer(limits.Soft)
		defer softTimer.Stop()
		softC = softTimer.C
	}
	if limits.Hard > 0 {
		hardTimer := time.NewTimer(limits.Hard)
		defer hardTimer.Stop()
		hardC = hardTimer.C
	}

	out := Supervision{Done: done}
	for {
		select {
		case err := <-result:
			cancel(nil)
			out.Err = err
			return out
		case <-softC:
			softC = nil
			out.SoftTripped = true
			cancel(ErrSoftTimeout)
			if onSoft != nil {
				onSoft()
			}
		case <-hardC:
			cancel(ErrHardTimeout)
			out.Err = ErrHardTimeout
			out.Abandoned = true
			return out
		}
	}
}
