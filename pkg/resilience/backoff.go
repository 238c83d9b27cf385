package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff computes capped exponential delays with up to 20% jitter.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is used by outer loops retrying store failures.
var DefaultBackoff = Backoff{Initial: 250 * time.Millisecond, Max: 10 * time.Second}

// Delay returns the wait before retry number attempt (starting at 0).
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = DefaultBackoff.Initial
	}
	maxDelay := b.Max
	if maxDelay < initial {
		maxDelay = initial
	}

	delay := initial
	for i := 0; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/5 + 1))
	return delay - jitter
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
