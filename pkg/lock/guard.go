package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// WithLock runs fn while holding key. When another holder owns the lock it
// returns (false, nil) without running fn; callers treat that as "skip this
// run". The lock is released on every path, including a panic in fn.
//
// While fn runs the lock is renewed every ttl/3, so ttl only has to cover a
// crashed holder, not the slowest run. If a renewal finds the lock taken over,
// fn's context is cancelled with cause ErrLockLost and the returned error
// carries ErrLockLost.
func WithLock(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(context.Context) error) (ran bool, err error) {
	if locker == nil {
		return false, lockError(ErrNotInitialized, "locker is required")
	}
	if fn == nil {
		return false, lockError(ErrInvalidArgument, "function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	token, ok, err := locker.Acquire(ctx, key, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	holdCtx, cancel := context.WithCancelCause(ctx)
	var (
		wg   sync.WaitGroup
		lost bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		lost = keepAlive(holdCtx, locker, key, token, ttl)
		if lost {
			cancel(ErrLockLost)
		}
	}()

	defer func() {
		cancel(nil)
		wg.Wait()
		if lost {
			err = errors.Join(err, lockError(ErrLockLost, key))
		}
		// Detached so a cancelled ctx still releases.
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRedisOperationTimeout)
		defer releaseCancel()
		if releaseErr := locker.Release(releaseCtx, key, token); releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
	}()

	return true, fn(holdCtx)
}

// keepAlive renews key until ctx ends. It reports true when a renewal found
// the lock no longer held with token. Store errors are retried on the next
// tick; the lock survives them until ttl runs out.
func keepAlive(ctx context.Context, locker Locker, key, token string, ttl time.Duration) bool {
	interval := ttl / 3
	if interval <= 0 {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		renewCtx, cancel := context.WithTimeout(ctx, defaultRedisOperationTimeout)
		renewed, err := locker.Renew(renewCtx, key, token, ttl)
		cancel()
		if err != nil {
			continue
		}
		if !renewed {
			return ctx.Err() == nil
		}
	}
}
