// Package lock provides a named, time-bounded mutual-exclusion lock shared
// across processes through an atomic store.
//
// A lock is held by whoever presents the token returned by Acquire. Tokens are
// random per acquisition, so a holder whose lock expired and was re-acquired by
// someone else can never release or renew the new holder's lock.
package lock

import (
	"context"
	"time"
)

// Locker is the capability every lock backend implements.
type Locker interface {
	// Acquire makes a single non-blocking attempt to create key with a fresh
	// token that expires after ttl. ok is false when another holder is present.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Release deletes key only if it still holds token. Releasing an expired
	// or foreign lock is a no-op.
	Release(ctx context.Context, key, token string) error

	// Renew extends the expiry of a lock still held with token. It reports
	// false when the lock is gone or owned by someone else.
	Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}
