package lock

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryLocker is a process-local Locker with the same atomic contract as the
// store-backed lockers. It is meant for tests and single-process tools.
type MemoryLocker struct {
	mu    sync.Mutex
	now   func() time.Time
	locks map[string]memoryLock
}

type memoryLock struct {
	token    string
	expireAt time.Time
}

// NewMemoryLocker returns an empty in-memory locker using the wall clock.
func NewMemoryLocker() *MemoryLocker {
	return NewMemoryLockerWithClock(time.Now)
}

// NewMemoryLockerWithClock lets tests control expiry.
func NewMemoryLockerWithClock(now func() time.Time) *MemoryLocker {
	if now == nil {
		now = time.Now
	}
	return &MemoryLocker{
		now:   now,
		locks: map[string]memoryLock{},
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	key = strings.TrimSpace(key)
	if err := validateAcquire(key, ttl); err != nil {
		return "", false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, ok := l.locks[key]; ok && now.Before(current.expireAt) {
		return "", false, nil
	}
	token := newToken()
	l.locks[key] = memoryLock{token: token, expireAt: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	key = strings.TrimSpace(key)
	token = strings.TrimSpace(token)
	if err := validateHeld(key, token); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.locks[key]; ok && current.token == token {
		delete(l.locks, key)
	}
	return nil
}

func (l *MemoryLocker) Renew(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	key = strings.TrimSpace(key)
	token = strings.TrimSpace(token)
	if err := validateHeld(key, token); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, lockError(ErrInvalidArgument, "ttl must be > 0")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	current, ok := l.locks[key]
	if !ok || current.token != token || !now.Before(current.expireAt) {
		return false, nil
	}
	current.expireAt = now.Add(ttl)
	l.locks[key] = current
	return true, nil
}

// Held reports whether key currently has a live holder.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.locks[strings.TrimSpace(key)]
	return ok && l.now().Before(current.expireAt)
}
