package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/taskcore/pkg/testutil"
)

func TestRedisConfig_NormalizeDefaults(t *testing.T) {
	cfg := RedisConfig{}
	cfg.normalize()
	if cfg.Prefix != defaultRedisPrefix {
		t.Fatalf("expected default prefix %q, got %q", defaultRedisPrefix, cfg.Prefix)
	}
	if cfg.OperationTimeout != defaultRedisOperationTimeout {
		t.Fatalf("expected default timeout %v, got %v", defaultRedisOperationTimeout, cfg.OperationTimeout)
	}
}

func TestNewRedisLocker_RequiresDependencies(t *testing.T) {
	if _, err := NewRedisLocker(nil, RedisConfig{}, &lockTestLogger{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument without client, got %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	if _, err := NewRedisLocker(client, RedisConfig{}, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument without logger, got %v", err)
	}
}

func TestRedisLocker_StoreUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	locker, err := NewRedisLocker(client, RedisConfig{OperationTimeout: 200 * time.Millisecond}, &lockTestLogger{})
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}
	if _, _, err := locker.Acquire(context.Background(), "job", time.Second); !errors.Is(err, ErrRetryable) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func newIntegrationRedisLocker(t *testing.T) (*RedisLocker, *redis.Client) {
	t.Helper()
	url := testutil.StartRedis(t)
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	locker, err := NewRedisLocker(client, RedisConfig{Prefix: "it:lock"}, &lockTestLogger{})
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}
	return locker, client
}

func TestRedisLocker_Integration(t *testing.T) {
	locker, client := newIntegrationRedisLocker(t)
	ctx := context.Background()

	t.Run("exclusive and compare-and-delete", func(t *testing.T) {
		token, ok, err := locker.Acquire(ctx, "exclusive", time.Minute)
		if err != nil || !ok {
			t.Fatalf("acquire: ok=%v err=%v", ok, err)
		}
		if _, ok, _ := locker.Acquire(ctx, "exclusive", time.Minute); ok {
			t.Fatal("expected contention")
		}
		if err := locker.Release(ctx, "exclusive", "foreign"); err != nil {
			t.Fatalf("foreign release should be a no-op: %v", err)
		}
		stored, err := client.Get(ctx, "it:lock:exclusive").Result()
		if err != nil || stored != token {
			t.Fatalf("expected key to keep token %q, got %q (%v)", token, stored, err)
		}
		if err := locker.Release(ctx, "exclusive", token); err != nil {
			t.Fatalf("release: %v", err)
		}
		if exists, _ := client.Exists(ctx, "it:lock:exclusive").Result(); exists != 0 {
			t.Fatal("expected key deleted after release")
		}
	})

	t.Run("concurrent holders", func(t *testing.T) {
		var (
			mu      sync.Mutex
			winners int
			wg      sync.WaitGroup
		)
		for idx := 0; idx < 16; idx++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok, err := locker.Acquire(ctx, "contended", time.Minute); err == nil && ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if winners != 1 {
			t.Fatalf("expected exactly one winner, got %d", winners)
		}
	})

	t.Run("self expiry", func(t *testing.T) {
		if _, ok, _ := locker.Acquire(ctx, "expiring", time.Second); !ok {
			t.Fatal("expected acquire")
		}
		time.Sleep(400 * time.Millisecond)
		if _, ok, _ := locker.Acquire(ctx, "expiring", time.Second); ok {
			t.Fatal("lock acquirable before ttl elapsed")
		}
		time.Sleep(800 * time.Millisecond)
		if _, ok, _ := locker.Acquire(ctx, "expiring", time.Second); !ok {
			t.Fatal("lock not acquirable after ttl elapsed")
		}
	})

	t.Run("renew", func(t *testing.T) {
		token, _, _ := locker.Acquire(ctx, "renewed", time.Second)
		renewed, err := locker.Renew(ctx, "renewed", token, time.Minute)
		if err != nil || !renewed {
			t.Fatalf("renew: renewed=%v err=%v", renewed, err)
		}
		ttl, _ := client.PTTL(ctx, "it:lock:renewed").Result()
		if ttl < 30*time.Second {
			t.Fatalf("expected ttl extended, got %v", ttl)
		}
		if renewed, _ := locker.Renew(ctx, "renewed", "foreign", time.Minute); renewed {
			t.Fatal("foreign token must not renew")
		}
	})

	t.Run("maintenance job across two workers", func(t *testing.T) {
		if testing.Short() {
			t.Skip("sleeps past the lock ttl")
		}
		results := make(chan bool, 2)
		var wg sync.WaitGroup
		for worker := 0; worker < 2; worker++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := locker.Acquire(ctx, "maintenance-job", 5*time.Second)
				if err != nil {
					t.Errorf("acquire: %v", err)
				}
				results <- ok
			}()
		}
		wg.Wait()
		close(results)

		successes := 0
		for ok := range results {
			if ok {
				successes++
			}
		}
		if successes != 1 {
			t.Fatalf("expected exactly one holder, got %d", successes)
		}

		time.Sleep(6 * time.Second)
		if _, ok, _ := locker.Acquire(ctx, "maintenance-job", 5*time.Second); !ok {
			t.Fatal("expected maintenance-job acquirable after 6s")
		}
	})
}
