package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/taskcore/pkg/observability/logger"
)

const (
	defaultRedisPrefix           = "taskcore:lock"
	defaultRedisOperationTimeout = 3 * time.Second
	redisBackend                 = "redis"
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisConfig configures the Redis locker.
type RedisConfig struct {
	Prefix           string
	OperationTimeout time.Duration
}

func (c *RedisConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
}

// RedisLocker holds locks as plain keys created with SET NX PX and removed by
// a compare-and-delete script.
type RedisLocker struct {
	client *redis.Client
	log    logger.Logger
	config RedisConfig
}

// NewRedisLocker builds a locker on the shared store client.
func NewRedisLocker(client *redis.Client, cfg RedisConfig, log logger.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, lockError(ErrInvalidArgument, "redis client is required")
	}
	if log == nil {
		return nil, lockError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()
	return &RedisLocker{
		client: client,
		log:    log,
		config: cfg,
	}, nil
}

// Acquire attempts SET key token NX PX ttl once.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, lockError(ErrNotInitialized, "redis locker is not initialized")
	}
	key = strings.TrimSpace(key)
	if err := validateAcquire(key, ttl); err != nil {
		return "", false, err
	}

	token := newToken()
	opCtx, cancel := l.operationContext(ctx)
	defer cancel()

	acquired, err := l.client.SetNX(opCtx, l.fullKey(key), token, ttl).Result()
	recordAcquire(redisBackend, acquired, err)
	if err != nil {
		return "", false, errors.Join(lockError(ErrRetryable, "acquire lock failed"), err)
	}
	if !acquired {
		l.log.Debug("lock held elsewhere", "key", key)
		return "", false, nil
	}
	return token, true, nil
}

// Release runs the compare-and-delete script.
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return lockError(ErrNotInitialized, "redis locker is not initialized")
	}
	key = strings.TrimSpace(key)
	token = strings.TrimSpace(token)
	if err := validateHeld(key, token); err != nil {
		return err
	}

	opCtx, cancel := l.operationContext(ctx)
	defer cancel()

	deleted, err := releaseScript.Run(opCtx, l.client, []string{l.fullKey(key)}, token).Int64()
	recordRelease(redisBackend, deleted > 0, err)
	if err != nil {
		return errors.Join(lockError(ErrRetryable, "release lock failed"), err)
	}
	if deleted == 0 {
		l.log.Debug("lock already released or expired", "key", key)
	}
	return nil
}

// Renew runs the compare-and-pexpire script.
func (l *RedisLocker) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, lockError(ErrNotInitialized, "redis locker is not initialized")
	}
	key = strings.TrimSpace(key)
	token = strings.TrimSpace(token)
	if err := validateHeld(key, token); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, lockError(ErrInvalidArgument, "ttl must be > 0")
	}

	opCtx, cancel := l.operationContext(ctx)
	defer cancel()

	result, err := renewScript.Run(opCtx, l.client, []string{l.fullKey(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, errors.Join(lockError(ErrRetryable, "renew lock failed"), err)
	}
	return result == 1, nil
}

// HealthCheck pings the store.
func (l *RedisLocker) HealthCheck(ctx context.Context) error {
	if l == nil || l.client == nil {
		return lockError(ErrNotInitialized, "redis locker is not initialized")
	}
	opCtx, cancel := l.operationContext(ctx)
	defer cancel()
	if err := l.client.Ping(opCtx).Err(); err != nil {
		return errors.Join(lockError(ErrRetryable, "redis healthcheck failed"), err)
	}
	return nil
}

func (l *RedisLocker) fullKey(key string) string {
	return strings.TrimRight(l.config.Prefix, ":") + ":" + key
}

func (l *RedisLocker) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, l.config.OperationTimeout)
}
