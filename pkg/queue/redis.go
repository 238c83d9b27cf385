package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/observability/tracing"
	"github.com/nimburion/taskcore/pkg/task"
)

const (
	defaultRedisPrefix           = "taskcore:queue"
	defaultRedisOperationTimeout = 3 * time.Second
	// DefaultTTL is refreshed on every enqueue so an abandoned queue key
	// eventually disappears.
	DefaultTTL = 7 * 24 * time.Hour
)

// RedisConfig configures the Redis list-backed queue.
type RedisConfig struct {
	Prefix           string
	TTL              time.Duration
	OperationTimeout time.Duration
}

func (c *RedisConfig) normalize() {
	c.Prefix = strings.TrimRight(strings.TrimSpace(c.Prefix), ":")
	if c.Prefix == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
}

// RedisQueue keeps one list per queue name: RPUSH at the tail, BLPOP at the head.
type RedisQueue struct {
	client *redis.Client
	log    logger.Logger
	config RedisConfig
}

// NewRedisQueue builds a queue on the shared store client.
func NewRedisQueue(client *redis.Client, cfg RedisConfig, log logger.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, queueError(ErrInvalidArgument, "redis client is required")
	}
	if log == nil {
		return nil, queueError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()
	return &RedisQueue{
		client: client,
		log:    log,
		config: cfg,
	}, nil
}

// Enqueue appends the invocation and refreshes the list expiry in one
// MULTI/EXEC round trip.
func (q *RedisQueue) Enqueue(ctx context.Context, queueName, taskName string, payload any) (*task.Invocation, error) {
	if err := q.ensureReady(); err != nil {
		return nil, err
	}
	if ctx == nil {
		return nil, queueError(ErrInvalidArgument, "context is required")
	}
	queueName = strings.TrimSpace(queueName)

	ctx, span := tracing.StartTaskSpan(ctx, tracing.SpanOperationEnqueue,
		tracing.WithTask(taskName),
		tracing.WithQueue(queueName),
	)
	defer span.End()

	inv, err := newInvocation(ctx, queueName, taskName, payload)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	encoded, err := inv.Encode()
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracing.InvocationAttributes(inv.ID, len(encoded))...)

	opCtx, cancel := q.operationContext(ctx)
	defer cancel()

	key := q.listKey(queueName)
	_, err = q.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.RPush(opCtx, key, encoded)
		pipe.Expire(opCtx, key, q.config.TTL)
		return nil
	})
	recordEnqueue(queueName, err)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, storeError("enqueue failed", err)
	}
	tracing.RecordSuccess(span)

	q.log.Debug("invocation enqueued",
		"queue", queueName,
		"task", inv.Task,
		"invocation_id", inv.ID,
	)
	return inv, nil
}

// Dequeue blocks on BLPOP across all queueNames. Earlier names win when more
// than one queue has work.
func (q *RedisQueue) Dequeue(ctx context.Context, queueNames []string, timeout time.Duration) (*task.Invocation, error) {
	if err := q.ensureReady(); err != nil {
		return nil, err
	}
	if ctx == nil {
		return nil, queueError(ErrInvalidArgument, "context is required")
	}
	names, err := normalizeQueueNames(queueNames)
	if err != nil {
		return nil, err
	}
	timeout = normalizeDequeueTimeout(timeout)

	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = q.listKey(name)
	}

	// The store answers after timeout; leave room for the round trip on top.
	popCtx, cancel := context.WithTimeout(ctx, timeout+q.config.OperationTimeout)
	defer cancel()

	result, err := q.client.BLPop(popCtx, timeout, keys...).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		recordDequeue(strings.Join(names, ","), "error")
		return nil, storeError("dequeue failed", err)
	case len(result) != 2:
		return nil, storeError("dequeue failed", errors.New("unexpected BLPOP reply"))
	}

	queueName := q.queueName(result[0])
	inv, err := task.DecodeInvocation([]byte(result[1]))
	if err != nil {
		recordDequeue(queueName, "malformed")
		q.log.Warn("discarding malformed queued invocation", "queue", queueName, "error", err)
		return nil, nil
	}
	recordDequeue(queueName, "ok")
	return inv, nil
}

// Len returns LLEN of the queue list.
func (q *RedisQueue) Len(ctx context.Context, queueName string) (int64, error) {
	if err := q.ensureReady(); err != nil {
		return 0, err
	}
	queueName = strings.TrimSpace(queueName)
	if queueName == "" {
		return 0, queueError(ErrInvalidArgument, "queue name is required")
	}

	opCtx, cancel := q.operationContext(ctx)
	defer cancel()

	n, err := q.client.LLen(opCtx, q.listKey(queueName)).Result()
	if err != nil {
		return 0, storeError("len failed", err)
	}
	return n, nil
}

// Peek reads up to n entries from the head with LRANGE. Malformed entries are skipped.
func (q *RedisQueue) Peek(ctx context.Context, queueName string, n int64) ([]*task.Invocation, error) {
	if err := q.ensureReady(); err != nil {
		return nil, err
	}
	queueName = strings.TrimSpace(queueName)
	if queueName == "" {
		return nil, queueError(ErrInvalidArgument, "queue name is required")
	}
	if n <= 0 {
		return []*task.Invocation{}, nil
	}

	opCtx, cancel := q.operationContext(ctx)
	defer cancel()

	raw, err := q.client.LRange(opCtx, q.listKey(queueName), 0, n-1).Result()
	if err != nil {
		return nil, storeError("peek failed", err)
	}
	out := make([]*task.Invocation, 0, len(raw))
	for _, entry := range raw {
		inv, err := task.DecodeInvocation([]byte(entry))
		if err != nil {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (q *RedisQueue) ensureReady() error {
	if q == nil || q.client == nil {
		return queueError(ErrNotInitialized, "redis queue is not initialized")
	}
	return nil
}

func (q *RedisQueue) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, q.config.OperationTimeout)
}

func (q *RedisQueue) listKey(queueName string) string {
	return q.config.Prefix + ":" + queueName
}

func (q *RedisQueue) queueName(key string) string {
	return strings.TrimPrefix(key, q.config.Prefix+":")
}
