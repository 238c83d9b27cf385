package stats

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/task"
)

const (
	defaultPrefix           = "taskcore"
	defaultOperationTimeout = 3 * time.Second
)

// RedisConfig configures key layout.
type RedisConfig struct {
	Prefix           string
	OperationTimeout time.Duration
}

func (c *RedisConfig) normalize() {
	c.Prefix = strings.TrimRight(strings.TrimSpace(c.Prefix), ":")
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
}

// RedisRecorder stores counters with INCRBY and bookkeeping hashes with HSET.
type RedisRecorder struct {
	client *redis.Client
	log    logger.Logger
	config RedisConfig
}

// NewRedisRecorder builds a recorder on the shared store client.
func NewRedisRecorder(client *redis.Client, cfg RedisConfig, log logger.Logger) (*RedisRecorder, error) {
	if client == nil {
		return nil, statsError(ErrInvalidArgument, "redis client is required")
	}
	if log == nil {
		return nil, statsError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()
	return &RedisRecorder{client: client, log: log, config: cfg}, nil
}

// RecordOutcome increments the counter for (taskName, outcome).
func (r *RedisRecorder) RecordOutcome(ctx context.Context, taskName string, outcome task.Outcome) error {
	if strings.TrimSpace(taskName) == "" {
		return statsError(ErrInvalidArgument, "task name is required")
	}
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()

	if err := r.client.IncrBy(opCtx, r.counterKey(taskName, outcome), 1).Err(); err != nil {
		return errors.Join(statsError(ErrRetryable, "increment counter"), err)
	}
	return nil
}

// RecordDispatch stores the due minute last dispatched for entry.
func (r *RedisRecorder) RecordDispatch(ctx context.Context, entry string, minute time.Time) error {
	if strings.TrimSpace(entry) == "" {
		return statsError(ErrInvalidArgument, "entry name is required")
	}
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()

	if err := r.client.HSet(opCtx, r.dispatchKey(), entry, minute.UTC().Format(time.RFC3339)).Err(); err != nil {
		return errors.Join(statsError(ErrRetryable, "record dispatch"), err)
	}
	return nil
}

// Heartbeat publishes hb under its worker ID.
func (r *RedisRecorder) Heartbeat(ctx context.Context, hb Heartbeat) error {
	if strings.TrimSpace(hb.ID) == "" {
		return statsError(ErrInvalidArgument, "worker id is required")
	}
	encoded, err := json.Marshal(hb)
	if err != nil {
		return statsError(ErrInvalidArgument, "encode heartbeat: "+err.Error())
	}
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()

	if err := r.client.HSet(opCtx, r.workersKey(), hb.ID, encoded).Err(); err != nil {
		return errors.Join(statsError(ErrRetryable, "write heartbeat"), err)
	}
	return nil
}

// RemoveWorker deletes a worker's heartbeat.
func (r *RedisRecorder) RemoveWorker(ctx context.Context, workerID string) error {
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()

	if err := r.client.HDel(opCtx, r.workersKey(), workerID).Err(); err != nil {
		return errors.Join(statsError(ErrRetryable, "remove heartbeat"), err)
	}
	return nil
}

// Counters reads every (task, outcome) counter for taskNames in one pipeline.
func (r *RedisRecorder) Counters(ctx context.Context, taskNames []string) (Counters, error) {
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()

	outcomes := task.Outcomes()
	cmds := make(map[string]map[task.Outcome]*redis.StringCmd, len(taskNames))
	_, err := r.client.Pipelined(opCtx, func(pipe redis.Pipeliner) error {
		for _, name := range taskNames {
			byOutcome := make(map[task.Outcome]*redis.StringCmd, len(outcomes))
			for _, outcome := range outcomes {
				byOutcome[outcome] = pipe.Get(opCtx, r.counterKey(name, outcome))
			}
			cmds[name] = byOutcome
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Join(statsError(ErrRetryable, "read counters"), err)
	}

	out := make(Counters, len(cmds))
	for name, byOutcome := range cmds {
		counts := make(map[task.Outcome]int64, len(byOutcome))
		for outcome, cmd := range byOutcome {
			value, cmdErr := cmd.Result()
			if cmdErr != nil {
				counts[outcome] = 0
				continue
			}
			counts[outcome] = cast.ToInt64(value)
		}
		out[name] = counts
	}
	return out, nil
}

// LastDispatches returns entry name to last dispatched minute.
func (r *RedisRecorder) LastDispatches(ctx context.Context) (map[string]time.Time, error) {
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()

	raw, err := r.client.HGetAll(opCtx, r.dispatchKey()).Result()
	if err != nil {
		return nil, errors.Join(statsError(ErrRetryable, "read dispatches"), err)
	}
	out := make(map[string]time.Time, len(raw))
	for entry, value := range raw {
		minute, parseErr := cast.ToTimeE(value)
		if parseErr != nil {
			r.log.Warn("ignoring malformed dispatch record", "entry", entry, "value", value)
			continue
		}
		out[entry] = minute.UTC()
	}
	return out, nil
}

// Workers returns every published heartbeat, ordered by worker ID.
func (r *RedisRecorder) Workers(ctx context.Context) ([]Heartbeat, error) {
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()

	raw, err := r.client.HGetAll(opCtx, r.workersKey()).Result()
	if err != nil {
		return nil, errors.Join(statsError(ErrRetryable, "read heartbeats"), err)
	}
	out := make([]Heartbeat, 0, len(raw))
	for id, value := range raw {
		var hb Heartbeat
		if err := json.Unmarshal([]byte(value), &hb); err != nil {
			r.log.Warn("ignoring malformed heartbeat", "worker_id", id, "error", err)
			continue
		}
		out = append(out, hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *RedisRecorder) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, r.config.OperationTimeout)
}

func (r *RedisRecorder) counterKey(taskName string, outcome task.Outcome) string {
	return r.config.Prefix + ":stats:" + taskName + ":" + string(outcome)
}

func (r *RedisRecorder) dispatchKey() string {
	return r.config.Prefix + ":schedule:last"
}

func (r *RedisRecorder) workersKey() string {
	return r.config.Prefix + ":workers"
}
