package gate

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/taskcore/pkg/observability/logger"
)

const (
	// DefaultKey is the well-known kill switch key.
	DefaultKey                   = "taskcore:gate:disabled"
	defaultRedisOperationTimeout = time.Second
)

// FlagConfig configures the store-backed kill switch.
type FlagConfig struct {
	Key              string
	OperationTimeout time.Duration
}

func (c *FlagConfig) normalize() {
	c.Key = strings.TrimSpace(c.Key)
	if c.Key == "" {
		c.Key = DefaultKey
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
}

// Status is the current state of the kill switch.
type Status struct {
	Engaged bool   `json:"engaged"`
	Reason  string `json:"reason,omitempty"`
}

// FlagGate prevents execution while its key exists in the store. A value
// that parses as false ("0", "false") leaves execution allowed.
type FlagGate struct {
	client *redis.Client
	log    logger.Logger
	config FlagConfig
}

// NewFlagGate builds a gate on the shared store client.
func NewFlagGate(client *redis.Client, cfg FlagConfig, log logger.Logger) (*FlagGate, error) {
	if client == nil {
		return nil, gateError(ErrInvalidArgument, "redis client is required")
	}
	if log == nil {
		return nil, gateError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()
	return &FlagGate{client: client, log: log, config: cfg}, nil
}

// ShouldPrevent issues a single GET on the flag key.
func (g *FlagGate) ShouldPrevent(ctx context.Context) (bool, error) {
	status, err := g.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Engaged, nil
}

// Status reads the flag and the reason stored with it.
func (g *FlagGate) Status(ctx context.Context) (Status, error) {
	opCtx, cancel := g.operationContext(ctx)
	defer cancel()

	value, err := g.client.Get(opCtx, g.config.Key).Result()
	if errors.Is(err, redis.Nil) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, errors.Join(gateError(ErrRetryable, "read flag"), err)
	}
	if allowed, parseErr := strconv.ParseBool(strings.TrimSpace(value)); parseErr == nil && !allowed {
		return Status{}, nil
	}
	return Status{Engaged: true, Reason: value}, nil
}

// Enable engages the kill switch. reason is stored as the flag value.
func (g *FlagGate) Enable(ctx context.Context, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "1"
	}
	opCtx, cancel := g.operationContext(ctx)
	defer cancel()

	if err := g.client.Set(opCtx, g.config.Key, reason, 0).Err(); err != nil {
		return errors.Join(gateError(ErrRetryable, "set flag"), err)
	}
	g.log.Warn("execution gate engaged", "key", g.config.Key, "reason", reason)
	return nil
}

// Disable removes the kill switch.
func (g *FlagGate) Disable(ctx context.Context) error {
	opCtx, cancel := g.operationContext(ctx)
	defer cancel()

	if err := g.client.Del(opCtx, g.config.Key).Err(); err != nil {
		return errors.Join(gateError(ErrRetryable, "delete flag"), err)
	}
	g.log.Info("execution gate released", "key", g.config.Key)
	return nil
}

// Key returns the flag key.
func (g *FlagGate) Key() string {
	return g.config.Key
}

func (g *FlagGate) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, g.config.OperationTimeout)
}
