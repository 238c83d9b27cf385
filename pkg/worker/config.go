package worker

import (
	"strings"
	"time"
)

const (
	DefaultConcurrency       = 1
	DefaultDequeueTimeout    = 5 * time.Second
	DefaultSoftTimeout       = 5 * time.Minute
	DefaultHardTimeout       = 6 * time.Minute
	DefaultStopTimeout       = 30 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second

	defaultBreakerFailures = 5
	defaultBreakerCooldown = 10 * time.Second
)

// Config controls slots, timeouts and bookkeeping of a worker.
type Config struct {
	// Queues are consumed in priority order. Empty means every queue the
	// registry knows about.
	Queues      []string
	Concurrency int
	// DequeueTimeout bounds each blocking pop.
	DequeueTimeout time.Duration
	// SoftTimeout and HardTimeout are the global execution limits; per-task
	// options override them.
	SoftTimeout time.Duration
	HardTimeout time.Duration
	// StopTimeout bounds how long Start waits for in-flight work on shutdown.
	StopTimeout       time.Duration
	HeartbeatInterval time.Duration
	// FailClosed vetoes execution when the gate cannot be read. The default
	// logs the error and runs the task.
	FailClosed bool
}

func (c *Config) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = DefaultDequeueTimeout
	}
	if c.SoftTimeout <= 0 {
		c.SoftTimeout = DefaultSoftTimeout
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = DefaultHardTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}

	queues := make([]string, 0, len(c.Queues))
	seen := make(map[string]struct{}, len(c.Queues))
	for _, queue := range c.Queues {
		trimmed := strings.TrimSpace(queue)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		queues = append(queues, trimmed)
	}
	c.Queues = queues
}

// Validate checks the timeout ordering after defaults are applied.
func (c Config) Validate() error {
	c.normalize()
	if c.HardTimeout <= c.SoftTimeout {
		return workerError(ErrInvalidArgument, "hard timeout must be greater than soft timeout")
	}
	return nil
}
