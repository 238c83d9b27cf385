// Package task defines task handlers, the registry that maps names to them,
// and the invocation envelope carried on queues.
package task

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// DefaultQueue is used when neither the task nor the registry names a queue.
const DefaultQueue = "default"

// Handler runs one invocation. The payload is the raw JSON given at enqueue
// time; handlers validate it themselves. ctx is cancelled when the soft
// timeout trips.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Options are per-task settings. Zero timeouts fall back to worker defaults.
type Options struct {
	Queue       string
	SoftTimeout time.Duration
	HardTimeout time.Duration
	// RateLimit caps executions per second on one worker process; 0 disables it.
	RateLimit float64
	Burst     int
}

// Option mutates Options at registration time.
type Option func(*Options)

// WithQueue routes the task to a named queue.
func WithQueue(queue string) Option {
	return func(o *Options) {
		o.Queue = strings.TrimSpace(queue)
	}
}

// WithTimeouts overrides the worker's soft and hard timeouts for this task.
func WithTimeouts(soft, hard time.Duration) Option {
	return func(o *Options) {
		o.SoftTimeout = soft
		o.HardTimeout = hard
	}
}

// WithRateLimit limits how often one worker process starts this task.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Options) {
		o.RateLimit = perSecond
		o.Burst = burst
	}
}

func (o *Options) normalize(defaultQueue string) {
	if o.Queue == "" {
		o.Queue = defaultQueue
	}
	if o.RateLimit > 0 && o.Burst <= 0 {
		o.Burst = 1
	}
}

func (o Options) validate() error {
	if o.SoftTimeout < 0 || o.HardTimeout < 0 {
		return taskError(ErrValidation, "timeouts must be >= 0")
	}
	if o.SoftTimeout > 0 && o.HardTimeout > 0 && o.HardTimeout <= o.SoftTimeout {
		return taskError(ErrValidation, "hard timeout must exceed soft timeout")
	}
	if o.RateLimit < 0 {
		return taskError(ErrValidation, "rate limit must be >= 0")
	}
	return nil
}

// Definition is a registered task.
type Definition struct {
	Name    string
	Handler Handler
	Options Options
}

// DecodePayload unmarshals a payload into v. An empty payload leaves v untouched.
func DecodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return taskError(ErrValidation, "decode payload: "+err.Error())
	}
	return nil
}
