// Package stats keeps fleet-visible counters and bookkeeping in the store:
// per-task outcome counters, the last dispatch of each schedule entry and
// worker heartbeats.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimburion/taskcore/pkg/task"
)

var (
	// ErrInvalidArgument classifies caller mistakes.
	ErrInvalidArgument = errors.New("stats invalid argument")
	// ErrRetryable marks store failures.
	ErrRetryable = errors.New("stats retryable error")
)

func statsError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// Heartbeat is what a running worker publishes about itself.
type Heartbeat struct {
	ID          string    `json:"id"`
	Host        string    `json:"host"`
	PID         int       `json:"pid"`
	Queues      []string  `json:"queues"`
	Concurrency int       `json:"concurrency"`
	InFlight    int       `json:"in_flight"`
	Quiesced    bool      `json:"quiesced"`
	StartedAt   time.Time `json:"started_at"`
	SeenAt      time.Time `json:"seen_at"`
}

// Counters maps task name to outcome to count.
type Counters map[string]map[task.Outcome]int64

// Recorder is the bookkeeping capability used by the worker, the scheduler
// and the inspector.
type Recorder interface {
	RecordOutcome(ctx context.Context, taskName string, outcome task.Outcome) error
	RecordDispatch(ctx context.Context, entry string, minute time.Time) error
	Heartbeat(ctx context.Context, hb Heartbeat) error
	RemoveWorker(ctx context.Context, workerID string) error
	Counters(ctx context.Context, taskNames []string) (Counters, error)
	LastDispatches(ctx context.Context) (map[string]time.Time, error)
	Workers(ctx context.Context) ([]Heartbeat, error)
}
