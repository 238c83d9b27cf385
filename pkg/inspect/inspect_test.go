package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nimburion/taskcore/pkg/gate"
	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/queue"
	"github.com/nimburion/taskcore/pkg/scheduler"
	"github.com/nimburion/taskcore/pkg/stats"
	"github.com/nimburion/taskcore/pkg/task"
)

type inspectTestLogger struct{}

func (l *inspectTestLogger) Debug(string, ...any) {}
func (l *inspectTestLogger) Info(string, ...any)  {}
func (l *inspectTestLogger) Warn(string, ...any)  {}
func (l *inspectTestLogger) Error(string, ...any) {}
func (l *inspectTestLogger) With(...any) logger.Logger {
	return l
}
func (l *inspectTestLogger) WithContext(context.Context) logger.Logger {
	return l
}

type staticGate struct {
	status gate.Status
	err    error
}

func (g staticGate) Status(context.Context) (gate.Status, error) {
	return g.status, g.err
}

type brokenRecorder struct {
	stats.Nop
}

func (brokenRecorder) Workers(context.Context) ([]stats.Heartbeat, error) {
	return nil, errors.New("connection refused")
}

func fixture(t *testing.T) (*task.Registry, *queue.MemoryQueue, []scheduler.Entry) {
	t.Helper()
	registry := task.NewRegistry()
	noop := func(context.Context, json.RawMessage) error { return nil }
	registry.MustRegister("echo", noop)
	registry.MustRegister("maintenance.refresh_view", noop, task.WithQueue("maintenance"))

	q := queue.NewMemoryQueue()
	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(context.Background(), "default", "echo", map[string]int{"value": i}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	entry := scheduler.Entry{Name: "nightly-refresh", Schedule: "0 3 * * *", Task: "maintenance.refresh_view", Queue: "maintenance"}
	if err := entry.Validate(); err != nil {
		t.Fatalf("validate entry: %v", err)
	}
	return registry, q, []scheduler.Entry{entry}
}

func TestNewInspector_RequiresDependencies(t *testing.T) {
	registry, q, _ := fixture(t)
	if _, err := NewInspector(nil, q, nil, nil, nil, &inspectTestLogger{}, Config{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument without registry, got %v", err)
	}
	if _, err := NewInspector(registry, nil, nil, nil, nil, &inspectTestLogger{}, Config{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument without queue, got %v", err)
	}
	if _, err := NewInspector(registry, q, nil, nil, nil, nil, Config{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument without logger, got %v", err)
	}
}

func TestInspector_Snapshot(t *testing.T) {
	registry, q, entries := fixture(t)
	recorder := stats.NewMemoryRecorder()
	ctx := context.Background()
	last := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)
	_ = recorder.RecordDispatch(ctx, "nightly-refresh", last)
	_ = recorder.RecordOutcome(ctx, "echo", task.OutcomeSuccess)
	_ = recorder.Heartbeat(ctx, stats.Heartbeat{ID: "w-1", Concurrency: 4})

	inspector, err := NewInspector(registry, q, entries, staticGate{status: gate.Status{Engaged: true, Reason: "deploy"}}, recorder, &inspectTestLogger{}, Config{PeekLimit: 2})
	if err != nil {
		t.Fatalf("new inspector: %v", err)
	}
	inspector.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	snap, err := inspector.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if len(snap.Queues) != 2 || snap.Queues[0].Name != "default" || snap.Queues[1].Name != "maintenance" {
		t.Fatalf("unexpected queues %+v", snap.Queues)
	}
	if snap.Queues[0].Length != 3 || len(snap.Queues[0].Head) != 2 {
		t.Fatalf("expected length 3 with 2 peeked, got %+v", snap.Queues[0])
	}
	if n, _ := q.Len(ctx, "default"); n != 3 {
		t.Fatalf("snapshot must not consume invocations, length %d", n)
	}

	if len(snap.Schedule) != 1 {
		t.Fatalf("expected one schedule entry, got %+v", snap.Schedule)
	}
	entry := snap.Schedule[0]
	if want := time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC); !entry.NextRun.Equal(want) {
		t.Fatalf("next run %v, want %v", entry.NextRun, want)
	}
	if entry.LastDispatch == nil || !entry.LastDispatch.Equal(last) {
		t.Fatalf("unexpected last dispatch %v", entry.LastDispatch)
	}

	if snap.Gate == nil || !snap.Gate.Engaged || snap.Gate.Reason != "deploy" {
		t.Fatalf("unexpected gate %+v", snap.Gate)
	}
	if snap.Counters["echo"][task.OutcomeSuccess] != 1 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
	if len(snap.Workers) != 1 || snap.Workers[0].ID != "w-1" {
		t.Fatalf("unexpected workers %v", snap.Workers)
	}

	var buf bytes.Buffer
	if err := snap.WriteJSON(&buf); err != nil {
		t.Fatalf("write json: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	for _, key := range []string{"generated_at", "tasks", "queues", "schedule", "gate", "counters", "workers"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("expected key %q in %s", key, buf.String())
		}
	}
}

func TestInspector_PartialSnapshot(t *testing.T) {
	registry, q, entries := fixture(t)
	inspector, err := NewInspector(registry, q, entries, staticGate{err: errors.New("timeout")}, brokenRecorder{}, &inspectTestLogger{}, Config{})
	if err != nil {
		t.Fatalf("new inspector: %v", err)
	}

	snap, err := inspector.Snapshot(context.Background())
	if !errors.Is(err, ErrPartial) {
		t.Fatalf("expected partial snapshot error, got %v", err)
	}
	if len(snap.Errors) != 2 {
		t.Fatalf("expected gate and workers errors, got %v", snap.Errors)
	}
	if snap.Gate != nil {
		t.Fatal("unreadable gate must be omitted")
	}
	if len(snap.Queues) != 2 || snap.Queues[0].Length != 3 {
		t.Fatalf("readable sections must still be filled, got %+v", snap.Queues)
	}
}

func TestInspector_ExplicitQueues(t *testing.T) {
	registry, q, entries := fixture(t)
	inspector, err := NewInspector(registry, q, entries, nil, nil, &inspectTestLogger{}, Config{Queues: []string{"default"}, PeekLimit: -1})
	if err != nil {
		t.Fatalf("new inspector: %v", err)
	}
	snap, err := inspector.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Queues) != 1 || snap.Queues[0].Head != nil {
		t.Fatalf("expected single queue without head, got %+v", snap.Queues)
	}
	if snap.Gate != nil {
		t.Fatal("gate section must be omitted without a reader")
	}
}
