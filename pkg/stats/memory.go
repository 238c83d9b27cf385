package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nimburion/taskcore/pkg/task"
)

// MemoryRecorder keeps bookkeeping in process memory.
type MemoryRecorder struct {
	mu         sync.Mutex
	counters   Counters
	dispatches map[string]time.Time
	workers    map[string]Heartbeat
}

// NewMemoryRecorder returns an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		counters:   Counters{},
		dispatches: map[string]time.Time{},
		workers:    map[string]Heartbeat{},
	}
}

func (m *MemoryRecorder) RecordOutcome(_ context.Context, taskName string, outcome task.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[taskName] == nil {
		m.counters[taskName] = map[task.Outcome]int64{}
	}
	m.counters[taskName][outcome]++
	return nil
}

func (m *MemoryRecorder) RecordDispatch(_ context.Context, entry string, minute time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches[entry] = minute.UTC()
	return nil
}

func (m *MemoryRecorder) Heartbeat(_ context.Context, hb Heartbeat) error {
	if hb.ID == "" {
		return statsError(ErrInvalidArgument, "worker id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[hb.ID] = hb
	return nil
}

func (m *MemoryRecorder) RemoveWorker(_ context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, workerID)
	return nil
}

func (m *MemoryRecorder) Counters(_ context.Context, taskNames []string) (Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(Counters, len(taskNames))
	for _, name := range taskNames {
		counts := map[task.Outcome]int64{}
		for _, outcome := range task.Outcomes() {
			counts[outcome] = m.counters[name][outcome]
		}
		out[name] = counts
	}
	return out, nil
}

func (m *MemoryRecorder) LastDispatches(context.Context) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.dispatches))
	for k, v := range m.dispatches {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryRecorder) Workers(context.Context) ([]Heartbeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Heartbeat, 0, len(m.workers))
	for _, hb := range m.workers {
		out = append(out, hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Nop discards everything and reports nothing.
type Nop struct{}

func (Nop) RecordOutcome(context.Context, string, task.Outcome) error { return nil }
func (Nop) RecordDispatch(context.Context, string, time.Time) error  { return nil }
func (Nop) Heartbeat(context.Context, Heartbeat) error               { return nil }
func (Nop) RemoveWorker(context.Context, string) error               { return nil }
func (Nop) Counters(context.Context, []string) (Counters, error)     { return Counters{}, nil }
func (Nop) LastDispatches(context.Context) (map[string]time.Time, error) {
	return map[string]time.Time{}, nil
}
func (Nop) Workers(context.Context) ([]Heartbeat, error) { return nil, nil }
