// Package inspect assembles a point-in-time JSON view of the fleet: queue
// depths and heads, schedule entries with their next and last runs, the
// execution gate, outcome counters and live workers.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nimburion/taskcore/pkg/gate"
	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/queue"
	"github.com/nimburion/taskcore/pkg/scheduler"
	"github.com/nimburion/taskcore/pkg/stats"
	"github.com/nimburion/taskcore/pkg/task"
)

const DefaultPeekLimit = 5

// GateStatusReader reads the kill switch without changing it.
type GateStatusReader interface {
	Status(ctx context.Context) (gate.Status, error)
}

// Config selects what the snapshot covers.
type Config struct {
	// Queues to report. Empty means every queue the registry knows about.
	Queues []string
	// PeekLimit caps the invocations listed per queue; negative disables peeking.
	PeekLimit int64
}

func (c *Config) normalize() {
	if c.PeekLimit == 0 {
		c.PeekLimit = DefaultPeekLimit
	}
}

// QueueState is one queue in a snapshot.
type QueueState struct {
	Name   string             `json:"name"`
	Length int64              `json:"length"`
	Head   []*task.Invocation `json:"head,omitempty"`
}

// EntryState is one schedule entry in a snapshot.
type EntryState struct {
	Name         string     `json:"name"`
	Schedule     string     `json:"schedule"`
	Timezone     string     `json:"timezone,omitempty"`
	Task         string     `json:"task"`
	Queue        string     `json:"queue"`
	NextRun      time.Time  `json:"next_run"`
	LastDispatch *time.Time `json:"last_dispatch,omitempty"`
}

// Snapshot is the document printed by the inspect command and served at
// /inspect.
type Snapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Tasks       []string          `json:"tasks"`
	Queues      []QueueState      `json:"queues"`
	Schedule    []EntryState      `json:"schedule"`
	Gate        *gate.Status      `json:"gate,omitempty"`
	Counters    stats.Counters    `json:"counters"`
	Workers     []stats.Heartbeat `json:"workers"`
	Errors      []string          `json:"errors,omitempty"`
}

// WriteJSON writes the snapshot as indented JSON.
func (s Snapshot) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(s)
}

// Inspector reads state; it never mutates the store.
type Inspector struct {
	registry *task.Registry
	queue    queue.Queue
	entries  []scheduler.Entry
	gate     GateStatusReader
	recorder stats.Recorder
	log      logger.Logger
	config   Config
	now      func() time.Time
}

// NewInspector builds an inspector. entries must already be validated, as
// returned by scheduler.Runtime.Entries. gate and recorder may be nil.
func NewInspector(registry *task.Registry, q queue.Queue, entries []scheduler.Entry, g GateStatusReader, recorder stats.Recorder, log logger.Logger, cfg Config) (*Inspector, error) {
	if registry == nil {
		return nil, inspectError(ErrInvalidArgument, "task registry is required")
	}
	if q == nil {
		return nil, inspectError(ErrInvalidArgument, "queue is required")
	}
	if log == nil {
		return nil, inspectError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()
	if recorder == nil {
		recorder = stats.Nop{}
	}
	return &Inspector{
		registry: registry,
		queue:    q,
		entries:  append([]scheduler.Entry(nil), entries...),
		gate:     g,
		recorder: recorder,
		log:      log,
		config:   cfg,
		now:      time.Now,
	}, nil
}

// Snapshot reads every section. Sections that fail are left empty, named in
// Errors, and reported together as an ErrPartial error; the rest of the
// snapshot is still usable.
func (i *Inspector) Snapshot(ctx context.Context) (Snapshot, error) {
	now := i.now().UTC()
	snap := Snapshot{
		GeneratedAt: now,
		Tasks:       i.registry.Names(),
		Queues:      []QueueState{},
		Schedule:    []EntryState{},
		Counters:    stats.Counters{},
		Workers:     []stats.Heartbeat{},
	}
	var errs []error
	fail := func(section string, err error) {
		errs = append(errs, fmt.Errorf("%s: %w", section, err))
		snap.Errors = append(snap.Errors, fmt.Sprintf("%s: %v", section, err))
	}

	for _, name := range i.queueNames() {
		state := QueueState{Name: name}
		length, err := i.queue.Len(ctx, name)
		if err != nil {
			fail("queue "+name, err)
			continue
		}
		state.Length = length
		if length > 0 && i.config.PeekLimit > 0 {
			head, err := i.queue.Peek(ctx, name, i.config.PeekLimit)
			if err != nil {
				fail("queue "+name+" head", err)
			}
			state.Head = head
		}
		snap.Queues = append(snap.Queues, state)
	}

	lastDispatches, err := i.recorder.LastDispatches(ctx)
	if err != nil {
		fail("schedule last dispatch", err)
	}
	for idx := range i.entries {
		entry := &i.entries[idx]
		state := EntryState{
			Name:     entry.Name,
			Schedule: entry.Schedule,
			Timezone: entry.Timezone,
			Task:     entry.Task,
			Queue:    entry.Queue,
			NextRun:  entry.Next(now),
		}
		if last, ok := lastDispatches[entry.Name]; ok {
			state.LastDispatch = &last
		}
		snap.Schedule = append(snap.Schedule, state)
	}

	if i.gate != nil {
		status, err := i.gate.Status(ctx)
		if err != nil {
			fail("gate", err)
		} else {
			snap.Gate = &status
		}
	}

	counters, err := i.recorder.Counters(ctx, snap.Tasks)
	if err != nil {
		fail("counters", err)
	} else {
		snap.Counters = counters
	}

	workers, err := i.recorder.Workers(ctx)
	if err != nil {
		fail("workers", err)
	} else if workers != nil {
		snap.Workers = workers
	}

	if len(errs) > 0 {
		i.log.Warn("inspect snapshot incomplete", "errors", len(errs))
		return snap, errors.Join(append([]error{ErrPartial}, errs...)...)
	}
	return snap, nil
}

func (i *Inspector) queueNames() []string {
	if len(i.config.Queues) > 0 {
		return i.config.Queues
	}
	seen := map[string]struct{}{}
	names := []string{}
	for _, name := range i.registry.Queues() {
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for _, entry := range i.entries {
		if _, ok := seen[entry.Queue]; ok || entry.Queue == "" {
			continue
		}
		seen[entry.Queue] = struct{}{}
		names = append(names, entry.Queue)
	}
	if len(names) == 0 {
		names = append(names, i.registry.DefaultQueue())
	}
	return names
}
