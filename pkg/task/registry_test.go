package task

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func noopHandler(context.Context, json.RawMessage) error { return nil }

func TestRegistry_RegisterAndResolve(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("reports.rollup", noopHandler,
		WithQueue("reports"),
		WithTimeouts(10*time.Second, 15*time.Second),
	); err != nil {
		t.Fatalf("register: %v", err)
	}

	def, err := registry.Resolve("reports.rollup")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if def.Options.Queue != "reports" {
		t.Fatalf("expected queue reports, got %q", def.Options.Queue)
	}
	if def.Options.SoftTimeout != 10*time.Second || def.Options.HardTimeout != 15*time.Second {
		t.Fatalf("unexpected timeouts %+v", def.Options)
	}
}

func TestRegistry_DefaultQueue(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("echo", noopHandler)

	def, err := registry.Resolve("echo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if def.Options.Queue != DefaultQueue {
		t.Fatalf("expected default queue, got %q", def.Options.Queue)
	}
}

func TestRegistry_ConfiguredDefaultQueue(t *testing.T) {
	registry := NewRegistry(WithDefaultQueue(" batch "))
	registry.MustRegister("echo", noopHandler)
	registry.MustRegister("rollup", noopHandler, WithQueue("reports"))

	def, err := registry.Resolve("echo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if def.Options.Queue != "batch" {
		t.Fatalf("expected configured default queue, got %q", def.Options.Queue)
	}
	if registry.DefaultQueue() != "batch" {
		t.Fatalf("expected DefaultQueue batch, got %q", registry.DefaultQueue())
	}
	if got := registry.Queues(); !reflect.DeepEqual(got, []string{"batch", "reports"}) {
		t.Fatalf("unexpected queues %v", got)
	}

	if blank := NewRegistry(WithDefaultQueue("  ")); blank.DefaultQueue() != DefaultQueue {
		t.Fatalf("blank default should keep %q, got %q", DefaultQueue, blank.DefaultQueue())
	}
}

func TestRegistry_ReRegisterOverwrites(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("echo", noopHandler, WithQueue("first"))

	marker := errors.New("second")
	registry.MustRegister("echo", func(context.Context, json.RawMessage) error { return marker }, WithQueue("second"))

	def, err := registry.Resolve("echo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if def.Options.Queue != "second" {
		t.Fatalf("expected overwritten queue, got %q", def.Options.Queue)
	}
	if err := def.Handler(context.Background(), nil); !errors.Is(err, marker) {
		t.Fatalf("expected overwritten handler, got %v", err)
	}
	if names := registry.Names(); len(names) != 1 {
		t.Fatalf("expected one registered name, got %v", names)
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	_, err := NewRegistry().Resolve("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_RejectsInvalidDefinitions(t *testing.T) {
	registry := NewRegistry()
	tests := []struct {
		name    string
		task    string
		handler Handler
		opts    []Option
	}{
		{name: "empty name", task: " ", handler: noopHandler},
		{name: "nil handler", task: "a", handler: nil},
		{name: "hard below soft", task: "a", handler: noopHandler, opts: []Option{WithTimeouts(time.Minute, time.Second)}},
		{name: "negative timeout", task: "a", handler: noopHandler, opts: []Option{WithTimeouts(-time.Second, 0)}},
		{name: "negative rate", task: "a", handler: noopHandler, opts: []Option{WithRateLimit(-1, 0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := registry.Register(tt.task, tt.handler, tt.opts...); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegistry_NamesAndQueuesSorted(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("b", noopHandler, WithQueue("maintenance"))
	registry.MustRegister("a", noopHandler)
	registry.MustRegister("c", noopHandler, WithQueue("maintenance"))

	if got := registry.Names(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected names %v", got)
	}
	if got := registry.Queues(); !reflect.DeepEqual(got, []string{"default", "maintenance"}) {
		t.Fatalf("unexpected queues %v", got)
	}
}

func TestWithRateLimit_DefaultBurst(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("limited", noopHandler, WithRateLimit(2, 0))
	def, _ := registry.Resolve("limited")
	if def.Options.Burst != 1 {
		t.Fatalf("expected burst defaulted to 1, got %d", def.Options.Burst)
	}
}
