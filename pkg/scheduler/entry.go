package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nimburion/taskcore/pkg/task"
)

// Entry is one periodic rule: when Schedule is due, enqueue Task.
type Entry struct {
	// Name identifies the entry in claims and bookkeeping. Defaults to Task.
	Name string
	// Schedule is a five-field cron expression or a descriptor such as @hourly.
	Schedule string
	Task     string
	// Queue overrides the task's registered queue.
	Queue   string
	Payload json.RawMessage
	// Timezone is an IANA zone the expression is evaluated in. Defaults to UTC.
	Timezone string

	schedule cron.Schedule
}

// Validate normalizes the entry and compiles its schedule.
func (e *Entry) Validate() error {
	if e == nil {
		return schedulerError(ErrValidation, "entry is nil")
	}
	e.Task = strings.TrimSpace(e.Task)
	e.Name = strings.TrimSpace(e.Name)
	e.Schedule = strings.TrimSpace(e.Schedule)
	e.Queue = strings.TrimSpace(e.Queue)
	e.Timezone = strings.TrimSpace(e.Timezone)

	if e.Task == "" {
		return schedulerError(ErrValidation, "entry task is required")
	}
	if e.Name == "" {
		e.Name = e.Task
	}
	if e.Schedule == "" {
		return schedulerError(ErrValidation, fmt.Sprintf("entry %q schedule is required", e.Name))
	}
	if strings.HasPrefix(e.Schedule, "@every") {
		return schedulerError(ErrValidation, fmt.Sprintf("entry %q: interval schedules are not minute-aligned", e.Name))
	}
	if strings.HasPrefix(e.Schedule, "CRON_TZ=") || strings.HasPrefix(e.Schedule, "TZ=") {
		return schedulerError(ErrValidation, fmt.Sprintf("entry %q: use the timezone field instead of an inline zone", e.Name))
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return schedulerError(ErrValidation, fmt.Sprintf("entry %q payload is not valid JSON", e.Name))
	}

	spec := e.Schedule
	if e.Timezone != "" {
		if _, err := time.LoadLocation(e.Timezone); err != nil {
			return errors.Join(schedulerError(ErrValidation, fmt.Sprintf("entry %q timezone", e.Name)), err)
		}
		spec = "CRON_TZ=" + e.Timezone + " " + spec
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return errors.Join(schedulerError(ErrValidation, fmt.Sprintf("entry %q schedule %q", e.Name, e.Schedule)), err)
	}
	e.schedule = schedule
	return nil
}

// Resolve validates the entry against registry. Its task must be registered;
// an empty queue falls back to the task's queue.
func (e *Entry) Resolve(registry *task.Registry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if registry == nil {
		return schedulerError(ErrInvalidArgument, "task registry is required")
	}
	def, err := registry.Resolve(e.Task)
	if err != nil {
		return errors.Join(schedulerError(ErrValidation, fmt.Sprintf("entry %q targets an unregistered task", e.Name)), err)
	}
	if e.Queue == "" {
		e.Queue = def.Options.Queue
	}
	return nil
}

// Due reports whether the entry fires in the minute containing t.
func (e *Entry) Due(t time.Time) bool {
	if e.schedule == nil {
		return false
	}
	minute := t.Truncate(time.Minute)
	return e.schedule.Next(minute.Add(-time.Second)).Equal(minute)
}

// Next returns the first due minute strictly after t.
func (e *Entry) Next(t time.Time) time.Time {
	if e.schedule == nil {
		return time.Time{}
	}
	return e.schedule.Next(t)
}

func (e *Entry) payload() json.RawMessage {
	if len(e.Payload) == 0 {
		return json.RawMessage(`{}`)
	}
	return e.Payload
}

// claimKey is unique per (entry, due minute).
func (e *Entry) claimKey(minute time.Time) string {
	return fmt.Sprintf("claim:%s:%d", e.Name, minute.Unix()/60)
}
