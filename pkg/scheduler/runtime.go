// Package scheduler evaluates cron entries on a fixed tick and enqueues each
// due entry at most once per due minute, across ticks and across processes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nimburion/taskcore/pkg/lock"
	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/observability/tracing"
	"github.com/nimburion/taskcore/pkg/queue"
	"github.com/nimburion/taskcore/pkg/resilience"
	"github.com/nimburion/taskcore/pkg/stats"
	"github.com/nimburion/taskcore/pkg/task"
)

const (
	DefaultTickInterval    = 5 * time.Second
	DefaultClaimTTL        = 2 * time.Minute
	DefaultDispatchTimeout = 10 * time.Second
	MinClaimTTL            = time.Minute

	defaultBreakerFailures = 3
	defaultBreakerCooldown = 30 * time.Second
)

// Config controls the tick loop.
type Config struct {
	TickInterval time.Duration
	// ClaimTTL must outlive the due minute so later ticks still see the claim.
	ClaimTTL        time.Duration
	DispatchTimeout time.Duration
}

func (c *Config) normalize() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = DefaultClaimTTL
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
}

// Validate checks the timing invariants.
func (c Config) Validate() error {
	c.normalize()
	if c.TickInterval >= time.Minute {
		return schedulerError(ErrValidation, "tick interval must be shorter than one minute")
	}
	if c.ClaimTTL < MinClaimTTL {
		return schedulerError(ErrValidation, "claim ttl must be at least one minute")
	}
	return nil
}

// Runtime is the scheduler process. It never runs handlers itself.
type Runtime struct {
	registry *task.Registry
	queue    queue.Queue
	claims   lock.Locker
	recorder stats.Recorder
	log      logger.Logger
	breaker  *resilience.CircuitBreaker

	config Config
	now    func() time.Time

	mu       sync.Mutex
	entries  map[string]*Entry
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastTick time.Time
}

// NewRuntime wires a scheduler. claims is the store-backed locker used for
// per-minute dispatch claims; recorder may be nil.
func NewRuntime(registry *task.Registry, q queue.Queue, claims lock.Locker, recorder stats.Recorder, log logger.Logger, cfg Config) (*Runtime, error) {
	if registry == nil {
		return nil, schedulerError(ErrInvalidArgument, "task registry is required")
	}
	if q == nil {
		return nil, schedulerError(ErrInvalidArgument, "queue is required")
	}
	if claims == nil {
		return nil, schedulerError(ErrInvalidArgument, "claim locker is required")
	}
	if log == nil {
		return nil, schedulerError(ErrInvalidArgument, "logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.normalize()
	if recorder == nil {
		recorder = stats.Nop{}
	}

	r := &Runtime{
		registry: registry,
		queue:    q,
		claims:   claims,
		recorder: recorder,
		log:      log,
		config:   cfg,
		now:      time.Now,
		entries:  map[string]*Entry{},
	}
	r.breaker = resilience.NewCircuitBreaker(defaultBreakerFailures, defaultBreakerCooldown).
		OnStateChange(func(from, to resilience.State) {
			log.Warn("scheduler store circuit changed state", "from", from.String(), "to", to.String())
		})
	return r, nil
}

// Register adds an entry. Its task must already be registered; an empty
// queue falls back to the task's queue.
func (r *Runtime) Register(entry Entry) error {
	if r == nil {
		return schedulerError(ErrNotInitialized, "scheduler runtime is not initialized")
	}
	if err := entry.Resolve(r.registry); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.Name]; exists {
		return schedulerError(ErrConflict, fmt.Sprintf("entry %q is already registered", entry.Name))
	}
	r.entries[entry.Name] = &entry
	return nil
}

// Entries returns a copy of the registered entries sorted by name.
func (r *Runtime) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start ticks until ctx is cancelled, then stops. The first tick runs immediately.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return schedulerError(ErrNotInitialized, "scheduler runtime is not initialized")
	}
	if ctx == nil {
		return schedulerError(ErrInvalidArgument, "context is required")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return schedulerError(ErrConflict, "scheduler already running")
	}
	if len(r.entries) == 0 {
		r.mu.Unlock()
		return schedulerError(ErrValidation, "no schedule entries registered")
	}
	runningCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()

	r.log.Info("scheduler started",
		"entries", len(r.Entries()),
		"tick_interval", r.config.TickInterval,
		"claim_ttl", r.config.ClaimTTL,
	)
	go r.loop(runningCtx)

	<-runningCtx.Done()
	return r.Stop(context.Background())
}

// Stop cancels the loop and waits for the in-progress tick to finish.
func (r *Runtime) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		r.log.Info("scheduler stopped")
		return nil
	}
}

func (r *Runtime) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.TickInterval)
	defer ticker.Stop()

	for {
		// The tick runs on a detached context so shutdown lets it finish.
		if err := r.Tick(context.WithoutCancel(ctx), r.now()); err != nil {
			r.log.Error("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick evaluates every entry against the minute containing now and
// dispatches those that are due and not yet claimed. Missed minutes are not
// replayed.
func (r *Runtime) Tick(ctx context.Context, now time.Time) error {
	if r == nil {
		return schedulerError(ErrNotInitialized, "scheduler runtime is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	minute := now.UTC().Truncate(time.Minute)
	entries := r.Entries()

	var errs []error
	for idx := range entries {
		entry := &entries[idx]
		if !entry.Due(minute) {
			continue
		}
		err := r.breaker.Execute(func() error {
			return r.dispatch(ctx, entry, minute)
		})
		if errors.Is(err, resilience.ErrCircuitBreakerOpen) {
			recordDispatch(entry.Name, "circuit_open")
			r.log.Warn("scheduler dispatch skipped, store circuit open", "entry", entry.Name, "minute", minute)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %s: %w", entry.Name, err))
		}
	}

	r.mu.Lock()
	r.lastTick = r.now()
	r.mu.Unlock()
	recordTick(len(errs) == 0)
	return errors.Join(errs...)
}

// dispatch claims (entry, minute) and enqueues the entry's task. A held claim
// is left to expire; it is released only when the enqueue fails, so a later
// tick in the same minute can retry.
func (r *Runtime) dispatch(ctx context.Context, entry *Entry, minute time.Time) error {
	ctx, span := tracing.StartTaskSpan(ctx, tracing.SpanOperationDispatch,
		tracing.WithTask(entry.Task),
		tracing.WithQueue(entry.Queue),
		tracing.WithScheduleEntry(entry.Name),
	)
	defer span.End()

	key := entry.claimKey(minute)
	token, claimed, err := r.claims.Acquire(ctx, key, r.config.ClaimTTL)
	if err != nil {
		recordDispatch(entry.Name, "error")
		tracing.RecordError(span, err)
		return errors.Join(schedulerError(ErrRetryable, "claim failed"), err)
	}
	if !claimed {
		recordDispatch(entry.Name, "already_claimed")
		r.log.Debug("schedule minute already claimed", "entry", entry.Name, "minute", minute)
		return nil
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, r.config.DispatchTimeout)
	defer cancel()

	inv, enqueueErr := r.queue.Enqueue(dispatchCtx, entry.Queue, entry.Task, entry.payload())
	if enqueueErr != nil {
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.DispatchTimeout)
		defer releaseCancel()
		releaseErr := r.claims.Release(releaseCtx, key, token)
		recordDispatch(entry.Name, "error")
		tracing.RecordError(span, enqueueErr)
		return errors.Join(schedulerError(ErrRetryable, "enqueue failed"), enqueueErr, releaseErr)
	}

	if err := r.recorder.RecordDispatch(ctx, entry.Name, minute); err != nil {
		r.log.Warn("failed to record last dispatch", "entry", entry.Name, "error", err)
	}
	recordDispatch(entry.Name, "dispatched")
	tracing.RecordSuccess(span)
	r.log.Info("scheduled task dispatched",
		"entry", entry.Name,
		"task", entry.Task,
		"queue", entry.Queue,
		"minute", minute,
		"invocation_id", inv.ID,
	)
	return nil
}

// HealthCheck fails when the loop is not running or has not ticked for
// three intervals.
func (r *Runtime) HealthCheck(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return schedulerError(ErrNotInitialized, "scheduler is not running")
	}
	if r.lastTick.IsZero() {
		return nil
	}
	if stale := r.now().Sub(r.lastTick); stale > 3*r.config.TickInterval {
		return schedulerError(ErrRetryable, fmt.Sprintf("last tick %s ago", stale.Round(time.Second)))
	}
	return nil
}
