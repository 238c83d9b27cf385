// Package worker runs registered task handlers for invocations popped from
// the queue. Each slot loops independently: dequeue, consult the execution
// gate, resolve the handler, then run it under soft and hard timeouts.
// Invocations are never re-enqueued; execution is at-most-once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nimburion/taskcore/pkg/gate"
	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/queue"
	"github.com/nimburion/taskcore/pkg/resilience"
	"github.com/nimburion/taskcore/pkg/stats"
	"github.com/nimburion/taskcore/pkg/task"
)

// Result is the record of one handled invocation.
type Result struct {
	InvocationID string
	Task         string
	Queue        string
	Outcome      task.Outcome
	Err          error
	StartedAt    time.Time
	Duration     time.Duration

	// SoftTimeout is set when the soft deadline passed before the handler
	// returned or was abandoned.
	SoftTimeout bool
}

// Worker is the worker process: Concurrency slots sharing one queue client.
type Worker struct {
	id       string
	registry *task.Registry
	queue    queue.Queue
	gate     gate.Gate
	recorder stats.Recorder
	log      logger.Logger
	breaker  *resilience.CircuitBreaker
	backoff  resilience.Backoff
	onResult func(Result)

	config Config
	now    func() time.Time

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	inFlight  atomic.Int64
	quiesced  atomic.Bool
	startedAt time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker wires a worker. A nil gate never vetoes; a nil recorder discards
// bookkeeping.
func NewWorker(registry *task.Registry, q queue.Queue, g gate.Gate, recorder stats.Recorder, log logger.Logger, cfg Config) (*Worker, error) {
	if registry == nil {
		return nil, workerError(ErrInvalidArgument, "task registry is required")
	}
	if q == nil {
		return nil, workerError(ErrInvalidArgument, "queue is required")
	}
	if log == nil {
		return nil, workerError(ErrInvalidArgument, "logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.normalize()
	if len(cfg.Queues) == 0 {
		cfg.Queues = registry.Queues()
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{registry.DefaultQueue()}
	}
	if g == nil {
		g = gate.Open
	}
	if recorder == nil {
		recorder = stats.Nop{}
	}

	w := &Worker{
		id:       newWorkerID(),
		registry: registry,
		queue:    q,
		gate:     g,
		recorder: recorder,
		log:      log,
		backoff:  resilience.DefaultBackoff,
		config:   cfg,
		now:      time.Now,
		limiters: map[string]*rate.Limiter{},
	}
	w.breaker = resilience.NewCircuitBreaker(defaultBreakerFailures, defaultBreakerCooldown).
		OnStateChange(func(from, to resilience.State) {
			log.Warn("worker store circuit changed state", "worker_id", w.id, "from", from.String(), "to", to.String())
		})
	return w, nil
}

func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// ID identifies this worker in heartbeats and logs.
func (w *Worker) ID() string {
	return w.id
}

// Queues returns the queues this worker consumes, in priority order.
func (w *Worker) Queues() []string {
	return append([]string(nil), w.config.Queues...)
}

// OnResult registers an observer called after every handled invocation.
func (w *Worker) OnResult(fn func(Result)) *Worker {
	w.onResult = fn
	return w
}

// Quiesce stops slots from dequeuing. In-flight executions complete.
func (w *Worker) Quiesce() {
	if w.quiesced.CompareAndSwap(false, true) {
		w.log.Warn("worker quiesced, no new invocations will be dequeued", "worker_id", w.id, "in_flight", w.inFlight.Load())
	}
}

// Resume undoes Quiesce.
func (w *Worker) Resume() {
	if w.quiesced.CompareAndSwap(true, false) {
		w.log.Info("worker resumed", "worker_id", w.id)
	}
}

// Quiesced reports whether dequeuing is paused.
func (w *Worker) Quiesced() bool {
	return w.quiesced.Load()
}

// Start runs the slots and the heartbeat loop until ctx is cancelled, then
// stops, waiting up to StopTimeout for in-flight executions.
func (w *Worker) Start(ctx context.Context) error {
	if w == nil {
		return workerError(ErrNotInitialized, "worker is not initialized")
	}
	if ctx == nil {
		return workerError(ErrInvalidArgument, "context is required")
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return workerError(ErrConflict, "worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.startedAt = w.now().UTC()
	w.mu.Unlock()

	w.log.Info("worker started",
		"worker_id", w.id,
		"queues", w.config.Queues,
		"concurrency", w.config.Concurrency,
		"soft_timeout", w.config.SoftTimeout,
		"hard_timeout", w.config.HardTimeout,
	)

	for slot := 0; slot < w.config.Concurrency; slot++ {
		w.wg.Add(1)
		go w.runSlot(runCtx, slot)
	}
	w.wg.Add(1)
	go w.heartbeatLoop(runCtx)

	<-runCtx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), w.config.StopTimeout)
	defer stopCancel()
	return w.Stop(stopCtx)
}

// Stop cancels the slots and waits for in-flight executions to finish or
// for ctx to expire.
func (w *Worker) Stop(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.cancel = nil
	w.running = false
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(waitCh)
	}()

	var waitErr error
	select {
	case <-ctx.Done():
		waitErr = ctx.Err()
		w.log.Warn("worker stop timed out with executions in flight", "worker_id", w.id, "in_flight", w.inFlight.Load())
	case <-waitCh:
	}

	removeCtx, removeCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer removeCancel()
	if err := w.recorder.RemoveWorker(removeCtx, w.id); err != nil {
		w.log.Warn("failed to remove worker heartbeat", "worker_id", w.id, "error", err)
	}
	if waitErr == nil {
		w.log.Info("worker stopped", "worker_id", w.id)
	}
	return waitErr
}

func (w *Worker) runSlot(ctx context.Context, slot int) {
	defer w.wg.Done()

	log := w.log.With("worker_id", w.id, "slot", slot)
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if w.quiesced.Load() {
			if resilience.Sleep(ctx, w.config.DequeueTimeout) != nil {
				return
			}
			continue
		}

		var inv *task.Invocation
		err := w.breaker.Execute(func() error {
			var dequeueErr error
			inv, dequeueErr = w.queue.Dequeue(ctx, w.config.Queues, w.config.DequeueTimeout)
			if dequeueErr != nil && ctx.Err() != nil {
				return nil
			}
			return dequeueErr
		})
		if ctx.Err() != nil {
			// Shutdown raced the pop; an invocation already taken still runs.
			if inv != nil {
				w.Execute(context.WithoutCancel(ctx), inv)
			}
			return
		}
		if err != nil {
			delay := w.backoff.Delay(failures)
			failures++
			if errors.Is(err, resilience.ErrCircuitBreakerOpen) {
				log.Debug("dequeue skipped, store circuit open", "retry_in", delay)
			} else {
				log.Warn("dequeue failed", "error", err, "retry_in", delay)
			}
			if resilience.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}
		failures = 0
		if inv == nil {
			continue
		}

		// In-flight work finishes on shutdown, bounded by the hard timeout.
		w.Execute(context.WithoutCancel(ctx), inv)
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		if err := w.recorder.Heartbeat(ctx, w.heartbeat()); err != nil && ctx.Err() == nil {
			w.log.Warn("worker heartbeat failed", "worker_id", w.id, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) heartbeat() stats.Heartbeat {
	host, _ := os.Hostname()
	w.mu.Lock()
	startedAt := w.startedAt
	w.mu.Unlock()
	return stats.Heartbeat{
		ID:          w.id,
		Host:        host,
		PID:         os.Getpid(),
		Queues:      w.Queues(),
		Concurrency: w.config.Concurrency,
		InFlight:    int(w.inFlight.Load()),
		Quiesced:    w.quiesced.Load(),
		StartedAt:   startedAt,
		SeenAt:      w.now().UTC(),
	}
}

// HealthCheck fails when the worker is not running.
func (w *Worker) HealthCheck(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return workerError(ErrNotInitialized, "worker is not running")
	}
	return nil
}
