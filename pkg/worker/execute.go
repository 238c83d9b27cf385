package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/observability/tracing"
	"github.com/nimburion/taskcore/pkg/resilience"
	"github.com/nimburion/taskcore/pkg/task"
)

// Execute handles one dequeued invocation and reports how it ended. It never
// re-enqueues: vetoed, unknown, failed and timed-out invocations are gone.
func (w *Worker) Execute(ctx context.Context, inv *task.Invocation) Result {
	result := Result{StartedAt: w.now().UTC()}
	if inv == nil {
		result.Outcome = task.OutcomeFailed
		result.Err = workerError(ErrInvalidArgument, "invocation is required")
		return result
	}
	result.InvocationID = inv.ID
	result.Task = inv.Task
	result.Queue = inv.Queue

	ctx = tracing.ExtractHeaders(ctx, inv.Headers)
	ctx = logger.ContextWithInvocationID(ctx, inv.ID)
	ctx, span := tracing.StartTaskSpan(ctx, tracing.SpanOperationExecute,
		tracing.WithTask(inv.Task),
		tracing.WithQueue(inv.Queue),
		tracing.WithInvocationID(inv.ID),
		tracing.WithPayloadSize(len(inv.Payload)),
	)
	defer span.End()
	log := w.log.WithContext(ctx).With("task", inv.Task, "queue", inv.Queue)

	w.inFlight.Add(1)
	incrementInFlight(inv.Queue)
	defer func() {
		w.inFlight.Add(-1)
		decrementInFlight(inv.Queue)
	}()

	if w.vetoed(ctx, log) {
		result.Outcome = task.OutcomeVetoed
		return w.finish(ctx, span, log, inv, result)
	}

	def, err := w.registry.Resolve(inv.Task)
	if err != nil {
		result.Outcome = task.OutcomeUnknown
		result.Err = err
		return w.finish(ctx, span, log, inv, result)
	}

	if limiter := w.limiterFor(def); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			result.Outcome = task.OutcomeFailed
			result.Err = err
			return w.finish(ctx, span, log, inv, result)
		}
	}

	limits := w.limitsFor(def)
	supervision := resilience.Supervise(ctx, limits, func(runCtx context.Context) error {
		return def.Handler(runCtx, inv.Payload)
	}, func() {
		log.Warn("task exceeded soft timeout, cancellation requested", "soft_timeout", limits.Soft)
	})

	switch {
	case supervision.Abandoned:
		result.Outcome = task.OutcomeTimedOut
		result.Err = ErrHardTimeout
		recordAbandoned(inv.Task)
		log.Error("task exceeded hard timeout, execution abandoned", "hard_timeout", limits.Hard)
		go func(done <-chan struct{}) {
			<-done
			log.Warn("abandoned task returned")
		}(supervision.Done)
	case supervision.Err == nil:
		result.Outcome = task.OutcomeSuccess
	default:
		// Only the hard deadline times a task out. A handler that gives up
		// after the soft cancel still failed on its own.
		result.Outcome = task.OutcomeFailed
		result.Err = supervision.Err
		if supervision.SoftTripped && !errors.Is(result.Err, ErrSoftTimeout) {
			result.Err = errors.Join(result.Err, ErrSoftTimeout)
		}
	}
	result.SoftTimeout = supervision.SoftTripped
	return w.finish(ctx, span, log, inv, result)
}

func (w *Worker) vetoed(ctx context.Context, log logger.Logger) bool {
	prevented, err := w.gate.ShouldPrevent(ctx)
	if err != nil {
		if w.config.FailClosed {
			log.Warn("execution gate unreadable, vetoing", "error", err)
			return true
		}
		log.Warn("execution gate unreadable, running anyway", "error", err)
		return false
	}
	return prevented
}

// limitsFor applies per-task overrides to the global limits. A per-task soft
// timeout keeps the global grace margin when no hard timeout is given.
func (w *Worker) limitsFor(def task.Definition) resilience.Limits {
	limits := resilience.Limits{Soft: w.config.SoftTimeout, Hard: w.config.HardTimeout}
	grace := limits.Hard - limits.Soft
	if def.Options.SoftTimeout > 0 {
		limits.Soft = def.Options.SoftTimeout
		if def.Options.HardTimeout <= 0 {
			limits.Hard = limits.Soft + grace
		}
	}
	if def.Options.HardTimeout > 0 {
		limits.Hard = def.Options.HardTimeout
		if limits.Soft >= limits.Hard {
			limits.Soft = 0
		}
	}
	return limits
}

func (w *Worker) limiterFor(def task.Definition) *rate.Limiter {
	if def.Options.RateLimit <= 0 {
		return nil
	}
	w.limitersMu.Lock()
	defer w.limitersMu.Unlock()
	limiter, ok := w.limiters[def.Name]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(def.Options.RateLimit), def.Options.Burst)
		w.limiters[def.Name] = limiter
	}
	return limiter
}

func (w *Worker) finish(ctx context.Context, span trace.Span, log logger.Logger, inv *task.Invocation, result Result) Result {
	result.Duration = w.now().UTC().Sub(result.StartedAt)
	span.SetAttributes(attribute.String("taskcore.outcome", string(result.Outcome)))

	switch result.Outcome {
	case task.OutcomeSuccess:
		tracing.RecordSuccess(span)
		log.Info("task succeeded", "outcome", result.Outcome, "duration", result.Duration)
	case task.OutcomeVetoed:
		tracing.RecordSuccess(span)
		log.Info("task vetoed by execution gate, invocation dropped", "outcome", result.Outcome)
	case task.OutcomeUnknown:
		tracing.RecordError(span, result.Err)
		log.Error("no handler registered, invocation dropped", "outcome", result.Outcome, "error", result.Err)
	default:
		tracing.RecordError(span, result.Err)
		log.Error("task did not complete",
			"outcome", result.Outcome,
			"duration", result.Duration,
			"payload", string(inv.Payload),
			"error", result.Err,
		)
	}

	recordExecution(inv.Queue, inv.Task, result.Outcome, result.Duration)
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := w.recorder.RecordOutcome(recordCtx, inv.Task, result.Outcome); err != nil {
		log.Warn("failed to record outcome", "outcome", result.Outcome, "error", err)
	}
	if w.onResult != nil {
		w.onResult(result)
	}
	return result
}
