// Package tracing wires OpenTelemetry spans around enqueue, dispatch and
// execution of tasks.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nimburion/taskcore"

// SpanOperation names a traced step of the task pipeline.
type SpanOperation string

const (
	// SpanOperationEnqueue is an invocation appended to a queue.
	SpanOperationEnqueue SpanOperation = "task.enqueue"
	// SpanOperationExecute is a worker running a handler.
	SpanOperationExecute SpanOperation = "task.execute"
	// SpanOperationDispatch is the scheduler claiming and enqueueing a due entry.
	SpanOperationDispatch SpanOperation = "task.dispatch"

	// SpanOperationDBRefresh is a materialized view refresh.
	SpanOperationDBRefresh SpanOperation = "db.refresh"
)

// StartTaskSpan starts a span for one step of the task pipeline. Enqueue and
// dispatch are producer spans, execution is a consumer span.
func StartTaskSpan(ctx context.Context, operation SpanOperation, opts ...TaskSpanOption) (context.Context, trace.Span) {
	spanOpts := &taskSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("messaging.system", "redis"),
			attribute.String("messaging.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := string(operation)
	if spanOpts.task != "" {
		spanName = fmt.Sprintf("%s %s", operation, spanOpts.task)
	}

	kind := trace.SpanKindProducer
	if operation == SpanOperationExecute {
		kind = trace.SpanKindConsumer
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, spanName, trace.WithSpanKind(kind))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// TaskSpanOption configures a task span.
type TaskSpanOption func(*taskSpanOptions)

type taskSpanOptions struct {
	task       string
	attributes []attribute.KeyValue
}

// WithTask sets the task name; it also becomes part of the span name.
func WithTask(name string) TaskSpanOption {
	return func(opts *taskSpanOptions) {
		opts.task = name
		opts.attributes = append(opts.attributes, attribute.String("taskcore.task", name))
	}
}

// WithQueue sets the destination queue.
func WithQueue(queue string) TaskSpanOption {
	return func(opts *taskSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("messaging.destination", queue))
	}
}

// WithInvocationID sets the invocation ID.
func WithInvocationID(id string) TaskSpanOption {
	return func(opts *taskSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("messaging.message_id", id))
	}
}

// WithPayloadSize sets the encoded invocation size in bytes.
func WithPayloadSize(size int) TaskSpanOption {
	return func(opts *taskSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("messaging.payload_size_bytes", size))
	}
}

// WithScheduleEntry sets the schedule entry that produced a dispatch.
func WithScheduleEntry(entry string) TaskSpanOption {
	return func(opts *taskSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("taskcore.schedule_entry", entry))
	}
}

// StartDatabaseSpan starts a client span for a SQL statement run by a task.
func StartDatabaseSpan(ctx context.Context, operation SpanOperation, statement string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, fmt.Sprintf("DB %s", operation), trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", string(operation)),
		attribute.String("db.statement", statement),
	)
	return ctx, span
}

// RecordError records err on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess marks the span OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// InvocationAttributes describes an encoded invocation for spans started
// before the invocation existed.
func InvocationAttributes(id string, size int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.message_id", id),
		attribute.Int("messaging.payload_size_bytes", size),
	}
}
