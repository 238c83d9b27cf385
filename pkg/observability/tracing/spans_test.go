package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(spanRecorder),
	)
	otel.SetTracerProvider(provider)

	return spanRecorder
}

func TestStartTaskSpan(t *testing.T) {
	recorder := setupTestTracer(t)
	ctx := context.Background()

	tests := []struct {
		name          string
		operation     SpanOperation
		opts          []TaskSpanOption
		expectedName  string
		expectedKind  trace.SpanKind
		expectedAttrs map[string]interface{}
	}{
		{
			name:         "enqueue without options",
			operation:    SpanOperationEnqueue,
			expectedName: "task.enqueue",
			expectedKind: trace.SpanKindProducer,
			expectedAttrs: map[string]interface{}{
				"messaging.operation": "task.enqueue",
				"messaging.system":    "redis",
			},
		},
		{
			name:      "execute with all options",
			operation: SpanOperationExecute,
			opts: []TaskSpanOption{
				WithTask("echo"),
				WithQueue("default"),
				WithInvocationID("inv-1"),
				WithPayloadSize(42),
			},
			expectedName: "task.execute echo",
			expectedKind: trace.SpanKindConsumer,
			expectedAttrs: map[string]interface{}{
				"taskcore.task":                "echo",
				"messaging.destination":        "default",
				"messaging.message_id":         "inv-1",
				"messaging.payload_size_bytes": int64(42),
			},
		},
		{
			name:      "dispatch with entry",
			operation: SpanOperationDispatch,
			opts: []TaskSpanOption{
				WithTask("maintenance.refresh_view"),
				WithScheduleEntry("nightly-refresh"),
			},
			expectedName: "task.dispatch maintenance.refresh_view",
			expectedKind: trace.SpanKindProducer,
			expectedAttrs: map[string]interface{}{
				"taskcore.schedule_entry": "nightly-refresh",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder.Reset()

			_, span := StartTaskSpan(ctx, tt.operation, tt.opts...)
			span.End()

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			recorded := spans[0]
			if recorded.Name() != tt.expectedName {
				t.Errorf("expected span name %q, got %q", tt.expectedName, recorded.Name())
			}
			if recorded.SpanKind() != tt.expectedKind {
				t.Errorf("expected span kind %v, got %v", tt.expectedKind, recorded.SpanKind())
			}
			assertAttributes(t, recorded, tt.expectedAttrs)
		})
	}
}

func TestStartDatabaseSpan(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartDatabaseSpan(context.Background(), SpanOperationDBRefresh, `REFRESH MATERIALIZED VIEW "daily_totals"`)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "DB db.refresh" {
		t.Errorf("unexpected span name %q", spans[0].Name())
	}
	assertAttributes(t, spans[0], map[string]interface{}{
		"db.system":    "postgresql",
		"db.statement": `REFRESH MATERIALIZED VIEW "daily_totals"`,
	})
}

func assertAttributes(t *testing.T, span sdktrace.ReadOnlySpan, expected map[string]interface{}) {
	t.Helper()
	attrs := span.Attributes()
	for key, expectedValue := range expected {
		found := false
		for _, attr := range attrs {
			if string(attr.Key) == key {
				found = true
				if attr.Value.AsInterface() != expectedValue {
					t.Errorf("expected attribute %s=%v, got %v", key, expectedValue, attr.Value.AsInterface())
				}
				break
			}
		}
		if !found {
			t.Errorf("expected attribute %s not found", key)
		}
	}
}

func TestRecordError(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := otel.Tracer("test").Start(context.Background(), "test-span")
	testErr := errors.New("test error")
	RecordError(span, testErr)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	recorded := spans[0]
	if events := recorded.Events(); len(events) != 1 || events[0].Name != "exception" {
		t.Fatalf("expected one exception event, got %+v", events)
	}
	if recorded.Status().Code != codes.Error {
		t.Errorf("expected span status Error, got %v", recorded.Status().Code)
	}
	if recorded.Status().Description != testErr.Error() {
		t.Errorf("expected status description %q, got %q", testErr.Error(), recorded.Status().Description)
	}
}

func TestRecordError_NilIsNoop(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := otel.Tracer("test").Start(context.Background(), "test-span")
	RecordError(span, nil)
	span.End()

	if got := recorder.Ended()[0].Status().Code; got != codes.Unset {
		t.Errorf("expected unset status, got %v", got)
	}
}

func TestRecordSuccess(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := otel.Tracer("test").Start(context.Background(), "test-span")
	RecordSuccess(span)
	span.End()

	if got := recorder.Ended()[0].Status().Code; got != codes.Ok {
		t.Errorf("expected span status Ok, got %v", got)
	}
}

func TestInjectExtractHeaders(t *testing.T) {
	setupTestTracer(t)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, span := otel.Tracer("test").Start(context.Background(), "producer")
	defer span.End()

	headers := InjectHeaders(ctx, nil)
	if headers["traceparent"] == "" {
		t.Fatalf("expected traceparent header, got %v", headers)
	}

	remote := trace.SpanContextFromContext(ExtractHeaders(context.Background(), headers))
	if remote.TraceID() != span.SpanContext().TraceID() {
		t.Fatalf("expected trace id %s, got %s", span.SpanContext().TraceID(), remote.TraceID())
	}
}

func TestInjectHeaders_NoActiveSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	if headers := InjectHeaders(context.Background(), nil); headers != nil {
		t.Fatalf("expected no headers without a span, got %v", headers)
	}
}
