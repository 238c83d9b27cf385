package tracing

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := NewTracerProvider(ctx, TracerConfig{ServiceName: "taskcore", Enabled: false})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got: %v", err)
	}

	_, span := provider.Tracer("test").Start(ctx, "test-span")
	span.End()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := provider.ForceFlush(shutdownCtx); err != nil {
		t.Errorf("expected no error on force flush, got: %v", err)
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		t.Errorf("expected no error on shutdown, got: %v", err)
	}
}

func TestNewTracerProvider_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		config      TracerConfig
		expectedErr string
	}{
		{
			name:        "missing service name",
			config:      TracerConfig{Enabled: true, Endpoint: "localhost:4317"},
			expectedErr: "service name is required",
		},
		{
			name:        "missing endpoint",
			config:      TracerConfig{ServiceName: "taskcore", Enabled: true},
			expectedErr: "OTLP endpoint is required",
		},
		{
			name:        "negative sample rate",
			config:      TracerConfig{ServiceName: "taskcore", Endpoint: "localhost:4317", SampleRate: -0.1, Enabled: true},
			expectedErr: "sample rate must be between 0 and 1",
		},
		{
			name:        "sample rate above one",
			config:      TracerConfig{ServiceName: "taskcore", Endpoint: "localhost:4317", SampleRate: 1.5, Enabled: true},
			expectedErr: "sample rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), tt.config)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

func TestTracerConfig_ValidSampleRates(t *testing.T) {
	for _, rate := range []float64{0.0, 0.01, 0.5, 1.0} {
		t.Run(fmt.Sprintf("rate_%v", rate), func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), TracerConfig{
				ServiceName: "taskcore",
				SampleRate:  rate,
			})
			if err != nil {
				t.Errorf("expected no error for sample rate %f, got: %v", rate, err)
			}
		})
	}
}

func TestTracerProvider_NilShutdown(t *testing.T) {
	var provider *TracerProvider
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil provider shutdown to be a no-op, got %v", err)
	}
}

func TestTracerConfig_Resource(t *testing.T) {
	res := TracerConfig{
		ServiceName:    "taskcore",
		ServiceVersion: "1.2.3",
		Environment:    "staging",
		Role:           "worker",
		Instance:       "host-a:42",
	}.Resource()

	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"service.name":           "taskcore",
		"service.version":        "1.2.3",
		"deployment.environment": "staging",
		"taskcore.role":          "worker",
		"taskcore.instance":      "host-a:42",
	}
	for key, value := range want {
		if got[key] != value {
			t.Errorf("attribute %s: expected %q, got %q", key, value, got[key])
		}
	}
}

func TestTracerConfig_DefaultInstance(t *testing.T) {
	if instance := (TracerConfig{}).instance(); instance == "" {
		t.Fatal("expected a hostname:pid instance")
	}
}
