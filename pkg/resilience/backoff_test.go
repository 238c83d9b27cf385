package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBackoff_Property_BoundedAndMonotonicCap(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("delay stays within [0.8*cap, max]", prop.ForAll(
		func(attempt int) bool {
			b := Backoff{Initial: 100 * time.Millisecond, Max: 5 * time.Second}
			delay := b.Delay(attempt)
			if delay > b.Max || delay <= 0 {
				return false
			}
			base := b.Initial
			for i := 0; i < attempt && base < b.Max; i++ {
				base *= 2
			}
			if base > b.Max {
				base = b.Max
			}
			return delay >= base-base/5
		},
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestBackoff_ZeroValueUsesDefaults(t *testing.T) {
	if d := (Backoff{}).Delay(0); d <= 0 || d > DefaultBackoff.Initial {
		t.Fatalf("unexpected default delay %v", d)
	}
}

func TestSleep_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("expected nil after sleeping, got %v", err)
	}
}
