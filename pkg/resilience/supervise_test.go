package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervise_ReturnsFunctionResult(t *testing.T) {
	boom := errors.New("boom")
	sup := Supervise(context.Background(), Limits{Soft: time.Second, Hard: 2 * time.Second}, func(context.Context) error {
		return boom
	}, nil)
	if !errors.Is(sup.Err, boom) || sup.SoftTripped || sup.Abandoned {
		t.Fatalf("unexpected supervision %+v", sup)
	}
	<-sup.Done
}

func TestSupervise_SoftTimeoutCancelsWithCause(t *testing.T) {
	var softCalls atomic.Int32
	sup := Supervise(context.Background(), Limits{Soft: 30 * time.Millisecond, Hard: time.Second}, func(ctx context.Context) error {
		<-ctx.Done()
		return context.Cause(ctx)
	}, func() { softCalls.Add(1) })

	if !sup.SoftTripped || sup.Abandoned {
		t.Fatalf("expected soft trip only, got %+v", sup)
	}
	if !errors.Is(sup.Err, ErrSoftTimeout) {
		t.Fatalf("expected soft timeout cause, got %v", sup.Err)
	}
	if softCalls.Load() != 1 {
		t.Fatalf("expected one soft callback, got %d", softCalls.Load())
	}
}

func TestSupervise_HardTimeoutAbandons(t *testing.T) {
	release := make(chan struct{})
	start := time.Now()
	sup := Supervise(context.Background(), Limits{Soft: 20 * time.Millisecond, Hard: 60 * time.Millisecond}, func(context.Context) error {
		<-release
		return nil
	}, nil)
	elapsed := time.Since(start)

	if !sup.Abandoned || !errors.Is(sup.Err, ErrHardTimeout) {
		t.Fatalf("expected abandonment, got %+v", sup)
	}
	if elapsed < 60*time.Millisecond || elapsed > time.Second {
		t.Fatalf("hard timeout fired at %v", elapsed)
	}

	select {
	case <-sup.Done:
		t.Fatal("abandoned function must still be running")
	default:
	}
	close(release)
	select {
	case <-sup.Done:
	case <-time.After(time.Second):
		t.Fatal("expected done after release")
	}
}

func TestSupervise_RecoversPanic(t *testing.T) {
	sup := Supervise(context.Background(), Limits{}, func(context.Context) error {
		panic("kaboom")
	}, nil)
	var panicErr *PanicError
	if !errors.As(sup.Err, &panicErr) || panicErr.Value != "kaboom" {
		t.Fatalf("expected panic error, got %v", sup.Err)
	}
}

func TestSupervise_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sup := Supervise(ctx, Limits{Hard: time.Second}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	if !errors.Is(sup.Err, context.Canceled) || sup.SoftTripped || sup.Abandoned {
		t.Fatalf("unexpected supervision %+v", sup)
	}
}
