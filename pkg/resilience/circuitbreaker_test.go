package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(maxFailures int, cooldown time.Duration) (*CircuitBreaker, *stepClock) {
	clock := &stepClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, cooldown)
	cb.now = clock.Now
	return cb, clock
}

var errStore = errors.New("store unavailable")

func failing() error { return errStore }
func succeeding() error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(failing); !errors.Is(err, errStore) {
			t.Fatalf("attempt %d: expected store error, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitBreakerOpen) || called {
		t.Fatalf("expected rejection without call, got %v called=%v", err, called)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)
	_ = cb.Execute(succeeding)
	if cb.Failures() != 0 {
		t.Fatalf("expected reset failures, got %d", cb.Failures())
	}
	_ = cb.Execute(failing)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	var transitions []string
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	_ = cb.Execute(failing)
	clock.Advance(500 * time.Millisecond)
	if err := cb.Execute(succeeding); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("expected rejection during cooldown, got %v", err)
	}

	clock.Advance(time.Second)
	_ = cb.Execute(failing)
	if cb.State() != StateOpen {
		t.Fatalf("failed probe must reopen, got %v", cb.State())
	}

	clock.Advance(2 * time.Second)
	if err := cb.Execute(succeeding); err != nil {
		t.Fatalf("expected probe to run, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("successful probe must close, got %v", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("unexpected transitions %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	_ = cb.Execute(failing)
	cb.Reset()
	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Fatalf("expected closed after reset, got %v/%d", cb.State(), cb.Failures())
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
