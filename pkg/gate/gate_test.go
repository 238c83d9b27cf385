package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/testutil"
)

type gateTestLogger struct{}

func (l *gateTestLogger) Debug(string, ...any) {}
func (l *gateTestLogger) Info(string, ...any)  {}
func (l *gateTestLogger) Warn(string, ...any)  {}
func (l *gateTestLogger) Error(string, ...any) {}
func (l *gateTestLogger) With(...any) logger.Logger {
	return l
}
func (l *gateTestLogger) WithContext(context.Context) logger.Logger {
	return l
}

func TestStaticAndFunc(t *testing.T) {
	if prevent, _ := Open.ShouldPrevent(context.Background()); prevent {
		t.Fatal("open gate must not prevent")
	}
	if prevent, _ := Static(true).ShouldPrevent(context.Background()); !prevent {
		t.Fatal("closed static gate must prevent")
	}

	boom := errors.New("boom")
	fn := Func(func(context.Context) (bool, error) { return false, boom })
	if _, err := fn.ShouldPrevent(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected func error, got %v", err)
	}
}

func TestFlagConfig_Normalize(t *testing.T) {
	cfg := FlagConfig{}
	cfg.normalize()
	if cfg.Key != DefaultKey || cfg.OperationTimeout != defaultRedisOperationTimeout {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestNewFlagGate_RequiresDependencies(t *testing.T) {
	if _, err := NewFlagGate(nil, FlagConfig{}, &gateTestLogger{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	if _, err := NewFlagGate(client, FlagConfig{}, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestFlagGate_StoreUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	g, _ := NewFlagGate(client, FlagConfig{OperationTimeout: 200 * time.Millisecond}, &gateTestLogger{})
	if _, err := g.ShouldPrevent(context.Background()); !errors.Is(err, ErrRetryable) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestFlagGate_Integration(t *testing.T) {
	url := testutil.StartRedis(t)
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	g, err := NewFlagGate(client, FlagConfig{Key: "it:gate"}, &gateTestLogger{})
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	ctx := context.Background()

	if prevent, err := g.ShouldPrevent(ctx); err != nil || prevent {
		t.Fatalf("absent flag must allow execution: %v %v", prevent, err)
	}

	if err := g.Enable(ctx, "migration in progress"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	status, err := g.Status(ctx)
	if err != nil || !status.Engaged || status.Reason != "migration in progress" {
		t.Fatalf("unexpected status %+v %v", status, err)
	}

	if err := client.Set(ctx, "it:gate", "false", 0).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if prevent, _ := g.ShouldPrevent(ctx); prevent {
		t.Fatal("explicit false value must allow execution")
	}

	if err := g.Enable(ctx, ""); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if prevent, _ := g.ShouldPrevent(ctx); !prevent {
		t.Fatal("expected prevention with default flag value")
	}
	if err := g.Disable(ctx); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if prevent, _ := g.ShouldPrevent(ctx); prevent {
		t.Fatal("expected execution allowed after disable")
	}
}
