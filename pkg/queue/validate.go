package queue

import (
	"context"
	"strings"
	"time"

	"github.com/nimburion/taskcore/pkg/observability/tracing"
	"github.com/nimburion/taskcore/pkg/task"
)

// minDequeueTimeout is the smallest blocking pop the store supports; a zero
// timeout would block forever.
const minDequeueTimeout = time.Second

func normalizeQueueNames(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, queueError(ErrInvalidArgument, "at least one queue name is required")
	}
	return out, nil
}

// normalizeDequeueTimeout rounds up to whole seconds, the resolution BLPOP
// is sent with, so the store never answers before timeout.
func normalizeDequeueTimeout(timeout time.Duration) time.Duration {
	if timeout < minDequeueTimeout {
		return minDequeueTimeout
	}
	if rem := timeout % time.Second; rem != 0 {
		timeout += time.Second - rem
	}
	return timeout
}

// newInvocation builds the envelope and stamps the caller's trace context on it.
func newInvocation(ctx context.Context, queueName, taskName string, payload any) (*task.Invocation, error) {
	if ctx == nil {
		return nil, queueError(ErrInvalidArgument, "context is required")
	}
	if strings.TrimSpace(queueName) == "" {
		return nil, queueError(ErrInvalidArgument, "queue name is required")
	}
	if strings.TrimSpace(taskName) == "" {
		return nil, queueError(ErrInvalidArgument, "task name is required")
	}
	inv, err := task.NewInvocation(queueName, taskName, payload)
	if err != nil {
		return nil, err
	}
	inv.Headers = tracing.InjectHeaders(ctx, inv.Headers)
	return inv, nil
}
