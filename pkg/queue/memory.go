package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/taskcore/pkg/task"
)

// MemoryQueue is an in-process Queue with the same FIFO and blocking
// semantics as RedisQueue. Tests and single-process setups use it.
type MemoryQueue struct {
	mu     sync.Mutex
	lists  map[string][]*task.Invocation
	signal chan struct{}
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		lists:  map[string][]*task.Invocation{},
		signal: make(chan struct{}),
	}
}

// Enqueue appends to the tail of queueName and wakes blocked consumers.
func (q *MemoryQueue) Enqueue(ctx context.Context, queueName, taskName string, payload any) (*task.Invocation, error) {
	inv, err := newInvocation(ctx, queueName, taskName, payload)
	if err != nil {
		return nil, err
	}
	q.Push(inv)
	recordEnqueue(inv.Queue, nil)
	return inv, nil
}

// Push appends an already built invocation. Tests use it to inject entries.
func (q *MemoryQueue) Push(inv *task.Invocation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lists[inv.Queue] = append(q.lists[inv.Queue], inv)
	close(q.signal)
	q.signal = make(chan struct{})
}

// Dequeue pops the head of the first non-empty queue, waiting up to timeout.
func (q *MemoryQueue) Dequeue(ctx context.Context, queueNames []string, timeout time.Duration) (*task.Invocation, error) {
	if ctx == nil {
		return nil, queueError(ErrInvalidArgument, "context is required")
	}
	names, err := normalizeQueueNames(queueNames)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = minDequeueTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		inv, wake := q.tryPop(names)
		if inv != nil {
			recordDequeue(inv.Queue, "ok")
			return inv, nil
		}
		select {
		case <-wake:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) tryPop(names []string) (*task.Invocation, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, name := range names {
		list := q.lists[name]
		if len(list) == 0 {
			continue
		}
		head := list[0]
		list[0] = nil
		q.lists[name] = list[1:]
		return head, nil
	}
	return nil, q.signal
}

// Len reports the number of waiting invocations.
func (q *MemoryQueue) Len(_ context.Context, queueName string) (int64, error) {
	queueName = strings.TrimSpace(queueName)
	if queueName == "" {
		return 0, queueError(ErrInvalidArgument, "queue name is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.lists[queueName])), nil
}

// Peek copies up to n invocations from the head.
func (q *MemoryQueue) Peek(_ context.Context, queueName string, n int64) ([]*task.Invocation, error) {
	queueName = strings.TrimSpace(queueName)
	if queueName == "" {
		return nil, queueError(ErrInvalidArgument, "queue name is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.lists[queueName]
	if n > int64(len(list)) {
		n = int64(len(list))
	}
	if n < 0 {
		n = 0
	}
	out := make([]*task.Invocation, n)
	copy(out, list[:n])
	return out, nil
}
