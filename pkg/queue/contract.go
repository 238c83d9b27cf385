// Package queue stores pending task invocations in named FIFO lists.
//
// Delivery is at-most-once: an invocation popped by Dequeue is gone from the
// store whether or not its execution later succeeds.
package queue

import (
	"context"
	"time"

	"github.com/nimburion/taskcore/pkg/task"
)

// Queue is the capability the scheduler, the worker and ad hoc producers
// share. Implementations must keep strict FIFO order per queue name.
type Queue interface {
	// Enqueue appends a new invocation of taskName to the tail of queueName.
	Enqueue(ctx context.Context, queueName, taskName string, payload any) (*task.Invocation, error)
	// Dequeue pops the head of the first non-empty queue in queueNames,
	// blocking up to timeout. It returns nil, nil when the timeout elapses.
	Dequeue(ctx context.Context, queueNames []string, timeout time.Duration) (*task.Invocation, error)
	// Len reports how many invocations are waiting on queueName.
	Len(ctx context.Context, queueName string) (int64, error)
	// Peek returns up to n invocations from the head without removing them.
	Peek(ctx context.Context, queueName string, n int64) ([]*task.Invocation, error)
}
