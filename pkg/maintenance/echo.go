package maintenance

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/task"
)

// Echo records and logs the value field of each payload.
type Echo struct {
	log logger.Logger

	mu     sync.Mutex
	values []json.RawMessage
}

// NewEcho returns an empty echo task.
func NewEcho(log logger.Logger) (*Echo, error) {
	if log == nil {
		return nil, maintenanceError(ErrInvalidArgument, "logger is required")
	}
	return &Echo{log: log}, nil
}

// Handle expects {"value": <any JSON>}.
func (e *Echo) Handle(ctx context.Context, payload json.RawMessage) error {
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := task.DecodePayload(payload, &body); err != nil {
		return err
	}
	if len(body.Value) == 0 {
		return maintenanceError(ErrInvalidArgument, "echo payload requires a value")
	}

	e.mu.Lock()
	e.values = append(e.values, body.Value)
	e.mu.Unlock()
	e.log.WithContext(ctx).Info("echo", "value", string(body.Value))
	return nil
}

// Values returns the values seen so far, oldest first.
func (e *Echo) Values() []json.RawMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]json.RawMessage(nil), e.values...)
}
