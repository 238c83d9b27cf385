package task

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

var emptyPayload = json.RawMessage(`{}`)

// Invocation is one request to run a task. It is what travels on a queue.
type Invocation struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	// Headers carries trace propagation fields from producer to worker.
	Headers map[string]string `json:"headers,omitempty"`
}

// NewInvocation builds an invocation with a fresh ID. payload may be
// json.RawMessage, []byte holding JSON, nil, or any JSON-marshalable value.
func NewInvocation(queue, taskName string, payload any) (*Invocation, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	inv := &Invocation{
		ID:         uuid.NewString(),
		Task:       strings.TrimSpace(taskName),
		Queue:      strings.TrimSpace(queue),
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

// Validate checks the fields every consumer relies on.
func (i *Invocation) Validate() error {
	if i == nil {
		return taskError(ErrValidation, "invocation is nil")
	}
	if strings.TrimSpace(i.ID) == "" {
		return taskError(ErrValidation, "invocation id is required")
	}
	if strings.TrimSpace(i.Task) == "" {
		return taskError(ErrValidation, "task name is required")
	}
	if strings.TrimSpace(i.Queue) == "" {
		return taskError(ErrValidation, "queue name is required")
	}
	return nil
}

// Encode serializes the invocation for the wire.
func (i *Invocation) Encode() ([]byte, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(i)
}

// DecodeInvocation parses a wire entry.
func DecodeInvocation(data []byte) (*Invocation, error) {
	var inv Invocation
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, taskError(ErrValidation, "decode invocation: "+err.Error())
	}
	if len(inv.Payload) == 0 {
		inv.Payload = emptyPayload
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch value := payload.(type) {
	case nil:
		return emptyPayload, nil
	case json.RawMessage:
		return validRaw(value)
	case []byte:
		return validRaw(value)
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, taskError(ErrValidation, "encode payload: "+err.Error())
		}
		return raw, nil
	}
}

func validRaw(raw []byte) (json.RawMessage, error) {
	if len(raw) == 0 {
		return emptyPayload, nil
	}
	if !json.Valid(raw) {
		return nil, taskError(ErrValidation, "payload is not valid JSON")
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}
