package task

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewInvocation_PayloadForms(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    string
		wantErr bool
	}{
		{name: "nil becomes empty object", payload: nil, want: `{}`},
		{name: "struct is marshaled", payload: map[string]int{"value": 1}, want: `{"value":1}`},
		{name: "raw message kept", payload: json.RawMessage(`{"value":2}`), want: `{"value":2}`},
		{name: "json bytes kept", payload: []byte(`[1,2]`), want: `[1,2]`},
		{name: "invalid bytes rejected", payload: []byte(`{nope`), wantErr: true},
		{name: "unmarshalable value rejected", payload: make(chan int), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := NewInvocation("default", "echo", tt.payload)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("new invocation: %v", err)
			}
			if string(inv.Payload) != tt.want {
				t.Fatalf("payload = %s, want %s", inv.Payload, tt.want)
			}
			if inv.ID == "" || inv.EnqueuedAt.IsZero() {
				t.Fatal("expected generated id and enqueue time")
			}
		})
	}
}

func TestInvocation_EncodeDecode(t *testing.T) {
	inv, err := NewInvocation("reports", "reports.rollup", map[string]string{"day": "2024-03-01"})
	if err != nil {
		t.Fatalf("new invocation: %v", err)
	}
	data, err := inv.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeInvocation(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != inv.ID || decoded.Task != inv.Task || decoded.Queue != inv.Queue {
		t.Fatalf("decoded %+v does not match %+v", decoded, inv)
	}
	var payload map[string]string
	if err := DecodePayload(decoded.Payload, &payload); err != nil || payload["day"] != "2024-03-01" {
		t.Fatalf("payload mismatch: %v %v", payload, err)
	}
}

func TestDecodeInvocation_Rejects(t *testing.T) {
	for _, data := range []string{`not json`, `{"id":"1","queue":"q"}`, `{"task":"t","queue":"q"}`} {
		if _, err := DecodeInvocation([]byte(data)); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %s, got %v", data, err)
		}
	}
}

func TestNewInvocation_RequiresNames(t *testing.T) {
	if _, err := NewInvocation("", "echo", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected error for empty queue, got %v", err)
	}
	if _, err := NewInvocation("default", "", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected error for empty task, got %v", err)
	}
}
