package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMemoryQueue_Property_FIFO(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("dequeue order equals enqueue order", prop.ForAll(
		func(values []int) bool {
			q := NewMemoryQueue()
			ctx := context.Background()
			for _, value := range values {
				if _, err := q.Enqueue(ctx, "fifo", "echo", map[string]int{"value": value}); err != nil {
					return false
				}
			}
			for _, want := range values {
				inv, err := q.Dequeue(ctx, []string{"fifo"}, time.Second)
				if err != nil || inv == nil {
					return false
				}
				var body struct {
					Value int `json:"value"`
				}
				if err := json.Unmarshal(inv.Payload, &body); err != nil || body.Value != want {
					return false
				}
			}
			n, _ := q.Len(ctx, "fifo")
			return n == 0
		},
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
