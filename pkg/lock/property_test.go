package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMemoryLocker_Property_AtMostOneHolder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent acquires yield exactly one token", prop.ForAll(
		func(holders int) bool {
			locker := NewMemoryLocker()
			tokens := make(chan string, holders)

			var wg sync.WaitGroup
			for idx := 0; idx < holders; idx++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					token, ok, err := locker.Acquire(context.Background(), "shared", time.Minute)
					if err == nil && ok {
						tokens <- token
					}
				}()
			}
			wg.Wait()
			close(tokens)

			count := 0
			for range tokens {
				count++
			}
			return count == 1
		},
		gen.IntRange(1, 32),
	))

	properties.Property("release with a foreign token never deletes the key", prop.ForAll(
		func(foreign string) bool {
			locker := NewMemoryLocker()
			token, ok, _ := locker.Acquire(context.Background(), "shared", time.Minute)
			if !ok || foreign == token {
				return true
			}
			if err := locker.Release(context.Background(), "shared", foreign); err != nil {
				return foreign == ""
			}
			return locker.Held("shared")
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
