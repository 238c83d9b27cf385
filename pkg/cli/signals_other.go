//go:build !unix

package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/nimburion/taskcore/pkg/observability/logger"
)

// Quiescer stops and resumes dequeuing without stopping the process.
type Quiescer interface {
	Quiesce()
	Resume()
}

func shutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}

// watchQuiesce is a no-op where job-control signals do not exist.
func watchQuiesce(context.Context, Quiescer, logger.Logger) {}
