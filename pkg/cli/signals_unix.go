//go:build unix

package cli

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/nimburion/taskcore/pkg/observability/logger"
)

// Quiescer stops and resumes dequeuing without stopping the process.
type Quiescer interface {
	Quiesce()
	Resume()
}

// shutdownContext is cancelled on SIGTERM or SIGINT.
func shutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, unix.SIGTERM, unix.SIGINT)
}

// watchQuiesce quiesces q on SIGTSTP and resumes it on SIGCONT until ctx
// is done.
func watchQuiesce(ctx context.Context, q Quiescer, log logger.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGTSTP, unix.SIGCONT)
	go func() {
		defer signal.Stop(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-signals:
				switch sig {
				case unix.SIGTSTP:
					log.Info("quiesce requested, no new invocations will be dequeued")
					q.Quiesce()
				case unix.SIGCONT:
					log.Info("resume requested")
					q.Resume()
				}
			}
		}
	}()
}
