package worker

import (
	"strings"
	"time"

	"github.com/nimburion/taskcore/pkg/health"
)

const defaultHealthCheckName = "worker"

// NewHealthChecker reports whether the worker's slots are running.
func NewHealthChecker(name string, w *Worker, timeout time.Duration) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultHealthCheckName
	}
	return health.NewAdapterChecker(checkName, w, timeout)
}
