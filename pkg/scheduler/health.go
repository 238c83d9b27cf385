package scheduler

import (
	"strings"
	"time"

	"github.com/nimburion/taskcore/pkg/health"
)

const defaultHealthCheckName = "scheduler"

// NewHealthChecker reports the tick loop's liveness to a health registry.
func NewHealthChecker(name string, runtime *Runtime, timeout time.Duration) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultHealthCheckName
	}
	return health.NewAdapterChecker(checkName, runtime, timeout)
}
