package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nimburion/taskcore/pkg/observability/logger"
)

// ErrValidation marks configuration rejected at load time.
var ErrValidation = errors.New("invalid configuration")

const (
	// MinClaimTTL keeps a claim alive past the minute it protects.
	MinClaimTTL = time.Minute
	// MaxTickInterval keeps every minute observed by at least one tick.
	MaxTickInterval = time.Minute
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Validate normalizes list fields and reports every violation joined.
func (c *Config) Validate() error {
	if c == nil {
		return validationError("config is nil")
	}
	c.normalize()

	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(c.Store.validate())
	add(c.Queue.validate())
	add(c.Worker.validate())
	add(c.Scheduler.validate())
	if strings.TrimSpace(c.Gate.Key) == "" {
		add(validationError("gate.key is required"))
	}
	add(c.Lock.validate())
	add(c.Maintenance.validate())
	add(c.Database.validate())
	add(c.Management.validate())
	add(c.Observability.validate())

	return errors.Join(errs...)
}

func (c *Config) normalize() {
	c.Worker.Queues = cleanList(c.Worker.Queues)
	c.Maintenance.Views = cleanList(c.Maintenance.Views)
	c.Lock.Backend = strings.ToLower(strings.TrimSpace(c.Lock.Backend))
	c.Observability.LogLevel = strings.ToLower(strings.TrimSpace(c.Observability.LogLevel))
	c.Observability.LogFormat = strings.ToLower(strings.TrimSpace(c.Observability.LogFormat))
}

func cleanList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			value := strings.TrimSpace(part)
			if value == "" {
				continue
			}
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s StoreConfig) validate() error {
	var errs []error
	if strings.TrimSpace(s.URL) == "" {
		if strings.TrimSpace(s.Host) == "" {
			errs = append(errs, validationError("store.url or store.host is required"))
		}
		if s.Port < 1 || s.Port > 65535 {
			errs = append(errs, validationError("store.port must be between 1 and 65535, got %d", s.Port))
		}
	}
	if s.DB < 0 {
		errs = append(errs, validationError("store.db must not be negative"))
	}
	if s.PoolSize < 0 {
		errs = append(errs, validationError("store.pool_size must not be negative"))
	}
	if s.OperationTimeout <= 0 {
		errs = append(errs, validationError("store.operation_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func (q QueueConfig) validate() error {
	var errs []error
	if strings.TrimSpace(q.Default) == "" {
		errs = append(errs, validationError("queue.default is required"))
	}
	if q.TTL < 0 {
		errs = append(errs, validationError("queue.ttl must not be negative"))
	}
	return errors.Join(errs...)
}

func (w WorkerConfig) validate() error {
	var errs []error
	if w.Concurrency < 1 {
		errs = append(errs, validationError("worker.concurrency must be at least 1, got %d", w.Concurrency))
	}
	if w.DequeueTimeout <= 0 {
		errs = append(errs, validationError("worker.dequeue_timeout must be positive"))
	}
	if w.SoftTimeout <= 0 {
		errs = append(errs, validationError("worker.soft_timeout must be positive"))
	}
	if w.HardTimeout <= w.SoftTimeout {
		errs = append(errs, validationError("worker.hard_timeout (%s) must be greater than worker.soft_timeout (%s)", w.HardTimeout, w.SoftTimeout))
	}
	if w.StopTimeout <= 0 {
		errs = append(errs, validationError("worker.stop_timeout must be positive"))
	}
	if w.HeartbeatInterval <= 0 {
		errs = append(errs, validationError("worker.heartbeat_interval must be positive"))
	}
	return errors.Join(errs...)
}

func (s SchedulerConfig) validate() error {
	var errs []error
	if s.TickInterval <= 0 || s.TickInterval >= MaxTickInterval {
		errs = append(errs, validationError("scheduler.tick_interval must be positive and below %s, got %s", MaxTickInterval, s.TickInterval))
	}
	if s.ClaimTTL < MinClaimTTL {
		errs = append(errs, validationError("scheduler.claim_ttl must be at least %s, got %s", MinClaimTTL, s.ClaimTTL))
	}
	if s.DispatchTimeout <= 0 {
		errs = append(errs, validationError("scheduler.dispatch_timeout must be positive"))
	}
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, validationError("scheduler.timezone %q: %v", tz, err))
		}
	}

	names := make(map[string]struct{}, len(s.Entries))
	for idx, entry := range s.Entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			name = strings.TrimSpace(entry.Task)
		}
		if strings.TrimSpace(entry.Task) == "" {
			errs = append(errs, validationError("scheduler.entries[%d].task is required", idx))
		}
		if strings.TrimSpace(entry.Schedule) == "" {
			errs = append(errs, validationError("scheduler.entries[%d].schedule is required", idx))
		}
		if name != "" {
			if _, dup := names[name]; dup {
				errs = append(errs, validationError("scheduler.entries[%d]: duplicate entry name %q", idx, name))
			}
			names[name] = struct{}{}
		}
		if payload := strings.TrimSpace(entry.Payload); payload != "" && !json.Valid([]byte(payload)) {
			errs = append(errs, validationError("scheduler.entries[%d].payload is not valid JSON", idx))
		}
	}
	return errors.Join(errs...)
}

func (l LockConfig) validate() error {
	var errs []error
	switch l.Backend {
	case LockBackendRedis:
	case LockBackendPostgres:
		if strings.TrimSpace(l.PostgresURL) == "" {
			errs = append(errs, validationError("lock.postgres_url is required when lock.backend is %q", LockBackendPostgres))
		}
		if !tableNamePattern.MatchString(l.Table) {
			errs = append(errs, validationError("lock.table %q is not a valid table name", l.Table))
		}
	default:
		errs = append(errs, validationError("lock.backend must be %q or %q, got %q", LockBackendRedis, LockBackendPostgres, l.Backend))
	}
	return errors.Join(errs...)
}

func (m MaintenanceConfig) validate() error {
	var errs []error
	if len(m.Views) > 0 && strings.TrimSpace(m.DatabaseURL) == "" {
		errs = append(errs, validationError("maintenance.database_url is required when maintenance.views is set"))
	}
	if m.LockTTL <= 0 {
		errs = append(errs, validationError("maintenance.lock_ttl must be positive"))
	}
	return errors.Join(errs...)
}

func (d DatabaseConfig) validate() error {
	var errs []error
	if d.MaxOpenConns < 0 {
		errs = append(errs, validationError("database.max_open_conns must be non-negative"))
	}
	if d.MaxIdleConns < 0 {
		errs = append(errs, validationError("database.max_idle_conns must be non-negative"))
	}
	if d.MaxOpenConns > 0 && d.MaxIdleConns > d.MaxOpenConns {
		errs = append(errs, validationError("database.max_idle_conns must not exceed database.max_open_conns"))
	}
	if d.ConnMaxLifetime < 0 || d.ConnMaxIdleTime < 0 || d.QueryTimeout < 0 {
		errs = append(errs, validationError("database durations must be non-negative"))
	}
	return errors.Join(errs...)
}

func (m ManagementConfig) validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Port < 1 || m.Port > 65535 {
		return validationError("management.port must be between 1 and 65535, got %d", m.Port)
	}
	return nil
}

func (o ObservabilityConfig) validate() error {
	var errs []error
	if _, err := logger.ParseLogLevel(o.LogLevel); err != nil {
		errs = append(errs, validationError("observability.log_level: %v", err))
	}
	if _, err := logger.ParseLogFormat(o.LogFormat); err != nil {
		errs = append(errs, validationError("observability.log_format: %v", err))
	}
	if o.TracingSampleRate < 0 || o.TracingSampleRate > 1 {
		errs = append(errs, validationError("observability.tracing_sample_rate must be between 0 and 1, got %v", o.TracingSampleRate))
	}
	if o.TracingEnabled && strings.TrimSpace(o.TracingEndpoint) == "" {
		errs = append(errs, validationError("observability.tracing_endpoint is required when tracing is enabled"))
	}
	return errors.Join(errs...)
}
