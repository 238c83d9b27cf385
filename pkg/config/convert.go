package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nimburion/taskcore/pkg/gate"
	"github.com/nimburion/taskcore/pkg/lock"
	"github.com/nimburion/taskcore/pkg/maintenance"
	"github.com/nimburion/taskcore/pkg/observability/tracing"
	"github.com/nimburion/taskcore/pkg/queue"
	"github.com/nimburion/taskcore/pkg/scheduler"
	"github.com/nimburion/taskcore/pkg/stats"
	storepostgres "github.com/nimburion/taskcore/pkg/store/postgres"
	storeredis "github.com/nimburion/taskcore/pkg/store/redis"
	"github.com/nimburion/taskcore/pkg/worker"
)

const redactedValue = "***"

var dsnPasswordPattern = regexp.MustCompile(`(password=)('[^']*'|\S+)`)

// StoreAdapter returns the store adapter settings.
func (c *Config) StoreAdapter() storeredis.Config {
	s := c.Store
	return storeredis.Config{
		URL:              s.URL,
		Host:             s.Host,
		Port:             s.Port,
		Username:         s.Username,
		Password:         s.Password,
		DB:               s.DB,
		TLS:              s.TLS,
		TLSSkipVerify:    s.TLSSkipVerify,
		PoolSize:         s.PoolSize,
		Prefix:           s.Prefix,
		OperationTimeout: s.OperationTimeout,
	}
}

// QueueStore returns the queue settings under the store prefix.
func (c *Config) QueueStore() queue.RedisConfig {
	return queue.RedisConfig{
		Prefix:           c.keyPrefix("queue"),
		TTL:              c.Queue.TTL,
		OperationTimeout: c.Store.OperationTimeout,
	}
}

// LockStore returns the store-backed lock settings.
func (c *Config) LockStore() lock.RedisConfig {
	return lock.RedisConfig{
		Prefix:           c.keyPrefix("lock"),
		OperationTimeout: c.Store.OperationTimeout,
	}
}

// LockPostgres returns the database-backed lock settings.
func (c *Config) LockPostgres() lock.PostgresConfig {
	return lock.PostgresConfig{
		Table:            c.Lock.Table,
		OperationTimeout: c.Store.OperationTimeout,
	}
}

// StatsStore returns the bookkeeping settings.
func (c *Config) StatsStore() stats.RedisConfig {
	return stats.RedisConfig{
		Prefix:           strings.TrimRight(strings.TrimSpace(c.Store.Prefix), ":"),
		OperationTimeout: c.Store.OperationTimeout,
	}
}

// GateFlag returns the gate flag settings.
func (c *Config) GateFlag() gate.FlagConfig {
	return gate.FlagConfig{
		Key:              c.Gate.Key,
		OperationTimeout: c.Store.OperationTimeout,
	}
}

// WorkerRuntime returns the worker settings.
func (c *Config) WorkerRuntime() worker.Config {
	w := c.Worker
	return worker.Config{
		Queues:            append([]string(nil), w.Queues...),
		Concurrency:       w.Concurrency,
		DequeueTimeout:    w.DequeueTimeout,
		SoftTimeout:       w.SoftTimeout,
		HardTimeout:       w.HardTimeout,
		StopTimeout:       w.StopTimeout,
		HeartbeatInterval: w.HeartbeatInterval,
		FailClosed:        !c.Gate.FailOpen,
	}
}

// SchedulerRuntime returns the scheduler loop settings.
func (c *Config) SchedulerRuntime() scheduler.Config {
	return scheduler.Config{
		TickInterval:    c.Scheduler.TickInterval,
		ClaimTTL:        c.Scheduler.ClaimTTL,
		DispatchTimeout: c.Scheduler.DispatchTimeout,
	}
}

// ScheduleEntries converts the declared entries. Entries without a timezone
// inherit scheduler.timezone.
func (c *Config) ScheduleEntries() ([]scheduler.Entry, error) {
	entries := make([]scheduler.Entry, 0, len(c.Scheduler.Entries))
	for idx, declared := range c.Scheduler.Entries {
		entry := scheduler.Entry{
			Name:     strings.TrimSpace(declared.Name),
			Schedule: strings.TrimSpace(declared.Schedule),
			Task:     strings.TrimSpace(declared.Task),
			Queue:    strings.TrimSpace(declared.Queue),
			Timezone: strings.TrimSpace(declared.Timezone),
		}
		if entry.Timezone == "" {
			entry.Timezone = strings.TrimSpace(c.Scheduler.Timezone)
		}
		if payload := strings.TrimSpace(declared.Payload); payload != "" {
			if !json.Valid([]byte(payload)) {
				return nil, validationError("scheduler.entries[%d].payload is not valid JSON", idx)
			}
			entry.Payload = json.RawMessage(payload)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PostgresPool returns pool settings for a Postgres database at url.
func (c *Config) PostgresPool(url string) storepostgres.Config {
	return storepostgres.Config{
		URL:             url,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
		QueryTimeout:    c.Database.QueryTimeout,
	}
}

// ViewRefresh returns the materialized view maintenance settings.
func (c *Config) ViewRefresh() maintenance.ViewConfig {
	return maintenance.ViewConfig{
		Views:        append([]string(nil), c.Maintenance.Views...),
		Concurrently: c.Maintenance.Concurrently,
		LockTTL:      c.Maintenance.LockTTL,
	}
}

// Tracer returns tracer settings for a process role.
func (c *Config) Tracer(role, version string) tracing.TracerConfig {
	return tracing.TracerConfig{
		ServiceName:    c.Service.Name,
		ServiceVersion: version,
		Environment:    c.Service.Environment,
		Role:           role,
		Endpoint:       c.Observability.TracingEndpoint,
		SampleRate:     c.Observability.TracingSampleRate,
		Enabled:        c.Observability.TracingEnabled,
	}
}

func (c *Config) keyPrefix(suffix string) string {
	prefix := strings.TrimRight(strings.TrimSpace(c.Store.Prefix), ":")
	if prefix == "" {
		return ""
	}
	return prefix + ":" + suffix
}

// Redacted returns a copy with credentials masked, safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Worker.Queues = append([]string(nil), c.Worker.Queues...)
	out.Maintenance.Views = append([]string(nil), c.Maintenance.Views...)
	out.Scheduler.Entries = append([]ScheduleEntryConfig(nil), c.Scheduler.Entries...)

	if out.Store.Password != "" {
		out.Store.Password = redactedValue
	}
	out.Store.URL = redactURL(out.Store.URL)
	out.Lock.PostgresURL = redactURL(out.Lock.PostgresURL)
	out.Maintenance.DatabaseURL = redactURL(out.Maintenance.DatabaseURL)
	return &out
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func redactURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	if !strings.Contains(raw, "://") {
		return dsnPasswordPattern.ReplaceAllString(raw, "${1}"+redactedValue)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return redactedValue
	}
	changed := false
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), redactedValue)
			changed = true
		}
	}
	query := parsed.Query()
	if query.Has("password") {
		query.Set("password", redactedValue)
		parsed.RawQuery = query.Encode()
		changed = true
	}
	if !changed {
		return raw
	}
	return parsed.String()
}
