// Package config loads process configuration once at start: defaults, then
// an optional file, an optional secrets file, environment variables with the
// TASKCORE_ prefix and finally command-line flags.
package config

import "time"

// Lock backend constants
const (
	LockBackendRedis    = "redis"
	LockBackendPostgres = "postgres"
)

// Config is the root configuration shared by every taskcore process.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service" yaml:"service"`
	Store         StoreConfig         `mapstructure:"store" yaml:"store"`
	Queue         QueueConfig         `mapstructure:"queue" yaml:"queue"`
	Worker        WorkerConfig        `mapstructure:"worker" yaml:"worker"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler" yaml:"scheduler"`
	Gate          GateConfig          `mapstructure:"gate" yaml:"gate"`
	Lock          LockConfig          `mapstructure:"lock" yaml:"lock"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance" yaml:"maintenance"`
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Management    ManagementConfig    `mapstructure:"management" yaml:"management"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// StoreConfig configures the shared key-value store connection. URL wins
// over the discrete fields.
type StoreConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	Host             string        `mapstructure:"host" yaml:"host"`
	Port             int           `mapstructure:"port" yaml:"port"`
	Username         string        `mapstructure:"username" yaml:"username"`
	Password         string        `mapstructure:"password" yaml:"password"`
	DB               int           `mapstructure:"db" yaml:"db"`
	TLS              bool          `mapstructure:"tls" yaml:"tls"`
	TLSSkipVerify    bool          `mapstructure:"tls_skip_verify" yaml:"tls_skip_verify"`
	Prefix           string        `mapstructure:"prefix" yaml:"prefix"`
	PoolSize         int           `mapstructure:"pool_size" yaml:"pool_size"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// QueueConfig configures the store-backed queues.
type QueueConfig struct {
	Default string        `mapstructure:"default" yaml:"default"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// WorkerConfig configures worker processes.
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"`
	Queues            []string      `mapstructure:"queues" yaml:"queues"`
	DequeueTimeout    time.Duration `mapstructure:"dequeue_timeout" yaml:"dequeue_timeout"`
	SoftTimeout       time.Duration `mapstructure:"soft_timeout" yaml:"soft_timeout"`
	HardTimeout       time.Duration `mapstructure:"hard_timeout" yaml:"hard_timeout"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// SchedulerConfig configures the scheduler process.
type SchedulerConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	ClaimTTL        time.Duration `mapstructure:"claim_ttl" yaml:"claim_ttl"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout" yaml:"dispatch_timeout"`
	// Timezone applies to entries that do not set their own.
	Timezone string                `mapstructure:"timezone" yaml:"timezone"`
	Entries  []ScheduleEntryConfig `mapstructure:"entries" yaml:"entries"`
}

// ScheduleEntryConfig declares a schedule entry. Payload is a JSON document
// kept as text so its keys survive case-insensitive config merging.
type ScheduleEntryConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
	Task     string `mapstructure:"task" yaml:"task"`
	Queue    string `mapstructure:"queue" yaml:"queue,omitempty"`
	Payload  string `mapstructure:"payload" yaml:"payload,omitempty"`
	Timezone string `mapstructure:"timezone" yaml:"timezone,omitempty"`
}

// GateConfig configures the execution gate.
type GateConfig struct {
	Key string `mapstructure:"key" yaml:"key"`
	// FailOpen runs tasks when the gate cannot be read.
	FailOpen bool `mapstructure:"fail_open" yaml:"fail_open"`
}

// LockConfig selects the backend handlers use for the distributed lock.
// Scheduler claims always use the store.
type LockConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`
	Table       string `mapstructure:"table" yaml:"table"`
}

// MaintenanceConfig configures the built-in maintenance tasks.
type MaintenanceConfig struct {
	DatabaseURL  string        `mapstructure:"database_url" yaml:"database_url"`
	Views        []string      `mapstructure:"views" yaml:"views"`
	Concurrently bool          `mapstructure:"concurrently" yaml:"concurrently"`
	LockTTL      time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// DatabaseConfig sizes the Postgres pool shared by the lock backend and the
// maintenance tasks.
type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// ManagementConfig configures the management HTTP server.
type ManagementConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string  `mapstructure:"log_format" yaml:"log_format"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint" yaml:"tracing_endpoint"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate" yaml:"tracing_sample_rate"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "taskcore",
			Environment: "development",
		},
		Store: StoreConfig{
			Host:             "localhost",
			Port:             6379,
			Prefix:           "taskcore",
			PoolSize:         10,
			OperationTimeout: 3 * time.Second,
		},
		Queue: QueueConfig{
			Default: "default",
			TTL:     7 * 24 * time.Hour,
		},
		Worker: WorkerConfig{
			Concurrency:       1,
			DequeueTimeout:    5 * time.Second,
			SoftTimeout:       5 * time.Minute,
			HardTimeout:       6 * time.Minute,
			StopTimeout:       30 * time.Second,
			HeartbeatInterval: 15 * time.Second,
		},
		Scheduler: SchedulerConfig{
			TickInterval:    5 * time.Second,
			ClaimTTL:        2 * time.Minute,
			DispatchTimeout: 10 * time.Second,
			Timezone:        "UTC",
		},
		Gate: GateConfig{
			Key:      "taskcore:gate:disabled",
			FailOpen: true,
		},
		Lock: LockConfig{
			Backend: LockBackendRedis,
			Table:   "taskcore_locks",
		},
		Maintenance: MaintenanceConfig{
			LockTTL: 10 * time.Minute,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Management: ManagementConfig{
			Enabled:      false,
			Port:         9090,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			TracingEnabled:    false,
			TracingEndpoint:   "localhost:4317",
			TracingSampleRate: 0.1,
		},
	}
}
