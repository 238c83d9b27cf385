package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment variable.
const DefaultEnvPrefix = "TASKCORE"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper. Precedence, highest first:
// flags, environment, secrets file, config file, defaults.
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// NewViperLoader creates a loader. configFile may be empty; an empty
// envPrefix means TASKCORE.
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: strings.TrimSpace(configFile),
		envPrefix:  envPrefix,
	}
}

// WithFlags binds command-line flags that override file and env values.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// ConfigFile returns the path given at construction, or empty.
func (l *ViperLoader) ConfigFile() string {
	return l.configFile
}

// Load reads and validates the configuration.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	secretsFile, err := l.discoverSecretsFile()
	if err != nil {
		return nil, err
	}
	if secretsFile != "" {
		secretsViper := viper.New()
		secretsViper.SetConfigFile(secretsFile)
		if err := secretsViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
		}
		if err := v.MergeConfigMap(secretsViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("failed to merge secrets: %w", err)
		}
	}

	v.SetEnvPrefix(l.prefix())
	l.bindEnvVars(v)
	if err := l.bindFlags(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate normalizes cfg in place and reports every violation at once.
func (l *ViperLoader) Validate(cfg *Config) error {
	return cfg.Validate()
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"concurrency": "worker.concurrency",
	"queue":       "worker.queues",
	"log-level":   "observability.log_level",
	"log-format":  "observability.log_format",
	"store-url":   "store.url",
	"management":  "management.enabled",
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := l.flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Service
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Store
	v.BindEnv("store.url", l.prefixedEnv("STORE_URL"), l.prefixedEnv("REDIS_URL"))
	v.BindEnv("store.host", l.prefixedEnv("STORE_HOST"))
	v.BindEnv("store.port", l.prefixedEnv("STORE_PORT"))
	v.BindEnv("store.username", l.prefixedEnv("STORE_USERNAME"))
	v.BindEnv("store.password", l.prefixedEnv("STORE_PASSWORD"))
	v.BindEnv("store.db", l.prefixedEnv("STORE_DB"))
	v.BindEnv("store.tls", l.prefixedEnv("STORE_TLS"))
	v.BindEnv("store.tls_skip_verify", l.prefixedEnv("STORE_TLS_SKIP_VERIFY"))
	v.BindEnv("store.prefix", l.prefixedEnv("STORE_PREFIX"))
	v.BindEnv("store.pool_size", l.prefixedEnv("STORE_POOL_SIZE"))
	v.BindEnv("store.operation_timeout", l.prefixedEnv("STORE_OPERATION_TIMEOUT"))

	// Queue
	v.BindEnv("queue.default", l.prefixedEnv("QUEUE_DEFAULT"))
	v.BindEnv("queue.ttl", l.prefixedEnv("QUEUE_TTL"))

	// Worker
	v.BindEnv("worker.concurrency", l.prefixedEnv("WORKER_CONCURRENCY"))
	v.BindEnv("worker.queues", l.prefixedEnv("WORKER_QUEUES"))
	v.BindEnv("worker.dequeue_timeout", l.prefixedEnv("WORKER_DEQUEUE_TIMEOUT"))
	v.BindEnv("worker.soft_timeout", l.prefixedEnv("WORKER_SOFT_TIMEOUT"))
	v.BindEnv("worker.hard_timeout", l.prefixedEnv("WORKER_HARD_TIMEOUT"))
	v.BindEnv("worker.stop_timeout", l.prefixedEnv("WORKER_STOP_TIMEOUT"))
	v.BindEnv("worker.heartbeat_interval", l.prefixedEnv("WORKER_HEARTBEAT_INTERVAL"))

	// Scheduler
	v.BindEnv("scheduler.tick_interval", l.prefixedEnv("SCHEDULER_TICK_INTERVAL"))
	v.BindEnv("scheduler.claim_ttl", l.prefixedEnv("SCHEDULER_CLAIM_TTL"))
	v.BindEnv("scheduler.dispatch_timeout", l.prefixedEnv("SCHEDULER_DISPATCH_TIMEOUT"))
	v.BindEnv("scheduler.timezone", l.prefixedEnv("SCHEDULER_TIMEZONE"))

	// Gate
	v.BindEnv("gate.key", l.prefixedEnv("GATE_KEY"))
	v.BindEnv("gate.fail_open", l.prefixedEnv("GATE_FAIL_OPEN"))

	// Lock
	v.BindEnv("lock.backend", l.prefixedEnv("LOCK_BACKEND"))
	v.BindEnv("lock.postgres_url", l.prefixedEnv("LOCK_POSTGRES_URL"))
	v.BindEnv("lock.table", l.prefixedEnv("LOCK_TABLE"))

	// Maintenance
	v.BindEnv("maintenance.database_url", l.prefixedEnv("MAINTENANCE_DATABASE_URL"), l.prefixedEnv("DATABASE_URL"))
	v.BindEnv("maintenance.views", l.prefixedEnv("MAINTENANCE_VIEWS"))
	v.BindEnv("maintenance.concurrently", l.prefixedEnv("MAINTENANCE_CONCURRENTLY"))
	v.BindEnv("maintenance.lock_ttl", l.prefixedEnv("MAINTENANCE_LOCK_TTL"))

	// Database
	v.BindEnv("database.max_open_conns", l.prefixedEnv("DB_MAX_OPEN_CONNS"))
	v.BindEnv("database.max_idle_conns", l.prefixedEnv("DB_MAX_IDLE_CONNS"))
	v.BindEnv("database.conn_max_lifetime", l.prefixedEnv("DB_CONN_MAX_LIFETIME"))
	v.BindEnv("database.conn_max_idle_time", l.prefixedEnv("DB_CONN_MAX_IDLE_TIME"))
	v.BindEnv("database.query_timeout", l.prefixedEnv("DB_QUERY_TIMEOUT"))

	// Management
	v.BindEnv("management.enabled", l.prefixedEnv("MGMT_ENABLED"))
	v.BindEnv("management.port", l.prefixedEnv("MGMT_PORT"))
	v.BindEnv("management.read_timeout", l.prefixedEnv("MGMT_READ_TIMEOUT"))
	v.BindEnv("management.write_timeout", l.prefixedEnv("MGMT_WRITE_TIMEOUT"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
}

func (l *ViperLoader) prefix() string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return strings.ToUpper(prefix)
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	return fmt.Sprintf("%s_%s", l.prefix(), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("store.url", cfg.Store.URL)
	v.SetDefault("store.host", cfg.Store.Host)
	v.SetDefault("store.port", cfg.Store.Port)
	v.SetDefault("store.username", cfg.Store.Username)
	v.SetDefault("store.password", cfg.Store.Password)
	v.SetDefault("store.db", cfg.Store.DB)
	v.SetDefault("store.tls", cfg.Store.TLS)
	v.SetDefault("store.tls_skip_verify", cfg.Store.TLSSkipVerify)
	v.SetDefault("store.prefix", cfg.Store.Prefix)
	v.SetDefault("store.pool_size", cfg.Store.PoolSize)
	v.SetDefault("store.operation_timeout", cfg.Store.OperationTimeout)

	v.SetDefault("queue.default", cfg.Queue.Default)
	v.SetDefault("queue.ttl", cfg.Queue.TTL)

	v.SetDefault("worker.concurrency", cfg.Worker.Concurrency)
	v.SetDefault("worker.queues", cfg.Worker.Queues)
	v.SetDefault("worker.dequeue_timeout", cfg.Worker.DequeueTimeout)
	v.SetDefault("worker.soft_timeout", cfg.Worker.SoftTimeout)
	v.SetDefault("worker.hard_timeout", cfg.Worker.HardTimeout)
	v.SetDefault("worker.stop_timeout", cfg.Worker.StopTimeout)
	v.SetDefault("worker.heartbeat_interval", cfg.Worker.HeartbeatInterval)

	v.SetDefault("scheduler.tick_interval", cfg.Scheduler.TickInterval)
	v.SetDefault("scheduler.claim_ttl", cfg.Scheduler.ClaimTTL)
	v.SetDefault("scheduler.dispatch_timeout", cfg.Scheduler.DispatchTimeout)
	v.SetDefault("scheduler.timezone", cfg.Scheduler.Timezone)

	v.SetDefault("gate.key", cfg.Gate.Key)
	v.SetDefault("gate.fail_open", cfg.Gate.FailOpen)

	v.SetDefault("lock.backend", cfg.Lock.Backend)
	v.SetDefault("lock.postgres_url", cfg.Lock.PostgresURL)
	v.SetDefault("lock.table", cfg.Lock.Table)

	v.SetDefault("maintenance.database_url", cfg.Maintenance.DatabaseURL)
	v.SetDefault("maintenance.views", cfg.Maintenance.Views)
	v.SetDefault("maintenance.concurrently", cfg.Maintenance.Concurrently)
	v.SetDefault("maintenance.lock_ttl", cfg.Maintenance.LockTTL)

	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", cfg.Database.ConnMaxIdleTime)
	v.SetDefault("database.query_timeout", cfg.Database.QueryTimeout)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.port", cfg.Management.Port)
	v.SetDefault("management.read_timeout", cfg.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", cfg.Management.WriteTimeout)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
}

// discoverSecretsFile finds the secrets file:
// 1. <PREFIX>_SECRETS_FILE
// 2. secrets.{ext} next to the config file
// An explicitly named file that cannot be read is an error.
func (l *ViperLoader) discoverSecretsFile() (string, error) {
	secretsEnv := l.prefixedEnv("SECRETS_FILE")
	if rawSecretsFile, ok := os.LookupEnv(secretsEnv); ok {
		secretsFile := strings.TrimSpace(rawSecretsFile)
		if secretsFile == "" {
			return "", fmt.Errorf("%s is set but empty", secretsEnv)
		}
		info, err := os.Stat(secretsFile)
		if err != nil {
			return "", fmt.Errorf("%s points to an inaccessible file %s: %w", secretsEnv, secretsFile, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s must point to a file, got directory %s", secretsEnv, secretsFile)
		}
		return secretsFile, nil
	}

	if l.configFile != "" {
		dir := filepath.Dir(l.configFile)
		ext := filepath.Ext(l.configFile)
		secretsFile := filepath.Join(dir, "secrets"+ext)
		if info, err := os.Stat(secretsFile); err == nil && !info.IsDir() {
			return secretsFile, nil
		}
	}
	return "", nil
}
