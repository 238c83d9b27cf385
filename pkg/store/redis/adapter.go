// Package redis owns the single shared connection to the Redis-compatible store
// that locks, queues, the execution gate and counters coordinate through.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/taskcore/pkg/observability/logger"
)

const (
	DefaultHost             = "localhost"
	DefaultPort             = 6379
	DefaultPrefix           = "taskcore"
	DefaultOperationTimeout = 3 * time.Second
	defaultDialTimeout      = 5 * time.Second
)

// Config holds store connection settings. URL, when set, wins over the
// discrete host/port/credential fields.
type Config struct {
	URL              string
	Host             string
	Port             int
	Username         string
	Password         string
	DB               int
	TLS              bool
	TLSSkipVerify    bool
	PoolSize         int
	Prefix           string
	OperationTimeout time.Duration
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = DefaultHost
	}
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = DefaultPrefix
	}
	c.Prefix = strings.TrimRight(strings.TrimSpace(c.Prefix), ":")
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
}

// Options translates the config into go-redis client options.
func (c Config) Options() (*redis.Options, error) {
	c.normalize()

	var opts *redis.Options
	if url := strings.TrimSpace(c.URL); url != "" {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Username: c.Username,
			Password: c.Password,
			DB:       c.DB,
		}
		if c.TLS {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
				ServerName: c.Host,
			}
		}
	}
	if opts.TLSConfig != nil && c.TLSSkipVerify {
		opts.TLSConfig.InsecureSkipVerify = true
	}
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	opts.DialTimeout = defaultDialTimeout
	opts.ReadTimeout = c.OperationTimeout
	opts.WriteTimeout = c.OperationTimeout
	return opts, nil
}

// Adapter wraps the shared client with lifecycle and health checks.
type Adapter struct {
	client *redis.Client
	logger logger.Logger
	config Config
}

// NewAdapter connects to the store and verifies it with a PING.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	cfg.normalize()

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr, err)
	}

	log.Info("store connection established",
		"addr", opts.Addr,
		"db", opts.DB,
		"tls", opts.TLSConfig != nil,
		"prefix", cfg.Prefix,
	)

	return &Adapter{
		client: client,
		logger: log,
		config: cfg,
	}, nil
}

// NewAdapterWithClient wraps an existing client without pinging it.
func NewAdapterWithClient(client *redis.Client, cfg Config, log logger.Logger) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	return &Adapter{client: client, logger: log, config: cfg}, nil
}

// Client returns the shared go-redis client.
func (a *Adapter) Client() *redis.Client {
	return a.client
}

// Prefix is the namespace every taskcore key lives under.
func (a *Adapter) Prefix() string {
	return a.config.Prefix
}

// OperationTimeout bounds single store round trips.
func (a *Adapter) OperationTimeout() time.Duration {
	return a.config.OperationTimeout
}

// HealthCheck pings the store.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()

	if err := a.client.Ping(ctx).Err(); err != nil {
		a.logger.Error("store health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	if err := a.client.Close(); err != nil {
		a.logger.Error("failed to close store connection", "error", err)
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	a.logger.Info("store connection closed")
	return nil
}
