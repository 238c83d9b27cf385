// Package postgres owns the pooled Postgres connection shared by the lock
// backend and the maintenance tasks.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/nimburion/taskcore/pkg/observability/logger"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnectTimeout  = 5 * time.Second
	healthCheckTimeout     = 2 * time.Second
)

var (
	// ErrInvalidConfig is returned for unusable adapter settings.
	ErrInvalidConfig = errors.New("invalid postgres config")
	// ErrUnavailable is returned when the database cannot be reached.
	ErrUnavailable = errors.New("postgres unavailable")
)

// Config holds PostgreSQL connection configuration
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

func (c *Config) normalize() {
	c.URL = strings.TrimSpace(c.URL)
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
}

// Adapter wraps a pooled *sql.DB.
type Adapter struct {
	db     *sql.DB
	logger logger.Logger
	config Config
}

// NewAdapter opens the pool and verifies the connection.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if log == nil {
		return nil, fmt.Errorf("%w: logger is required", ErrInvalidConfig)
	}
	cfg.normalize()
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: database URL is required", ErrInvalidConfig)
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrInvalidConfig, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrUnavailable, fmt.Errorf("ping database: %w", err))
	}

	log.Info("postgres connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
		"conn_max_lifetime", cfg.ConnMaxLifetime,
		"conn_max_idle_time", cfg.ConnMaxIdleTime,
	)
	return &Adapter{db: db, logger: log, config: cfg}, nil
}

// NewAdapterWithDB wraps an already opened handle.
func NewAdapterWithDB(db *sql.DB, cfg Config, log logger.Logger) (*Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db is required", ErrInvalidConfig)
	}
	if log == nil {
		return nil, fmt.Errorf("%w: logger is required", ErrInvalidConfig)
	}
	return &Adapter{db: db, logger: log, config: cfg}, nil
}

// DB returns the underlying pool.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// HealthCheck pings the database with a short timeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		a.logger.Warn("postgres health check failed", "error", err)
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

// Close closes the pool.
func (a *Adapter) Close() error {
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close postgres connection", "error", err)
		return fmt.Errorf("close database: %w", err)
	}
	a.logger.Debug("postgres connection closed")
	return nil
}

type contextKey string

const txContextKey contextKey = "tx"

// GetTx extracts the transaction started by WithTransaction, if any.
func GetTx(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txContextKey).(*sql.Tx)
	return tx, ok
}

// WithTransaction runs fn in a transaction, rolling back on error or panic.
// ExecContext calls made with the context passed to fn join the transaction.
func (a *Adapter) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				a.logger.Error("failed to rollback transaction after panic", "panic", p, "rollback_error", rbErr)
			}
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txContextKey, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			a.logger.Error("failed to rollback transaction", "original_error", err, "rollback_error", rbErr)
			return errors.Join(err, fmt.Errorf("rollback transaction: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ExecContext runs a statement on the context transaction when present,
// otherwise on the pool.
func (a *Adapter) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	queryCtx, cancel := a.withQueryTimeout(ctx)
	defer cancel()
	if tx, ok := GetTx(ctx); ok {
		return tx.ExecContext(queryCtx, query, args...)
	}
	return a.db.ExecContext(queryCtx, query, args...)
}

func (a *Adapter) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.config.QueryTimeout)
}
