package maintenance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/nimburion/taskcore/pkg/lock"
	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/observability/tracing"
	"github.com/nimburion/taskcore/pkg/task"
)

const (
	DefaultLockTTL          = 10 * time.Minute
	DefaultRefreshSoftLimit = 5 * time.Minute
	DefaultRefreshHardLimit = 6 * time.Minute
	lockKeyPrefix           = "maintenance:refresh_view:"
)

var validViewName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// ViewConfig configures the refresh task.
type ViewConfig struct {
	// Views are the materialized views the task may refresh, optionally
	// schema-qualified.
	Views []string
	// Concurrently refreshes without blocking readers; each view then needs
	// a unique index.
	Concurrently bool
	// LockTTL bounds how long a crashed holder blocks the view. The lock is
	// renewed while a refresh runs.
	LockTTL     time.Duration
	SoftTimeout time.Duration
	HardTimeout time.Duration
}

func (c *ViewConfig) normalize() {
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.SoftTimeout <= 0 {
		c.SoftTimeout = DefaultRefreshSoftLimit
	}
	if c.HardTimeout <= c.SoftTimeout {
		c.HardTimeout = c.SoftTimeout + (DefaultRefreshHardLimit - DefaultRefreshSoftLimit)
	}
	views := make([]string, 0, len(c.Views))
	for _, view := range c.Views {
		if trimmed := strings.TrimSpace(view); trimmed != "" {
			views = append(views, trimmed)
		}
	}
	c.Views = views
}

// Database runs refresh statements. *postgres.Adapter satisfies it.
type Database interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	HealthCheck(ctx context.Context) error
}

// ViewRefresher refreshes materialized views. Each view is guarded by a
// fleet-wide lock so overlapping runs skip instead of queueing behind
// Postgres' own lock.
type ViewRefresher struct {
	db     Database
	locker lock.Locker
	log    logger.Logger
	config ViewConfig
}

// NewViewRefresher builds the task on an open database.
func NewViewRefresher(db Database, locker lock.Locker, log logger.Logger, cfg ViewConfig) (*ViewRefresher, error) {
	if db == nil {
		return nil, maintenanceError(ErrInvalidArgument, "db is required")
	}
	if locker == nil {
		return nil, maintenanceError(ErrInvalidArgument, "locker is required")
	}
	if log == nil {
		return nil, maintenanceError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()
	for _, view := range cfg.Views {
		if !validViewName.MatchString(view) {
			return nil, maintenanceError(ErrValidation, fmt.Sprintf("invalid view name %q", view))
		}
	}
	return &ViewRefresher{db: db, locker: locker, log: log, config: cfg}, nil
}

// Handle refreshes the view named in {"view": "..."}, or every configured
// view when the payload names none. A view whose lock is held elsewhere is
// skipped; the next scheduled run picks it up.
func (r *ViewRefresher) Handle(ctx context.Context, payload json.RawMessage) error {
	var body struct {
		View string `json:"view"`
	}
	if err := task.DecodePayload(payload, &body); err != nil {
		return err
	}

	views := r.config.Views
	if name := strings.TrimSpace(body.View); name != "" {
		if !r.allowed(name) {
			return maintenanceError(ErrValidation, fmt.Sprintf("view %q is not configured for refresh", name))
		}
		views = []string{name}
	}
	if len(views) == 0 {
		r.log.WithContext(ctx).Warn("no materialized views configured for refresh")
		return nil
	}

	var errs []error
	for _, view := range views {
		if err := r.refresh(ctx, view); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", view, err))
		}
	}
	return errors.Join(errs...)
}

func (r *ViewRefresher) refresh(ctx context.Context, view string) error {
	log := r.log.WithContext(ctx).With("view", view)
	statement := r.statement(view)

	ran, err := lock.WithLock(ctx, r.locker, lockKeyPrefix+view, r.config.LockTTL, func(lockCtx context.Context) error {
		spanCtx, span := tracing.StartDatabaseSpan(lockCtx, tracing.SpanOperationDBRefresh, statement)
		defer span.End()

		started := time.Now()
		if _, err := r.db.ExecContext(spanCtx, statement); err != nil {
			tracing.RecordError(span, err)
			return err
		}
		tracing.RecordSuccess(span)
		log.Info("materialized view refreshed", "duration", time.Since(started))
		return nil
	})
	if err != nil {
		return err
	}
	if !ran {
		log.Info("materialized view refresh skipped, lock held by another worker")
	}
	return nil
}

func (r *ViewRefresher) statement(view string) string {
	parts := strings.Split(view, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}
	verb := "REFRESH MATERIALIZED VIEW "
	if r.config.Concurrently {
		verb += "CONCURRENTLY "
	}
	return verb + strings.Join(parts, ".")
}

func (r *ViewRefresher) allowed(view string) bool {
	for _, configured := range r.config.Views {
		if configured == view {
			return true
		}
	}
	return false
}

// HealthCheck pings the database.
func (r *ViewRefresher) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
