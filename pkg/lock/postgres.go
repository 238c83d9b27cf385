package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nimburion/taskcore/pkg/observability/logger"
)

const (
	defaultPostgresLockTable     = "taskcore_locks"
	defaultPostgresLockOperation = 3 * time.Second
	postgresBackend              = "postgres"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig configures the Postgres locker.
type PostgresConfig struct {
	Table            string
	OperationTimeout time.Duration
}

func (c *PostgresConfig) normalize() {
	if strings.TrimSpace(c.Table) == "" {
		c.Table = defaultPostgresLockTable
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultPostgresLockOperation
	}
}

// PostgresLocker keeps one row per held lock. An expired row may be taken
// over by the next Acquire; release and renew match on token.
type PostgresLocker struct {
	db     *sql.DB
	log    logger.Logger
	config PostgresConfig
}

// NewPostgresLockerWithDB builds the locker on a pool owned by the caller and
// creates the lock table if needed.
func NewPostgresLockerWithDB(ctx context.Context, db *sql.DB, cfg PostgresConfig, log logger.Logger) (*PostgresLocker, error) {
	locker, err := newPostgresLockerWithDB(db, cfg, log)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := locker.operationContext(ctx)
	defer cancel()
	if err := locker.ensureTable(opCtx); err != nil {
		return nil, errors.Join(lockError(ErrRetryable, "create lock table failed"), err)
	}
	return locker, nil
}

func newPostgresLockerWithDB(db *sql.DB, cfg PostgresConfig, log logger.Logger) (*PostgresLocker, error) {
	if db == nil {
		return nil, lockError(ErrInvalidArgument, "db is required")
	}
	if log == nil {
		return nil, lockError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()
	if !validTableName.MatchString(cfg.Table) {
		return nil, lockError(ErrValidation, fmt.Sprintf("invalid lock table name %q", cfg.Table))
	}
	return &PostgresLocker{db: db, log: log, config: cfg}, nil
}

// Acquire inserts the lock row, or takes over an expired one, in one statement.
func (l *PostgresLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.db == nil {
		return "", false, lockError(ErrNotInitialized, "postgres locker is not initialized")
	}
	key = strings.TrimSpace(key)
	if err := validateAcquire(key, ttl); err != nil {
		return "", false, err
	}

	token := newToken()
	opCtx, cancel := l.operationContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`
WITH upsert AS (
	INSERT INTO %s(lock_key, token, expires_at, updated_at)
	VALUES ($1, $2, NOW() + ($3 * INTERVAL '1 millisecond'), NOW())
	ON CONFLICT(lock_key) DO UPDATE
	SET token = EXCLUDED.token,
	    expires_at = EXCLUDED.expires_at,
	    updated_at = NOW()
	WHERE %s.expires_at <= NOW()
	RETURNING 1
)
SELECT EXISTS(SELECT 1 FROM upsert)
`, l.config.Table, l.config.Table)

	var acquired bool
	err := l.db.QueryRowContext(opCtx, query, key, token, ttl.Milliseconds()).Scan(&acquired)
	recordAcquire(postgresBackend, acquired, err)
	if err != nil {
		return "", false, errors.Join(lockError(ErrRetryable, "acquire lock failed"), err)
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the row if token still matches.
func (l *PostgresLocker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.db == nil {
		return lockError(ErrNotInitialized, "postgres locker is not initialized")
	}
	key = strings.TrimSpace(key)
	token = strings.TrimSpace(token)
	if err := validateHeld(key, token); err != nil {
		return err
	}

	opCtx, cancel := l.operationContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE lock_key=$1 AND token=$2`, l.config.Table)
	result, err := l.db.ExecContext(opCtx, query, key, token)
	if err != nil {
		recordRelease(postgresBackend, false, err)
		return errors.Join(lockError(ErrRetryable, "release lock failed"), err)
	}
	affected, err := result.RowsAffected()
	recordRelease(postgresBackend, affected > 0, err)
	if err != nil {
		return err
	}
	return nil
}

// Renew pushes expires_at forward for a live lock held with token.
func (l *PostgresLocker) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if l == nil || l.db == nil {
		return false, lockError(ErrNotInitialized, "postgres locker is not initialized")
	}
	key = strings.TrimSpace(key)
	token = strings.TrimSpace(token)
	if err := validateHeld(key, token); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, lockError(ErrInvalidArgument, "ttl must be > 0")
	}

	opCtx, cancel := l.operationContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET expires_at=NOW() + ($3 * INTERVAL '1 millisecond'), updated_at=NOW() WHERE lock_key=$1 AND token=$2 AND expires_at > NOW()`, l.config.Table)
	result, err := l.db.ExecContext(opCtx, query, key, token, ttl.Milliseconds())
	if err != nil {
		return false, errors.Join(lockError(ErrRetryable, "renew lock failed"), err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// HealthCheck pings the database.
func (l *PostgresLocker) HealthCheck(ctx context.Context) error {
	if l == nil || l.db == nil {
		return lockError(ErrNotInitialized, "postgres locker is not initialized")
	}
	opCtx, cancel := l.operationContext(ctx)
	defer cancel()
	return l.db.PingContext(opCtx)
}

func (l *PostgresLocker) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	lock_key TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, l.config.Table)
	_, err := l.db.ExecContext(ctx, query)
	return err
}

func (l *PostgresLocker) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, l.config.OperationTimeout)
}
