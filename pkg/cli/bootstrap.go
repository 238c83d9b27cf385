package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimburion/taskcore/pkg/config"
	"github.com/nimburion/taskcore/pkg/gate"
	"github.com/nimburion/taskcore/pkg/health"
	"github.com/nimburion/taskcore/pkg/inspect"
	"github.com/nimburion/taskcore/pkg/lock"
	"github.com/nimburion/taskcore/pkg/maintenance"
	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/observability/metrics"
	"github.com/nimburion/taskcore/pkg/observability/tracing"
	"github.com/nimburion/taskcore/pkg/queue"
	"github.com/nimburion/taskcore/pkg/scheduler"
	"github.com/nimburion/taskcore/pkg/server"
	"github.com/nimburion/taskcore/pkg/stats"
	storepostgres "github.com/nimburion/taskcore/pkg/store/postgres"
	storeredis "github.com/nimburion/taskcore/pkg/store/redis"
	"github.com/nimburion/taskcore/pkg/task"
	"github.com/nimburion/taskcore/pkg/version"
)

// GateControl is the execution gate plus its operator controls.
type GateControl interface {
	gate.Gate
	Status(ctx context.Context) (gate.Status, error)
	Enable(ctx context.Context, reason string) error
	Disable(ctx context.Context) error
}

// App holds the components shared by every process role. Claims always
// live in the store; Locker is the handler-level lock selected by
// lock.backend.
type App struct {
	Config  *config.Config
	Log     logger.Logger
	Tasks   *task.Registry
	Queue   queue.Queue
	Gate    GateControl
	Stats   stats.Recorder
	Claims  lock.Locker
	Locker  lock.Locker
	Health  *health.Registry
	Metrics *metrics.Registry

	databases map[string]*storepostgres.Adapter
	closers   []func(context.Context) error
}

// AddCloser registers cleanup run by Close in reverse order.
func (a *App) AddCloser(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything the app opened.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for idx := len(a.closers) - 1; idx >= 0; idx-- {
		if err := a.closers[idx](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewTaskRegistry returns an empty registry routing untagged tasks to the
// configured default queue.
func NewTaskRegistry(cfg *config.Config) *task.Registry {
	return task.NewRegistry(task.WithDefaultQueue(cfg.Queue.Default))
}

// NewApp connects to the store and wires the production components. A
// store that cannot be reached fails the process at start.
func NewApp(ctx context.Context, cfg *config.Config, log logger.Logger, role string) (*App, error) {
	app := &App{
		Config:  cfg,
		Log:     log.With("role", role),
		Tasks:   NewTaskRegistry(cfg),
		Health:  health.NewRegistry(),
		Metrics: metrics.NewRegistry(),
	}
	fail := func(err error) (*App, error) {
		if closeErr := app.Close(context.Background()); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, err
	}

	tracer, err := tracing.NewTracerProvider(ctx, cfg.Tracer(role, version.Current(cfg.Service.Name).Version))
	if err != nil {
		return fail(fmt.Errorf("create tracer: %w", err))
	}
	app.AddCloser(tracer.Shutdown)

	store, err := storeredis.NewAdapter(cfg.StoreAdapter(), app.Log)
	if err != nil {
		return fail(fmt.Errorf("connect store: %w", err))
	}
	app.AddCloser(func(context.Context) error { return store.Close() })
	app.Health.Register(health.NewStoreChecker("store", store))

	client := store.Client()
	if app.Queue, err = queue.NewRedisQueue(client, cfg.QueueStore(), app.Log); err != nil {
		return fail(err)
	}
	flagGate, err := gate.NewFlagGate(client, cfg.GateFlag(), app.Log)
	if err != nil {
		return fail(err)
	}
	app.Gate = flagGate
	if app.Stats, err = stats.NewRedisRecorder(client, cfg.StatsStore(), app.Log); err != nil {
		return fail(err)
	}
	if app.Claims, err = lock.NewRedisLocker(client, cfg.LockStore(), app.Log); err != nil {
		return fail(err)
	}

	switch cfg.Lock.Backend {
	case config.LockBackendPostgres:
		db, err := app.database(cfg.Lock.PostgresURL, "lock_postgres", false)
		if err != nil {
			return fail(fmt.Errorf("connect lock database: %w", err))
		}
		pgLocker, err := lock.NewPostgresLockerWithDB(ctx, db.DB(), cfg.LockPostgres(), app.Log)
		if err != nil {
			return fail(fmt.Errorf("create postgres locker: %w", err))
		}
		app.Locker = pgLocker
	default:
		app.Locker = app.Claims
	}

	if err := app.registerMaintenance(); err != nil {
		return fail(err)
	}
	return app, nil
}

func (a *App) registerMaintenance() error {
	echo, err := maintenance.NewEcho(a.Log)
	if err != nil {
		return err
	}

	var refresher *maintenance.ViewRefresher
	if a.Config.Maintenance.DatabaseURL != "" && len(a.Config.Maintenance.Views) > 0 {
		db, err := a.database(a.Config.Maintenance.DatabaseURL, "maintenance_database", true)
		if err != nil {
			return fmt.Errorf("connect maintenance database: %w", err)
		}
		refresher, err = maintenance.NewViewRefresher(db, a.Locker, a.Log, a.Config.ViewRefresh())
		if err != nil {
			return fmt.Errorf("create view refresher: %w", err)
		}
	}
	return maintenance.Register(a.Tasks, echo, refresher)
}

// database returns the pool for url, opening it on first use. Components
// pointed at the same database share one pool and one health check, which
// is optional only when no required component uses the pool.
func (a *App) database(url, checkName string, optional bool) (*storepostgres.Adapter, error) {
	if db, ok := a.databases[url]; ok {
		return db, nil
	}
	db, err := storepostgres.NewAdapter(a.Config.PostgresPool(url), a.Log)
	if err != nil {
		return nil, err
	}
	if a.databases == nil {
		a.databases = make(map[string]*storepostgres.Adapter)
	}
	a.databases[url] = db
	a.AddCloser(func(context.Context) error { return db.Close() })
	if optional {
		a.Health.RegisterOptional(health.NewDatabaseChecker(checkName, db))
	} else {
		a.Health.Register(health.NewDatabaseChecker(checkName, db))
	}
	return db, nil
}

// ScheduleEntries returns the configured entries resolved against the task
// registry, so each carries the queue it dispatches to.
func (a *App) ScheduleEntries() ([]scheduler.Entry, error) {
	entries, err := a.Config.ScheduleEntries()
	if err != nil {
		return nil, err
	}
	for idx := range entries {
		if err := entries[idx].Resolve(a.Tasks); err != nil {
			return nil, fmt.Errorf("schedule entry %q: %w", entries[idx].Name, err)
		}
	}
	return entries, nil
}

// NewInspector builds an inspector over entries.
func (a *App) NewInspector(entries []scheduler.Entry) (*inspect.Inspector, error) {
	return inspect.NewInspector(a.Tasks, a.Queue, entries, a.Gate, a.Stats, a.Log, inspect.Config{})
}

// NewManagementServer returns nil when the management server is disabled.
func (a *App) NewManagementServer(inspector server.Snapshotter) (*server.ManagementServer, error) {
	if !a.Config.Management.Enabled {
		return nil, nil
	}
	return server.NewManagementServer(a.Config.Management, a.Log, a.Health, a.Metrics, inspector)
}
