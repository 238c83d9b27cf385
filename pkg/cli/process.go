package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nimburion/taskcore/pkg/scheduler"
	"github.com/nimburion/taskcore/pkg/server"
	"github.com/nimburion/taskcore/pkg/worker"
)

const (
	closeTimeout       = 10 * time.Second
	healthCheckTimeout = 5 * time.Second
)

func newSchedulerCommand(env *commandEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run the scheduler: dispatch due schedule entries once per minute fleet-wide",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.openApp(cmd, "scheduler")
			if err != nil {
				return err
			}
			defer closeApp(app)

			runtime, err := scheduler.NewRuntime(app.Tasks, app.Queue, app.Claims, app.Stats, app.Log, app.Config.SchedulerRuntime())
			if err != nil {
				return fmt.Errorf("create scheduler runtime: %w", err)
			}
			entries, err := app.ScheduleEntries()
			if err != nil {
				return err
			}
			for _, entry := range entries {
				if err := runtime.Register(entry); err != nil {
					return fmt.Errorf("register schedule entry: %w", err)
				}
			}
			if env.opts.ConfigureScheduler != nil {
				if err := env.opts.ConfigureScheduler(app.Config, app.Log, runtime); err != nil {
					return fmt.Errorf("configure scheduler runtime: %w", err)
				}
			}
			app.Health.Register(scheduler.NewHealthChecker("scheduler", runtime, healthCheckTimeout))

			inspector, err := app.NewInspector(runtime.Entries())
			if err != nil {
				return err
			}
			mgmt, err := app.NewManagementServer(inspector)
			if err != nil {
				return fmt.Errorf("create management server: %w", err)
			}

			ctx, stop := shutdownContext(cmd.Context())
			defer stop()
			return runProcess(ctx, mgmt, runtime.Start)
		},
	}
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyScheduled})
	cmd.Flags().Bool("management", false, "serve /health, /ready, /metrics and /inspect")
	return cmd
}

func newWorkerCommand(env *commandEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker: execute invocations from the configured queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.openApp(cmd, "worker")
			if err != nil {
				return err
			}
			defer closeApp(app)

			w, err := worker.NewWorker(app.Tasks, app.Queue, app.Gate, app.Stats, app.Log, app.Config.WorkerRuntime())
			if err != nil {
				return fmt.Errorf("create worker: %w", err)
			}
			app.Health.Register(worker.NewHealthChecker("worker", w, healthCheckTimeout))

			var snapshotter server.Snapshotter
			if app.Config.Management.Enabled {
				entries, err := app.ScheduleEntries()
				if err != nil {
					return err
				}
				inspector, err := app.NewInspector(entries)
				if err != nil {
					return err
				}
				snapshotter = inspector
			}
			mgmt, err := app.NewManagementServer(snapshotter)
			if err != nil {
				return fmt.Errorf("create management server: %w", err)
			}

			ctx, stop := shutdownContext(cmd.Context())
			defer stop()
			watchQuiesce(ctx, w, app.Log)
			return runProcess(ctx, mgmt, w.Start)
		},
	}
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyRun})
	cmd.Flags().Int("concurrency", 1, "number of concurrent execution slots")
	cmd.Flags().StringSlice("queue", nil, "queue names to consume in priority order (repeatable)")
	cmd.Flags().Bool("management", false, "serve /health, /ready, /metrics and /inspect")
	return cmd
}

// runProcess runs the main loop and, when configured, the management
// server until either stops.
func runProcess(ctx context.Context, mgmt *server.ManagementServer, run func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer cancel()
		return run(groupCtx)
	})
	if mgmt != nil {
		group.Go(func() error {
			return mgmt.Start(groupCtx)
		})
	}
	return group.Wait()
}

func closeApp(app *App) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		app.Log.Error("failed to release resources", "error", err)
	}
}
