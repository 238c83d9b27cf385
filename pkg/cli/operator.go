package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nimburion/taskcore/pkg/health"
	"github.com/nimburion/taskcore/pkg/inspect"
)

func newInspectCommand(env *commandEnv) *cobra.Command {
	var peek int64
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print queues, schedule, gate, counters and live workers as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.openApp(cmd, "cli")
			if err != nil {
				return err
			}
			defer closeApp(app)

			entries, err := app.ScheduleEntries()
			if err != nil {
				return err
			}
			inspector, err := inspect.NewInspector(app.Tasks, app.Queue, entries, app.Gate, app.Stats, app.Log, inspect.Config{PeekLimit: peek})
			if err != nil {
				return err
			}
			snapshot, err := inspector.Snapshot(cmd.Context())
			if err != nil && !errors.Is(err, inspect.ErrPartial) {
				return fmt.Errorf("inspect: %w", err)
			}
			if writeErr := snapshot.WriteJSON(cmd.OutOrStdout()); writeErr != nil {
				return writeErr
			}
			return err
		},
	}
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	cmd.Flags().Int64Var(&peek, "peek", inspect.DefaultPeekLimit, "invocations listed per queue (negative disables)")
	return cmd
}

func newEnqueueCommand(env *commandEnv) *cobra.Command {
	var queueName string
	cmd := &cobra.Command{
		Use:   "enqueue <task> [json-payload]",
		Short: "Enqueue one invocation of a registered task",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage(`{}`)
			if len(args) == 2 {
				raw := strings.TrimSpace(args[1])
				if !json.Valid([]byte(raw)) {
					return fmt.Errorf("payload is not valid JSON: %s", raw)
				}
				payload = json.RawMessage(raw)
			}

			app, err := env.openApp(cmd, "cli")
			if err != nil {
				return err
			}
			defer closeApp(app)

			definition, err := app.Tasks.Resolve(args[0])
			if err != nil {
				return fmt.Errorf("enqueue %q: %w", args[0], err)
			}
			target := strings.TrimSpace(queueName)
			if target == "" {
				target = definition.Options.Queue
			}

			inv, err := app.Queue.Enqueue(cmd.Context(), target, definition.Name, payload)
			if err != nil {
				return fmt.Errorf("enqueue %q: %w", definition.Name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", inv.ID, inv.Queue, inv.Task)
			return nil
		},
	}
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})
	cmd.Flags().StringVar(&queueName, "queue", "", "queue override (default: the task's registered queue)")
	return cmd
}

func newGateCommand(env *commandEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect or toggle the fleet-wide execution gate",
	}
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})

	var reason string
	onCmd := &cobra.Command{
		Use:   "on",
		Short: "Engage the gate: workers veto every invocation they dequeue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.openApp(cmd, "cli")
			if err != nil {
				return err
			}
			defer closeApp(app)
			if err := app.Gate.Enable(cmd.Context(), reason); err != nil {
				return fmt.Errorf("engage gate: %w", err)
			}
			app.Log.Warn("execution gate engaged", "reason", reason)
			fmt.Fprintln(cmd.OutOrStdout(), "gate engaged")
			return nil
		},
	}
	onCmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the gate")

	offCmd := &cobra.Command{
		Use:   "off",
		Short: "Release the gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.openApp(cmd, "cli")
			if err != nil {
				return err
			}
			defer closeApp(app)
			if err := app.Gate.Disable(cmd.Context()); err != nil {
				return fmt.Errorf("release gate: %w", err)
			}
			app.Log.Info("execution gate released")
			fmt.Fprintln(cmd.OutOrStdout(), "gate released")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the gate is engaged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.openApp(cmd, "cli")
			if err != nil {
				return err
			}
			defer closeApp(app)
			status, err := app.Gate.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("read gate: %w", err)
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(status)
		},
	}
	SetCommandPolicies(statusCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	cmd.AddCommand(onCmd, offCmd, statusCmd)
	return cmd
}

func newHealthcheckCommand(env *commandEnv) *cobra.Command {
	var checkName string
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the store and configured databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.openApp(cmd, "cli")
			if err != nil {
				return err
			}
			defer closeApp(app)

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")

			if checkName != "" {
				result, err := app.Health.CheckOne(cmd.Context(), checkName)
				if err != nil {
					return fmt.Errorf("%w (available: %s)", err, strings.Join(app.Health.List(), ", "))
				}
				if err := encoder.Encode(result); err != nil {
					return err
				}
				if result.Status != health.StatusHealthy {
					return fmt.Errorf("check %s is %s", result.Name, result.Status)
				}
				return nil
			}

			result := app.Health.Check(cmd.Context())
			if err := encoder.Encode(result); err != nil {
				return err
			}
			if !result.IsHealthy() {
				return errors.New("one or more dependencies are unhealthy")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&checkName, "check", "", "run a single named check")
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	return cmd
}
