// Package cli builds the taskcore command tree: the scheduler and worker
// processes plus operator commands for inspection, ad hoc enqueue, the
// execution gate, health and configuration.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nimburion/taskcore/pkg/config"
	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/scheduler"
	"github.com/nimburion/taskcore/pkg/task"
)

const (
	policiesAnnotationPrefix = "policies."
	defaultPolicyContext     = "run"
)

// CommandPolicy tells deployment tooling how a command is meant to run.
type CommandPolicy string

const (
	PolicyAlways    CommandPolicy = "always"
	PolicyRun       CommandPolicy = "run"
	PolicyManual    CommandPolicy = "manual"
	PolicyOnDemand  CommandPolicy = "on_demand"
	PolicyScheduled CommandPolicy = "scheduled"
)

// AppFactory wires the shared components for one process role.
type AppFactory func(ctx context.Context, cfg *config.Config, log logger.Logger, role string) (*App, error)

// CommandOptions customizes the command tree.
type CommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: registers application tasks next to the built-in ones.
	ConfigureTasks func(cfg *config.Config, log logger.Logger, registry *task.Registry) error
	// Optional: registers schedule entries in code, after the configured ones.
	ConfigureScheduler func(cfg *config.Config, log logger.Logger, runtime *scheduler.Runtime) error
	// Optional: override component wiring (useful for tests/custom adapters).
	AppFactory AppFactory
	// Optional: additional custom commands
	CustomCommands []*cobra.Command
}

type commandEnv struct {
	opts           CommandOptions
	cfgPath        string
	secretFilePath string
}

// NewCommand creates the taskcore CLI.
func NewCommand(opts CommandOptions) *cobra.Command {
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = "taskcore"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}
	if opts.AppFactory == nil {
		opts.AppFactory = NewApp
	}

	env := &commandEnv{opts: opts}
	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	SetCommandPolicies(rootCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&env.cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	flags.StringVar(&env.secretFilePath, "secret-file", "", "path to secrets file (sets "+resolveEnvPrefix(opts.EnvPrefix)+"_SECRETS_FILE)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	flags.String("store-url", "", "store URL, e.g. redis://localhost:6379/0")

	rootCmd.AddCommand(
		newVersionCommand(env),
		newSchedulerCommand(env),
		newWorkerCommand(env),
		newInspectCommand(env),
		newEnqueueCommand(env),
		newGateCommand(env),
		newHealthcheckCommand(env),
		newConfigCommand(env),
	)

	for _, customCmd := range opts.CustomCommands {
		ensureDefaultPolicy(customCmd)
		rootCmd.AddCommand(customCmd)
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = false
	rootCmd.InitDefaultCompletionCmd()
	for _, subCmd := range rootCmd.Commands() {
		if subCmd != nil && subCmd.Name() == "completion" {
			SetCommandPolicies(subCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
			break
		}
	}

	return rootCmd
}

// loadConfig resolves configuration for a command and builds its logger.
// Logs go to stderr so command output on stdout stays machine readable.
func (e *commandEnv) loadConfig(flags *pflag.FlagSet) (*config.Config, logger.Logger, error) {
	return LoadConfigAndLogger(e.cfgPath, e.opts.EnvPrefix, e.secretFilePath, flags, os.Stderr)
}

// openApp loads configuration and wires the components for role.
func (e *commandEnv) openApp(cmd *cobra.Command, role string) (*App, error) {
	cfg, log, err := e.loadConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	app, err := e.opts.AppFactory(cmd.Context(), cfg, log, role)
	if err != nil {
		return nil, fmt.Errorf("bootstrap %s: %w", role, err)
	}
	if e.opts.ConfigureTasks != nil {
		if err := e.opts.ConfigureTasks(cfg, log, app.Tasks); err != nil {
			_ = app.Close(context.Background())
			return nil, fmt.Errorf("configure tasks: %w", err)
		}
	}
	return app, nil
}

// LoadConfigAndLogger loads and validates configuration, then builds the
// zap logger it describes.
func LoadConfigAndLogger(cfgPath, envPrefix, secretFilePath string, flags *pflag.FlagSet, output io.Writer) (*config.Config, logger.Logger, error) {
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewViperLoader(cfgPath, envPrefix).WithFlags(flags).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level, err := logger.ParseLogLevel(cfg.Observability.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	format, err := logger.ParseLogFormat(cfg.Observability.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewZapLogger(logger.Config{Level: level, Format: format, Output: output})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	if level == logger.DebugLevel {
		log.Debug("effective configuration", "config", fmt.Sprintf("%+v", *cfg.Redacted()))
	}
	return cfg, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return config.DefaultEnvPrefix
	}
	return strings.ToUpper(trimmed)
}

// SetCommandPolicies stores policies as command annotations using the
// "policies." prefix.
func SetCommandPolicies(cmd *cobra.Command, policies map[string]CommandPolicy) {
	if cmd == nil {
		return
	}
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	for _, key := range policyAnnotationKeys(cmd.Annotations) {
		delete(cmd.Annotations, key)
	}
	for context, policy := range policies {
		trimmedContext := strings.TrimSpace(context)
		if trimmedContext == "" {
			continue
		}
		cmd.Annotations[policiesAnnotationPrefix+trimmedContext] = string(policy)
	}
}

// GetCommandPolicies returns command policies from annotations.
func GetCommandPolicies(cmd *cobra.Command) map[string]string {
	out := map[string]string{}
	if cmd == nil {
		return out
	}
	for key, value := range cmd.Annotations {
		if !strings.HasPrefix(key, policiesAnnotationPrefix) {
			continue
		}
		context := strings.TrimPrefix(key, policiesAnnotationPrefix)
		if strings.TrimSpace(context) == "" {
			continue
		}
		out[context] = value
	}
	return out
}

func ensureDefaultPolicy(cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	if len(GetCommandPolicies(cmd)) == 0 {
		SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	}
}

func policyAnnotationKeys(annotations map[string]string) []string {
	keys := make([]string, 0, len(annotations))
	for key := range annotations {
		if strings.HasPrefix(key, policiesAnnotationPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
