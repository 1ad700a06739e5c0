package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/sddrun/internal/config"
	"github.com/zjrosen/sddrun/internal/flags"
	"github.com/zjrosen/sddrun/internal/log"
	"github.com/zjrosen/sddrun/internal/paths"
	"github.com/zjrosen/sddrun/internal/pubsub"
	"github.com/zjrosen/sddrun/internal/sdd"
	"github.com/zjrosen/sddrun/internal/telemetry"
)

func init() {
	// Query the terminal background once, before any output is written, so the
	// OSC 11 response never interleaves with rendered tables.
	_ = lipgloss.HasDarkBackground()
}

const localConfigPath = ".sddrun/config.yaml"

var (
	version     = "dev"
	cfgFile     string
	cfg         config.Config
	debugFlag   bool
	projectFlag string
)

var rootCmd = &cobra.Command{
	Use:   "sddrun",
	Short: "Run Agent-SDD workflow commands",
	Long: `sddrun runs the allow-listed Agent-SDD workflow commands against a project.

A command resolves to <project>/.agent-sdd/scripts/<command>.sh when that script
exists. Commands without a script are documented by
<project>/.agent-sdd/instructions/<command>.md and produce a simulated result.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./.sddrun/config.yaml or ~/.config/sddrun/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"write debug logs to $SDDRUN_LOG (default: debug.log)")
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "",
		"project directory (default: current directory)")
	rootCmd.PersistentFlags().String("scaffold", "",
		"scaffold directory name inside the project (default: .agent-sdd)")

	_ = viper.BindPFlag("scaffold_dir", rootCmd.PersistentFlags().Lookup("scaffold"))
}

func initConfig() {
	setDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .sddrun/config.yaml (current directory)
		// 2. ~/.config/sddrun/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			viper.AddConfigPath(paths.ConfigDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	viper.SetEnvPrefix("SDDRUN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere: create the user default
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if defaultPath := defaultConfigPath(); defaultPath != "" {
				if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
					viper.SetConfigFile(defaultPath)
					_ = viper.ReadInConfig()
				}
			}
			// If write fails, just continue with defaults (no config file)
		} else {
			fmt.Fprintf(os.Stderr, "warning: reading config: %v\n", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// setDefaults registers every key so env overrides and Unmarshal see them
// even when the config file omits them.
func setDefaults(v *viper.Viper) {
	defaults := config.Defaults()
	v.SetDefault("scaffold_dir", defaults.ScaffoldDir)
	v.SetDefault("exec.interpreter", defaults.Exec.Interpreter)
	v.SetDefault("exec.script_extensions", defaults.Exec.ScriptExtensions)
	v.SetDefault("exec.instruction_extensions", defaults.Exec.InstructionExtensions)
	v.SetDefault("exec.timeout", defaults.Exec.Timeout)
	v.SetDefault("exec.fallback_delay", defaults.Exec.FallbackDelay)
	v.SetDefault("exec.max_concurrent", defaults.Exec.MaxConcurrent)
	v.SetDefault("exec.timeout_policy", defaults.Exec.TimeoutPolicy)
	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.instructions_ttl", defaults.Server.InstructionsTTL)
	v.SetDefault("watch.debounce", defaults.Watch.Debounce)
	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	v.SetDefault("flags", defaults.Flags)
}

func defaultConfigPath() string {
	dir := paths.ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// configFileUsed returns the config file to edit, falling back to the default.
func configFileUsed() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	if cfgFile != "" {
		return cfgFile
	}
	return defaultConfigPath()
}

// setupLogging enables file logging when --debug or SDDRUN_DEBUG is set.
// The returned cleanup is always safe to call.
func setupLogging(prefix string) (func(), error) {
	if os.Getenv("SDDRUN_DEBUG") == "" && !debugFlag {
		return func() {}, nil
	}

	logPath := os.Getenv("SDDRUN_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}

	var (
		cleanup func()
		err     error
	)
	if prefix != "" {
		cleanup, err = log.InitWithTeaLog(logPath, prefix)
	} else {
		cleanup, err = log.Init(logPath)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	log.Info(log.CatConfig, "sddrun starting", "debug", true, "logPath", logPath, "config", viper.ConfigFileUsed())
	return func() {
		cleanup()
		log.Reset()
	}, nil
}

// projectRoot resolves --project (or the working directory) to an absolute path.
func projectRoot() (string, error) {
	return paths.ProjectRoot(projectFlag, cfg.ScaffoldDir)
}

// featureFlags returns the registry for the loaded config.
func featureFlags() *flags.Registry {
	return flags.New(cfg.Flags)
}

// runnerStack bundles the runner with the telemetry that observes it.
type runnerStack struct {
	runner   *sdd.Runner
	provider *telemetry.Provider
	events   *pubsub.Broker[sdd.Event]
}

// newRunnerStack builds a Runner from the loaded config, wired to telemetry and an
// event broker.
func newRunnerStack(ctx context.Context) (*runnerStack, error) {
	provider, err := telemetry.NewProvider(ctx, cfg.TelemetryConfig())
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	opts := []sdd.RunnerOption{
		sdd.WithTracer(provider.Tracer()),
	}
	if provider.Enabled() {
		metrics, err := telemetry.NewExecutionMetrics(provider.Meter())
		if err != nil {
			_ = provider.Shutdown(ctx)
			return nil, fmt.Errorf("creating metrics: %w", err)
		}
		opts = append(opts, sdd.WithMetrics(metrics))
	}

	events := pubsub.NewBroker[sdd.Event]()
	opts = append(opts, sdd.WithEvents(events))

	return &runnerStack{
		runner:   sdd.NewRunner(cfg.RunnerConfig(), opts...),
		provider: provider,
		events:   events,
	}, nil
}

// Close flushes telemetry and closes the event broker.
func (r *runnerStack) Close(ctx context.Context) {
	r.events.Close()
	if err := r.provider.Shutdown(ctx); err != nil {
		log.ErrorErr(log.CatConfig, "telemetry shutdown failed", err)
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
