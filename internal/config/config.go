// Package config provides configuration types and defaults for sddrun.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/sddrun/internal/flags"
	"github.com/zjrosen/sddrun/internal/log"
	"github.com/zjrosen/sddrun/internal/paths"
	"github.com/zjrosen/sddrun/internal/sdd"
	"github.com/zjrosen/sddrun/internal/telemetry"
)

// Config holds all configuration options for sddrun.
type Config struct {
	ScaffoldDir string           `mapstructure:"scaffold_dir" yaml:"scaffold_dir"`
	Exec        ExecConfig       `mapstructure:"exec" yaml:"exec"`
	Server      ServerConfig     `mapstructure:"server" yaml:"server"`
	Watch       WatchConfig      `mapstructure:"watch" yaml:"watch"`
	Tracing     telemetry.Config `mapstructure:"tracing" yaml:"tracing"`
	Flags       map[string]bool  `mapstructure:"flags" yaml:"flags,omitempty"`
}

// ExecConfig controls how commands are resolved and run.
type ExecConfig struct {
	Interpreter           string        `mapstructure:"interpreter" yaml:"interpreter"`
	ScriptExtensions      []string      `mapstructure:"script_extensions" yaml:"script_extensions"`
	InstructionExtensions []string      `mapstructure:"instruction_extensions" yaml:"instruction_extensions"`
	Timeout               time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FallbackDelay         time.Duration `mapstructure:"fallback_delay" yaml:"fallback_delay"`
	MaxConcurrent         int64         `mapstructure:"max_concurrent" yaml:"max_concurrent"` // 0 = unbounded
	TimeoutPolicy         string        `mapstructure:"timeout_policy" yaml:"timeout_policy"` // "kill" or "detach"
}

// ServerConfig holds settings for `sddrun serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// InstructionsTTL caches instruction documents served over HTTP. 0 disables the cache.
	InstructionsTTL time.Duration `mapstructure:"instructions_ttl" yaml:"instructions_ttl"`
}

// WatchConfig holds settings for `sddrun watch`.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tracing := telemetry.DefaultConfig()
	tracing.FilePath = paths.DefaultTracesFilePath()

	return Config{
		ScaffoldDir: paths.DefaultScaffoldName,
		Exec: ExecConfig{
			Interpreter:           sdd.DefaultInterpreter,
			ScriptExtensions:      []string{".sh"},
			InstructionExtensions: []string{".md"},
			Timeout:               sdd.DefaultTimeout,
			FallbackDelay:         sdd.DefaultFallbackDelay,
			MaxConcurrent:         0,
			TimeoutPolicy:         string(sdd.TimeoutKill),
		},
		Server: ServerConfig{
			Addr:            "localhost:19998",
			InstructionsTTL: 10 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 300 * time.Millisecond,
		},
		Tracing: tracing,
		Flags: map[string]bool{
			flags.FlagStreamLogs:  true,
			flags.FlagHTTPTracing: true,
		},
	}
}

// Validate checks every section and returns all problems found.
func (c Config) Validate() error {
	var errs []error
	if err := ValidateScaffoldDir(c.ScaffoldDir); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateExec(c.Exec); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateServer(c.Server); err != nil {
		errs = append(errs, err)
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce))
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	if err := flags.Validate(c.Flags); err != nil {
		errs = append(errs, fmt.Errorf("flags: %w", err))
	}
	return errors.Join(errs...)
}

// ValidateScaffoldDir requires a single path element.
func ValidateScaffoldDir(name string) error {
	if name == "" {
		return nil
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("scaffold_dir must be a single directory name, got %q", name)
	}
	return nil
}

// ValidateExec checks execution settings. Empty values use defaults.
func ValidateExec(e ExecConfig) error {
	if e.Timeout < 0 {
		return fmt.Errorf("exec.timeout must not be negative, got %s", e.Timeout)
	}
	if e.FallbackDelay < 0 {
		return fmt.Errorf("exec.fallback_delay must not be negative, got %s", e.FallbackDelay)
	}
	if e.MaxConcurrent < 0 {
		return fmt.Errorf("exec.max_concurrent must not be negative, got %d", e.MaxConcurrent)
	}
	if e.TimeoutPolicy != "" && !sdd.TimeoutPolicy(e.TimeoutPolicy).Valid() {
		return fmt.Errorf("exec.timeout_policy must be %q or %q, got %q", sdd.TimeoutKill, sdd.TimeoutDetach, e.TimeoutPolicy)
	}
	for i, ext := range e.ScriptExtensions {
		if strings.TrimPrefix(ext, ".") == "" || strings.ContainsAny(ext, `/\`) {
			return fmt.Errorf("exec.script_extensions[%d]: invalid extension %q", i, ext)
		}
	}
	for i, ext := range e.InstructionExtensions {
		if strings.TrimPrefix(ext, ".") == "" || strings.ContainsAny(ext, `/\`) {
			return fmt.Errorf("exec.instruction_extensions[%d]: invalid extension %q", i, ext)
		}
	}
	return nil
}

// ValidateServer checks that the listen address parses as host:port.
func ValidateServer(s ServerConfig) error {
	if s.InstructionsTTL < 0 {
		return fmt.Errorf("server.instructions_ttl must not be negative, got %s", s.InstructionsTTL)
	}
	if s.Addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		return fmt.Errorf("server.addr: %w", err)
	}
	return nil
}

// RunnerConfig converts the exec section into sdd.Runner settings.
func (c Config) RunnerConfig() sdd.Config {
	return sdd.Config{
		ScaffoldDir:           c.ScaffoldDir,
		Interpreter:           c.Exec.Interpreter,
		ScriptExtensions:      c.Exec.ScriptExtensions,
		InstructionExtensions: c.Exec.InstructionExtensions,
		Timeout:               c.Exec.Timeout,
		FallbackDelay:         c.Exec.FallbackDelay,
		MaxConcurrent:         c.Exec.MaxConcurrent,
		TimeoutPolicy:         sdd.TimeoutPolicy(c.Exec.TimeoutPolicy),
	}
}

// TelemetryConfig returns the tracing section with "~" expanded in FilePath.
func (c Config) TelemetryConfig() telemetry.Config {
	t := c.Tracing
	t.FilePath = expandHome(t.FilePath)
	return t
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# sddrun Configuration

# Name of the scaffold directory inside each project
scaffold_dir: .agent-sdd

# Command execution
exec:
  interpreter: bash          # Program that runs <scaffold>/scripts/<command>.sh
  script_extensions: [".sh"]
  instruction_extensions: [".md"]
  timeout: 5m                # Wall-clock bound per script
  fallback_delay: 500ms      # Simulated runtime for commands without a script
  max_concurrent: 0          # 0 = unbounded
  timeout_policy: kill       # "kill" the process group on timeout, or "detach"

# HTTP bridge (sddrun serve)
server:
  addr: localhost:19998
  instructions_ttl: 10s      # Cache for GET /commands/{command}/instructions; 0 disables

# sddrun watch
watch:
  debounce: 300ms

# OpenTelemetry tracing and metrics
tracing:
  enabled: false
  exporter: file             # none | file | stdout | otlp
  # file_path: ~/.config/sddrun/traces/traces.jsonl
  # otlp_endpoint: localhost:4317
  sample_rate: 1.0

# Feature flags
flags:
  stream-logs: true          # GET /events?logs=true streams debug log lines
  http-tracing: true         # Wrap HTTP requests in server spans
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
