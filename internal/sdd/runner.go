package sdd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/zjrosen/sddrun/internal/log"
	"github.com/zjrosen/sddrun/internal/paths"
	"github.com/zjrosen/sddrun/internal/pubsub"
	"github.com/zjrosen/sddrun/internal/telemetry"
)

const tracerName = "github.com/zjrosen/sddrun/internal/sdd"

// Config holds the Runner's tunables.
type Config struct {
	ScaffoldDir           string
	Interpreter           string
	ScriptExtensions      []string
	InstructionExtensions []string
	Timeout               time.Duration
	FallbackDelay         time.Duration
	// MaxConcurrent bounds simultaneous executions. Zero means unbounded.
	MaxConcurrent int64
	TimeoutPolicy TimeoutPolicy
}

// DefaultConfig returns the defaults used when no configuration file exists.
func DefaultConfig() Config {
	return Config{
		ScaffoldDir:           paths.DefaultScaffoldName,
		Interpreter:           DefaultInterpreter,
		ScriptExtensions:      []string{".sh"},
		InstructionExtensions: []string{".md"},
		Timeout:               DefaultTimeout,
		FallbackDelay:         DefaultFallbackDelay,
		TimeoutPolicy:         TimeoutKill,
	}
}

// MetricsRecorder receives one observation per finished execution.
// telemetry.ExecutionMetrics satisfies it.
type MetricsRecorder interface {
	RecordExecution(ctx context.Context, command, outcome string, d time.Duration)
	RecordRejection(ctx context.Context, reason string)
	AddInFlight(ctx context.Context, delta int64)
}

// Event is published on the runner's event stream.
type Event struct {
	ExecutionID string  `json:"execution_id"`
	Request     Request `json:"request"`
	Result      *Result `json:"result,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithFs sets the filesystem used by validation and resolution.
func WithFs(fs afero.Fs) RunnerOption {
	return func(r *Runner) {
		r.fs = fs
	}
}

// WithTracer sets the tracer used for execution spans.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithEvents publishes execution lifecycle events on p.
func WithEvents(p pubsub.Publisher[Event]) RunnerOption {
	return func(r *Runner) {
		r.events = p
	}
}

// WithScriptExecutor replaces the process executor.
func WithScriptExecutor(e ScriptExecutor) RunnerOption {
	return func(r *Runner) {
		if e != nil {
			r.process = e
		}
	}
}

// WithIDGenerator overrides how execution IDs are produced.
func WithIDGenerator(fn func() string) RunnerOption {
	return func(r *Runner) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// Runner validates requests, resolves the command and dispatches to the
// process or fallback executor. Executions share nothing but the admission
// semaphore, so a Runner is safe for concurrent use.
type Runner struct {
	cfg       Config
	fs        afero.Fs
	validator *PathValidator
	resolver  *Resolver
	process   ScriptExecutor
	fallback  *FallbackExecutor
	sem       *semaphore.Weighted
	tracer    trace.Tracer
	metrics   MetricsRecorder
	events    pubsub.Publisher[Event]
	newID     func() string
}

// NewRunner builds a Runner from cfg. Zero-valued fields of cfg fall back to
// DefaultConfig, except FallbackDelay where zero means no delay.
func NewRunner(cfg Config, opts ...RunnerOption) *Runner {
	cfg = withDefaults(cfg)

	r := &Runner{
		cfg:    cfg,
		fs:     afero.NewOsFs(),
		tracer: otel.Tracer(tracerName),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.validator = NewPathValidator(r.fs, cfg.ScaffoldDir)
	r.resolver = NewResolver(r.fs,
		WithScriptExtensions(cfg.ScriptExtensions...),
		WithInstructionExtensions(cfg.InstructionExtensions...),
	)
	if r.process == nil {
		r.process = NewProcessExecutor(
			WithInterpreter(cfg.Interpreter),
			WithTimeout(cfg.Timeout),
			WithTimeoutPolicy(cfg.TimeoutPolicy),
		)
	}
	r.fallback = NewFallbackExecutor(cfg.FallbackDelay)
	if cfg.MaxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	return r
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.ScaffoldDir == "" {
		cfg.ScaffoldDir = def.ScaffoldDir
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = def.Interpreter
	}
	if len(cfg.ScriptExtensions) == 0 {
		cfg.ScriptExtensions = def.ScriptExtensions
	}
	if len(cfg.InstructionExtensions) == 0 {
		cfg.InstructionExtensions = def.InstructionExtensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FallbackDelay < 0 {
		cfg.FallbackDelay = 0
	}
	if !cfg.TimeoutPolicy.Valid() {
		cfg.TimeoutPolicy = def.TimeoutPolicy
	}
	return cfg
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Execute runs one request to completion.
//
// Rejected requests return a *RequestError and no Result. Once a request is
// admitted it always yields a Result; execution failures are reported inside it.
// ctx bounds only the wait for admission. After that the configured timeout is
// the sole cancellation source.
func (r *Runner) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	id := r.newID()

	ctx, span := r.tracer.Start(ctx, telemetry.SpanExecute,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(telemetry.AttrExecutionID, id),
			attribute.String(telemetry.AttrCommand, req.Command.String()),
			attribute.String(telemetry.AttrTaskID, req.TaskID),
			attribute.String(telemetry.AttrProjectPath, req.ProjectPath),
		),
	)
	defer span.End()

	scaffold, err := r.admit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.reject(ctx, id, req, err)
		return Result{}, err
	}
	if r.sem != nil {
		defer r.sem.Release(1)
	}

	ctx = context.WithoutCancel(ctx)
	r.publish(pubsub.StartedEvent, Event{ExecutionID: id, Request: req})
	if r.metrics != nil {
		r.metrics.AddInFlight(ctx, 1)
		defer r.metrics.AddInFlight(ctx, -1)
	}

	res := r.resolver.Resolve(req.Command, scaffold)
	span.SetAttributes(attribute.String(telemetry.AttrResolution, res.Kind.String()))

	var result Result
	if res.Executable() {
		span.SetAttributes(attribute.String(telemetry.AttrScriptPath, res.ScriptPath))
		result = r.process.Execute(ctx, res.ScriptPath, req, start)
	} else {
		result = r.fallback.Execute(ctx, req, res, start)
	}

	span.SetAttributes(
		attribute.String(telemetry.AttrOutcome, string(result.Outcome())),
		attribute.Int64(telemetry.AttrDurationMS, int64(result.DurationMS)),
	)
	if code, ok := result.Code(); ok {
		span.SetAttributes(attribute.Int(telemetry.AttrExitCode, code))
	}
	if result.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, result.Message())
	}

	if r.metrics != nil {
		r.metrics.RecordExecution(ctx, req.Command.String(), string(result.Outcome()), result.Duration())
	}
	r.publish(pubsub.CompletedEvent, Event{ExecutionID: id, Request: req, Result: &result})

	log.Info(log.CatExec, "execution finished",
		"id", id, "command", req.Command, "outcome", result.Outcome(), "duration_ms", result.DurationMS)
	return result, nil
}

// admit validates req and acquires an admission slot. On success the caller
// owns one unit of r.sem when it is non-nil.
func (r *Runner) admit(ctx context.Context, req Request) (string, error) {
	if err := ValidateCommand(req.Command); err != nil {
		return "", err
	}
	scaffold, err := r.validator.Validate(req)
	if err != nil {
		return "", err
	}
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return "", &RequestError{
				Err:    ErrAdmission,
				Value:  req.Command.String(),
				Reason: fmt.Sprintf("waiting for an execution slot: %v", err),
			}
		}
	}
	return scaffold, nil
}

func (r *Runner) reject(ctx context.Context, id string, req Request, err error) {
	log.Warn(log.CatExec, "request rejected", "id", id, "command", req.Command, "error", err)
	if r.metrics != nil {
		r.metrics.RecordRejection(ctx, rejectionReason(err))
	}
	r.publish(pubsub.RejectedEvent, Event{ExecutionID: id, Request: req, Error: err.Error()})
}

func (r *Runner) publish(t pubsub.EventType, e Event) {
	if r.events != nil {
		r.events.Publish(t, e)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, ErrInvalidProjectPath):
		return "invalid_project_path"
	case errors.Is(err, ErrMissingScaffold):
		return "missing_scaffold"
	case errors.Is(err, ErrInvalidSpecPath):
		return "invalid_spec_path"
	case errors.Is(err, ErrAdmission):
		return "admission"
	default:
		return "unknown"
	}
}

// Commands reports what the project's scaffold provides for every allow-listed
// command.
func (r *Runner) Commands(projectPath string) ([]Resolution, error) {
	scaffold, err := r.validator.ValidateProject(projectPath)
	if err != nil {
		return nil, err
	}
	return r.resolver.Availability(scaffold), nil
}

// Instructions returns the instruction document for c.
func (r *Runner) Instructions(c Command, projectPath string) (string, []byte, error) {
	if err := ValidateCommand(c); err != nil {
		return "", nil, err
	}
	scaffold, err := r.validator.ValidateProject(projectPath)
	if err != nil {
		return "", nil, err
	}
	path, ok := r.resolver.InstructionPath(c, scaffold)
	if !ok {
		return "", nil, fmt.Errorf("%w for %s in %s", ErrNoInstructions, c, paths.InstructionsDir(scaffold))
	}
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return "", nil, fmt.Errorf("reading instructions: %w", err)
	}
	return path, data, nil
}
