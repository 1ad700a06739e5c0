package sdd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/sddrun/internal/log"
)

// DefaultTimeout bounds how long the caller waits for a script.
const DefaultTimeout = 300 * time.Second

// DefaultInterpreter runs every resolved script.
const DefaultInterpreter = "bash"

// maxSpanOutput caps script output recorded on trace spans.
const maxSpanOutput = 4096

// outputWaitDelay bounds how long Wait keeps reading output after the script
// exits while a background descendant still holds its stdout or stderr.
const outputWaitDelay = 2 * time.Second

// TimeoutPolicy decides what happens to a child that outlives the timeout.
type TimeoutPolicy string

const (
	// TimeoutKill kills the child's process group once the timeout result is returned.
	TimeoutKill TimeoutPolicy = "kill"
	// TimeoutDetach leaves the child running; only the caller stops waiting.
	TimeoutDetach TimeoutPolicy = "detach"
)

// Valid reports whether p is a known policy.
func (p TimeoutPolicy) Valid() bool {
	return p == TimeoutKill || p == TimeoutDetach
}

// ScriptExecutor runs a resolved script for a request.
type ScriptExecutor interface {
	Execute(ctx context.Context, scriptPath string, req Request, start time.Time) Result
}

// CommandFactoryFunc creates an exec.Cmd. Tests swap it to observe arguments.
type CommandFactoryFunc func(name string, args ...string) *exec.Cmd

// ExecutorOption configures a ProcessExecutor.
type ExecutorOption func(*ProcessExecutor)

// WithInterpreter sets the program that runs scripts (default "bash").
func WithInterpreter(interpreter string) ExecutorOption {
	return func(e *ProcessExecutor) {
		if interpreter != "" {
			e.interpreter = interpreter
		}
	}
}

// WithTimeout sets the wall-clock bound. Non-positive values keep the default.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *ProcessExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithTimeoutPolicy sets what happens to the child after a timeout.
func WithTimeoutPolicy(p TimeoutPolicy) ExecutorOption {
	return func(e *ProcessExecutor) {
		if p.Valid() {
			e.policy = p
		}
	}
}

// WithCommandFactory overrides exec.Command.
func WithCommandFactory(fn CommandFactoryFunc) ExecutorOption {
	return func(e *ProcessExecutor) {
		if fn != nil {
			e.commandFactory = fn
		}
	}
}

// ProcessExecutor runs scripts as `<interpreter> <script> <task_id>` in the
// project directory and captures both output streams in memory.
type ProcessExecutor struct {
	interpreter    string
	timeout        time.Duration
	policy         TimeoutPolicy
	commandFactory CommandFactoryFunc
}

// NewProcessExecutor creates an executor with the given options applied over
// the defaults (bash, 300s, kill on timeout).
func NewProcessExecutor(opts ...ExecutorOption) *ProcessExecutor {
	e := &ProcessExecutor{
		interpreter:    DefaultInterpreter,
		timeout:        DefaultTimeout,
		policy:         TimeoutKill,
		commandFactory: exec.Command,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeout returns the configured wall-clock bound.
func (e *ProcessExecutor) Timeout() time.Duration {
	return e.timeout
}

// exitReport is what the worker goroutine hands back to the caller.
type exitReport struct {
	spawnErr error
	waitErr  error
	state    *os.ProcessState
	stdout   string
	stderr   string
}

// Execute runs the script and always returns a Result. The spawn and wait happen
// on a worker goroutine; the caller waits for it or for the timeout, whichever
// comes first. ctx contributes trace context only.
func (e *ProcessExecutor) Execute(ctx context.Context, scriptPath string, req Request, start time.Time) Result {
	span := trace.SpanFromContext(ctx)

	log.Info(log.CatExec, "executing script", "script", scriptPath, "task", req.TaskID)

	if err := ensureExecutable(scriptPath); err != nil {
		log.Warn(log.CatExec, "could not mark script executable", "script", scriptPath, "error", err)
	}

	cmd := e.commandFactory(e.interpreter, scriptPath, req.TaskID)
	cmd.Dir = req.ProjectPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = e.waitDelay()
	setProcessGroup(cmd)

	done := make(chan exitReport, 1)
	pids := make(chan int, 1)

	go func() {
		if err := cmd.Start(); err != nil {
			done <- exitReport{spawnErr: err}
			return
		}
		pids <- cmd.Process.Pid
		err := cmd.Wait()
		done <- exitReport{
			waitErr: err,
			state:   cmd.ProcessState,
			stdout:  stdout.String(),
			stderr:  stderr.String(),
		}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case report := <-done:
		result := normalizeExit(report, start)
		recordOutput(span, report.stdout, report.stderr)
		log.Info(log.CatExec, "script execution completed",
			"script", scriptPath, "duration_ms", result.DurationMS, "exit_code", formatExitCode(result))
		return result

	case <-timer.C:
		log.Warn(log.CatExec, "script execution timed out",
			"script", scriptPath, "timeout", e.timeout, "policy", e.policy)
		span.AddEvent("script.timeout", trace.WithAttributes(
			attribute.String("policy", string(e.policy)),
		))
		if e.policy == TimeoutKill {
			go reap(scriptPath, pids, done)
		}
		return timeoutResult(start)
	}
}

// waitDelay keeps the output grace period well inside the timeout so a script
// that exited is never reported as timed out.
func (e *ProcessExecutor) waitDelay() time.Duration {
	return min(outputWaitDelay, e.timeout/4)
}

// reap kills the child's process group after a timeout and waits for the worker
// so the child does not linger as a zombie.
func reap(scriptPath string, pids <-chan int, done <-chan exitReport) {
	select {
	case <-done:
		return
	default:
	}

	select {
	case <-done:
	case pid := <-pids:
		if err := killProcessGroup(pid); err != nil {
			log.ErrorErr(log.CatExec, "failed to kill timed out script", err, "script", scriptPath, "pid", pid)
		} else {
			log.Info(log.CatExec, "killed timed out script", "script", scriptPath, "pid", pid)
		}
		<-done
	}
}

func normalizeExit(report exitReport, start time.Time) Result {
	if report.spawnErr != nil {
		log.ErrorErr(log.CatExec, "failed to execute script", report.spawnErr)
		return spawnErrorResult(report.spawnErr, start)
	}

	state := report.state
	if state == nil {
		// Wait failed without the process having been waited on.
		return spawnErrorResult(report.waitErr, start)
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(report.waitErr, exec.ErrWaitDelay):
		log.Warn(log.CatExec, "script exited but a descendant kept its output open")
	case report.waitErr != nil && !errors.As(report.waitErr, &exitErr):
		// Output copying failed; the exit status is still authoritative.
		log.Warn(log.CatExec, "error collecting script output", "error", report.waitErr)
	}

	if code := state.ExitCode(); code >= 0 {
		return exitResult(code, report.stdout, report.stderr, start)
	}
	return signalResult(signalName(state), report.stdout, report.stderr, start)
}

func recordOutput(span trace.Span, stdout, stderr string) {
	if !span.IsRecording() {
		return
	}
	if stdout != "" {
		span.AddEvent("script.stdout", trace.WithAttributes(
			attribute.String("output", truncate(stdout)),
			attribute.Int("bytes", len(stdout)),
		))
	}
	if stderr != "" {
		span.AddEvent("script.stderr", trace.WithAttributes(
			attribute.String("output", truncate(stderr)),
			attribute.Int("bytes", len(stderr)),
		))
	}
}

func truncate(s string) string {
	if len(s) <= maxSpanOutput {
		return s
	}
	return s[:maxSpanOutput] + "...(truncated)"
}

func formatExitCode(r Result) string {
	if code, ok := r.Code(); ok {
		return fmt.Sprint(code)
	}
	return "none"
}
