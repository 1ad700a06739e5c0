package sdd

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// SpawnFailureExitCode is reported when the interpreter could not be started.
	SpawnFailureExitCode = -1

	// TimeoutMessage is the error message of every timed-out execution.
	TimeoutMessage = "Execution timeout"

	// PlaceholderMarker terminates the stdout of every simulated fallback result.
	PlaceholderMarker = "This is a mock execution. Full implementation pending."
)

// Outcome classifies how a Result was produced.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeExitFailure     Outcome = "exit_failure"
	OutcomeSignaled        Outcome = "signaled"
	OutcomeSpawnFailure    Outcome = "spawn_failure"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeFallbackFailure Outcome = "fallback_failure"
	OutcomeSimulated       Outcome = "simulated"
)

// Result is the normalized outcome of one execution attempt.
//
// Results are only built by the constructors in this file, which guarantee that
// ErrorMessage is set exactly when Success is false.
type Result struct {
	Success      bool    `json:"success"`
	ExitCode     *int    `json:"exit_code"`
	Stdout       string  `json:"stdout"`
	Stderr       string  `json:"stderr"`
	DurationMS   uint64  `json:"duration_ms"`
	ErrorMessage *string `json:"error_message"`

	outcome Outcome
}

// Code returns the exit code and whether one was recorded.
func (r Result) Code() (int, bool) {
	if r.ExitCode == nil {
		return 0, false
	}
	return *r.ExitCode, true
}

// Message returns the error message, or "" for successful results.
func (r Result) Message() string {
	if r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}

// Outcome reports which producer built the result.
func (r Result) Outcome() Outcome {
	return r.outcome
}

// Simulated reports whether the result is a placeholder produced because no
// script implements the command. Results decoded from JSON carry no outcome,
// so for those the placeholder marker decides.
func (r Result) Simulated() bool {
	if r.outcome != "" {
		return r.outcome == OutcomeSimulated
	}
	return r.Success && strings.HasSuffix(r.Stdout, PlaceholderMarker)
}

// Duration returns DurationMS as a time.Duration.
func (r Result) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// Validate checks the structural invariants every Result must satisfy.
func (r Result) Validate() error {
	if r.Success && r.ErrorMessage != nil {
		return errors.New("successful result carries an error message")
	}
	if !r.Success && (r.ErrorMessage == nil || *r.ErrorMessage == "") {
		return errors.New("failed result has no error message")
	}
	if r.Success {
		if code, ok := r.Code(); !ok || code != 0 {
			return fmt.Errorf("successful result has exit code %v", r.ExitCode)
		}
	}
	return nil
}

func elapsedMS(start time.Time) uint64 {
	d := time.Since(start)
	if d < 0 {
		return 0
	}
	return uint64(d.Milliseconds())
}

func intPtr(v int) *int { return &v }

func strPtr(s string) *string { return &s }

// exitResult covers a process that terminated normally with the given status.
func exitResult(code int, stdout, stderr string, start time.Time) Result {
	r := Result{
		Success:    code == 0,
		ExitCode:   intPtr(code),
		Stdout:     stdout,
		Stderr:     stderr,
		DurationMS: elapsedMS(start),
		outcome:    OutcomeSucceeded,
	}
	if code != 0 {
		r.ErrorMessage = strPtr(fmt.Sprintf("Script exited with code: %d", code))
		r.outcome = OutcomeExitFailure
	}
	return r
}

// signalResult covers a process killed by a signal; there is no exit status.
func signalResult(signal, stdout, stderr string, start time.Time) Result {
	if signal == "" {
		signal = "unknown"
	}
	return Result{
		Success:      false,
		Stdout:       stdout,
		Stderr:       stderr,
		DurationMS:   elapsedMS(start),
		ErrorMessage: strPtr("Script terminated by signal: " + signal),
		outcome:      OutcomeSignaled,
	}
}

// spawnErrorResult covers an interpreter that could not be started.
func spawnErrorResult(err error, start time.Time) Result {
	return Result{
		Success:      false,
		ExitCode:     intPtr(SpawnFailureExitCode),
		DurationMS:   elapsedMS(start),
		ErrorMessage: strPtr(fmt.Sprintf("Script execution failed: %v", err)),
		outcome:      OutcomeSpawnFailure,
	}
}

// timeoutResult is returned when the wall-clock bound elapses first.
func timeoutResult(start time.Time) Result {
	return Result{
		Success:      false,
		DurationMS:   elapsedMS(start),
		ErrorMessage: strPtr(TimeoutMessage),
		outcome:      OutcomeTimeout,
	}
}

// fallbackFailure is the deterministic failure for commands that must not be simulated.
func fallbackFailure(stderr, message string, start time.Time) Result {
	return Result{
		Success:      false,
		ExitCode:     intPtr(1),
		Stderr:       stderr,
		DurationMS:   elapsedMS(start),
		ErrorMessage: strPtr(message),
		outcome:      OutcomeFallbackFailure,
	}
}

// fallbackSuccess is the placeholder success for commands without a script.
func fallbackSuccess(stdout string, start time.Time) Result {
	return Result{
		Success:    true,
		ExitCode:   intPtr(0),
		Stdout:     stdout,
		DurationMS: elapsedMS(start),
		outcome:    OutcomeSimulated,
	}
}
