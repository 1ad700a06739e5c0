package sdd

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/sddrun/internal/log"
)

// DefaultFallbackDelay is how long a simulated execution takes.
const DefaultFallbackDelay = 500 * time.Millisecond

const (
	executeTaskUnavailableMessage = "Agent-SDD script execution requires the coding assistant CLI"

	executeTaskUnavailableStderr = `Script execution failed: sdd-execute-task.sh not found or not executable.

To use the execute feature, ensure:
1. The coding assistant CLI is installed
2. The sdd-execute-task.sh script exists and is executable
3. You have the proper Agent-SDD setup

This feature requires the coding assistant CLI to work properly.`
)

// FallbackExecutor produces results for commands no script implements.
type FallbackExecutor struct {
	delay time.Duration
	sleep func(time.Duration)
}

// NewFallbackExecutor creates a fallback executor. A negative delay is treated
// as zero.
func NewFallbackExecutor(delay time.Duration) *FallbackExecutor {
	if delay < 0 {
		delay = 0
	}
	return &FallbackExecutor{delay: delay, sleep: time.Sleep}
}

// Execute returns the fallback result for req. sdd-execute-task fails
// immediately; every other command succeeds with a placeholder after the delay.
func (f *FallbackExecutor) Execute(_ context.Context, req Request, res Resolution, start time.Time) Result {
	if req.Command == CommandExecuteTask {
		log.Warn(log.CatExec, "execute-task has no script, refusing to simulate",
			"task", req.TaskID, "resolution", res.Kind)
		return fallbackFailure(executeTaskUnavailableStderr, executeTaskUnavailableMessage, start)
	}

	if res.Kind == Documented {
		log.Info(log.CatExec, "instructions found but not executed",
			"command", req.Command, "path", res.InstructionPath)
	}

	f.sleep(f.delay)
	log.Info(log.CatExec, "simulated execution", "command", req.Command, "task", req.TaskID)
	return fallbackSuccess(placeholder(req), start)
}

func placeholder(req Request) string {
	return fmt.Sprintf("Agent-SDD Command: %s\nTask ID: %s\nSpec Path: %s\nProject Path: %s\n\n%s",
		req.Command, req.TaskID, req.SpecPath, req.ProjectPath, PlaceholderMarker)
}
