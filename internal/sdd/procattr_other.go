//go:build !unix

package sdd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

func ensureExecutable(string) error { return nil }

func setProcessGroup(*exec.Cmd) {}

// killProcessGroup kills only the direct child; there are no process groups to
// signal here.
func killProcessGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}

func signalName(state *os.ProcessState) string {
	return state.String()
}
