//go:build unix

package sdd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// ensureExecutable sets mode 0755 on the script. The interpreter does not need
// the bit, but scripts that re-exec themselves do.
func ensureExecutable(path string) error {
	// #nosec G302 -- scripts under the scaffold are meant to be executable
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

// setProcessGroup puts the child in its own process group so a timeout kill
// reaches every descendant.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the group led by pid. A group that is
// already gone is not an error.
func killProcessGroup(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", pid, err)
	}
	return nil
}

func signalName(state *os.ProcessState) string {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	sig := ws.Signal()
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return sig.String()
}
