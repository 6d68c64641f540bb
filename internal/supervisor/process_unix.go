//go:build !windows

package supervisor

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// configureProcAttr puts the worker in its own process group so it and
// anything it starts can be signaled together.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcess sends SIGTERM to the worker's process group, waits for
// grace, then sends SIGKILL. done must close once the process is reaped.
func terminateProcess(cmd *exec.Cmd, done <-chan struct{}, grace time.Duration) error {
	if cmd.Process == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		// Already gone.
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("getpgid(%d): %w", pid, err)
	}

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("sigterm pgid %d: %w", pgid, err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
		return nil
	}
}
