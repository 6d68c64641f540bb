//go:build windows

package supervisor

import (
	"os/exec"
	"time"
)

// configureProcAttr is a no-op on Windows (Setpgid not supported).
func configureProcAttr(_ *exec.Cmd) {}

// terminateProcess falls back to Process.Kill on Windows.
func terminateProcess(cmd *exec.Cmd, done <-chan struct{}, _ time.Duration) error {
	if cmd.Process == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}
	if err := cmd.Process.Kill(); err != nil {
		return err
	}
	<-done
	return nil
}
