//go:build unix

package process

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group and makes the
// context cancellation kill the whole group, so archiver helpers spawned
// as grandchildren don't outlive a timeout.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if err == syscall.ESRCH {
			return nil
		}
		return err
	}
}
