//go:build !windows

package procspawn

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group so Kill can
// terminate any descendants the child itself spawned (a shell running a
// pipeline, for instance), not just the immediate child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid := cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return cmd.Process.Kill()
	}
	return nil
}
