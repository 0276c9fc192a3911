//go:build windows

package procspawn

import "os/exec"

// setProcessGroup is a no-op on Windows: job objects would be needed for
// true descendant cleanup, which is out of scope here, so Kill only
// reaches the immediate child.
func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
