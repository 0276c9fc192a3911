//go:build !windows

package lifecycle

import "syscall"

// isProcessAlive probes a PID with signal 0, which performs no action but
// reports ESRCH if the process does not exist.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil
}
