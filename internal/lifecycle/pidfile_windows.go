//go:build windows

package lifecycle

import (
	"os"
)

// isProcessAlive probes a PID for liveness. Unlike Unix, os.FindProcess on
// Windows actually opens a handle to the process and fails if it does not
// exist, so a successful call is itself the liveness check.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
