// Package lifecycle owns the daemon's single-instance guarantee and the
// startup/shutdown sequencing that wires the other components together.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// lockRetryInterval and lockRetryAttempts bound how long Acquire waits out
// a lock file left by a daemon that is still shutting down.
const (
	lockRetryInterval = 500 * time.Millisecond
	lockRetryAttempts = 20
)

// PIDFile is an exclusive-create lock file recording the owning process's
// PID, used to refuse a second daemon instance over the same data
// directory.
type PIDFile struct {
	path string
}

// NewPIDFile returns a PIDFile at path. The file is not touched until
// Acquire is called.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Acquire exclusively creates the lock file. If an existing lock file
// names a PID that is no longer alive, it is treated as stale and
// replaced; otherwise Acquire retries briefly, since a concurrently
// exiting daemon may release the lock within the same window, and only
// then fails.
func (p *PIDFile) Acquire() error {
	var lastErr error
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d", os.Getpid())
			cerr := f.Close()
			if werr != nil {
				return werr
			}
			return cerr
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("lifecycle: create pid file: %w", err)
		}

		pid, rerr := readPID(p.path)
		if rerr != nil {
			lastErr = rerr
			time.Sleep(lockRetryInterval)
			continue
		}
		if !isProcessAlive(pid) {
			if rerr := os.Remove(p.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				return fmt.Errorf("lifecycle: remove stale pid file: %w", rerr)
			}
			continue
		}
		// A live owner may just be in its own graceful shutdown; give it
		// the same retry window before giving up.
		lastErr = fmt.Errorf("lifecycle: daemon already running (pid %d)", pid)
		time.Sleep(lockRetryInterval)
	}
	return fmt.Errorf("lifecycle: could not acquire pid file after retries: %w", lastErr)
}

// Release removes the lock file. Safe to call if Acquire never succeeded.
func (p *PIDFile) Release() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("lifecycle: remove pid file: %w", err)
	}
	return nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("lifecycle: malformed pid file: %w", err)
	}
	return pid, nil
}
