// Package logstore persists JobRun records and the captured stdout/stderr
// of each run, one directory per job under a configured root.
package logstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/corecron/acsd/internal/model"
)

// ErrRunNotFound is returned when a run ID has no record for the given job.
var ErrRunNotFound = errors.New("logstore: run not found")

const metaSuffix = ".meta.json"

// Store persists run history and output under root/<job_id>/. Each run
// produces two sibling files: "{run_id}.log" (raw child output, append-only
// during the run) and "{run_id}.meta.json" (pretty-printed JobRun metadata,
// rewritten on terminal transition).
type Store struct {
	mu     sync.Mutex
	root   string
	logger *slog.Logger
}

// Open prepares a Store rooted at root, creating the directory if absent.
func Open(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("logstore: mkdir %s: %w", root, err)
	}
	return &Store{root: root, logger: logger}, nil
}

func (s *Store) jobDir(jobID uuid.UUID) string {
	return filepath.Join(s.root, jobID.String())
}

func (s *Store) logFile(jobID, runID uuid.UUID) string {
	return filepath.Join(s.jobDir(jobID), runID.String()+".log")
}

func (s *Store) metaFile(jobID, runID uuid.UUID) string {
	return filepath.Join(s.jobDir(jobID), runID.String()+metaSuffix)
}

func (s *Store) writeMetaLocked(run model.JobRun) error {
	if err := os.MkdirAll(s.jobDir(run.JobID), 0o755); err != nil {
		return fmt.Errorf("logstore: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("logstore: marshal run: %w", err)
	}
	path := s.metaFile(run.JobID, run.RunID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("logstore: write temp meta: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) readMetaLocked(jobID, runID uuid.UUID) (model.JobRun, error) {
	data, err := os.ReadFile(s.metaFile(jobID, runID))
	if errors.Is(err, os.ErrNotExist) {
		return model.JobRun{}, ErrRunNotFound
	}
	if err != nil {
		return model.JobRun{}, fmt.Errorf("logstore: read meta: %w", err)
	}
	var run model.JobRun
	if err := json.Unmarshal(data, &run); err != nil {
		return model.JobRun{}, fmt.Errorf("logstore: unmarshal meta: %w", err)
	}
	return run, nil
}

// runIDFromMetaName extracts the run UUID from a "{run_id}.meta.json" file
// name, or reports ok=false for anything else in the job directory (the
// ".log" siblings, ".tmp" leftovers from an interrupted rename).
func runIDFromMetaName(name string) (uuid.UUID, bool) {
	if !strings.HasSuffix(name, metaSuffix) {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(strings.TrimSuffix(name, metaSuffix))
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}

// listMetaLocked enumerates every run recorded for jobID by reading its
// ".meta.json" siblings directly off disk — there is no separate index to
// fall out of sync with them. A file that fails to parse is skipped with a
// warning rather than failing the whole listing.
func (s *Store) listMetaLocked(jobID uuid.UUID) ([]model.JobRun, error) {
	entries, err := os.ReadDir(s.jobDir(jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("logstore: read job dir: %w", err)
	}
	var runs []model.JobRun
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		runID, ok := runIDFromMetaName(e.Name())
		if !ok {
			continue
		}
		run, err := s.readMetaLocked(jobID, runID)
		if err != nil {
			s.logger.Warn("logstore: skipping malformed run metadata", "job_id", jobID, "run_id", runID, "error", err)
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// CreateRun writes the initial Running record and opens an empty log file.
func (s *Store) CreateRun(run model.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.jobDir(run.JobID), 0o755); err != nil {
		return fmt.Errorf("logstore: mkdir: %w", err)
	}
	f, err := os.OpenFile(s.logFile(run.JobID, run.RunID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("logstore: create log file: %w", err)
	}
	f.Close()

	return s.writeMetaLocked(run.Clone())
}

// AppendLog appends text to the run's log file and returns the new total
// size in bytes, which the caller folds back into the JobRun's
// LogSizeBytes via UpdateRun.
func (s *Store) AppendLog(jobID, runID uuid.UUID, text string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.logFile(jobID, runID), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("logstore: open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return 0, fmt.Errorf("logstore: append log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("logstore: stat log: %w", err)
	}
	return uint64(info.Size()), nil
}

// UpdateRun rewrites the run's ".meta.json" with run's (presumably
// terminal) fields.
func (s *Store) UpdateRun(run model.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.metaFile(run.JobID, run.RunID)); errors.Is(err, os.ErrNotExist) {
		return ErrRunNotFound
	} else if err != nil {
		return fmt.Errorf("logstore: stat meta: %w", err)
	}
	return s.writeMetaLocked(run.Clone())
}

// ReadLog returns the log file's contents. If tailBytes is positive, only
// the last tailBytes bytes are returned.
func (s *Store) ReadLog(jobID, runID uuid.UUID, tailBytes int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.logFile(jobID, runID))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrRunNotFound
	}
	if err != nil {
		return "", fmt.Errorf("logstore: open log: %w", err)
	}
	defer f.Close()

	if tailBytes <= 0 {
		data, err := io.ReadAll(f)
		if err != nil {
			return "", fmt.Errorf("logstore: read log: %w", err)
		}
		return string(data), nil
	}

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("logstore: stat log: %w", err)
	}
	offset := info.Size() - tailBytes
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", fmt.Errorf("logstore: seek log: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("logstore: read log tail: %w", err)
	}
	return string(data), nil
}

// ListRuns enumerates the job's ".meta.json" files, sorts by started_at
// descending, and applies offset and limit. limit <= 0 means no limit.
func (s *Store) ListRuns(jobID uuid.UUID, limit, offset int) ([]model.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.listMetaLocked(jobID)
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if offset >= len(runs) {
		return nil, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	out := make([]model.JobRun, len(runs))
	for i, r := range runs {
		out[i] = r.Clone()
	}
	return out, nil
}

// GetRun returns a single run record.
func (s *Store) GetRun(jobID, runID uuid.UUID) (model.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.readMetaLocked(jobID, runID)
	if err != nil {
		return model.JobRun{}, err
	}
	return run.Clone(), nil
}

// Cleanup trims a job's run history down to maxFiles, deleting the oldest
// runs' log and meta files. maxFiles <= 0 disables retention.
func (s *Store) Cleanup(jobID uuid.UUID, maxFiles int) error {
	if maxFiles <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.listMetaLocked(jobID)
	if err != nil {
		return err
	}
	if len(runs) <= maxFiles {
		return nil
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	drop := runs[:len(runs)-maxFiles]

	for _, r := range drop {
		if err := os.Remove(s.logFile(jobID, r.RunID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("logstore: could not remove old log file", "job_id", jobID, "run_id", r.RunID, "error", err)
		}
		if err := os.Remove(s.metaFile(jobID, r.RunID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("logstore: could not remove old meta file", "job_id", jobID, "run_id", r.RunID, "error", err)
		}
	}
	return nil
}

// SweepOrphans removes per-job directories for jobs no longer present in
// knownJobIDs, used at startup. A job deleted while the daemon runs is
// cleaned up through DeleteJob instead.
func (s *Store) SweepOrphans(knownJobIDs map[uuid.UUID]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("logstore: read root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := uuid.Parse(e.Name())
		if err != nil {
			continue
		}
		if _, ok := knownJobIDs[id]; ok {
			continue
		}
		path := filepath.Join(s.root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("logstore: could not remove orphaned job directory", "job_id", id, "error", err)
			continue
		}
		s.logger.Info("logstore: removed orphaned job directory", "job_id", id)
	}
	return nil
}

// DeleteJob removes all run history and output for a single job, used when
// a job is deleted (rather than waiting for the next orphan sweep).
func (s *Store) DeleteJob(jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.jobDir(jobID)); err != nil {
		return fmt.Errorf("logstore: remove job dir: %w", err)
	}
	return nil
}
