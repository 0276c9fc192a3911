// Package jobstore holds the authoritative set of Jobs in memory and
// persists them to a single JSON document on disk.
package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corecron/acsd/internal/clock"
	"github.com/corecron/acsd/internal/cronexpr"
	"github.com/corecron/acsd/internal/model"
)

const currentVersion = 1

// ErrNotFound is returned when a job ID or name has no match.
var ErrNotFound = errors.New("jobstore: job not found")

// ErrNameTaken is returned when Create/Update would collide with another
// job's name.
var ErrNameTaken = errors.New("jobstore: job name already in use")

// fileFormat is the on-disk shape of jobs.json.
type fileFormat struct {
	Version int         `json:"version"`
	Jobs    []model.Job `json:"jobs"`
}

// Store is the Job Store: an in-memory cache of every Job, backed by an
// atomically-rewritten JSON file. All exported methods are safe for
// concurrent use.
type Store struct {
	mu   sync.RWMutex
	path string
	jobs map[uuid.UUID]*model.Job

	eval   *cronexpr.Evaluator
	clock  clock.Clock
	logger *slog.Logger

	// notify and publish are wired in after construction via Wire, once the
	// Scheduler and Event Bus exist (jobstore is a leaf and must not import
	// either). Either may be nil, in which case the corresponding side
	// effect is simply skipped — tests routinely run a Store unwired.
	notify  func()
	publish func(model.JobEvent)
}

// Wire connects the Store to the Scheduler's wake signal and the Event
// Bus. Every successful Create/Update/Delete/SetEnabled calls both exactly
// once: the Scheduler re-evaluates its sleep promptly, and a JobChanged
// event reaches any Event Bus subscriber (such as the lifecycle
// metadata-updater) the same way a future HTTP layer's handlers would
// have.
func (s *Store) Wire(notify func(), publish func(model.JobEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = notify
	s.publish = publish
}

func (s *Store) notifyAndPublish(jobID uuid.UUID, change model.JobChangeKind) {
	s.publishLocked(jobID, change)
	if s.notify != nil {
		s.notify()
	}
}

func (s *Store) publishLocked(jobID uuid.UUID, change model.JobChangeKind) {
	if s.publish != nil {
		s.publish(model.NewJobChanged(jobID, change, s.clock.Now()))
	}
}

// Open loads path (creating an empty store if it does not yet exist) and
// returns a ready-to-use Store.
func Open(path string, eval *cronexpr.Evaluator, clk clock.Clock, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		jobs:   make(map[uuid.UUID]*model.Job),
		eval:   eval,
		clock:  clk,
		logger: logger,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("jobstore: read %s: %w", s.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		s.logger.Warn("jobstore: corrupt jobs file, quarantining and starting empty",
			"path", s.path, "error", err)
		return s.quarantine()
	}
	for i := range ff.Jobs {
		j := ff.Jobs[i]
		s.jobs[j.ID] = &j
	}
	return nil
}

// quarantine renames a corrupt jobs file aside as a .bak so the daemon can
// still start, rather than refusing to boot on a damaged file.
func (s *Store) quarantine() error {
	bak := s.path + ".bak"
	if err := os.Rename(s.path, bak); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("jobstore: quarantine %s: %w", s.path, err)
	}
	return nil
}

// saveLocked atomically rewrites the jobs file. The caller must hold s.mu
// for writing: every save goes through the same temp file, so two saves
// must never overlap. Writing goes to a temp file in the same directory followed by
// os.Rename, so a reader (or a crash) never observes a half-written file.
func (s *Store) saveLocked() error {
	ff := fileFormat{Version: currentVersion, Jobs: make([]model.Job, 0, len(s.jobs))}
	for _, j := range s.jobs {
		ff.Jobs = append(ff.Jobs, j.Clone())
	}

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("jobstore: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("jobstore: mkdir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("jobstore: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("jobstore: rename temp file: %w", err)
	}
	return nil
}

// validate checks fields common to Create and Update: a non-empty,
// trimmed, unique name that is not itself a valid UUID (so API callers can
// always tell a name from an ID apart), a well-formed cron schedule, and a
// recognized timezone.
func (s *Store) validate(id uuid.UUID, name, schedule, timezone string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("jobstore: name must not be empty")
	}
	if _, err := uuid.Parse(name); err == nil {
		return errors.New("jobstore: name must not itself be a UUID")
	}
	if existingID, ok := s.nameIndexLocked()[name]; ok && existingID != id {
		return ErrNameTaken
	}
	if err := s.eval.Validate(schedule); err != nil {
		return err
	}
	if err := s.eval.ValidateZone(timezone); err != nil {
		return err
	}
	return nil
}

func (s *Store) nameIndexLocked() map[string]uuid.UUID {
	idx := make(map[string]uuid.UUID, len(s.jobs))
	for id, j := range s.jobs {
		idx[j.Name] = id
	}
	return idx
}

// Create validates and persists a new Job.
func (s *Store) Create(nj model.NewJob) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.TrimSpace(nj.Name)
	if err := s.validate(uuid.UUID{}, name, nj.Schedule, nj.Timezone); err != nil {
		return model.Job{}, err
	}

	now := s.clock.Now()
	j := model.Job{
		ID:          model.NewID(),
		Name:        name,
		Schedule:    nj.Schedule,
		Execution:   nj.Execution,
		Enabled:     nj.Enabled,
		Timezone:    nj.Timezone,
		WorkingDir:  nj.WorkingDir,
		EnvVars:     nj.EnvVars,
		TimeoutSecs: nj.TimeoutSecs,
		LogEnv:      nj.LogEnv,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[j.ID] = &j
	if err := s.saveLocked(); err != nil {
		delete(s.jobs, j.ID)
		return model.Job{}, err
	}
	s.notifyAndPublish(j.ID, model.JobAdded)
	return s.annotateLocked(j.Clone()), nil
}

// Update applies patch to the job identified by id.
func (s *Store) Update(id uuid.UUID, patch model.JobPatch) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[id]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	updated := existing.Clone()

	name := updated.Name
	if patch.Name != nil {
		name = strings.TrimSpace(*patch.Name)
	}
	schedule := updated.Schedule
	if patch.Schedule != nil {
		schedule = *patch.Schedule
	}
	timezone := updated.Timezone
	if patch.Timezone != nil {
		timezone = *patch.Timezone
	}
	if err := s.validate(id, name, schedule, timezone); err != nil {
		return model.Job{}, err
	}

	updated.Name = name
	updated.Schedule = schedule
	updated.Timezone = timezone
	if patch.Execution != nil {
		updated.Execution = *patch.Execution
	}
	if patch.Enabled != nil {
		updated.Enabled = *patch.Enabled
	}
	if patch.WorkingDir != nil {
		updated.WorkingDir = *patch.WorkingDir
	}
	if patch.EnvVarsSet {
		updated.EnvVars = patch.EnvVars
	}
	if patch.TimeoutSecs != nil {
		updated.TimeoutSecs = *patch.TimeoutSecs
	}
	if patch.LogEnv != nil {
		updated.LogEnv = *patch.LogEnv
	}
	updated.UpdatedAt = s.clock.Now()

	prev := *existing
	s.jobs[id] = &updated
	if err := s.saveLocked(); err != nil {
		s.jobs[id] = &prev
		return model.Job{}, err
	}

	change := model.JobUpdated
	if patch.Enabled != nil {
		if *patch.Enabled {
			change = model.JobEnabled
		} else {
			change = model.JobDisabled
		}
	}
	s.notifyAndPublish(id, change)
	return updated.Clone(), nil
}

// Delete removes a job permanently.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	if err := s.saveLocked(); err != nil {
		s.jobs[id] = existing
		return err
	}
	s.notifyAndPublish(id, model.JobRemoved)
	return nil
}

// SetEnabled flips a job's Enabled flag, used by the Enable/Disable
// operations (kept distinct from Update so callers don't need to build a
// JobPatch just to flip one bool).
func (s *Store) SetEnabled(id uuid.UUID, enabled bool) (model.Job, error) {
	v := enabled
	return s.Update(id, model.JobPatch{Enabled: &v})
}

// RecordRun updates the denormalized LastRunAt/LastExitCode fields after a
// run finishes. exitCode is nil for runs that never produced one (Failed,
// Killed).
func (s *Store) RecordRun(id uuid.UUID, finishedAt time.Time, exitCode *int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	updated := existing.Clone()
	updated.LastRunAt = &finishedAt
	updated.LastExitCode = exitCode
	s.jobs[id] = &updated
	if err := s.saveLocked(); err != nil {
		s.jobs[id] = existing
		return err
	}
	return nil
}

// Reload re-reads the backing file and reconciles the in-memory cache
// against it, publishing JobChanged(Added/Updated/Removed) for whatever
// actually differs and pulsing Notify once if anything changed. It exists
// for the external-edit watcher (see Watcher): an operator hand-editing
// jobs.json while the daemon runs is not a scenario the HTTP-boundary
// CRUD path covers, since edits bypass it entirely.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("jobstore: reload %s: %w", s.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("jobstore: reload: parse %s: %w", s.path, err)
	}

	next := make(map[uuid.UUID]*model.Job, len(ff.Jobs))
	for i := range ff.Jobs {
		j := ff.Jobs[i]
		next[j.ID] = &j
	}

	changed := false
	for id := range s.jobs {
		if _, ok := next[id]; !ok {
			changed = true
			s.publishLocked(id, model.JobRemoved)
		}
	}
	for id, j := range next {
		prev, existed := s.jobs[id]
		if !existed {
			changed = true
			s.publishLocked(id, model.JobAdded)
			continue
		}
		if !jobsEqual(*prev, *j) {
			changed = true
			s.publishLocked(id, model.JobUpdated)
		}
	}

	s.jobs = next
	if changed && s.notify != nil {
		s.notify()
	}
	return nil
}

// jobsEqual compares the fields an external edit could plausibly change,
// deliberately ignoring the transient NextRunAt (never persisted) so a
// read-time annotation never looks like a reload-worthy change.
func jobsEqual(a, b model.Job) bool {
	a.NextRunAt, b.NextRunAt = nil, nil
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

// Get returns a copy of the job with the given ID.
func (s *Store) Get(id uuid.UUID) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	return s.annotateLocked(j.Clone()), nil
}

// FindByName returns a copy of the job with the given name.
func (s *Store) FindByName(name string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.Name == name {
			return s.annotateLocked(j.Clone()), nil
		}
	}
	return model.Job{}, ErrNotFound
}

// List returns a copy of every job, in no particular order. Each job is
// deep-copied (Clone) so a caller mutating EnvVars can never reach back
// into the Store's own cache.
func (s *Store) List() []model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, s.annotateLocked(j.Clone()))
	}
	return out
}

// annotateLocked fills in the transient NextRunAt field. The Store holds
// the only cron evaluator + clock combination cheap enough to call on
// every read; NextRunAt is never persisted.
func (s *Store) annotateLocked(j model.Job) model.Job {
	if !j.Enabled {
		return j
	}
	next, err := s.eval.NextAfter(j.Schedule, j.Timezone, s.clock.Now())
	if err != nil {
		s.logger.Warn("jobstore: could not compute next run", "job_id", j.ID, "error", err)
		return j
	}
	j.NextRunAt = &next
	return j
}
