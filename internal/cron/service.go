// Package cron manages scheduled agent tasks persisted as a single JSON
// document:
//
//	{ "version": 1, "jobs": [ { "id":"…", "name":"…", "enabled":true,
//	    "schedule":{"kind":"every","everyMs":…},
//	    "payload":{"kind":"agent_turn","message":"…","deliver":false},
//	    "state":{"nextRunAtMs":…,"lastRunAtMs":…,"lastStatus":"ok"},
//	    "createdAtMs":…, "updatedAtMs":…, "deleteAfterRun":false } ] }
//
// Scheduling is a 1-second scan over nextRunAtMs rather than per-job timers:
// the store stays the single source of truth and edits from other processes
// are picked up on restart without timer bookkeeping.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	robfigcron "github.com/robfig/cron/v3"
)

const scanInterval = time.Second

// OnJobFunc is called when a job fires. It returns the agent's response text.
type OnJobFunc func(ctx context.Context, job CronJob) (string, error)

// Service manages scheduled jobs.
type Service struct {
	storePath string
	onJob     OnJobFunc

	mu      sync.Mutex
	store   cronStore
	loaded  bool
	running bool
}

// NewService creates a cron Service.
// storePath is the path to jobs.json (e.g. ~/.nanobot/cron/jobs.json).
func NewService(storePath string) *Service {
	return &Service{storePath: storePath}
}

// SetOnJob registers the callback executed when a job fires.
// Must be set before Start().
func (s *Service) SetOnJob(fn OnJobFunc) { s.onJob = fn }

// Start loads jobs from disk, recomputes next-run times, then scans every
// second for due jobs. Blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if err := s.loadLocked(); err != nil {
		slog.Warn("cron: load failed, starting empty", "err", err)
	}
	s.recomputeNextRunsLocked()
	s.saveLocked()
	s.running = true
	n := len(s.store.Jobs)
	s.mu.Unlock()

	slog.Info("cron: started", "jobs", n)

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue executes every enabled job whose next run time has passed.
func (s *Service) fireDue(ctx context.Context) {
	now := nowMs()

	s.mu.Lock()
	var due []CronJob
	for _, j := range s.store.Jobs {
		if j.Enabled && j.State.NextRunAtMs != nil && now >= *j.State.NextRunAtMs {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.executeJob(ctx, job)
	}
}

// AddJob adds a new job and persists the store. Returns the job ID.
func (s *Service) AddJob(
	name, message, kind string,
	everyMs int64, cronExpr, tz string, atMs int64,
	deliver bool, channel, to string, deleteAfterRun bool,
) (string, error) {
	sched := CronSchedule{Kind: kind}
	switch kind {
	case "every":
		if everyMs <= 0 {
			return "", fmt.Errorf("everyMs must be positive")
		}
		sched.EveryMs = &everyMs
	case "cron":
		if _, err := cronParser.Parse(cronExpr); err != nil {
			return "", fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
		}
		sched.Expr = &cronExpr
		if tz != "" {
			sched.TZ = &tz
		}
	case "at":
		sched.AtMs = &atMs
	default:
		return "", fmt.Errorf("unknown schedule kind %q", kind)
	}

	payload := CronPayload{
		Kind:    "agent_turn",
		Message: message,
		Deliver: deliver,
	}
	if channel != "" {
		payload.Channel = &channel
	}
	if to != "" {
		payload.To = &to
	}

	now := nowMs()

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked()

	job := CronJob{
		ID:             s.newIDLocked(),
		Name:           name,
		Enabled:        true,
		Schedule:       sched,
		Payload:        payload,
		State:          CronJobState{NextRunAtMs: computeNextRun(sched, now)},
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		DeleteAfterRun: deleteAfterRun,
	}
	s.store.Jobs = append(s.store.Jobs, job)
	s.saveLocked()

	slog.Info("cron: added job", "name", name, "id", job.ID, "kind", kind)
	return job.ID, nil
}

// ListJobs returns jobs sorted by next run time (soonest first).
// includeDisabled controls whether disabled jobs appear.
func (s *Service) ListJobs(includeDisabled bool) []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked()

	var jobs []CronJob
	for _, j := range s.store.Jobs {
		if includeDisabled || j.Enabled {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		a := int64(^uint64(0) >> 1)
		b := int64(^uint64(0) >> 1)
		if jobs[i].State.NextRunAtMs != nil {
			a = *jobs[i].State.NextRunAtMs
		}
		if jobs[k].State.NextRunAtMs != nil {
			b = *jobs[k].State.NextRunAtMs
		}
		return a < b
	})
	return jobs
}

// RemoveJob removes a job by ID and returns true if found.
func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked()

	before := len(s.store.Jobs)
	filtered := s.store.Jobs[:0]
	for _, j := range s.store.Jobs {
		if j.ID != id {
			filtered = append(filtered, j)
		}
	}
	s.store.Jobs = filtered
	if len(filtered) < before {
		s.saveLocked()
		return true
	}
	return false
}

// EnableJob enables or disables a job, recomputing or clearing its next run.
func (s *Service) EnableJob(id string, enabled bool) (*CronJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked()

	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID != id {
			continue
		}
		s.store.Jobs[i].Enabled = enabled
		s.store.Jobs[i].UpdatedAtMs = nowMs()
		if enabled {
			s.store.Jobs[i].State.NextRunAtMs = computeNextRun(s.store.Jobs[i].Schedule, nowMs())
		} else {
			s.store.Jobs[i].State.NextRunAtMs = nil
		}
		s.saveLocked()
		job := s.store.Jobs[i]
		return &job, true
	}
	return nil, false
}

// Status reports whether the scan loop is running and the current job list.
func (s *Service) Status() StatusInfo {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return StatusInfo{Enabled: running, Jobs: s.ListJobs(true)}
}

// RunJob manually executes a job (force=true ignores the disabled flag).
func (s *Service) RunJob(ctx context.Context, id string, force bool) bool {
	s.mu.Lock()
	_ = s.loadLocked()
	var jobCopy *CronJob
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID == id {
			if !force && !s.store.Jobs[i].Enabled {
				s.mu.Unlock()
				return false
			}
			j := s.store.Jobs[i]
			jobCopy = &j
			break
		}
	}
	s.mu.Unlock()

	if jobCopy == nil {
		return false
	}
	s.executeJob(ctx, *jobCopy)
	return true
}

// --------------------------------------------------------------------------
// Internal scheduling logic
// --------------------------------------------------------------------------

func (s *Service) recomputeNextRunsLocked() {
	now := nowMs()
	for i := range s.store.Jobs {
		if s.store.Jobs[i].Enabled {
			s.store.Jobs[i].State.NextRunAtMs = computeNextRun(s.store.Jobs[i].Schedule, now)
		}
	}
}

func (s *Service) executeJob(ctx context.Context, job CronJob) {
	startMs := nowMs()
	slog.Info("cron: executing job", "name", job.Name, "id", job.ID)

	lastStatus := "ok"
	var lastErr *string

	if s.onJob != nil {
		if _, err := s.onJob(ctx, job); err != nil {
			lastStatus = "error"
			e := err.Error()
			lastErr = &e
			slog.Error("cron: job failed", "name", job.Name, "err", err)
		}
	} else {
		lastStatus = "skipped"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID != job.ID {
			continue
		}
		now := nowMs()
		s.store.Jobs[i].State.LastRunAtMs = &startMs
		s.store.Jobs[i].State.LastStatus = &lastStatus
		s.store.Jobs[i].State.LastError = lastErr
		s.store.Jobs[i].UpdatedAtMs = now

		if job.Schedule.Kind == "at" {
			if job.DeleteAfterRun {
				filtered := s.store.Jobs[:0]
				for _, j := range s.store.Jobs {
					if j.ID != job.ID {
						filtered = append(filtered, j)
					}
				}
				s.store.Jobs = filtered
			} else {
				s.store.Jobs[i].Enabled = false
				s.store.Jobs[i].State.NextRunAtMs = nil
			}
		} else {
			s.store.Jobs[i].State.NextRunAtMs = computeNextRun(job.Schedule, now)
		}
		break
	}
	s.saveLocked()
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

func (s *Service) loadLocked() error {
	if s.loaded {
		return nil
	}
	s.loaded = true
	data, err := os.ReadFile(s.storePath)
	if os.IsNotExist(err) {
		s.store = cronStore{Version: 1}
		return nil
	}
	if err != nil {
		return err
	}
	var st cronStore
	if err := json.Unmarshal(data, &st); err != nil {
		s.store = cronStore{Version: 1}
		return err
	}
	if st.Version == 0 {
		st.Version = 1
	}
	s.store = st
	return nil
}

// saveLocked writes the store atomically: temp file in the same directory,
// then rename over jobs.json.
func (s *Service) saveLocked() {
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("cron: mkdir failed", "err", err)
		return
	}
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		slog.Warn("cron: marshal failed", "err", err)
		return
	}
	tmp, err := os.CreateTemp(dir, "jobs-*.json")
	if err != nil {
		slog.Warn("cron: temp file failed", "err", err)
		return
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		slog.Warn("cron: write failed", "err", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		slog.Warn("cron: close failed", "err", err)
		return
	}
	if err := os.Rename(name, s.storePath); err != nil {
		os.Remove(name)
		slog.Warn("cron: rename failed", "err", err)
	}
}

// --------------------------------------------------------------------------
// Utility
// --------------------------------------------------------------------------

func nowMs() int64 { return time.Now().UnixMilli() }

// newIDLocked returns a fresh 8-hex-char job ID, regenerating on the
// (unlikely) collision with an existing job.
func (s *Service) newIDLocked() string {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		collision := false
		for _, j := range s.store.Jobs {
			if j.ID == id {
				collision = true
				break
			}
		}
		if !collision {
			return id
		}
	}
}

// cronParser accepts standard 5-field expressions (minute through day-of-week).
var cronParser = robfigcron.NewParser(
	robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow,
)

// computeNextRun returns the next fire time in epoch ms, or nil when the
// schedule has no future run.
func computeNextRun(sched CronSchedule, nowMs int64) *int64 {
	switch sched.Kind {
	case "at":
		if sched.AtMs != nil && *sched.AtMs > nowMs {
			v := *sched.AtMs
			return &v
		}
	case "every":
		if sched.EveryMs != nil && *sched.EveryMs > 0 {
			v := nowMs + *sched.EveryMs
			return &v
		}
	case "cron":
		if sched.Expr != nil {
			loc := time.Local
			if sched.TZ != nil && *sched.TZ != "" {
				if l, err := time.LoadLocation(*sched.TZ); err == nil {
					loc = l
				}
			}
			parsed, err := cronParser.Parse(*sched.Expr)
			if err == nil {
				next := parsed.Next(time.UnixMilli(nowMs).In(loc))
				v := next.UnixMilli()
				return &v
			}
		}
	}
	return nil
}
