// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/agentrelay/lib/clock"
	"github.com/bureau-foundation/agentrelay/lib/streamjson"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("not found")

	// ErrTerminal is returned when a write would move a job out of a
	// terminal state.
	ErrTerminal = errors.New("job already terminal")

	// ErrNotPending is returned by Start for a job that was already
	// claimed.
	ErrNotPending = errors.New("job not pending")

	// ErrImmutableField is returned by Update when the mutation
	// touches identity, status, or timestamps.
	ErrImmutableField = errors.New("job field is not updatable")
)

// StateError reports a refused transition with the state the job was
// in. It wraps ErrTerminal or ErrNotPending.
type StateError struct {
	JobID  string
	Status Status
	Err    error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("job %s already %s", e.JobID, e.Status)
}

func (e *StateError) Unwrap() error { return e.Err }

// Store is the mutex-guarded job registry.
type Store struct {
	clock clock.Clock

	mu   sync.RWMutex
	jobs map[string]*Job
}

// New creates an empty store. Timestamps come from clk.
func New(clk clock.Clock) *Store {
	return &Store{
		clock: clk,
		jobs:  make(map[string]*Job),
	}
}

// Create registers a pending job and returns a copy of it.
func (s *Store) Create(sessionID, prompt, model string) Job {
	job := &Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Prompt:    prompt,
		Model:     model,
		Status:    StatusPending,
		CreatedAt: s.clock.Now().UTC(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return job.clone()
}

// Get returns a copy of the job.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return s.snapshot(job), true
}

// Start moves a pending job to processing and stamps StartedAt.
func (s *Store) Start(id string) (Job, error) {
	return s.transition(id, func(job *Job, now time.Time) error {
		if job.Status != StatusPending {
			sentinel := ErrNotPending
			if job.Status.IsTerminal() {
				sentinel = ErrTerminal
			}
			return &StateError{JobID: id, Status: job.Status, Err: sentinel}
		}
		job.Status = StatusProcessing
		job.StartedAt = &now
		return nil
	})
}

// Complete records a successful run. It fails with ErrTerminal if the
// job was cancelled (or otherwise finished) first.
func (s *Store) Complete(id string, completion Completion) (Job, error) {
	return s.finish(id, StatusCompleted, func(job *Job) {
		job.Result = completion.Result
		job.Thinking = completion.Thinking
		job.ToolCalls = append([]streamjson.ToolCall(nil), completion.ToolCalls...)
		if len(job.ToolCalls) == 0 {
			job.ToolCalls = nil
		}
		job.UserRecordID = completion.UserRecordID
		job.AssistantRecordID = completion.AssistantRecordID
		if completion.TranscriptDigest != "" {
			job.TranscriptDigest = completion.TranscriptDigest
		}
	})
}

// Fail records a failed run.
func (s *Store) Fail(id, message string) (Job, error) {
	return s.FailOnDevice(id, message, "")
}

// FailOnDevice records a failed run and, when deviceID is set, the
// device it ran on, in the same transition.
func (s *Store) FailOnDevice(id, message, deviceID string) (Job, error) {
	return s.finish(id, StatusFailed, func(job *Job) {
		job.Error = message
		if deviceID != "" {
			job.DeviceID = deviceID
		}
	})
}

// Cancel marks a job cancelled. It does not stop any running process;
// the run's own completion will be refused afterwards.
func (s *Store) Cancel(id string) (Job, error) {
	return s.finish(id, StatusCancelled, func(job *Job) {
		job.Error = CancelledMessage
	})
}

// Update applies mutate to a non-terminal job. mutate may set
// annotation fields (DeviceID, TranscriptDigest, Model) but not
// identity, status, or timestamps.
func (s *Store) Update(id string, mutate func(*Job)) (Job, error) {
	return s.transition(id, func(job *Job, _ time.Time) error {
		if job.Status.IsTerminal() {
			return &StateError{JobID: id, Status: job.Status, Err: ErrTerminal}
		}
		draft := job.clone()
		mutate(&draft)
		if draft.ID != job.ID || draft.SessionID != job.SessionID || draft.Status != job.Status ||
			!draft.CreatedAt.Equal(job.CreatedAt) || !sameTime(draft.StartedAt, job.StartedAt) ||
			!sameTime(draft.CompletedAt, job.CompletedAt) {
			return fmt.Errorf("job %s: %w", id, ErrImmutableField)
		}
		*job = draft
		return nil
	})
}

// ListBySession returns up to limit jobs for the session, newest
// first. A limit of zero or less returns all of them.
func (s *Store) ListBySession(sessionID string, limit int) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Job
	for _, job := range s.jobs {
		if job.SessionID == sessionID {
			matched = append(matched, job)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	result := make([]Job, len(matched))
	for i, job := range matched {
		result[i] = s.snapshot(job)
	}
	return result
}

// Processing returns the ids of jobs on the session currently in the
// processing state.
func (s *Store) Processing(sessionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, job := range s.jobs {
		if job.SessionID == sessionID && job.Status == StatusProcessing {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the number of jobs in each status.
func (s *Store) Counts() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int, len(Statuses()))
	for _, status := range Statuses() {
		counts[status] = 0
	}
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts
}

// Reap removes terminal jobs whose CompletedAt is older than maxAge
// and returns how many were removed.
func (s *Store) Reap(maxAge time.Duration) int {
	cutoff := s.clock.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// finish is the single compare-and-set path into a terminal status.
func (s *Store) finish(id string, status Status, apply func(*Job)) (Job, error) {
	return s.transition(id, func(job *Job, now time.Time) error {
		if job.Status.IsTerminal() {
			return &StateError{JobID: id, Status: job.Status, Err: ErrTerminal}
		}
		job.Status = status
		job.CompletedAt = &now
		apply(job)
		return nil
	})
}

func (s *Store) transition(id string, apply func(*Job, time.Time) error) (Job, error) {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %s %w", id, ErrNotFound)
	}
	if err := apply(job, now); err != nil {
		return s.snapshot(job), err
	}
	return s.snapshot(job), nil
}

// snapshot copies a job and fills derived fields. Callers hold mu.
func (s *Store) snapshot(job *Job) Job {
	copied := job.clone()
	copied.ElapsedSeconds = job.elapsed(s.clock.Now().UTC())
	return copied
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
