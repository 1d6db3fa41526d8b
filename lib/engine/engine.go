// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/agentrelay/lib/agentcmd"
	"github.com/bureau-foundation/agentrelay/lib/clock"
	"github.com/bureau-foundation/agentrelay/lib/conversation"
	"github.com/bureau-foundation/agentrelay/lib/devices"
	"github.com/bureau-foundation/agentrelay/lib/dispatch"
	"github.com/bureau-foundation/agentrelay/lib/jobstore"
	"github.com/bureau-foundation/agentrelay/lib/transcript"
)

// ErrClosed is returned by SubmitJob and Converse once Close has been
// called.
var ErrClosed = errors.New("engine: closed")

// Default bounds used when Config leaves them zero.
const (
	DefaultSyncTimeout  = 90 * time.Second
	DefaultAsyncTimeout = 120 * time.Second
	DefaultRetention    = time.Hour
	DefaultReapInterval = 30 * time.Minute
	DefaultListLimit    = 50
)

// SessionResolver maps sessions to remote devices. The device
// registry implements it.
type SessionResolver interface {
	ResolveSessionBinding(ctx context.Context, sessionID string) (*devices.Binding, error)
	ResolveDevice(ctx context.Context, id string) (devices.Device, error)
	GetWorkingDirectory(ctx context.Context, sessionID string) (string, error)
}

// Persister writes exchanges to the conversation store.
type Persister interface {
	Persist(ctx context.Context, exchange conversation.Exchange) (conversation.Records, error)
}

// Archiver stores raw agent output.
type Archiver interface {
	Store(entry transcript.Entry) (transcript.Record, error)
}

// Config wires an Engine. Jobs, Local, and Persister are required.
type Config struct {
	Jobs      *jobstore.Store
	Local     dispatch.Dispatcher
	Persister Persister

	// Sessions resolves remote bindings. Nil treats every session as
	// local.
	Sessions SessionResolver

	// BindRemote returns a dispatcher for a device and working
	// directory. Required if any session can be remote.
	BindRemote func(device devices.Device, workingDirectory string) dispatch.Dispatcher

	// Archive, if set, receives the raw stream of every successful
	// dispatch. Archive failures are logged and never fail the job.
	Archive Archiver

	SyncTimeout  time.Duration
	AsyncTimeout time.Duration

	// Retention is how long terminal jobs are kept; ReapInterval is
	// how often Run removes older ones.
	Retention    time.Duration
	ReapInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine is the job dispatcher. It is safe for concurrent use.
type Engine struct {
	jobs       *jobstore.Store
	local      dispatch.Dispatcher
	persister  Persister
	sessions   SessionResolver
	bindRemote func(devices.Device, string) dispatch.Dispatcher
	archive    Archiver

	syncTimeout  time.Duration
	asyncTimeout time.Duration
	retention    time.Duration
	reapInterval time.Duration

	clock   clock.Clock
	logger  *slog.Logger
	started time.Time

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New validates cfg and creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Jobs == nil || cfg.Local == nil || cfg.Persister == nil {
		return nil, fmt.Errorf("engine: Jobs, Local, and Persister are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	orDefault := func(value, fallback time.Duration) time.Duration {
		if value <= 0 {
			return fallback
		}
		return value
	}
	return &Engine{
		jobs:         cfg.Jobs,
		local:        cfg.Local,
		persister:    cfg.Persister,
		sessions:     cfg.Sessions,
		bindRemote:   cfg.BindRemote,
		archive:      cfg.Archive,
		syncTimeout:  orDefault(cfg.SyncTimeout, DefaultSyncTimeout),
		asyncTimeout: orDefault(cfg.AsyncTimeout, DefaultAsyncTimeout),
		retention:    orDefault(cfg.Retention, DefaultRetention),
		reapInterval: orDefault(cfg.ReapInterval, DefaultReapInterval),
		clock:        clk,
		logger:       logger,
		started:      clk.Now(),
	}, nil
}

// acquire registers one unit of in-flight work, failing after Close.
func (e *Engine) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.inflight.Add(1)
	return nil
}

// SubmitJob validates the request, records a pending job, and starts
// it in the background. Validation errors are returned here and no job
// is created. The returned id is usable with GetJob immediately.
func (e *Engine) SubmitJob(ctx context.Context, request agentcmd.Request) (string, error) {
	invocation, err := agentcmd.Build("", request)
	if err != nil {
		return "", err
	}
	request.Model = invocation.Model

	if err := e.acquire(); err != nil {
		return "", err
	}
	job := e.jobs.Create(request.SessionID, request.Prompt, request.Model)
	e.logger.Info("job submitted",
		"job_id", job.ID,
		"session_id", job.SessionID,
		"model", job.Model,
		"prompt_length", len(job.Prompt),
	)

	go func() {
		defer e.inflight.Done()
		e.runJob(context.WithoutCancel(ctx), job.ID, request)
	}()
	return job.ID, nil
}

// GetJob returns a snapshot of a job, or an error wrapping
// jobstore.ErrNotFound.
func (e *Engine) GetJob(jobID string) (jobstore.Job, error) {
	job, ok := e.jobs.Get(jobID)
	if !ok {
		return jobstore.Job{}, fmt.Errorf("job %s %w", jobID, jobstore.ErrNotFound)
	}
	return job, nil
}

// CancelJob marks a pending or processing job cancelled. A terminal
// job yields a *jobstore.StateError wrapping jobstore.ErrTerminal and
// is left unchanged.
func (e *Engine) CancelJob(jobID string) (jobstore.Job, error) {
	job, err := e.jobs.Cancel(jobID)
	if err != nil {
		return jobstore.Job{}, err
	}
	e.logger.Info("job cancelled", "job_id", jobID, "session_id", job.SessionID)
	return job, nil
}

// ListJobs returns a session's jobs, newest first. A limit of zero or
// less means DefaultListLimit.
func (e *Engine) ListJobs(sessionID string, limit int) []jobstore.Job {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return e.jobs.ListBySession(sessionID, limit)
}

// Status summarizes the engine for health checks.
type Status struct {
	JobsTotal     int                     `json:"jobs_total"`
	JobsByStatus  map[jobstore.Status]int `json:"jobs_by_status"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
}

// Status returns job counts and uptime.
func (e *Engine) Status() Status {
	counts := e.jobs.Counts()
	total := 0
	for _, count := range counts {
		total += count
	}
	return Status{
		JobsTotal:     total,
		JobsByStatus:  counts,
		UptimeSeconds: e.clock.Now().Sub(e.started).Seconds(),
	}
}

// Run reaps expired terminal jobs every reap interval until ctx is
// done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.reapInterval)
	defer ticker.Stop()

	e.logger.Info("job reaper started", "interval", e.reapInterval, "retention", e.retention)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := e.jobs.Reap(e.retention); removed > 0 {
				e.logger.Info("reaped expired jobs", "removed", removed)
			}
		}
	}
}

// Close stops accepting work and waits for in-flight jobs and
// conversations, or for ctx to end.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: draining in-flight jobs: %w", ctx.Err())
	}
}
