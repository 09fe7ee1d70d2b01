// Package exportjob implements the idempotent export job runner: one
// background worker per job id, PENDING -> RUNNING -> terminal state
// transitions, and exactly-once terminal metric emission. Submission
// follows the same setnx-busy-marker-then-populate pattern the
// idempotency middleware uses, generalized from an HTTP response cache to
// a background job record.
package exportjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/export"
	"github.com/sabt-export/core/pkg/kv"
	"github.com/sabt-export/core/pkg/metrics"
)

// Status is an ExportJob's lifecycle state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// ErrDuplicate is returned when a submission's idempotency key collides
// with a prior submission whose job record cannot be resolved.
var ErrDuplicate = errors.New("EXPORT_DUPLICATE")

const jobTTL = 86400 * time.Second

// busyMarker is written by the initial setnx before the job id is minted,
// mirroring pkg/httpmw's idempotency busy-marker contract.
const busyMarker = "\x00processing"

// ExportJob is the externally visible record of one submitted export.
type ExportJob struct {
	ID         string           `json:"id"`
	Status     Status           `json:"status"`
	Namespace  string           `json:"namespace"`
	Filters    export.Filters   `json:"filters"`
	Options    export.Options   `json:"options"`
	Snapshot   export.Snapshot  `json:"snapshot"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Manifest   *export.Manifest `json:"manifest,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Runner owns job submission, the in-memory job table, and the background
// worker that drives each job to a terminal state.
type Runner struct {
	Store    kv.Store
	Clock    clock.Clock
	Metrics  *metrics.Registry
	Pipeline *export.Pipeline

	mu   sync.Mutex
	jobs map[string]*ExportJob
	done map[string]chan struct{}
}

// NewRunner builds a Runner around the given store, clock, metrics registry
// and export pipeline.
func NewRunner(store kv.Store, clk clock.Clock, reg *metrics.Registry, pipeline *export.Pipeline) *Runner {
	return &Runner{
		Store:    store,
		Clock:    clk,
		Metrics:  reg,
		Pipeline: pipeline,
		jobs:     make(map[string]*ExportJob),
		done:     make(map[string]chan struct{}),
	}
}

func idempotencyStoreKey(namespace, idempotencyKey string) string {
	return fmt.Sprintf("phase6:exports:%s:%s", namespace, idempotencyKey)
}

// Submit acquires the idempotency key and either returns the job already
// associated with it, or mints a new job, persists its PENDING record, and
// starts the background worker for it. Two submissions sharing
// (namespace, idempotencyKey) always resolve to the same job.
func (r *Runner) Submit(ctx context.Context, filters export.Filters, options export.Options, idempotencyKey, namespace string) (*ExportJob, error) {
	storeKey := idempotencyStoreKey(namespace, idempotencyKey)

	acquired, err := r.Store.SetNX(ctx, storeKey, busyMarker, jobTTL)
	if err != nil {
		return nil, fmt.Errorf("exportjob: acquire idempotency key: %w", err)
	}
	if !acquired {
		return r.lookupExisting(ctx, storeKey)
	}

	jobID := uuid.New().String()
	job := &ExportJob{
		ID:        jobID,
		Status:    StatusPending,
		Namespace: namespace,
		Filters:   filters,
		Options:   options,
		Snapshot: export.Snapshot{
			Marker:    fmt.Sprintf("snapshot-%s", jobID),
			CreatedAt: r.Clock.Now(),
		},
	}

	// Snapshot before the worker goroutine exists: once process starts it
	// mutates *job under r.mu, so the return value must be copied first.
	r.mu.Lock()
	r.jobs[jobID] = job
	r.done[jobID] = make(chan struct{})
	snapshot := cloneJob(job)
	r.mu.Unlock()

	if err := r.Store.Set(ctx, storeKey, jobID, jobTTL); err != nil {
		return nil, fmt.Errorf("exportjob: persist job id: %w", err)
	}
	if err := r.persistRecord(ctx, job); err != nil {
		return nil, err
	}

	go r.process(job)

	return snapshot, nil
}

func (r *Runner) lookupExisting(ctx context.Context, storeKey string) (*ExportJob, error) {
	raw, ok, err := r.Store.Get(ctx, storeKey)
	if err != nil {
		return nil, fmt.Errorf("exportjob: lookup idempotency key: %w", err)
	}
	if !ok || raw == busyMarker {
		return nil, ErrDuplicate
	}

	r.mu.Lock()
	job, known := r.jobs[raw]
	r.mu.Unlock()
	if known {
		return cloneJob(job), nil
	}

	record, ok, err := r.Store.Get(ctx, jobRecordKey(raw))
	if err != nil {
		return nil, fmt.Errorf("exportjob: lookup job record: %w", err)
	}
	if !ok {
		return nil, ErrDuplicate
	}
	var decoded ExportJob
	if err := json.Unmarshal([]byte(record), &decoded); err != nil {
		return nil, ErrDuplicate
	}
	return &decoded, nil
}

// Get returns the current snapshot of a job by id.
func (r *Runner) Get(jobID string) (*ExportJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// Wait blocks until the given job reaches a terminal state, or ctx is
// cancelled. Intended for tests and synchronous callers (e.g. CLI tooling)
// that need to observe the worker's result deterministically.
func (r *Runner) Wait(ctx context.Context, jobID string) (*ExportJob, error) {
	r.mu.Lock()
	ch, ok := r.done[jobID]
	r.mu.Unlock()
	if !ok {
		job, ok := r.Get(jobID)
		if !ok {
			return nil, fmt.Errorf("exportjob: unknown job %s", jobID)
		}
		return job, nil
	}

	select {
	case <-ch:
		job, _ := r.Get(jobID)
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func jobRecordKey(jobID string) string { return "phase6:exports:job:" + jobID }

func (r *Runner) persistRecord(ctx context.Context, job *ExportJob) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("exportjob: marshal job record: %w", err)
	}
	if err := r.Store.Set(ctx, jobRecordKey(job.ID), string(encoded), jobTTL); err != nil {
		return fmt.Errorf("exportjob: persist job record: %w", err)
	}
	return nil
}

// process drives one job from PENDING through RUNNING to a terminal state.
// It runs on its own goroutine; the pipeline itself already retries
// transient query/write failures (pkg/retry), so a single pipeline.Run call
// here is the entire attempt — anything it returns is either a success or a
// terminal failure (validation, empty result, or retry exhaustion).
func (r *Runner) process(job *ExportJob) {
	defer func() {
		r.mu.Lock()
		ch := r.done[job.ID]
		r.mu.Unlock()
		if ch != nil {
			close(ch)
		}
	}()

	ctx := context.Background()

	r.mu.Lock()
	job.Status = StatusRunning
	started := r.Clock.Now()
	job.StartedAt = &started
	r.mu.Unlock()
	_ = r.persistRecord(ctx, job)

	manifest, err := r.Pipeline.Run(ctx, job.Filters, job.Options, job.Snapshot, job.ID)

	r.mu.Lock()
	finished := r.Clock.Now()
	job.FinishedAt = &finished
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = StatusSuccess
		job.Manifest = manifest
	}
	r.mu.Unlock()

	_ = r.persistRecord(ctx, job)

	if r.Metrics != nil {
		r.Metrics.ExportJobs(string(job.Status)).Inc()
	}
}

func cloneJob(job *ExportJob) *ExportJob {
	cp := *job
	return &cp
}
