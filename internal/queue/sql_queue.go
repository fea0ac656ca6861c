// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package queue

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/northbound/knowledge-core/internal/events"
	"github.com/northbound/knowledge-core/internal/ratelimit"
	"github.com/northbound/knowledge-core/internal/store"
)

// Processor is a per-job-type execution body (spec.md §4.5's
// register_processor). It is responsible for doing the work and, on
// success, advancing the job/object to either a terminal "completed"
// state or a "vectorizing" hand-off per spec.md §4.5 rule 3 — the
// Queue itself only tracks concurrency, backoff and events.
type Processor func(ctx context.Context, job *store.Job) error

const defaultMaxRetries = 3
const baseRetryDelay = 2 * time.Second

// Queue is the persistent Ingestion Queue of spec.md §4.5, composing
// store.JobRepository for durability and grounded on the teacher's
// internal/worker worker-pool idiom (buffered dispatch, heavy
// log.Printf tracing, context-cancellable loop) for scheduling.
type Queue struct {
	jobs *store.JobRepository
	bus  *events.Bus

	concurrency          int
	limiter              *ratelimit.Window
	rpmBudget            int
	avgRequestsPerObject float64

	mu         sync.Mutex
	processors map[string]Processor
	active     map[string]bool
}

func New(jobs *store.JobRepository, bus *events.Bus, concurrency int, limiter *ratelimit.Window, rpmBudget int, avgRequestsPerObject float64) *Queue {
	return &Queue{
		jobs:                 jobs,
		bus:                  bus,
		concurrency:          concurrency,
		limiter:              limiter,
		rpmBudget:            rpmBudget,
		avgRequestsPerObject: avgRequestsPerObject,
		processors:           make(map[string]Processor),
		active:               make(map[string]bool),
	}
}

// RegisterProcessor installs fn for jobType; exactly one processor per
// type, re-registration replaces (spec.md §4.5).
func (q *Queue) RegisterProcessor(jobType string, fn Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors[jobType] = fn
}

// AddJob creates a job row in status "queued" and emits job:created.
func (q *Queue) AddJob(ctx context.Context, jobType, sourceIdentifier string, priority int, relatedObjectID *string, jobSpecificData any) (*store.Job, error) {
	payload := "{}"
	if jobSpecificData != nil {
		b, err := json.Marshal(jobSpecificData)
		if err == nil {
			payload = string(b)
		}
	}
	j := &store.Job{
		JobType:          jobType,
		SourceIdentifier: sourceIdentifier,
		Priority:         priority,
		MaxRetries:       defaultMaxRetries,
		JobSpecificData:  payload,
	}
	if relatedObjectID != nil {
		j.RelatedObjectID.String = *relatedObjectID
		j.RelatedObjectID.Valid = true
	}
	created, err := q.jobs.Create(ctx, j)
	if err != nil {
		return nil, err
	}
	q.bus.Emit(events.Event{Kind: events.JobCreated, JobID: created.ID, JobType: created.JobType, At: time.Now()})
	return created, nil
}

// ProcessJobs is the scheduling tick (spec.md §4.5 rules 1-2): it
// claims up to the available concurrency (further capped by rate-limit
// headroom), dispatches each claimed job to its registered processor,
// and never blocks waiting for them to finish.
func (q *Queue) ProcessJobs(ctx context.Context) {
	q.mu.Lock()
	slots := q.concurrency - len(q.active)
	q.mu.Unlock()
	if slots <= 0 {
		return
	}

	if q.limiter != nil {
		maxNew := q.limiter.MaxNewObjects(q.rpmBudget, q.avgRequestsPerObject)
		if maxNew < slots {
			slots = maxNew
		}
	}
	if slots <= 0 {
		log.Printf("queue: ProcessJobs skipped, no rate-limit headroom")
		return
	}

	jobs, err := q.jobs.ClaimBatch(ctx, slots)
	if err != nil {
		log.Printf("queue: ClaimBatch failed: %v", err)
		return
	}

	for _, j := range jobs {
		q.mu.Lock()
		proc, ok := q.processors[j.JobType]
		q.mu.Unlock()
		if !ok {
			log.Printf("queue: no processor registered for job type=%s, failing job %s", j.JobType, j.ID)
			_ = q.jobs.MarkJobFailed(ctx, j.ID, "no processor registered")
			continue
		}

		q.mu.Lock()
		q.active[j.ID] = true
		q.mu.Unlock()

		q.bus.Emit(events.Event{Kind: events.JobStarted, JobID: j.ID, JobType: j.JobType, At: time.Now()})
		go q.runJob(ctx, j, proc)
	}
}

func (q *Queue) runJob(ctx context.Context, j *store.Job, proc Processor) {
	defer func() {
		q.mu.Lock()
		delete(q.active, j.ID)
		q.mu.Unlock()
	}()

	log.Printf("queue: running job id=%s type=%s attempt=%d", j.ID, j.JobType, j.Attempts+1)
	err := proc(ctx, j)
	if err == nil {
		q.bus.Emit(events.Event{Kind: events.WorkerCompleted, JobID: j.ID, JobType: j.JobType, At: time.Now()})
		return
	}

	log.Printf("queue: job id=%s type=%s failed: %v", j.ID, j.JobType, err)
	errJSON, _ := json.Marshal(map[string]any{
		"message": err.Error(),
		"attempt": j.Attempts + 1,
	})
	delay := backoffFor(j.Attempts + 1)
	retried, applyErr := q.jobs.ApplyFailure(ctx, j.ID, string(errJSON), delay)
	if applyErr != nil {
		log.Printf("queue: ApplyFailure for job id=%s errored: %v", j.ID, applyErr)
	}
	if retried {
		q.bus.Emit(events.Event{Kind: events.JobRetry, JobID: j.ID, JobType: j.JobType, Message: err.Error(), At: time.Now()})
	} else {
		q.bus.Emit(events.Event{Kind: events.WorkerFailed, JobID: j.ID, JobType: j.JobType, Message: err.Error(), At: time.Now()})
	}
}

func backoffFor(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	return delay
}

// Cancel succeeds iff the job is queued or retry_pending (spec.md §4.5).
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	return q.jobs.Cancel(ctx, id)
}

// Retry succeeds iff the job is failed (spec.md §4.5).
func (q *Queue) Retry(ctx context.Context, id string) (bool, error) {
	return q.jobs.Retry(ctx, id)
}

// Stats reports counts by status (spec.md §4.5).
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	return q.jobs.CountByStatus(ctx)
}

// ActiveCount reports the number of jobs this Queue currently has
// dispatched to a processor (in-memory view, not the DB's "processing"
// count, which may also include jobs claimed by another process).
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// On subscribes to lifecycle events (spec.md §6's on(event, handler)).
func (q *Queue) On() (<-chan events.Event, func()) {
	return q.bus.On()
}
