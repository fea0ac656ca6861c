// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/northbound/knowledge-core/internal/events"
	"github.com/northbound/knowledge-core/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.JobRepository, *events.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	jobs := store.NewJobRepository(db)
	bus := events.NewBus()
	t.Cleanup(func() { bus.Close() })

	q := New(jobs, bus, 4, nil, 0, 0)
	return q, jobs, bus
}

func TestQueue_AddJobEmitsCreated(t *testing.T) {
	q, _, bus := newTestQueue(t)
	ch, cancel := bus.On()
	defer cancel()

	ctx := context.Background()
	j, err := q.AddJob(ctx, "url", "https://example.com", 0, nil, nil)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	select {
	case e := <-ch:
		if e.Kind != events.JobCreated || e.JobID != j.ID {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job:created event")
	}
}

func TestQueue_ProcessJobs_RunsRegisteredProcessor(t *testing.T) {
	q, _, bus := newTestQueue(t)
	ch, cancel := bus.On()
	defer cancel()

	done := make(chan struct{})
	q.RegisterProcessor("url", func(ctx context.Context, job *store.Job) error {
		close(done)
		return nil
	})

	ctx := context.Background()
	if _, err := q.AddJob(ctx, "url", "https://example.com", 0, nil, nil); err != nil {
		t.Fatalf("add job: %v", err)
	}

	// Drain job:created before ticking.
	<-ch

	q.ProcessJobs(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for processor to run")
	}

	var completed bool
	for i := 0; i < 3 && !completed; i++ {
		select {
		case e := <-ch:
			if e.Kind == events.WorkerCompleted {
				completed = true
			}
		case <-time.After(time.Second):
		}
	}
	if !completed {
		t.Fatal("expected worker:completed event")
	}
}

func TestQueue_ProcessJobs_FailsUnregisteredType(t *testing.T) {
	q, jobs, _ := newTestQueue(t)
	ctx := context.Background()

	j, err := q.AddJob(ctx, "unknown-type", "x", 0, nil, nil)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	q.ProcessJobs(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := jobs.GetByID(ctx, j.ID)
		if err != nil {
			t.Fatalf("get by id: %v", err)
		}
		if got.Status == store.JobFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected unregistered job type to fail")
}

func TestQueue_CancelAndRetry(t *testing.T) {
	q, _, bus := newTestQueue(t)
	ch, cancel := bus.On()
	defer cancel()

	ctx := context.Background()
	j, err := q.AddJob(ctx, "url", "https://example.com", 0, nil, nil)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	<-ch

	ok, err := q.Cancel(ctx, j.ID)
	if err != nil || !ok {
		t.Fatalf("expected cancel to succeed, ok=%v err=%v", ok, err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[store.JobCancelled] != 1 {
		t.Fatalf("expected 1 cancelled job, got %d", stats[store.JobCancelled])
	}

	ok, err = q.Retry(ctx, j.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if ok {
		t.Fatal("expected retry of a cancelled job to fail (only failed jobs retry)")
	}
}

func TestQueue_ActiveCount(t *testing.T) {
	q, _, bus := newTestQueue(t)
	ch, cancel := bus.On()
	defer cancel()

	release := make(chan struct{})
	q.RegisterProcessor("url", func(ctx context.Context, job *store.Job) error {
		<-release
		return errors.New("boom")
	})

	ctx := context.Background()
	if _, err := q.AddJob(ctx, "url", "https://example.com", 0, nil, nil); err != nil {
		t.Fatalf("add job: %v", err)
	}
	<-ch

	q.ProcessJobs(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && q.ActiveCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if q.ActiveCount() != 1 {
		t.Fatalf("expected active count 1 while processor is running, got %d", q.ActiveCount())
	}

	close(release)
}
