// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package notify

import (
	"testing"
	"time"

	"github.com/northbound/knowledge-core/internal/events"
)

func TestNotifier_Watch_StopsWhenBusCloses(t *testing.T) {
	bus := events.NewBus()
	n := New("test-app")

	done := make(chan struct{})
	go func() {
		n.Watch(bus)
		close(done)
	}()

	bus.Emit(events.Event{Kind: events.JobCreated, JobID: "job-1"})
	bus.Emit(events.Event{Kind: events.WorkerFailed, JobID: "job-2", Message: "boom"})
	bus.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Watch to return after bus closed")
	}
}
