// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package events

import (
	"sync"
	"time"
)

// Kind enumerates the Ingestion Queue's fire-and-forget lifecycle
// events (spec.md §4.5 step 5).
type Kind string

const (
	JobCreated     Kind = "job:created"
	JobStarted     Kind = "job:started"
	JobRetry       Kind = "job:retry"
	WorkerCompleted Kind = "worker:completed"
	WorkerFailed   Kind = "worker:failed"
)

// Event is the payload delivered to subscribers for every lifecycle
// transition.
type Event struct {
	Kind      Kind
	JobID     string
	JobType   string
	ObjectID  string
	Message   string
	At        time.Time
}

// Bus fans out events to any number of subscribers without
// back-pressure guarantees, grounded on the teacher's
// internal/logger.Logger broadcast/subscriber-map pattern.
type Bus struct {
	mu          sync.Mutex
	broadcast   chan Event
	subscribers map[chan Event]bool
	closed      bool
}

func NewBus() *Bus {
	b := &Bus{
		broadcast:   make(chan Event, 256),
		subscribers: make(map[chan Event]bool),
	}
	go b.loop()
	return b
}

// On subscribes a new listener; the caller must drain the returned
// channel and call the cancel func when done.
func (b *Bus) On() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 32)
	b.subscribers[ch] = true

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Emit queues an event for fan-out; it never blocks the caller beyond
// the buffered broadcast channel's capacity.
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	closed := b.closed
	broadcast := b.broadcast
	b.mu.Unlock()
	if closed || broadcast == nil {
		return
	}
	select {
	case broadcast <- e:
	default:
	}
}

func (b *Bus) loop() {
	for e := range b.broadcast {
		b.mu.Lock()
		subs := make([]chan Event, 0, len(b.subscribers))
		for ch := range b.subscribers {
			subs = append(subs, ch)
		}
		b.mu.Unlock()

		for _, ch := range subs {
			select {
			case ch <- e:
			default:
			}
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.broadcast)
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}
