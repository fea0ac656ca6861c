// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package breaker

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// State is the circuit breaker's three-way state machine (spec.md
// §4.9, §5): closed → open → half_open.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Breaker is a per-operation-name circuit breaker: opens after
// failThreshold consecutive failures within window, half-opens after
// resetTimeout and admits up to halfOpenProbes attempts before either
// closing again (on success) or re-opening (on failure).
type Breaker struct {
	mu sync.Mutex

	name             string
	failThreshold    int
	window           time.Duration
	resetTimeout     time.Duration
	halfOpenProbes   int

	state          State
	failures       []time.Time
	openedAt       time.Time
	probesAttempted int
}

func New(name string, failThreshold int, window, resetTimeout time.Duration, halfOpenProbes int) *Breaker {
	return &Breaker{
		name:           name,
		failThreshold:  failThreshold,
		window:         window,
		resetTimeout:   resetTimeout,
		halfOpenProbes: halfOpenProbes,
		state:          Closed,
	}
}

// Allow reports whether a call may proceed, transitioning open →
// half_open once resetTimeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.resetTimeout {
			log.Printf("breaker[%s]: open -> half_open after %s", b.name, b.resetTimeout)
			b.state = HalfOpen
			b.probesAttempted = 1
			return true
		}
		return false
	case HalfOpen:
		if b.probesAttempted >= b.halfOpenProbes {
			return false
		}
		b.probesAttempted++
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker from half_open, or is a no-op from
// closed (failures are simply not accumulated).
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		log.Printf("breaker[%s]: half_open -> closed after successful probe", b.name)
		b.state = Closed
		b.failures = nil
		b.probesAttempted = 0
	case Closed:
		b.failures = nil
	}
}

// RecordFailure accumulates a failure timestamp in closed state,
// opening the breaker once failThreshold failures land within window;
// any failure while half_open re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	if b.state == HalfOpen {
		log.Printf("breaker[%s]: half_open probe failed, re-opening", b.name)
		b.state = Open
		b.openedAt = now
		return
	}

	b.failures = append(b.failures, now)
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	b.failures = b.failures[i:]

	if len(b.failures) >= b.failThreshold {
		log.Printf("breaker[%s]: closed -> open after %d failures within %s", b.name, len(b.failures), b.window)
		b.state = Open
		b.openedAt = now
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ErrOpen is returned by callers that wrap a Breaker-guarded operation
// when Allow() refused the call.
type ErrOpen struct{ Name string }

func (e ErrOpen) Error() string { return fmt.Sprintf("breaker[%s] is open", e.Name) }
