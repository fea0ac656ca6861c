// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package notify

import (
	"log"

	"github.com/gen2brain/beeep"

	"github.com/northbound/knowledge-core/internal/events"
)

// Notifier posts a best-effort desktop toast for terminal ingestion
// failures, grounded on the teacher's
// internal/drone/heartbeat.Monitor's beeep.Alert usage.
type Notifier struct {
	appName string
}

func New(appName string) *Notifier {
	return &Notifier{appName: appName}
}

// Watch subscribes to bus and raises a desktop alert on every
// worker:failed event; call in its own goroutine.
func (n *Notifier) Watch(bus *events.Bus) {
	ch, cancel := bus.On()
	defer cancel()
	for e := range ch {
		if e.Kind != events.WorkerFailed {
			continue
		}
		n.alert(e)
	}
}

func (n *Notifier) alert(e events.Event) {
	title := n.appName + ": ingestion failed"
	message := e.Message
	if message == "" {
		message = "job " + e.JobID + " failed permanently"
	}
	if err := beeep.Alert(title, message, ""); err != nil {
		log.Printf("notify: desktop alert failed: %v", err)
	}
}
