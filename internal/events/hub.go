// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package events

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// NotificationMessage is the wire shape pushed to connected clients,
// grounded on the teacher's internal/drone/websocket.NotificationMessage.
type NotificationMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Level   string `json:"level"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub upgrades incoming HTTP connections to websockets and forwards
// every Bus event to them as a NotificationMessage, for external
// surfaces (browser extension, desktop shell) that want push
// notifications rather than polling stats()/active_count().
type Hub struct {
	bus *Bus
}

func NewHub(bus *Bus) *Hub {
	return &Hub{bus: bus}
}

// ServeHTTP implements http.Handler, upgrading the request and
// streaming lifecycle events until the connection drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("events: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch, cancel := h.bus.On()
	defer cancel()

	for e := range ch {
		msg := NotificationMessage{
			Type:    string(e.Kind),
			Message: e.Message,
			Level:   levelFor(e.Kind),
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func levelFor(k Kind) string {
	switch k {
	case WorkerFailed, JobRetry:
		return "warning"
	default:
		return "info"
	}
}
