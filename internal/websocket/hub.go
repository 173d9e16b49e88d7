// Package websocket pushes calendar change events to open browser tabs so
// they refresh without polling.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Entities that publish change events.
const (
	EntityClient   = "client"
	EntityLesson   = "lesson"
	EntitySettings = "settings"
)

// Event describes a change to one calendar entity. Type is "<entity>_<action>",
// e.g. "lesson_created".
type Event struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     int64  `json:"id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

func NewEvent(entity, action string, id int64, data any) Event {
	return Event{
		Type:   entity + "_" + action,
		Entity: entity,
		Action: action,
		ID:     id,
		Data:   data,
	}
}

// Hub tracks connected clients and fans events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel. Calling it twice
// is safe.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Publish broadcasts an event built from its parts.
func (h *Hub) Publish(entity, action string, id int64, data any) {
	h.Broadcast(NewEvent(entity, action, id, data))
}

// Broadcast sends ev to every client without blocking. A client whose buffer
// is full misses the event and is told to resync after its next write.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			c.stale.Store(true)
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("event dropped for slow clients", "type", ev.Type, "clients", dropped)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
