package api

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/witcher/internal/window"
)

// SessionSnapshot is the switcher state as seen by an overlay.
type SessionSnapshot struct {
	State        string          `json:"state"`
	SessionID    string          `json:"session_id,omitempty"`
	Index        int             `json:"index"`
	Steps        int             `json:"steps"`
	Candidates   []window.Window `json:"candidates"`
	MRU          []window.ID     `json:"mru"`
	Backend      string          `json:"backend"`
	BackendState string          `json:"backend_state"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Hub keeps the latest snapshot and fans it out to subscribers. Slow
// subscribers miss intermediate snapshots but always get the newest one.
type Hub struct {
	mu        sync.RWMutex
	latest    SessionSnapshot
	listeners []chan SessionSnapshot
}

// NewHub creates a hub with an idle snapshot
func NewHub() *Hub {
	return &Hub{latest: SessionSnapshot{State: "idle"}}
}

// Publish records snapshot as the latest and notifies subscribers.
func (h *Hub) Publish(snapshot SessionSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = snapshot
	for _, ch := range h.listeners {
		select {
		case ch <- snapshot:
		default:
			// Drop the stale value and retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// Latest returns the most recent snapshot
func (h *Hub) Latest() SessionSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Subscribe adds a listener for snapshots
func (h *Hub) Subscribe() chan SessionSnapshot {
	ch := make(chan SessionSnapshot, 1)
	h.mu.Lock()
	h.listeners = append(h.listeners, ch)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener
func (h *Hub) Unsubscribe(ch chan SessionSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, listener := range h.listeners {
		if listener == ch {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}
