// Package notify collects operator-facing notifications. It stands in for the
// device's notification tray: entries are logged and kept for the status API.
package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Notification kinds.
const (
	KindReconnectFailed = "reconnect_failed"
	KindServiceReboot   = "service_reboot"
)

// Notification is one raised event.
type Notification struct {
	Kind  string    `json:"kind"`
	Title string    `json:"title"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// Hub keeps the most recent notifications.
type Hub struct {
	log   zerolog.Logger
	limit int
	now   func() time.Time

	mu      sync.Mutex
	entries []Notification
}

// NewHub keeps at most limit entries.
func NewHub(log zerolog.Logger, limit int) *Hub {
	if limit <= 0 {
		limit = 50
	}
	return &Hub{
		log:   log.With().Str("component", "notify").Logger(),
		limit: limit,
		now:   time.Now,
	}
}

// Notify records and logs a notification.
func (h *Hub) Notify(kind, title, text string) {
	n := Notification{Kind: kind, Title: title, Text: text, At: h.now()}

	h.mu.Lock()
	h.entries = append(h.entries, n)
	if over := len(h.entries) - h.limit; over > 0 {
		h.entries = append([]Notification(nil), h.entries[over:]...)
	}
	h.mu.Unlock()

	h.log.Warn().Str("kind", kind).Str("title", title).Msg(text)
}

// List returns the notifications, oldest first.
func (h *Hub) List() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notification(nil), h.entries...)
}

// Count returns how many notifications of kind are held.
func (h *Hub) Count(kind string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
