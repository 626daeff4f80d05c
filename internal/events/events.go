// Package events is the progress pub/sub hub the Deployment Pipeline
// publishes to and the HTTP layer's websocket subscribers read from —
// one channel-fanout hub per App, adapted from the teacher's
// nhooyr.io/websocket + PTY wiring in internal/server/terminal.go.
package events

import (
	"sync"
	"time"
)

// Progress is one Deployment Pipeline (or clone) transition, with the
// fixed percent mapping the pipeline assigns per step.
type Progress struct {
	AppID     string    `json:"app_id"`
	Step      string    `json:"step"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const subscriberBuffer = 16

// Hub fans out Progress events to any number of subscribers per App.
// Publishing never blocks on a slow subscriber — a full subscriber channel
// drops the event for that subscriber rather than stalling the pipeline.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Progress]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Progress]struct{})}
}

// Subscribe registers a new listener for appID's progress events. The
// caller must call the returned cancel function when done to avoid
// leaking the channel.
func (h *Hub) Subscribe(appID string) (ch <-chan Progress, cancel func()) {
	c := make(chan Progress, subscriberBuffer)

	h.mu.Lock()
	if h.subs[appID] == nil {
		h.subs[appID] = make(map[chan Progress]struct{})
	}
	h.subs[appID][c] = struct{}{}
	h.mu.Unlock()

	return c, func() {
		h.mu.Lock()
		delete(h.subs[appID], c)
		if len(h.subs[appID]) == 0 {
			delete(h.subs, appID)
		}
		h.mu.Unlock()
		close(c)
	}
}

// Publish sends p to every current subscriber of p.AppID.
func (h *Hub) Publish(p Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs[p.AppID] {
		select {
		case c <- p:
		default:
			// Subscriber too slow; drop rather than block the pipeline.
		}
	}
}
