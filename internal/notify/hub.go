// Package notify implements the Notification Hub: the single fan-out
// point unifying MCP SSE and WebSocket delivery behind one opaque
// per-subscriber callback, so both transports share the same
// subscribe/unsubscribe/debounced-notify/reap state machine instead of
// keeping separate subscriber tables.
package notify

import (
	"sync"
	"time"
)

// Payload is the notification delivered to subscribers.
type Payload struct {
	Type      string `json:"type"` // session_update | new_message | agent_event
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// Deliver is a transport's push callback. A returned error unsubscribes
// the failing subscriber; the originating operation is never failed by a
// delivery error.
type Deliver func(Payload) error

type subscriber struct {
	id      string
	agentID string // owner, for agent://{id}/memory delivery checks
	deliver Deliver
}

type uriState struct {
	mu        sync.Mutex
	deliverMu sync.Mutex             // held for a whole delivery burst on this URI
	subs      map[string]*subscriber // subscriberID -> subscriber
	timer     *time.Timer
	queued    bool
}

// Hub implements subscribe/unsubscribe/notify/reap over an in-memory
// subscriber table keyed by resource URI.
type Hub struct {
	mu    sync.RWMutex
	uris  map[string]*uriState
	seen  map[string]time.Time // subscriberID -> lastSeen, across all URIs
	seenM sync.Mutex
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		uris: make(map[string]*uriState),
		seen: make(map[string]time.Time),
	}
}

func (h *Hub) stateFor(uri string) *uriState {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.uris[uri]
	if !ok {
		st = &uriState{subs: make(map[string]*subscriber)}
		h.uris[uri] = st
	}
	return st
}

// Subscribe registers subscriberID (owned by agentID, for memory-resource
// delivery checks) against resourceURI and refreshes its lastSeen.
func (h *Hub) Subscribe(subscriberID, agentID, resourceURI string, deliver Deliver) {
	st := h.stateFor(resourceURI)
	st.mu.Lock()
	st.subs[subscriberID] = &subscriber{id: subscriberID, agentID: agentID, deliver: deliver}
	st.mu.Unlock()

	h.touch(subscriberID)
}

// Unsubscribe removes subscriberID from resourceURI, or from every URI
// when resourceURI is empty.
func (h *Hub) Unsubscribe(subscriberID, resourceURI string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if resourceURI != "" {
		if st, ok := h.uris[resourceURI]; ok {
			st.mu.Lock()
			delete(st.subs, subscriberID)
			st.mu.Unlock()
		}
		return
	}
	for _, st := range h.uris {
		st.mu.Lock()
		delete(st.subs, subscriberID)
		st.mu.Unlock()
	}
}

func (h *Hub) touch(subscriberID string) {
	h.seenM.Lock()
	h.seen[subscriberID] = time.Now()
	h.seenM.Unlock()
}

// Notify schedules delivery of a change event to resourceURI's current
// subscribers after debounceMs of quiescence on that URI. Concurrent
// Notify calls on the same URI are coalesced into a single delivery
// burst; concurrent calls across different URIs proceed independently
// and deliveries within one URI are serialized, preserving per-subscriber
// emission order.
func (h *Hub) Notify(resourceURI string, debounceMs int, payload Payload) {
	st := h.stateFor(resourceURI)

	st.mu.Lock()
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(time.Duration(debounceMs)*time.Millisecond, func() {
		h.deliver(resourceURI, st, payload)
	})
	st.mu.Unlock()
}

func (h *Hub) deliver(resourceURI string, st *uriState, payload Payload) {
	st.deliverMu.Lock()
	defer st.deliverMu.Unlock()

	st.mu.Lock()
	targets := make([]*subscriber, 0, len(st.subs))
	for _, s := range st.subs {
		targets = append(targets, s)
	}
	st.mu.Unlock()

	for _, s := range targets {
		if !authorizedFor(resourceURI, s.agentID) {
			continue
		}
		if err := s.deliver(payload); err != nil {
			h.Unsubscribe(s.id, resourceURI)
			continue
		}
		h.touch(s.id)
	}
}

// authorizedFor verifies ownership for agent://{id}/memory URIs; every
// other resource scheme delivers unconditionally.
func authorizedFor(resourceURI, subscriberAgentID string) bool {
	const prefix = "agent://"
	const suffix = "/memory"
	if len(resourceURI) > len(prefix)+len(suffix) && resourceURI[:len(prefix)] == prefix {
		ownerID := resourceURI[len(prefix) : len(resourceURI)-len(suffix)]
		return ownerID == subscriberAgentID
	}
	return true
}

// Reap removes subscribers whose lastSeen exceeds idleTimeout, across
// every URI. Intended to run periodically from C12's background
// scheduler.
func (h *Hub) Reap(idleTimeout time.Duration) int {
	now := time.Now()

	h.seenM.Lock()
	var stale []string
	for id, last := range h.seen {
		if now.Sub(last) > idleTimeout {
			stale = append(stale, id)
			delete(h.seen, id)
		}
	}
	h.seenM.Unlock()

	if len(stale) == 0 {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, st := range h.uris {
		st.mu.Lock()
		for _, id := range stale {
			delete(st.subs, id)
		}
		st.mu.Unlock()
	}
	return len(stale)
}
