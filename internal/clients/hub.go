// Package clients tracks the open application instances (tabs) connected to
// the gateway and fans messages out to them.
package clients

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNoClients is returned when an operation needs at least one open client
var ErrNoClients = errors.New("no controlled clients")

// MsgNavigate asks a client to focus itself and load a URL
const MsgNavigate = "NAVIGATE"

// Client is one open application instance
type Client interface {
	ID() string
	// PostMessage delivers v to the client as a JSON message
	PostMessage(v any) error
}

// NavigateMessage is posted by OpenWindow
type NavigateMessage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type member struct {
	client     Client
	controlled bool
}

// Hub is the client registration set. Safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	members map[string]*member
	order   []string
	log     zerolog.Logger
}

// NewHub creates an empty hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		members: make(map[string]*member),
		log:     log.With().Str("component", "clients").Logger(),
	}
}

// Add registers c. A client is controlled when it connects to an active
// worker, or later when the worker claims it.
func (h *Hub) Add(c Client, controlled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.members[c.ID()]; !ok {
		h.order = append(h.order, c.ID())
	}
	h.members[c.ID()] = &member{client: c, controlled: controlled}
	h.log.Debug().Str("client", c.ID()).Bool("controlled", controlled).Msg("client connected")
}

// Remove forgets the client with the given id
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) removeLocked(id string) {
	if _, ok := h.members[id]; !ok {
		return
	}
	delete(h.members, id)
	for i, o := range h.order {
		if o == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.log.Debug().Str("client", id).Msg("client disconnected")
}

// Claim takes control of every connected client and returns how many were
// newly claimed
func (h *Hub) Claim() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, m := range h.members {
		if !m.controlled {
			m.controlled = true
			n++
		}
	}
	return n
}

// Controlled reports whether the client with the given id is controlled
func (h *Hub) Controlled(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[id]
	return ok && m.controlled
}

// MatchAll returns the controlled clients in connection order
func (h *Hub) MatchAll() []Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Client, 0, len(h.order))
	for _, id := range h.order {
		if m := h.members[id]; m.controlled {
			out = append(out, m.client)
		}
	}
	return out
}

// Len returns the number of connected clients, controlled or not
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Broadcast posts v to every controlled client. Clients that fail to accept
// the message are dropped. Returns the number of successful deliveries.
func (h *Hub) Broadcast(v any) int {
	delivered := 0
	var failed []string
	for _, c := range h.MatchAll() {
		if err := c.PostMessage(v); err != nil {
			h.log.Warn().Err(err).Str("client", c.ID()).Msg("dropping client after failed post")
			failed = append(failed, c.ID())
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		h.mu.Lock()
		for _, id := range failed {
			h.removeLocked(id)
		}
		h.mu.Unlock()
	}
	return delivered
}

// OpenWindow focuses the first controlled client that accepts a navigation
// to url
func (h *Hub) OpenWindow(url string) error {
	msg := NavigateMessage{Type: MsgNavigate, URL: url}
	for _, c := range h.MatchAll() {
		if err := c.PostMessage(msg); err != nil {
			h.log.Warn().Err(err).Str("client", c.ID()).Msg("navigate failed")
			continue
		}
		return nil
	}
	return ErrNoClients
}
