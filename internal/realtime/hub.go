package realtime

import (
	"sync"

	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/Rrens/apiquest-collab/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Hub holds the fan-out set of every session served by this process. Sends
// never block: a client whose queue is full is dropped and later treated as
// departed.
type Hub struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]map[*Client]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{sessions: make(map[uuid.UUID]map[*Client]struct{})}
}

// Register adds a client to its session's fan-out set
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.sessions[c.sessionID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.sessions[c.sessionID] = clients
	}
	clients[c] = struct{}{}
	metrics.ConnectionOpened()
}

// Unregister removes a client. last reports whether the client's user has no
// other connection left in the session.
func (h *Hub) Unregister(c *Client) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.sessions[c.sessionID]; ok {
		if _, present := clients[c]; present {
			h.dropLocked(c)
		}
	}
	return !h.connectedLocked(c.sessionID, c.user.ID)
}

// Broadcast queues an event for every client of the session except skip
func (h *Hub) Broadcast(sessionID uuid.UUID, event any, skip *Client) {
	data, err := encode(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.sessions[sessionID] {
		if c == skip {
			continue
		}
		h.deliverLocked(c, data)
	}
}

// Send queues an event for one client
func (h *Hub) Send(c *Client, event any) {
	data, err := encode(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[c.sessionID][c]; ok {
		h.deliverLocked(c, data)
	}
}

// ParticipantJoined implements service.Broadcaster
func (h *Hub) ParticipantJoined(sessionID uuid.UUID, p domain.Participant) {
	h.Broadcast(sessionID, PresenceEvent{Type: MsgParticipantJoined, UserID: p.UserID, Username: p.Username}, nil)
}

// ParticipantLeft implements service.Broadcaster. Connections the user still
// holds are closed since the membership behind them is gone.
func (h *Hub) ParticipantLeft(sessionID uuid.UUID, p domain.Participant) {
	data, err := encode(PresenceEvent{Type: MsgParticipantLeft, UserID: p.UserID, Username: p.Username})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.sessions[sessionID] {
		if c.user.ID == p.UserID {
			c.departed.Store(true)
			h.dropLocked(c)
			continue
		}
		h.deliverLocked(c, data)
	}
}

// SessionEnded implements service.Broadcaster
func (h *Hub) SessionEnded(sessionID uuid.UUID, reason domain.EndReason) {
	data, err := encode(SessionEndedEvent{Type: MsgSessionEnded, Reason: reason})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.sessions[sessionID] {
		c.departed.Store(true)
		h.deliverLocked(c, data)
		if _, still := h.sessions[sessionID][c]; still {
			h.dropLocked(c)
		}
	}
}

// IsConnected implements service.Presence
func (h *Hub) IsConnected(sessionID uuid.UUID, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connectedLocked(sessionID, userID)
}

// ConnectionCount returns the number of clients attached to a session
func (h *Hub) ConnectionCount(sessionID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[sessionID])
}

// Close drops every client. Their disconnects run the usual leave path.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.sessions {
		for c := range clients {
			h.dropLocked(c)
		}
	}
}

func (h *Hub) connectedLocked(sessionID uuid.UUID, userID string) bool {
	for c := range h.sessions[sessionID] {
		if c.user.ID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) deliverLocked(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		log.Warn().
			Str("session_id", c.sessionID.String()).
			Str("user_id", c.user.ID).
			Msg("send queue full, dropping connection")
		metrics.Evicted("slow_consumer")
		h.dropLocked(c)
	}
}

func (h *Hub) dropLocked(c *Client) {
	clients := h.sessions[c.sessionID]
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.sessions, c.sessionID)
	}
	close(c.send)
	metrics.ConnectionClosed()
}
