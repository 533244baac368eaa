package service

import (
	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/google/uuid"
)

// Broadcaster fans session events out to live connections. It is declared here
// so the realtime package can depend on the services without an import cycle.
// Implementations must not block: every method is called while the session is
// locked so that all connections observe events in apply order.
type Broadcaster interface {
	ParticipantJoined(sessionID uuid.UUID, participant domain.Participant)
	// ParticipantLeft also closes any connection the participant still holds
	ParticipantLeft(sessionID uuid.UUID, participant domain.Participant)
	// SessionEnded notifies and closes every connection of the session
	SessionEnded(sessionID uuid.UUID, reason domain.EndReason)
}

// Presence reports whether a user currently holds a live connection
type Presence interface {
	IsConnected(sessionID uuid.UUID, userID string) bool
}

type nopBroadcaster struct{}

func (nopBroadcaster) ParticipantJoined(uuid.UUID, domain.Participant) {}
func (nopBroadcaster) ParticipantLeft(uuid.UUID, domain.Participant)   {}
func (nopBroadcaster) SessionEnded(uuid.UUID, domain.EndReason)        {}
