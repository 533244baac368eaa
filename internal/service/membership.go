package service

import (
	"context"
	"sort"
	"time"

	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Membership decides who may enter and leave a session and keeps the
// participant list and count consistent. It holds no connection state.
type Membership struct {
	registry     *Registry
	participants domain.ParticipantRepository
	broadcaster  Broadcaster
}

// NewMembership creates a new membership manager
func NewMembership(registry *Registry, broadcaster Broadcaster) *Membership {
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	return &Membership{
		registry:     registry,
		participants: registry.repos.Participants,
		broadcaster:  broadcaster,
	}
}

// admitHost records the creator of a freshly created session. The registry
// already counted the host, so the count is left alone.
func (m *Membership) admitHost(ctx context.Context, session *domain.Session) (*domain.Participant, error) {
	_, unlock := m.registry.lock(session.ID)
	defer unlock()

	now := m.registry.now().UTC()
	host := &domain.Participant{
		ID:         uuid.New(),
		SessionID:  session.ID,
		UserID:     session.HostUserID,
		Username:   session.HostUsername,
		IsHost:     true,
		IsActive:   true,
		JoinedAt:   now,
		LastSeenAt: now,
	}
	if err := m.participants.Create(ctx, host); err != nil {
		return nil, err
	}
	return host, nil
}

// Join admits a user. Joining again while already active returns the
// existing record and leaves the count unchanged.
func (m *Membership) Join(ctx context.Context, sessionID uuid.UUID, userID, username string) (*domain.Participant, error) {
	_, unlock := m.registry.lock(sessionID)
	defer unlock()

	session, err := m.registry.repos.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return nil, domain.ErrSessionInactive
	}

	existing, err := m.participants.GetActive(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if session.IsFull() {
		return nil, domain.ErrSessionFull
	}

	now := m.registry.now().UTC()
	participant := &domain.Participant{
		ID:         uuid.New(),
		SessionID:  sessionID,
		UserID:     userID,
		Username:   username,
		IsHost:     userID == session.HostUserID,
		IsActive:   true,
		JoinedAt:   now,
		LastSeenAt: now,
	}
	if err := m.participants.Create(ctx, participant); err != nil {
		return nil, err
	}
	if err := m.registry.repos.Sessions.SetParticipantCount(ctx, sessionID, session.CurrentParticipants+1); err != nil {
		if derr := m.participants.Deactivate(ctx, participant.ID, now); derr != nil {
			log.Error().Err(derr).Str("participant_id", participant.ID.String()).Msg("failed to roll back participant")
		}
		return nil, err
	}

	m.broadcaster.ParticipantJoined(sessionID, *participant)

	log.Info().
		Str("session_id", sessionID.String()).
		Str("user_id", userID).
		Int("participants", session.CurrentParticipants+1).
		Msg("participant joined")

	return participant, nil
}

// Leave removes the user from the session. The session ends when the host
// leaves or nobody is left.
func (m *Membership) Leave(ctx context.Context, sessionID uuid.UUID, userID string) error {
	_, unlock := m.registry.lock(sessionID)
	defer unlock()

	session, participant, err := m.activeParticipant(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	return m.leaveLocked(ctx, session, participant, domain.EndReasonEmpty)
}

// evictIdle removes a participant that has been silent since before cutoff
// and holds no connection. It reports whether the participant was removed.
func (m *Membership) evictIdle(ctx context.Context, sessionID uuid.UUID, userID string, cutoff time.Time, presence Presence) (bool, error) {
	_, unlock := m.registry.lock(sessionID)
	defer unlock()

	session, participant, err := m.activeParticipant(ctx, sessionID, userID)
	if err != nil {
		return false, err
	}
	// A connection or heartbeat may have arrived since the reaper listed it
	if participant.LastSeenAt.After(cutoff) || (presence != nil && presence.IsConnected(sessionID, userID)) {
		return false, nil
	}
	if err := m.leaveLocked(ctx, session, participant, domain.EndReasonIdle); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Membership) activeParticipant(ctx context.Context, sessionID uuid.UUID, userID string) (*domain.Session, *domain.Participant, error) {
	session, err := m.registry.repos.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !session.IsActive {
		return nil, nil, domain.ErrSessionInactive
	}

	participant, err := m.participants.GetActive(ctx, sessionID, userID)
	if err != nil {
		return nil, nil, err
	}
	if participant == nil {
		return nil, nil, domain.ErrNotParticipant
	}
	return session, participant, nil
}

// leaveLocked requires the session lock. emptyReason is recorded when the
// departure leaves the session without participants.
func (m *Membership) leaveLocked(ctx context.Context, session *domain.Session, participant *domain.Participant, emptyReason domain.EndReason) error {
	now := m.registry.now().UTC()
	if err := m.participants.Deactivate(ctx, participant.ID, now); err != nil {
		return err
	}

	remaining := session.CurrentParticipants - 1
	if remaining < 0 {
		remaining = 0
	}
	if err := m.registry.repos.Sessions.SetParticipantCount(ctx, session.ID, remaining); err != nil {
		return err
	}
	session.CurrentParticipants = remaining

	participant.IsActive = false
	participant.LeftAt = &now
	m.broadcaster.ParticipantLeft(session.ID, *participant)

	log.Info().
		Str("session_id", session.ID.String()).
		Str("user_id", participant.UserID).
		Int("participants", remaining).
		Msg("participant left")

	switch {
	case participant.IsHost:
		return m.registry.endLocked(ctx, session, domain.EndReasonHostLeft)
	case remaining == 0:
		return m.registry.endLocked(ctx, session, emptyReason)
	}
	return nil
}

// ListParticipants returns the active participants, host first then by join time
func (m *Membership) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]domain.Participant, error) {
	if _, err := m.registry.repos.Sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	participants, err := m.participants.ListActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(participants, func(i, j int) bool {
		if participants[i].IsHost != participants[j].IsHost {
			return participants[i].IsHost
		}
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
	return participants, nil
}

// Touch marks the participant as seen and records the cursor when given
func (m *Membership) Touch(ctx context.Context, sessionID uuid.UUID, userID string, cursor *domain.CursorPosition) (*domain.Participant, error) {
	participant, err := m.participants.GetActive(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, domain.ErrNotParticipant
	}

	now := m.registry.now().UTC()
	if err := m.participants.Touch(ctx, participant.ID, now, cursor); err != nil {
		return nil, err
	}
	participant.LastSeenAt = now
	if cursor != nil {
		participant.Cursor = cursor
	}
	return participant, nil
}
