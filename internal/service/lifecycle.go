package service

import (
	"context"
	"errors"
	"time"

	"github.com/Rrens/apiquest-collab/internal/config"
	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/Rrens/apiquest-collab/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Lifecycle orchestrates sessions for the request layer
type Lifecycle struct {
	registry   *Registry
	membership *Membership
	presence   Presence
	cfg        config.CollaborationConfig
}

// NewLifecycle creates a new lifecycle controller
func NewLifecycle(registry *Registry, membership *Membership, presence Presence, cfg config.CollaborationConfig) *Lifecycle {
	return &Lifecycle{
		registry:   registry,
		membership: membership,
		presence:   presence,
		cfg:        cfg,
	}
}

// CreateSession creates a session hosted by user
func (l *Lifecycle) CreateSession(ctx context.Context, user domain.User, input domain.NewSession) (*domain.Session, error) {
	input.HostUserID = user.ID
	input.HostUsername = user.Username

	session, err := l.registry.CreateSession(ctx, input)
	if err != nil {
		return nil, err
	}

	if _, err := l.membership.admitHost(ctx, session); err != nil {
		if _, _, endErr := l.registry.EndSession(ctx, session.ID, domain.EndReasonEmpty); endErr != nil {
			log.Error().Err(endErr).Str("session_id", session.ID.String()).Msg("failed to end session without host")
		}
		return nil, err
	}
	return session, nil
}

// JoinSession resolves the session by id or code, admits the user and
// returns everything needed to render it
func (l *Lifecycle) JoinSession(ctx context.Context, user domain.User, req domain.JoinRequest) (*domain.JoinResult, error) {
	var session *domain.Session
	var err error
	if req.SessionID != "" {
		id, perr := uuid.Parse(req.SessionID)
		if perr != nil {
			return nil, domain.ErrSessionNotFound
		}
		session, err = l.registry.GetSession(ctx, id)
	} else {
		session, err = l.registry.FindSessionByCode(ctx, req.SessionCode)
	}
	if err != nil {
		return nil, err
	}

	participant, err := l.membership.Join(ctx, session.ID, user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return l.snapshot(ctx, session.ID, participant)
}

// CheckParticipant verifies the user may open a connection to the session
func (l *Lifecycle) CheckParticipant(ctx context.Context, sessionID uuid.UUID, userID string) error {
	session, err := l.registry.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive {
		return domain.ErrSessionInactive
	}

	participant, err := l.membership.participants.GetActive(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if participant == nil {
		return domain.ErrNotParticipant
	}
	return nil
}

// Attach marks the participant as seen and hands the current session state
// to attach while the session is locked, so no event can slip in between the
// snapshot and whatever attach registers
func (l *Lifecycle) Attach(ctx context.Context, sessionID uuid.UUID, userID string, attach func(*domain.JoinResult)) error {
	_, unlock := l.registry.lock(sessionID)
	defer unlock()

	if err := l.CheckParticipant(ctx, sessionID, userID); err != nil {
		return err
	}
	participant, err := l.membership.Touch(ctx, sessionID, userID, nil)
	if err != nil {
		return err
	}
	result, err := l.snapshot(ctx, sessionID, participant)
	if err != nil {
		return err
	}
	attach(result)
	return nil
}

func (l *Lifecycle) snapshot(ctx context.Context, sessionID uuid.UUID, participant *domain.Participant) (*domain.JoinResult, error) {
	session, err := l.registry.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	buffer, err := l.registry.CodeBuffer(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	participants, err := l.membership.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := l.registry.ChatHistory(ctx, sessionID, l.cfg.ChatHistoryLimit)
	if err != nil {
		return nil, err
	}

	return &domain.JoinResult{
		Session:      session,
		Participant:  participant,
		CodeBuffer:   buffer,
		Participants: participants,
		Messages:     messages,
	}, nil
}

// LeaveSession removes the user from the session
func (l *Lifecycle) LeaveSession(ctx context.Context, user domain.User, sessionID uuid.UUID) error {
	return l.membership.Leave(ctx, sessionID, user.ID)
}

// EndSession ends a session on behalf of its host. Ending an already ended
// session succeeds without changing it.
func (l *Lifecycle) EndSession(ctx context.Context, user domain.User, sessionID uuid.UUID) (*domain.Session, error) {
	session, err := l.registry.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.HostUserID != user.ID {
		return nil, domain.ErrNotHost
	}

	session, _, err = l.registry.EndSession(ctx, sessionID, domain.EndReasonEndedByHost)
	return session, err
}

// GetSession returns a session by id
func (l *Lifecycle) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	return l.registry.GetSession(ctx, sessionID)
}

// ListActiveSessions returns active sessions, optionally for one challenge
func (l *Lifecycle) ListActiveSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	return l.registry.ListActiveSessions(ctx, filter)
}

// ListParticipants returns the active participants of a session
func (l *Lifecycle) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]domain.Participant, error) {
	return l.membership.ListParticipants(ctx, sessionID)
}

// ChatHistory returns the latest messages of a session
func (l *Lifecycle) ChatHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.ChatMessage, error) {
	return l.registry.ChatHistory(ctx, sessionID, limit)
}

// ReapIdle evicts participants that hold no connection and have not been
// seen within the idle timeout. It returns the number evicted.
func (l *Lifecycle) ReapIdle(ctx context.Context) (int, error) {
	cutoff := l.registry.now().UTC().Add(-l.cfg.IdleTimeout)

	sessions, err := l.registry.ListActiveSessions(ctx, domain.SessionFilter{})
	if err != nil {
		return 0, err
	}

	evicted := 0
	for _, session := range sessions {
		participants, err := l.membership.participants.ListActive(ctx, session.ID)
		if err != nil {
			log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to list participants for reaping")
			continue
		}

		for _, p := range participants {
			if !l.idle(session.ID, p, cutoff) {
				continue
			}
			ok, err := l.membership.evictIdle(ctx, session.ID, p.UserID, cutoff, l.presence)
			if err != nil {
				if errors.Is(err, domain.ErrSessionInactive) {
					break
				}
				if !errors.Is(err, domain.ErrNotParticipant) {
					log.Error().Err(err).Str("session_id", session.ID.String()).Str("user_id", p.UserID).Msg("failed to evict idle participant")
				}
				continue
			}
			if ok {
				evicted++
				metrics.Evicted("idle")
				log.Info().Str("session_id", session.ID.String()).Str("user_id", p.UserID).Msg("evicted idle participant")
			}
		}
	}
	return evicted, nil
}

func (l *Lifecycle) idle(sessionID uuid.UUID, p domain.Participant, cutoff time.Time) bool {
	if p.LastSeenAt.After(cutoff) {
		return false
	}
	return l.presence == nil || !l.presence.IsConnected(sessionID, p.UserID)
}
