package mongo

import (
	"time"

	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/google/uuid"
)

type sessionDoc struct {
	ID                  string     `bson:"_id"`
	ChallengeID         string     `bson:"challenge_id"`
	HostUserID          string     `bson:"host_user_id"`
	HostUsername        string     `bson:"host_username"`
	SessionCode         string     `bson:"session_code"`
	Language            string     `bson:"language"`
	IsActive            bool       `bson:"is_active"`
	MaxParticipants     int        `bson:"max_participants"`
	CurrentParticipants int        `bson:"current_participants"`
	CreatedAt           time.Time  `bson:"created_at"`
	EndedAt             *time.Time `bson:"ended_at,omitempty"`
	EndReason           string     `bson:"end_reason,omitempty"`
	FinalCode           string     `bson:"final_code,omitempty"`
}

func toSessionDoc(s *domain.Session) sessionDoc {
	return sessionDoc{
		ID:                  s.ID.String(),
		ChallengeID:         s.ChallengeID,
		HostUserID:          s.HostUserID,
		HostUsername:        s.HostUsername,
		SessionCode:         s.SessionCode,
		Language:            s.Language,
		IsActive:            s.IsActive,
		MaxParticipants:     s.MaxParticipants,
		CurrentParticipants: s.CurrentParticipants,
		CreatedAt:           s.CreatedAt,
		EndedAt:             s.EndedAt,
		EndReason:           string(s.EndReason),
		FinalCode:           s.FinalCode,
	}
}

func (d sessionDoc) toDomain() (*domain.Session, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		ID:                  id,
		ChallengeID:         d.ChallengeID,
		HostUserID:          d.HostUserID,
		HostUsername:        d.HostUsername,
		SessionCode:         d.SessionCode,
		Language:            d.Language,
		IsActive:            d.IsActive,
		MaxParticipants:     d.MaxParticipants,
		CurrentParticipants: d.CurrentParticipants,
		CreatedAt:           d.CreatedAt,
		EndedAt:             d.EndedAt,
		EndReason:           domain.EndReason(d.EndReason),
		FinalCode:           d.FinalCode,
	}, nil
}

type participantDoc struct {
	ID           string     `bson:"_id"`
	SessionID    string     `bson:"session_id"`
	UserID       string     `bson:"user_id"`
	Username     string     `bson:"username"`
	IsHost       bool       `bson:"is_host"`
	IsActive     bool       `bson:"is_active"`
	CursorLine   *int       `bson:"cursor_line,omitempty"`
	CursorColumn *int       `bson:"cursor_column,omitempty"`
	JoinedAt     time.Time  `bson:"joined_at"`
	LeftAt       *time.Time `bson:"left_at,omitempty"`
	LastSeenAt   time.Time  `bson:"last_seen_at"`
}

func toParticipantDoc(p *domain.Participant) participantDoc {
	doc := participantDoc{
		ID:         p.ID.String(),
		SessionID:  p.SessionID.String(),
		UserID:     p.UserID,
		Username:   p.Username,
		IsHost:     p.IsHost,
		IsActive:   p.IsActive,
		JoinedAt:   p.JoinedAt,
		LeftAt:     p.LeftAt,
		LastSeenAt: p.LastSeenAt,
	}
	if p.Cursor != nil {
		line, column := p.Cursor.Line, p.Cursor.Column
		doc.CursorLine, doc.CursorColumn = &line, &column
	}
	return doc
}

func (d participantDoc) toDomain() (*domain.Participant, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	sessionID, err := uuid.Parse(d.SessionID)
	if err != nil {
		return nil, err
	}
	p := &domain.Participant{
		ID:         id,
		SessionID:  sessionID,
		UserID:     d.UserID,
		Username:   d.Username,
		IsHost:     d.IsHost,
		IsActive:   d.IsActive,
		JoinedAt:   d.JoinedAt,
		LeftAt:     d.LeftAt,
		LastSeenAt: d.LastSeenAt,
	}
	if d.CursorLine != nil && d.CursorColumn != nil {
		p.Cursor = &domain.CursorPosition{Line: *d.CursorLine, Column: *d.CursorColumn}
	}
	return p, nil
}

type messageDoc struct {
	ID        string    `bson:"_id"`
	SessionID string    `bson:"session_id"`
	Seq       int64     `bson:"seq"`
	UserID    string    `bson:"user_id"`
	Username  string    `bson:"username"`
	Kind      string    `bson:"kind"`
	Message   string    `bson:"message"`
	CreatedAt time.Time `bson:"created_at"`
}

func toMessageDoc(m *domain.ChatMessage) messageDoc {
	return messageDoc{
		ID:        m.ID.String(),
		SessionID: m.SessionID.String(),
		Seq:       m.Seq,
		UserID:    m.UserID,
		Username:  m.Username,
		Kind:      string(m.Kind),
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
	}
}

func (d messageDoc) toDomain() (*domain.ChatMessage, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	sessionID, err := uuid.Parse(d.SessionID)
	if err != nil {
		return nil, err
	}
	return &domain.ChatMessage{
		ID:        id,
		SessionID: sessionID,
		Seq:       d.Seq,
		UserID:    d.UserID,
		Username:  d.Username,
		Kind:      domain.MessageKind(d.Kind),
		Message:   d.Message,
		CreatedAt: d.CreatedAt,
	}, nil
}
