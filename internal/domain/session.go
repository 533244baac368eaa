package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EndReason records why a session left the active state
type EndReason string

const (
	EndReasonHostLeft    EndReason = "host_left"
	EndReasonEmpty       EndReason = "empty"
	EndReasonEndedByHost EndReason = "ended_by_host"
	EndReasonIdle        EndReason = "idle"
)

// Session represents a collaborative coding session tied to one challenge
type Session struct {
	ID                  uuid.UUID  `json:"id"`
	ChallengeID         string     `json:"challenge_id"`
	HostUserID          string     `json:"host_user_id"`
	HostUsername        string     `json:"host_username"`
	SessionCode         string     `json:"session_code"`
	Language            string     `json:"language"`
	IsActive            bool       `json:"is_active"`
	MaxParticipants     int        `json:"max_participants"`
	CurrentParticipants int        `json:"current_participants"`
	CreatedAt           time.Time  `json:"created_at"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	EndReason           EndReason  `json:"end_reason,omitempty"`
	FinalCode           string     `json:"final_code,omitempty"`
}

// IsFull reports whether another participant can be admitted
func (s *Session) IsFull() bool {
	return s.CurrentParticipants >= s.MaxParticipants
}

// NewSession represents session creation data
type NewSession struct {
	ChallengeID     string `json:"challenge_id" validate:"required,max=255"`
	HostUserID      string `json:"-"`
	HostUsername    string `json:"-"`
	MaxParticipants int    `json:"max_participants"`
	Language        string `json:"language" validate:"omitempty,max=32"`
	InitialCode     string `json:"initial_code" validate:"omitempty,max=65536"`
}

// SessionFilter narrows ListActive results
type SessionFilter struct {
	ChallengeID string
}

// CursorPosition is the last known caret of a participant
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Participant is one user's membership interval in a session
type Participant struct {
	ID         uuid.UUID       `json:"id"`
	SessionID  uuid.UUID       `json:"session_id"`
	UserID     string          `json:"user_id"`
	Username   string          `json:"username"`
	IsHost     bool            `json:"is_host"`
	IsActive   bool            `json:"is_active"`
	Cursor     *CursorPosition `json:"cursor_position,omitempty"`
	JoinedAt   time.Time       `json:"joined_at"`
	LeftAt     *time.Time      `json:"left_at,omitempty"`
	LastSeenAt time.Time       `json:"last_seen_at"`
}

// SessionRepository defines the interface for session storage
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	// Get returns ErrSessionNotFound when no session has the id
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	// GetByCode returns the most recently created session carrying the code
	GetByCode(ctx context.Context, code string) (*Session, error)
	ListActive(ctx context.Context, filter SessionFilter) ([]Session, error)
	SetParticipantCount(ctx context.Context, id uuid.UUID, count int) error
	End(ctx context.Context, id uuid.UUID, endedAt time.Time, reason EndReason, finalCode string) error
}

// ParticipantRepository defines the interface for participant storage
type ParticipantRepository interface {
	Create(ctx context.Context, participant *Participant) error
	// GetActive returns nil, nil when the user has no active record in the session
	GetActive(ctx context.Context, sessionID uuid.UUID, userID string) (*Participant, error)
	ListActive(ctx context.Context, sessionID uuid.UUID) ([]Participant, error)
	Deactivate(ctx context.Context, id uuid.UUID, leftAt time.Time) error
	DeactivateAll(ctx context.Context, sessionID uuid.UUID, leftAt time.Time) error
	Touch(ctx context.Context, id uuid.UUID, seenAt time.Time, cursor *CursorPosition) error
}
