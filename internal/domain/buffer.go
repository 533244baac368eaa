package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CodeBuffer is the single authoritative copy of a session's shared code
type CodeBuffer struct {
	SessionID uuid.UUID `json:"session_id"`
	Content   string    `json:"content"`
	Language  string    `json:"language"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// CodeBufferStore holds live buffers while their session is active
type CodeBufferStore interface {
	Save(ctx context.Context, buffer *CodeBuffer) error
	// Get returns nil, nil when no buffer is stored
	Get(ctx context.Context, sessionID uuid.UUID) (*CodeBuffer, error)
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

// CodeReserver guarantees session codes are unique among active sessions
type CodeReserver interface {
	// Reserve returns false when the code is already held by an active session
	Reserve(ctx context.Context, code string, sessionID uuid.UUID) (bool, error)
	// Lookup returns uuid.Nil when the code is not reserved
	Lookup(ctx context.Context, code string) (uuid.UUID, error)
	Release(ctx context.Context, code string) error
}
