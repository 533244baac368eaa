package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageKind distinguishes plain chat from shared code snippets
type MessageKind string

const (
	KindMessage   MessageKind = "message"
	KindCodeShare MessageKind = "code_share"
)

// ChatMessage represents one entry of a session transcript
type ChatMessage struct {
	ID        uuid.UUID   `json:"id"`
	SessionID uuid.UUID   `json:"session_id"`
	Seq       int64       `json:"seq"`
	UserID    string      `json:"user_id"`
	Username  string      `json:"username"`
	Kind      MessageKind `json:"kind"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"timestamp"`
}

// MessageRepository defines the interface for chat message storage
type MessageRepository interface {
	Create(ctx context.Context, message *ChatMessage) error
	// ListBySession returns the latest limit messages in ascending seq order
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]ChatMessage, error)
}
