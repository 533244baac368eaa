package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create inserts a new message
func (r *MessageRepository) Create(ctx context.Context, message *domain.ChatMessage) error {
	query := `
		INSERT INTO session_chat_messages (id, session_id, seq, user_id, username, kind, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		message.ID,
		message.SessionID,
		message.Seq,
		message.UserID,
		message.Username,
		string(message.Kind),
		message.Message,
		message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// ListBySession retrieves the latest messages of a session, oldest first
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.ChatMessage, error) {
	query := `
		SELECT id, session_id, seq, user_id, username, kind, message, created_at
		FROM session_chat_messages
		WHERE session_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`

	// LIMIT NULL returns every row
	var rowLimit any
	if limit > 0 {
		rowLimit = limit
	}

	rows, err := r.pool.Query(ctx, query, sessionID, rowLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		var m domain.ChatMessage
		var kind string

		if err := rows.Scan(
			&m.ID,
			&m.SessionID,
			&m.Seq,
			&m.UserID,
			&m.Username,
			&kind,
			&m.Message,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Kind = domain.MessageKind(kind)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	// Reverse to return chronological order (oldest first)
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
