package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const participantColumns = `id, session_id, user_id, username, is_host, is_active, cursor_line, cursor_column,
	joined_at, left_at, last_seen_at`

// ParticipantRepository implements domain.ParticipantRepository
type ParticipantRepository struct {
	pool *pgxpool.Pool
}

// NewParticipantRepository creates a new participant repository
func NewParticipantRepository(pool *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{pool: pool}
}

func (r *ParticipantRepository) Create(ctx context.Context, p *domain.Participant) error {
	query := `
		INSERT INTO session_participants (id, session_id, user_id, username, is_host, is_active, joined_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.SessionID,
		p.UserID,
		p.Username,
		p.IsHost,
		p.IsActive,
		p.JoinedAt,
		p.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create participant: %w", err)
	}
	return nil
}

func (r *ParticipantRepository) GetActive(ctx context.Context, sessionID uuid.UUID, userID string) (*domain.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM session_participants
		WHERE session_id = $1 AND user_id = $2 AND is_active
	`
	p, err := scanParticipant(r.pool.QueryRow(ctx, query, sessionID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func (r *ParticipantRepository) ListActive(ctx context.Context, sessionID uuid.UUID) ([]domain.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM session_participants
		WHERE session_id = $1 AND is_active
		ORDER BY joined_at ASC
	`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	participants := []domain.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

func (r *ParticipantRepository) Deactivate(ctx context.Context, id uuid.UUID, leftAt time.Time) error {
	query := `UPDATE session_participants SET is_active = FALSE, left_at = $1 WHERE id = $2 AND is_active`
	if _, err := r.pool.Exec(ctx, query, leftAt, id); err != nil {
		return fmt.Errorf("failed to deactivate participant: %w", err)
	}
	return nil
}

func (r *ParticipantRepository) DeactivateAll(ctx context.Context, sessionID uuid.UUID, leftAt time.Time) error {
	query := `UPDATE session_participants SET is_active = FALSE, left_at = $1 WHERE session_id = $2 AND is_active`
	if _, err := r.pool.Exec(ctx, query, leftAt, sessionID); err != nil {
		return fmt.Errorf("failed to deactivate participants: %w", err)
	}
	return nil
}

func (r *ParticipantRepository) Touch(ctx context.Context, id uuid.UUID, seenAt time.Time, cursor *domain.CursorPosition) error {
	var err error
	if cursor != nil {
		query := `UPDATE session_participants SET last_seen_at = $1, cursor_line = $2, cursor_column = $3 WHERE id = $4`
		_, err = r.pool.Exec(ctx, query, seenAt, cursor.Line, cursor.Column, id)
	} else {
		query := `UPDATE session_participants SET last_seen_at = $1 WHERE id = $2`
		_, err = r.pool.Exec(ctx, query, seenAt, id)
	}
	if err != nil {
		return fmt.Errorf("failed to touch participant: %w", err)
	}
	return nil
}

func scanParticipant(row pgx.Row) (*domain.Participant, error) {
	var p domain.Participant
	var line, column *int
	err := row.Scan(
		&p.ID,
		&p.SessionID,
		&p.UserID,
		&p.Username,
		&p.IsHost,
		&p.IsActive,
		&line,
		&column,
		&p.JoinedAt,
		&p.LeftAt,
		&p.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	if line != nil && column != nil {
		p.Cursor = &domain.CursorPosition{Line: *line, Column: *column}
	}
	return &p, nil
}
