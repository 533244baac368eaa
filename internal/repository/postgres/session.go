package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, challenge_id, host_user_id, host_username, session_code, language, is_active,
	max_participants, current_participants, created_at, ended_at, end_reason, final_code`

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO collaboration_sessions (id, challenge_id, host_user_id, host_username, session_code,
			language, is_active, max_participants, current_participants, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.ChallengeID,
		session.HostUserID,
		session.HostUsername,
		session.SessionCode,
		session.Language,
		session.IsActive,
		session.MaxParticipants,
		session.CurrentParticipants,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM collaboration_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) GetByCode(ctx context.Context, code string) (*domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM collaboration_sessions
		WHERE session_code = $1
		ORDER BY is_active DESC, created_at DESC
		LIMIT 1
	`
	s, err := scanSession(r.pool.QueryRow(ctx, query, strings.ToUpper(code)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session by code: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) ListActive(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM collaboration_sessions
		WHERE is_active AND ($1 = '' OR challenge_id = $1)
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, filter.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) SetParticipantCount(ctx context.Context, id uuid.UUID, count int) error {
	query := `UPDATE collaboration_sessions SET current_participants = $1 WHERE id = $2`
	tag, err := r.pool.Exec(ctx, query, count, id)
	if err != nil {
		return fmt.Errorf("failed to update participant count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) End(ctx context.Context, id uuid.UUID, endedAt time.Time, reason domain.EndReason, finalCode string) error {
	query := `
		UPDATE collaboration_sessions
		SET is_active = FALSE, current_participants = 0, ended_at = $1, end_reason = $2, final_code = $3
		WHERE id = $4
	`
	tag, err := r.pool.Exec(ctx, query, endedAt, string(reason), finalCode, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var reason string
	err := row.Scan(
		&s.ID,
		&s.ChallengeID,
		&s.HostUserID,
		&s.HostUsername,
		&s.SessionCode,
		&s.Language,
		&s.IsActive,
		&s.MaxParticipants,
		&s.CurrentParticipants,
		&s.CreatedAt,
		&s.EndedAt,
		&reason,
		&s.FinalCode,
	)
	if err != nil {
		return nil, err
	}
	s.EndReason = domain.EndReason(reason)
	return &s, nil
}
