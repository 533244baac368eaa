// Package memory keeps collaboration state in process memory. It backs the
// memory storage driver and the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/google/uuid"
)

// Store implements every collaboration repository over guarded maps
type Store struct {
	mu           sync.RWMutex
	sessions     map[uuid.UUID]*domain.Session
	participants map[uuid.UUID][]*domain.Participant
	messages     map[uuid.UUID][]domain.ChatMessage
	buffers      map[uuid.UUID]domain.CodeBuffer
	codes        map[string]uuid.UUID
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		sessions:     make(map[uuid.UUID]*domain.Session),
		participants: make(map[uuid.UUID][]*domain.Participant),
		messages:     make(map[uuid.UUID][]domain.ChatMessage),
		buffers:      make(map[uuid.UUID]domain.CodeBuffer),
		codes:        make(map[string]uuid.UUID),
	}
}

// Sessions returns the store as a domain.SessionRepository
func (s *Store) Sessions() *SessionRepository { return &SessionRepository{s} }

// Participants returns the store as a domain.ParticipantRepository
func (s *Store) Participants() *ParticipantRepository { return &ParticipantRepository{s} }

// Messages returns the store as a domain.MessageRepository
func (s *Store) Messages() *MessageRepository { return &MessageRepository{s} }

// Buffers returns the store as a domain.CodeBufferStore
func (s *Store) Buffers() *BufferStore { return &BufferStore{s} }

// Codes returns the store as a domain.CodeReserver
func (s *Store) Codes() *CodeReserver { return &CodeReserver{s} }

// SessionRepository implements domain.SessionRepository
type SessionRepository struct{ s *Store }

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *session
	r.s.sessions[session.ID] = &cp
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	session, ok := r.s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (r *SessionRepository) GetByCode(ctx context.Context, code string) (*domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *domain.Session
	for _, session := range r.s.sessions {
		if !strings.EqualFold(session.SessionCode, code) {
			continue
		}
		if latest == nil || session.CreatedAt.After(latest.CreatedAt) {
			latest = session
		}
	}
	if latest == nil {
		return nil, domain.ErrSessionNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *SessionRepository) ListActive(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sessions := []domain.Session{}
	for _, session := range r.s.sessions {
		if !session.IsActive {
			continue
		}
		if filter.ChallengeID != "" && session.ChallengeID != filter.ChallengeID {
			continue
		}
		sessions = append(sessions, *session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (r *SessionRepository) SetParticipantCount(ctx context.Context, id uuid.UUID, count int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session, ok := r.s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.CurrentParticipants = count
	return nil
}

func (r *SessionRepository) End(ctx context.Context, id uuid.UUID, endedAt time.Time, reason domain.EndReason, finalCode string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session, ok := r.s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.IsActive = false
	session.EndedAt = &endedAt
	session.EndReason = reason
	session.FinalCode = finalCode
	session.CurrentParticipants = 0
	return nil
}

// ParticipantRepository implements domain.ParticipantRepository
type ParticipantRepository struct{ s *Store }

func (r *ParticipantRepository) Create(ctx context.Context, participant *domain.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *participant
	r.s.participants[participant.SessionID] = append(r.s.participants[participant.SessionID], &cp)
	return nil
}

func (r *ParticipantRepository) GetActive(ctx context.Context, sessionID uuid.UUID, userID string) (*domain.Participant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.participants[sessionID] {
		if p.IsActive && p.UserID == userID {
			return cloneParticipant(p), nil
		}
	}
	return nil, nil
}

func (r *ParticipantRepository) ListActive(ctx context.Context, sessionID uuid.UUID) ([]domain.Participant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	participants := []domain.Participant{}
	for _, p := range r.s.participants[sessionID] {
		if p.IsActive {
			participants = append(participants, *cloneParticipant(p))
		}
	}
	return participants, nil
}

func (r *ParticipantRepository) Deactivate(ctx context.Context, id uuid.UUID, leftAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, list := range r.s.participants {
		for _, p := range list {
			if p.ID == id && p.IsActive {
				p.IsActive = false
				p.LeftAt = &leftAt
				return nil
			}
		}
	}
	return nil
}

func (r *ParticipantRepository) DeactivateAll(ctx context.Context, sessionID uuid.UUID, leftAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.participants[sessionID] {
		if p.IsActive {
			p.IsActive = false
			p.LeftAt = &leftAt
		}
	}
	return nil
}

func (r *ParticipantRepository) Touch(ctx context.Context, id uuid.UUID, seenAt time.Time, cursor *domain.CursorPosition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, list := range r.s.participants {
		for _, p := range list {
			if p.ID != id {
				continue
			}
			p.LastSeenAt = seenAt
			if cursor != nil {
				c := *cursor
				p.Cursor = &c
			}
			return nil
		}
	}
	return nil
}

func cloneParticipant(p *domain.Participant) *domain.Participant {
	cp := *p
	if p.Cursor != nil {
		c := *p.Cursor
		cp.Cursor = &c
	}
	return &cp
}

// MessageRepository implements domain.MessageRepository
type MessageRepository struct{ s *Store }

func (r *MessageRepository) Create(ctx context.Context, message *domain.ChatMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.messages[message.SessionID] = append(r.s.messages[message.SessionID], *message)
	return nil
}

func (r *MessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.ChatMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := r.s.messages[sessionID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	out := make([]domain.ChatMessage, len(all)-start)
	copy(out, all[start:])
	return out, nil
}

// BufferStore implements domain.CodeBufferStore
type BufferStore struct{ s *Store }

func (b *BufferStore) Save(ctx context.Context, buffer *domain.CodeBuffer) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.buffers[buffer.SessionID] = *buffer
	return nil
}

func (b *BufferStore) Get(ctx context.Context, sessionID uuid.UUID) (*domain.CodeBuffer, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	buffer, ok := b.s.buffers[sessionID]
	if !ok {
		return nil, nil
	}
	return &buffer, nil
}

func (b *BufferStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	delete(b.s.buffers, sessionID)
	return nil
}

// CodeReserver implements domain.CodeReserver
type CodeReserver struct{ s *Store }

func (c *CodeReserver) Reserve(ctx context.Context, code string, sessionID uuid.UUID) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	code = strings.ToUpper(code)
	if _, taken := c.s.codes[code]; taken {
		return false, nil
	}
	c.s.codes[code] = sessionID
	return true, nil
}

func (c *CodeReserver) Lookup(ctx context.Context, code string) (uuid.UUID, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	return c.s.codes[strings.ToUpper(code)], nil
}

func (c *CodeReserver) Release(ctx context.Context, code string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	delete(c.s.codes, strings.ToUpper(code))
	return nil
}
