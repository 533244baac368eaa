package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Rrens/apiquest-collab/internal/config"
	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/Rrens/apiquest-collab/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	codeCharset     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength      = 6
	maxCodeAttempts = 10
)

// ErrCodeSpaceExhausted is returned when no free session code was found
var ErrCodeSpaceExhausted = errors.New("could not allocate a unique session code")

// Repositories bundles the storage a Registry works on
type Repositories struct {
	Sessions     domain.SessionRepository
	Participants domain.ParticipantRepository
	Messages     domain.MessageRepository
	Buffers      domain.CodeBufferStore
	Codes        domain.CodeReserver
}

// sessionState serializes every mutation of one session
type sessionState struct {
	mu        sync.Mutex
	seqLoaded bool
	lastSeq   int64
	lastTS    time.Time

	// refs counts holders and waiters; guarded by Registry.mu
	refs int
}

// Registry owns sessions and their code buffers
type Registry struct {
	repos       Repositories
	cfg         config.CollaborationConfig
	broadcaster Broadcaster

	mu     sync.Mutex
	states map[uuid.UUID]*sessionState

	now      func() time.Time
	generate func() (string, error)
}

// NewRegistry creates a new session registry
func NewRegistry(repos Repositories, cfg config.CollaborationConfig, broadcaster Broadcaster) *Registry {
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	return &Registry{
		repos:       repos,
		cfg:         cfg,
		broadcaster: broadcaster,
		states:      make(map[uuid.UUID]*sessionState),
		now:         time.Now,
		generate:    generateCode,
	}
}

// lock acquires the session's mutex and returns its state with the unlock
// func. States without cached chat sequencing are dropped once unused.
func (r *Registry) lock(id uuid.UUID) (*sessionState, func()) {
	r.mu.Lock()
	st, ok := r.states[id]
	if !ok {
		st = &sessionState{}
		r.states[id] = st
	}
	st.refs++
	r.mu.Unlock()

	st.mu.Lock()
	return st, func() {
		keep := st.seqLoaded
		st.mu.Unlock()

		r.mu.Lock()
		st.refs--
		if st.refs == 0 && !keep && r.states[id] == st {
			delete(r.states, id)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) forget(id uuid.UUID) {
	r.mu.Lock()
	delete(r.states, id)
	r.mu.Unlock()
}

// CreateSession allocates a session with a unique code; the host counts as
// its first participant
func (r *Registry) CreateSession(ctx context.Context, input domain.NewSession) (*domain.Session, error) {
	capacity := input.MaxParticipants
	if capacity == 0 {
		capacity = r.cfg.DefaultMaxParticipants
	}
	if capacity < 2 || capacity > r.cfg.MaxParticipantsLimit {
		return nil, domain.ErrInvalidCapacity
	}

	language := input.Language
	if language == "" {
		language = r.cfg.DefaultLanguage
	}

	id := uuid.New()
	code, err := r.reserveCode(ctx, id)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	session := &domain.Session{
		ID:                  id,
		ChallengeID:         input.ChallengeID,
		HostUserID:          input.HostUserID,
		HostUsername:        input.HostUsername,
		SessionCode:         code,
		Language:            language,
		IsActive:            true,
		MaxParticipants:     capacity,
		CurrentParticipants: 1,
		CreatedAt:           now,
	}

	buffer := &domain.CodeBuffer{
		SessionID: id,
		Content:   input.InitialCode,
		Language:  language,
		UpdatedAt: now,
		UpdatedBy: input.HostUserID,
	}
	if err := r.repos.Buffers.Save(ctx, buffer); err != nil {
		r.releaseCode(ctx, code)
		return nil, fmt.Errorf("failed to initialize code buffer: %w", err)
	}

	if err := r.repos.Sessions.Create(ctx, session); err != nil {
		r.releaseCode(ctx, code)
		_ = r.repos.Buffers.Delete(ctx, id)
		return nil, err
	}

	metrics.SessionStarted()
	log.Info().
		Str("session_id", id.String()).
		Str("challenge_id", session.ChallengeID).
		Str("code", code).
		Int("max_participants", capacity).
		Msg("session created")

	return session, nil
}

func (r *Registry) reserveCode(ctx context.Context, id uuid.UUID) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := r.generate()
		if err != nil {
			return "", fmt.Errorf("failed to generate session code: %w", err)
		}
		ok, err := r.repos.Codes.Reserve(ctx, code, id)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
		log.Debug().Str("code", code).Int("attempt", attempt+1).Msg("session code collision")
	}
	return "", ErrCodeSpaceExhausted
}

func (r *Registry) releaseCode(ctx context.Context, code string) {
	if err := r.repos.Codes.Release(ctx, code); err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to release session code")
	}
}

func generateCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(codeCharset)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeCharset[n.Int64()])
	}
	return sb.String(), nil
}

// GetSession returns a session by id
func (r *Registry) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return r.repos.Sessions.Get(ctx, id)
}

// FindSessionByCode resolves a session code case-insensitively. The active
// holder of the code wins; otherwise the most recent ended session carrying
// it is returned so callers can report it as inactive.
func (r *Registry) FindSessionByCode(ctx context.Context, code string) (*domain.Session, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != codeLength {
		return nil, domain.ErrSessionNotFound
	}

	id, err := r.repos.Codes.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if id != uuid.Nil {
		return r.repos.Sessions.Get(ctx, id)
	}
	return r.repos.Sessions.GetByCode(ctx, code)
}

// ListActiveSessions returns active sessions, newest first
func (r *Registry) ListActiveSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	return r.repos.Sessions.ListActive(ctx, filter)
}

// UpdateCodeBuffer overwrites the shared buffer. Concurrent writers are not
// merged: the last write wins. onApplied runs before the session is unlocked.
func (r *Registry) UpdateCodeBuffer(ctx context.Context, sessionID uuid.UUID, content, authorUserID string, onApplied func(domain.CodeBuffer)) error {
	_, unlock := r.lock(sessionID)
	defer unlock()

	session, err := r.repos.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive {
		return domain.ErrSessionInactive
	}

	buffer := domain.CodeBuffer{
		SessionID: sessionID,
		Content:   content,
		Language:  session.Language,
		UpdatedAt: r.now().UTC(),
		UpdatedBy: authorUserID,
	}
	if err := r.repos.Buffers.Save(ctx, &buffer); err != nil {
		return err
	}

	if onApplied != nil {
		onApplied(buffer)
	}
	return nil
}

// AppendChatMessage is the single append point of a session's transcript. It
// assigns the next sequence number and a timestamp strictly after the previous
// message's. onAppended runs before the session is unlocked.
func (r *Registry) AppendChatMessage(ctx context.Context, msg domain.ChatMessage, onAppended func(domain.ChatMessage)) (*domain.ChatMessage, error) {
	st, unlock := r.lock(msg.SessionID)
	defer unlock()

	session, err := r.repos.Sessions.Get(ctx, msg.SessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return nil, domain.ErrSessionInactive
	}

	if !st.seqLoaded {
		last, err := r.repos.Messages.ListBySession(ctx, msg.SessionID, 1)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			st.lastSeq = last[0].Seq
			st.lastTS = last[0].CreatedAt
		}
		st.seqLoaded = true
	}

	// Stored timestamps keep microsecond precision
	ts := r.now().UTC().Truncate(time.Microsecond)
	if !ts.After(st.lastTS) {
		ts = st.lastTS.Add(time.Microsecond)
	}

	if msg.Kind == "" {
		msg.Kind = domain.KindMessage
	}
	msg.ID = uuid.New()
	msg.Seq = st.lastSeq + 1
	msg.CreatedAt = ts

	if err := r.repos.Messages.Create(ctx, &msg); err != nil {
		return nil, err
	}
	st.lastSeq = msg.Seq
	st.lastTS = ts

	if onAppended != nil {
		onAppended(msg)
	}
	return &msg, nil
}

// CodeBuffer returns the latest known buffer. Ended sessions yield their
// final snapshot.
func (r *Registry) CodeBuffer(ctx context.Context, sessionID uuid.UUID) (*domain.CodeBuffer, error) {
	session, err := r.repos.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		updatedAt := session.CreatedAt
		if session.EndedAt != nil {
			updatedAt = *session.EndedAt
		}
		return &domain.CodeBuffer{
			SessionID: sessionID,
			Content:   session.FinalCode,
			Language:  session.Language,
			UpdatedAt: updatedAt,
		}, nil
	}

	buffer, err := r.repos.Buffers.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if buffer == nil {
		return &domain.CodeBuffer{SessionID: sessionID, Language: session.Language, UpdatedAt: session.CreatedAt}, nil
	}
	return buffer, nil
}

// ChatHistory returns up to limit of the latest messages, oldest first
func (r *Registry) ChatHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.ChatMessage, error) {
	if _, err := r.repos.Sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > r.cfg.ChatHistoryLimit {
		limit = r.cfg.ChatHistoryLimit
	}
	return r.repos.Messages.ListBySession(ctx, sessionID, limit)
}

// EndSession moves a session to its terminal state. Ending an ended session
// is a no-op reported through ended=false.
func (r *Registry) EndSession(ctx context.Context, sessionID uuid.UUID, reason domain.EndReason) (*domain.Session, bool, error) {
	_, unlock := r.lock(sessionID)
	defer unlock()

	session, err := r.repos.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if !session.IsActive {
		r.forget(sessionID)
		return session, false, nil
	}

	if err := r.endLocked(ctx, session, reason); err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// endLocked requires the session lock; it updates session in place
func (r *Registry) endLocked(ctx context.Context, session *domain.Session, reason domain.EndReason) error {
	var finalCode string
	buffer, err := r.repos.Buffers.Get(ctx, session.ID)
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to read code buffer for final snapshot")
	} else if buffer != nil {
		finalCode = buffer.Content
	}

	now := r.now().UTC()
	if err := r.repos.Sessions.End(ctx, session.ID, now, reason, finalCode); err != nil {
		return err
	}
	if err := r.repos.Participants.DeactivateAll(ctx, session.ID, now); err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to deactivate participants")
	}
	if err := r.repos.Buffers.Delete(ctx, session.ID); err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to discard code buffer")
	}
	r.releaseCode(ctx, session.SessionCode)

	session.IsActive = false
	session.CurrentParticipants = 0
	session.EndedAt = &now
	session.EndReason = reason
	session.FinalCode = finalCode

	r.broadcaster.SessionEnded(session.ID, reason)
	r.forget(session.ID)
	metrics.SessionEnded(string(reason))

	log.Info().
		Str("session_id", session.ID.String()).
		Str("reason", string(reason)).
		Msg("session ended")
	return nil
}
