package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/apiquest-collab/internal/config"
	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/Rrens/apiquest-collab/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockBroadcaster mocks the Broadcaster interface
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) ParticipantJoined(sessionID uuid.UUID, participant domain.Participant) {
	m.Called(sessionID, participant)
}

func (m *MockBroadcaster) ParticipantLeft(sessionID uuid.UUID, participant domain.Participant) {
	m.Called(sessionID, participant)
}

func (m *MockBroadcaster) SessionEnded(sessionID uuid.UUID, reason domain.EndReason) {
	m.Called(sessionID, reason)
}

// MockSessionRepository mocks the SessionRepository interface
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) GetByCode(ctx context.Context, code string) (*domain.Session, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) ListActive(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Session), args.Error(1)
}

func (m *MockSessionRepository) SetParticipantCount(ctx context.Context, id uuid.UUID, count int) error {
	args := m.Called(ctx, id, count)
	return args.Error(0)
}

func (m *MockSessionRepository) End(ctx context.Context, id uuid.UUID, endedAt time.Time, reason domain.EndReason, finalCode string) error {
	args := m.Called(ctx, id, endedAt, reason, finalCode)
	return args.Error(0)
}

// fakePresence reports users listed in connected as online
type fakePresence struct {
	mu        sync.Mutex
	connected map[string]bool
}

func (p *fakePresence) IsConnected(_ uuid.UUID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected[userID]
}

func (p *fakePresence) set(userID string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected[userID] = online
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store       *memory.Store
	broadcaster *MockBroadcaster
	presence    *fakePresence
	clock       *fakeClock
	registry    *Registry
	membership  *Membership
	lifecycle   *Lifecycle
}

func testConfig() config.CollaborationConfig {
	return config.CollaborationConfig{
		DefaultMaxParticipants: 2,
		MaxParticipantsLimit:   10,
		DefaultLanguage:        "javascript",
		ChatHistoryLimit:       100,
		IdleTimeout:            time.Minute,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	broadcaster := new(MockBroadcaster)
	broadcaster.On("ParticipantJoined", mock.Anything, mock.Anything).Maybe()
	broadcaster.On("ParticipantLeft", mock.Anything, mock.Anything).Maybe()
	broadcaster.On("SessionEnded", mock.Anything, mock.Anything).Maybe()

	presence := &fakePresence{connected: map[string]bool{}}
	clock := &fakeClock{t: time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)}

	cfg := testConfig()
	registry := NewRegistry(Repositories{
		Sessions:     store.Sessions(),
		Participants: store.Participants(),
		Messages:     store.Messages(),
		Buffers:      store.Buffers(),
		Codes:        store.Codes(),
	}, cfg, broadcaster)
	registry.now = clock.Now

	membership := NewMembership(registry, broadcaster)

	return &fixture{
		store:       store,
		broadcaster: broadcaster,
		presence:    presence,
		clock:       clock,
		registry:    registry,
		membership:  membership,
		lifecycle:   NewLifecycle(registry, membership, presence, cfg),
	}
}

var (
	host  = domain.User{ID: "user-host", Username: "api_master"}
	guest = domain.User{ID: "user-guest", Username: "current_user"}
	third = domain.User{ID: "user-third", Username: "late_comer"}
)

func (f *fixture) createSession(t *testing.T, capacity int) *domain.Session {
	t.Helper()
	session, err := f.lifecycle.CreateSession(context.Background(), host, domain.NewSession{
		ChallengeID:     "challenge-1",
		MaxParticipants: capacity,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (f *fixture) session(t *testing.T, id uuid.UUID) *domain.Session {
	t.Helper()
	session, err := f.registry.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return session
}
