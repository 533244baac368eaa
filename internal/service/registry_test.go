package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/Rrens/apiquest-collab/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("host counts as first participant", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 2)

		assert.Equal(t, 1, session.CurrentParticipants)
		assert.True(t, session.IsActive)
		assert.Equal(t, 2, session.MaxParticipants)
		assert.Equal(t, "javascript", session.Language)
		require.Len(t, session.SessionCode, 6)
		for _, c := range session.SessionCode {
			assert.True(t, strings.ContainsRune(codeCharset, c), "unexpected code char %q", c)
		}

		participants, err := f.membership.ListParticipants(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, participants, 1)
		assert.True(t, participants[0].IsHost)
		assert.Equal(t, host.ID, participants[0].UserID)
	})

	t.Run("zero capacity uses default", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 0)
		assert.Equal(t, 2, session.MaxParticipants)
	})

	t.Run("initial code seeds the buffer", func(t *testing.T) {
		f := newFixture(t)
		session, err := f.registry.CreateSession(ctx, domain.NewSession{
			ChallengeID: "challenge-1",
			HostUserID:  host.ID,
			Language:    "python",
			InitialCode: "print('hi')",
		})
		require.NoError(t, err)

		buffer, err := f.registry.CodeBuffer(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "print('hi')", buffer.Content)
		assert.Equal(t, "python", buffer.Language)
	})

	t.Run("invalid capacity", func(t *testing.T) {
		f := newFixture(t)
		for _, capacity := range []int{1, -3, 11} {
			_, err := f.registry.CreateSession(ctx, domain.NewSession{ChallengeID: "c", MaxParticipants: capacity})
			assert.ErrorIs(t, err, domain.ErrInvalidCapacity, "capacity %d", capacity)
		}
	})

	t.Run("repository failure releases the code", func(t *testing.T) {
		store := memory.NewStore()
		sessions := new(MockSessionRepository)
		sessions.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

		r := NewRegistry(Repositories{
			Sessions:     sessions,
			Participants: store.Participants(),
			Messages:     store.Messages(),
			Buffers:      store.Buffers(),
			Codes:        store.Codes(),
		}, testConfig(), nil)
		r.generate = func() (string, error) { return "ABCDEF", nil }

		_, err := r.CreateSession(ctx, domain.NewSession{ChallengeID: "c"})
		require.Error(t, err)

		id, err := store.Codes().Lookup(ctx, "ABCDEF")
		require.NoError(t, err)
		assert.Equal(t, uuid.Nil, id)
		sessions.AssertExpectations(t)
	})
}

func TestRegistry_CodeCollisions(t *testing.T) {
	ctx := context.Background()

	t.Run("retries until a free code", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.store.Codes().Reserve(ctx, "AAAAAA", uuid.New())
		require.NoError(t, err)

		codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
		f.registry.generate = func() (string, error) {
			code := codes[0]
			codes = codes[1:]
			return code, nil
		}

		session := f.createSession(t, 2)
		assert.Equal(t, "BBBBBB", session.SessionCode)
	})

	t.Run("gives up after ten attempts", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.store.Codes().Reserve(ctx, "AAAAAA", uuid.New())
		require.NoError(t, err)

		attempts := 0
		f.registry.generate = func() (string, error) {
			attempts++
			return "AAAAAA", nil
		}

		_, err = f.registry.CreateSession(ctx, domain.NewSession{ChallengeID: "c"})
		assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
		assert.Equal(t, maxCodeAttempts, attempts)
	})

	t.Run("active codes are unique", func(t *testing.T) {
		f := newFixture(t)
		seen := map[string]bool{}
		for i := 0; i < 50; i++ {
			session := f.createSession(t, 2)
			assert.False(t, seen[session.SessionCode], "duplicate code %s", session.SessionCode)
			seen[session.SessionCode] = true
		}
	})
}

func TestRegistry_FindSessionByCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.createSession(t, 2)

	found, err := f.registry.FindSessionByCode(ctx, strings.ToLower(session.SessionCode))
	require.NoError(t, err)
	assert.Equal(t, session.ID, found.ID)

	_, err = f.registry.FindSessionByCode(ctx, "ABC")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = f.registry.FindSessionByCode(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, _, err = f.registry.EndSession(ctx, session.ID, domain.EndReasonEndedByHost)
	require.NoError(t, err)

	found, err = f.registry.FindSessionByCode(ctx, session.SessionCode)
	require.NoError(t, err)
	assert.Equal(t, session.ID, found.ID)
	assert.False(t, found.IsActive)
}

func TestRegistry_UpdateCodeBuffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.createSession(t, 2)

	var applied []string
	record := func(b domain.CodeBuffer) { applied = append(applied, b.Content) }

	require.NoError(t, f.registry.UpdateCodeBuffer(ctx, session.ID, "a", host.ID, record))
	require.NoError(t, f.registry.UpdateCodeBuffer(ctx, session.ID, "b", guest.ID, record))
	assert.Equal(t, []string{"a", "b"}, applied)

	buffer, err := f.registry.CodeBuffer(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", buffer.Content)
	assert.Equal(t, guest.ID, buffer.UpdatedBy)

	_, _, err = f.registry.EndSession(ctx, session.ID, domain.EndReasonEndedByHost)
	require.NoError(t, err)

	err = f.registry.UpdateCodeBuffer(ctx, session.ID, "c", host.ID, record)
	assert.ErrorIs(t, err, domain.ErrSessionInactive)

	err = f.registry.UpdateCodeBuffer(ctx, uuid.New(), "c", host.ID, record)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRegistry_AppendChatMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("same instant still yields strictly increasing timestamps", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 2)

		first, err := f.registry.AppendChatMessage(ctx, domain.ChatMessage{SessionID: session.ID, UserID: host.ID, Message: "hi"}, nil)
		require.NoError(t, err)
		second, err := f.registry.AppendChatMessage(ctx, domain.ChatMessage{SessionID: session.ID, UserID: guest.ID, Message: "hello"}, nil)
		require.NoError(t, err)

		assert.Equal(t, int64(1), first.Seq)
		assert.Equal(t, int64(2), second.Seq)
		assert.True(t, second.CreatedAt.After(first.CreatedAt))
		assert.Equal(t, domain.KindMessage, first.Kind)
	})

	t.Run("sequence resumes from stored history", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 2)
		require.NoError(t, f.store.Messages().Create(ctx, &domain.ChatMessage{
			ID: uuid.New(), SessionID: session.ID, Seq: 41, CreatedAt: f.clock.Now(),
		}))

		msg, err := f.registry.AppendChatMessage(ctx, domain.ChatMessage{SessionID: session.ID, Message: "next"}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(42), msg.Seq)
	})

	t.Run("callbacks observe append order under contention", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 2)

		var mu sync.Mutex
		var observed []int64
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.registry.AppendChatMessage(ctx, domain.ChatMessage{SessionID: session.ID, Message: "m"}, func(m domain.ChatMessage) {
					mu.Lock()
					observed = append(observed, m.Seq)
					mu.Unlock()
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		require.Len(t, observed, 50)
		for i, seq := range observed {
			assert.Equal(t, int64(i+1), seq)
		}

		history, err := f.registry.ChatHistory(ctx, session.ID, 0)
		require.NoError(t, err)
		require.Len(t, history, 50)
		for i := 1; i < len(history); i++ {
			assert.True(t, history[i].CreatedAt.After(history[i-1].CreatedAt))
		}
	})

	t.Run("ended session rejects messages", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 2)
		_, _, err := f.registry.EndSession(ctx, session.ID, domain.EndReasonEndedByHost)
		require.NoError(t, err)

		_, err = f.registry.AppendChatMessage(ctx, domain.ChatMessage{SessionID: session.ID, Message: "late"}, nil)
		assert.ErrorIs(t, err, domain.ErrSessionInactive)
	})
}

func TestRegistry_EndSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.createSession(t, 3)
	_, err := f.membership.Join(ctx, session.ID, guest.ID, guest.Username)
	require.NoError(t, err)
	require.NoError(t, f.registry.UpdateCodeBuffer(ctx, session.ID, "final answer", guest.ID, nil))

	ended, changed, err := f.registry.EndSession(ctx, session.ID, domain.EndReasonEndedByHost)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, ended.IsActive)
	assert.Equal(t, 0, ended.CurrentParticipants)
	assert.Equal(t, "final answer", ended.FinalCode)
	require.NotNil(t, ended.EndedAt)

	participants, err := f.store.Participants().ListActive(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, participants)

	stored, err := f.store.Buffers().Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	buffer, err := f.registry.CodeBuffer(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "final answer", buffer.Content)

	id, err := f.store.Codes().Lookup(ctx, session.SessionCode)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, id)

	again, changed, err := f.registry.EndSession(ctx, session.ID, domain.EndReasonEmpty)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.EndReasonEndedByHost, again.EndReason)

	f.broadcaster.AssertNumberOfCalls(t, "SessionEnded", 1)

	_, _, err = f.registry.EndSession(ctx, uuid.New(), domain.EndReasonEmpty)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRegistry_ListActiveSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.createSession(t, 2)
	second := f.createSession(t, 2)

	_, _, err := f.registry.EndSession(ctx, first.ID, domain.EndReasonEndedByHost)
	require.NoError(t, err)

	sessions, err := f.registry.ListActiveSessions(ctx, domain.SessionFilter{ChallengeID: "challenge-1"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, second.ID, sessions[0].ID)

	sessions, err = f.registry.ListActiveSessions(ctx, domain.SessionFilter{ChallengeID: "other"})
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
