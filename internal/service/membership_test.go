package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMembership_Join(t *testing.T) {
	ctx := context.Background()

	t.Run("second user fills a two seat session", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 2)

		p, err := f.membership.Join(ctx, session.ID, guest.ID, guest.Username)
		require.NoError(t, err)
		assert.True(t, p.IsActive)
		assert.False(t, p.IsHost)
		assert.Equal(t, 2, f.session(t, session.ID).CurrentParticipants)

		f.broadcaster.AssertCalled(t, "ParticipantJoined", session.ID, mock.MatchedBy(func(p domain.Participant) bool {
			return p.UserID == guest.ID && p.Username == guest.Username
		}))
	})

	t.Run("full session rejects without changing the count", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 2)
		_, err := f.membership.Join(ctx, session.ID, guest.ID, guest.Username)
		require.NoError(t, err)

		_, err = f.membership.Join(ctx, session.ID, third.ID, third.Username)
		assert.ErrorIs(t, err, domain.ErrSessionFull)
		assert.Equal(t, 2, f.session(t, session.ID).CurrentParticipants)
	})

	t.Run("ended session rejects", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 2)
		_, _, err := f.registry.EndSession(ctx, session.ID, domain.EndReasonEndedByHost)
		require.NoError(t, err)

		_, err = f.membership.Join(ctx, session.ID, guest.ID, guest.Username)
		assert.ErrorIs(t, err, domain.ErrSessionInactive)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.membership.Join(ctx, uuid.New(), guest.ID, guest.Username)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("rejoin while active is idempotent", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 3)

		first, err := f.membership.Join(ctx, session.ID, guest.ID, guest.Username)
		require.NoError(t, err)
		second, err := f.membership.Join(ctx, session.ID, guest.ID, guest.Username)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 2, f.session(t, session.ID).CurrentParticipants)
		f.broadcaster.AssertNumberOfCalls(t, "ParticipantJoined", 1)
	})

	t.Run("concurrent joins never exceed capacity", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 5)

		var wg sync.WaitGroup
		var mu sync.Mutex
		joined, full := 0, 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := f.membership.Join(ctx, session.ID, fmt.Sprintf("user-%d", i), "u")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					joined++
				case errors.Is(err, domain.ErrSessionFull):
					full++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 4, joined)
		assert.Equal(t, 16, full)
		assert.Equal(t, 5, f.session(t, session.ID).CurrentParticipants)

		participants, err := f.membership.ListParticipants(ctx, session.ID)
		require.NoError(t, err)
		assert.Len(t, participants, 5)
	})
}

func TestMembership_Leave(t *testing.T) {
	ctx := context.Background()

	t.Run("guest leaving keeps the session", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 3)
		_, err := f.membership.Join(ctx, session.ID, guest.ID, guest.Username)
		require.NoError(t, err)

		require.NoError(t, f.membership.Leave(ctx, session.ID, guest.ID))

		current := f.session(t, session.ID)
		assert.True(t, current.IsActive)
		assert.Equal(t, 1, current.CurrentParticipants)
		f.broadcaster.AssertCalled(t, "ParticipantLeft", session.ID, mock.MatchedBy(func(p domain.Participant) bool {
			return p.UserID == guest.ID && !p.IsActive
		}))
		f.broadcaster.AssertNotCalled(t, "SessionEnded", mock.Anything, mock.Anything)
	})

	t.Run("host leaving ends the session", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 2)
		_, err := f.membership.Join(ctx, session.ID, guest.ID, guest.Username)
		require.NoError(t, err)

		require.NoError(t, f.membership.Leave(ctx, session.ID, host.ID))

		current := f.session(t, session.ID)
		assert.False(t, current.IsActive)
		assert.Equal(t, domain.EndReasonHostLeft, current.EndReason)
		assert.Equal(t, 0, current.CurrentParticipants)
		f.broadcaster.AssertCalled(t, "SessionEnded", session.ID, domain.EndReasonHostLeft)

		_, err = f.lifecycle.JoinSession(ctx, third, domain.JoinRequest{SessionCode: session.SessionCode})
		assert.ErrorIs(t, err, domain.ErrSessionInactive)

		err = f.membership.Leave(ctx, session.ID, guest.ID)
		assert.ErrorIs(t, err, domain.ErrSessionInactive)
	})

	t.Run("everyone leaving ends with zero participants", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 5)
		users := []string{"u1", "u2", "u3", "u4"}
		for _, u := range users {
			_, err := f.membership.Join(ctx, session.ID, u, u)
			require.NoError(t, err)
		}
		assert.Equal(t, 5, f.session(t, session.ID).CurrentParticipants)

		for _, u := range users {
			require.NoError(t, f.membership.Leave(ctx, session.ID, u))
			assert.LessOrEqual(t, f.session(t, session.ID).CurrentParticipants, 5)
		}
		require.NoError(t, f.membership.Leave(ctx, session.ID, host.ID))

		current := f.session(t, session.ID)
		assert.False(t, current.IsActive)
		assert.Equal(t, 0, current.CurrentParticipants)
	})

	t.Run("last remaining non host leaving ends as empty", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 2)
		// Host record vanished without a leave, e.g. an operator cleanup
		hostRecord, err := f.store.Participants().GetActive(ctx, session.ID, host.ID)
		require.NoError(t, err)
		require.NoError(t, f.store.Participants().Deactivate(ctx, hostRecord.ID, time.Now()))
		require.NoError(t, f.store.Sessions().SetParticipantCount(ctx, session.ID, 0))

		_, err = f.membership.Join(ctx, session.ID, guest.ID, guest.Username)
		require.NoError(t, err)
		require.NoError(t, f.membership.Leave(ctx, session.ID, guest.ID))

		current := f.session(t, session.ID)
		assert.False(t, current.IsActive)
		assert.Equal(t, domain.EndReasonEmpty, current.EndReason)
	})

	t.Run("non participant", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 2)
		err := f.membership.Leave(ctx, session.ID, third.ID)
		assert.ErrorIs(t, err, domain.ErrNotParticipant)
		assert.Equal(t, 1, f.session(t, session.ID).CurrentParticipants)
	})

	t.Run("rejoin after leaving creates a new record", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t, 3)
		first, err := f.membership.Join(ctx, session.ID, guest.ID, guest.Username)
		require.NoError(t, err)
		require.NoError(t, f.membership.Leave(ctx, session.ID, guest.ID))

		second, err := f.membership.Join(ctx, session.ID, guest.ID, guest.Username)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, 2, f.session(t, session.ID).CurrentParticipants)
	})
}

func TestMembership_ListParticipants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.createSession(t, 3)

	f.clock.Advance(time.Second)
	_, err := f.membership.Join(ctx, session.ID, guest.ID, guest.Username)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.membership.Join(ctx, session.ID, third.ID, third.Username)
	require.NoError(t, err)

	participants, err := f.membership.ListParticipants(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, participants, 3)
	assert.Equal(t, host.ID, participants[0].UserID)
	assert.Equal(t, guest.ID, participants[1].UserID)
	assert.Equal(t, third.ID, participants[2].UserID)

	_, err = f.membership.ListParticipants(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestMembership_Touch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.createSession(t, 2)

	f.clock.Advance(30 * time.Second)
	p, err := f.membership.Touch(ctx, session.ID, host.ID, &domain.CursorPosition{Line: 15, Column: 8})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), p.LastSeenAt)

	stored, err := f.store.Participants().GetActive(ctx, session.ID, host.ID)
	require.NoError(t, err)
	assert.Equal(t, &domain.CursorPosition{Line: 15, Column: 8}, stored.Cursor)

	_, err = f.membership.Touch(ctx, session.ID, guest.ID, nil)
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}
