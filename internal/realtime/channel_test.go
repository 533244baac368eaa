package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/apiquest-collab/internal/config"
	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/Rrens/apiquest-collab/internal/repository/memory"
	"github.com/Rrens/apiquest-collab/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	srv       *httptest.Server
	hub       *Hub
	lifecycle *service.Lifecycle
	limiter   *denyLimiter
}

type denyLimiter struct {
	mu   sync.Mutex
	deny bool
}

func (l *denyLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.deny, 0, time.Now(), nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.CollaborationConfig{
		DefaultMaxParticipants: 2,
		MaxParticipantsLimit:   10,
		DefaultLanguage:        "javascript",
		ChatHistoryLimit:       100,
		MaxMessageSize:         64 * 1024,
		SendBufferSize:         64,
		WriteWait:              time.Second,
		IdleTimeout:            5 * time.Second,
		AllowedOrigins:         []string{"*"},
	}

	store := memory.NewStore()
	hub := NewHub()
	registry := service.NewRegistry(service.Repositories{
		Sessions:     store.Sessions(),
		Participants: store.Participants(),
		Messages:     store.Messages(),
		Buffers:      store.Buffers(),
		Codes:        store.Codes(),
	}, cfg, hub)
	membership := service.NewMembership(registry, hub)
	lifecycle := service.NewLifecycle(registry, membership, hub, cfg)
	limiter := &denyLimiter{}
	channel := NewChannel(hub, registry, membership, lifecycle, limiter, cfg)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := uuid.Parse(r.URL.Query().Get("session"))
		if err != nil {
			http.Error(w, "bad session", http.StatusBadRequest)
			return
		}
		userID := r.URL.Query().Get("user")
		if err := channel.Serve(w, r, sessionID, domain.User{ID: userID, Username: userID}); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
		}
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return &harness{srv: srv, hub: hub, lifecycle: lifecycle, limiter: limiter}
}

func user(id string) domain.User {
	return domain.User{ID: id, Username: id}
}

func (h *harness) url(sessionID uuid.UUID, userID string) string {
	return fmt.Sprintf("ws%s/?session=%s&user=%s", strings.TrimPrefix(h.srv.URL, "http"), sessionID, userID)
}

// connect dials and consumes the initial session_state
func (h *harness) connect(t *testing.T, sessionID uuid.UUID, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url(sessionID, userID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	state := readEvent(t, conn)
	require.Equal(t, string(MsgSessionState), state["type"])
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event map[string]any
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestChannel_JoinPresenceAndCodeSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	session, err := h.lifecycle.CreateSession(ctx, user("alice"), domain.NewSession{ChallengeID: "challenge-1", MaxParticipants: 2})
	require.NoError(t, err)
	alice := h.connect(t, session.ID, "alice")

	_, err = h.lifecycle.JoinSession(ctx, user("bob"), domain.JoinRequest{SessionCode: session.SessionCode})
	require.NoError(t, err)

	joined := readEvent(t, alice)
	assert.Equal(t, string(MsgParticipantJoined), joined["type"])
	assert.Equal(t, "bob", joined["userId"])

	bob := h.connect(t, session.ID, "bob")

	send(t, alice, map[string]any{"type": "code_update", "code": "console.log(1)"})
	update := readEvent(t, bob)
	assert.Equal(t, map[string]any{"type": "code_update", "code": "console.log(1)"}, update)

	// Alice's next frame is her own chat message, not an echo of the code
	send(t, alice, map[string]any{"type": "chat_message", "message": "done"})
	next := readEvent(t, alice)
	assert.Equal(t, string(MsgChatMessage), next["type"])
	assert.Equal(t, "done", next["message"])
}

func TestChannel_ChatOrderIsIdenticalForEveryObserver(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	session, err := h.lifecycle.CreateSession(ctx, user("alice"), domain.NewSession{ChallengeID: "challenge-1", MaxParticipants: 3})
	require.NoError(t, err)
	for _, u := range []string{"bob", "carol"} {
		_, err := h.lifecycle.JoinSession(ctx, user(u), domain.JoinRequest{SessionID: session.ID.String()})
		require.NoError(t, err)
	}

	conns := map[string]*websocket.Conn{}
	for _, u := range []string{"alice", "bob", "carol"} {
		conns[u] = h.connect(t, session.ID, u)
	}

	const perSender = 10
	var wg sync.WaitGroup
	for _, u := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if err := conns[u].WriteJSON(map[string]any{"type": "chat_message", "message": fmt.Sprintf("%s-%d", u, i)}); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}(u)
	}
	wg.Wait()

	orders := map[string][]string{}
	for u, conn := range conns {
		var lastSeq float64
		for len(orders[u]) < 2*perSender {
			event := readEvent(t, conn)
			if event["type"] != string(MsgChatMessage) {
				continue
			}
			seq := event["seq"].(float64)
			assert.Greater(t, seq, lastSeq)
			lastSeq = seq
			orders[u] = append(orders[u], event["id"].(string))
		}
	}

	assert.Equal(t, orders["alice"], orders["bob"])
	assert.Equal(t, orders["alice"], orders["carol"])
}

func TestChannel_DisconnectCountsAsLeave(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	session, err := h.lifecycle.CreateSession(ctx, user("alice"), domain.NewSession{ChallengeID: "challenge-1", MaxParticipants: 2})
	require.NoError(t, err)
	_, err = h.lifecycle.JoinSession(ctx, user("bob"), domain.JoinRequest{SessionID: session.ID.String()})
	require.NoError(t, err)

	alice := h.connect(t, session.ID, "alice")
	bob := h.connect(t, session.ID, "bob")

	bob.Close()

	left := readEvent(t, alice)
	assert.Equal(t, string(MsgParticipantLeft), left["type"])
	assert.Equal(t, "bob", left["userId"])

	assert.Eventually(t, func() bool {
		s, err := h.lifecycle.GetSession(ctx, session.ID)
		return err == nil && s.CurrentParticipants == 1 && s.IsActive
	}, 3*time.Second, 20*time.Millisecond)
}

func TestChannel_HostDisconnectEndsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	session, err := h.lifecycle.CreateSession(ctx, user("alice"), domain.NewSession{ChallengeID: "challenge-1", MaxParticipants: 2})
	require.NoError(t, err)
	_, err = h.lifecycle.JoinSession(ctx, user("bob"), domain.JoinRequest{SessionID: session.ID.String()})
	require.NoError(t, err)

	alice := h.connect(t, session.ID, "alice")
	bob := h.connect(t, session.ID, "bob")

	alice.Close()

	assert.Equal(t, string(MsgParticipantLeft), readEvent(t, bob)["type"])
	ended := readEvent(t, bob)
	assert.Equal(t, string(MsgSessionEnded), ended["type"])
	assert.Equal(t, string(domain.EndReasonHostLeft), ended["reason"])

	s, err := h.lifecycle.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, s.IsActive)

	_, err = h.lifecycle.JoinSession(ctx, user("carol"), domain.JoinRequest{SessionCode: session.SessionCode})
	assert.ErrorIs(t, err, domain.ErrSessionInactive)
}

func TestChannel_RejectsNonParticipant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	session, err := h.lifecycle.CreateSession(ctx, user("alice"), domain.NewSession{ChallengeID: "challenge-1"})
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(h.url(session.ID, "mallory"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChannel_BadFramesKeepTheConnection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	session, err := h.lifecycle.CreateSession(ctx, user("alice"), domain.NewSession{ChallengeID: "challenge-1"})
	require.NoError(t, err)
	alice := h.connect(t, session.ID, "alice")

	send(t, alice, map[string]any{"type": "self_destruct"})
	assert.Equal(t, string(MsgError), readEvent(t, alice)["type"])

	send(t, alice, map[string]any{"type": "chat_message", "message": ""})
	empty := readEvent(t, alice)
	assert.Equal(t, string(MsgError), empty["type"])
	assert.Equal(t, errEmptyMessage.Error(), empty["message"])

	h.limiter.mu.Lock()
	h.limiter.deny = true
	h.limiter.mu.Unlock()
	send(t, alice, map[string]any{"type": "chat_message", "message": "spam"})
	limited := readEvent(t, alice)
	assert.Equal(t, errRateLimited.Error(), limited["message"])

	h.limiter.mu.Lock()
	h.limiter.deny = false
	h.limiter.mu.Unlock()
	send(t, alice, map[string]any{"type": "code_share", "code": "fetch('/api')"})
	shared := readEvent(t, alice)
	assert.Equal(t, string(MsgChatMessage), shared["type"])
	assert.Equal(t, string(domain.KindCodeShare), shared["kind"])
}
