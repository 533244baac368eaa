package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Rrens/apiquest-collab/internal/config"
	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/Rrens/apiquest-collab/internal/metrics"
	"github.com/Rrens/apiquest-collab/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const leaveTimeout = 10 * time.Second

// RateLimiter throttles chat per user
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, int, time.Time, error)
}

// Channel carries code, chat and presence events between the participants
// of a session. It only requests mutations from the services and broadcasts
// their results.
type Channel struct {
	hub        *Hub
	registry   *service.Registry
	membership *service.Membership
	lifecycle  *service.Lifecycle
	limiter    RateLimiter

	pump       pumpConfig
	bufferSize int
	upgrader   websocket.Upgrader

	// live counts attached connections until their teardown completes
	live sync.WaitGroup
}

// NewChannel creates a new synchronization channel. limiter may be nil.
func NewChannel(
	hub *Hub,
	registry *service.Registry,
	membership *service.Membership,
	lifecycle *service.Lifecycle,
	limiter RateLimiter,
	cfg config.CollaborationConfig,
) *Channel {
	return &Channel{
		hub:        hub,
		registry:   registry,
		membership: membership,
		lifecycle:  lifecycle,
		limiter:    limiter,
		pump: pumpConfig{
			writeWait:      cfg.WriteWait,
			pongWait:       cfg.IdleTimeout,
			pingPeriod:     cfg.PingPeriod(),
			maxMessageSize: cfg.MaxMessageSize,
		},
		bufferSize: cfg.SendBufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Serve upgrades the request and runs the connection until it closes. An
// error is returned only when the request is rejected before the upgrade.
func (ch *Channel) Serve(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID, user domain.User) error {
	if err := ch.lifecycle.CheckParticipant(r.Context(), sessionID, user.ID); err != nil {
		return err
	}

	conn, err := ch.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("websocket upgrade failed")
		return nil
	}

	client := newClient(conn, sessionID, user, ch.bufferSize)
	err = ch.lifecycle.Attach(r.Context(), sessionID, user.ID, func(state *domain.JoinResult) {
		ch.hub.Register(client)
		ch.hub.Send(client, newSessionState(state))
	})
	if err != nil {
		// Membership changed between the check and the upgrade
		data, _ := encode(newError(errorMessage(err)))
		conn.SetWriteDeadline(time.Now().Add(ch.pump.writeWait))
		conn.WriteMessage(websocket.TextMessage, data)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
		conn.Close()
		return nil
	}

	ch.live.Add(1)
	defer ch.live.Done()

	log.Info().
		Str("session_id", sessionID.String()).
		Str("user_id", user.ID).
		Msg("participant connected")

	go client.writePump(ch.pump)
	client.readPump(ch.pump, func(data []byte) {
		ch.Dispatch(context.Background(), client, data)
	})
	ch.disconnect(client)
	return nil
}

// Drain waits until every attached connection has been torn down
func (ch *Channel) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ch.live.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch handles one inbound frame of client
func (ch *Channel) Dispatch(ctx context.Context, client *Client, data []byte) {
	msg, kind, err := DecodeInbound(data)
	if err != nil {
		ch.hub.Send(client, newError(err.Error()))
		return
	}
	metrics.EventReceived(string(kind))

	switch m := msg.(type) {
	case CodeUpdate:
		err = ch.registry.UpdateCodeBuffer(ctx, client.sessionID, m.Code, client.user.ID, func(b domain.CodeBuffer) {
			ch.hub.Broadcast(client.sessionID, CodeUpdateEvent{Type: MsgCodeUpdate, Code: b.Content}, client)
		})
	case ChatMessage:
		err = ch.appendChat(ctx, client, domain.KindMessage, m.Message)
	case CodeShare:
		err = ch.appendChat(ctx, client, domain.KindCodeShare, m.Code)
	case CursorUpdate:
		err = ch.moveCursor(ctx, client, m)
	}

	if err != nil {
		if !isDomainError(err) {
			log.Error().Err(err).
				Str("session_id", client.sessionID.String()).
				Str("user_id", client.user.ID).
				Str("type", string(kind)).
				Msg("failed to handle websocket message")
		}
		ch.hub.Send(client, newError(errorMessage(err)))
	}
}

var (
	errEmptyMessage   = errors.New("message must not be empty")
	errRateLimited    = errors.New("rate limit exceeded")
	errNegativeCursor = errors.New("cursor position must not be negative")
)

func (ch *Channel) appendChat(ctx context.Context, client *Client, kind domain.MessageKind, text string) error {
	if text == "" {
		return errEmptyMessage
	}
	if ch.limiter != nil {
		allowed, _, _, err := ch.limiter.Allow(ctx, "chat:"+client.user.ID)
		if err != nil {
			// Chat stays available when the limiter backend is down
			log.Warn().Err(err).Msg("chat rate limiter unavailable")
		} else if !allowed {
			return errRateLimited
		}
	}

	_, err := ch.registry.AppendChatMessage(ctx, domain.ChatMessage{
		SessionID: client.sessionID,
		UserID:    client.user.ID,
		Username:  client.user.Username,
		Kind:      kind,
		Message:   text,
	}, func(m domain.ChatMessage) {
		ch.hub.Broadcast(client.sessionID, newChatEvent(m), nil)
	})
	return err
}

func (ch *Channel) moveCursor(ctx context.Context, client *Client, m CursorUpdate) error {
	if m.Line < 0 || m.Column < 0 {
		return errNegativeCursor
	}
	p, err := ch.membership.Touch(ctx, client.sessionID, client.user.ID, &domain.CursorPosition{Line: m.Line, Column: m.Column})
	if err != nil {
		return err
	}
	ch.hub.Broadcast(client.sessionID, CursorEvent{
		Type:     MsgCursorUpdate,
		UserID:   p.UserID,
		Username: p.Username,
		Line:     m.Line,
		Column:   m.Column,
	}, client)
	return nil
}

// disconnect is the single teardown path of a connection. Losing the last
// connection of a user counts as leaving the session.
func (ch *Channel) disconnect(client *Client) {
	last := ch.hub.Unregister(client)
	client.conn.Close()

	if client.departed.Load() || !last {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	err := ch.membership.Leave(ctx, client.sessionID, client.user.ID)
	switch {
	case err == nil:
		log.Info().Err(domain.ErrConnectionLost).
			Str("session_id", client.sessionID.String()).
			Str("user_id", client.user.ID).
			Msg("participant left")
	case errors.Is(err, domain.ErrSessionInactive), errors.Is(err, domain.ErrNotParticipant):
	default:
		log.Error().Err(err).
			Str("session_id", client.sessionID.String()).
			Str("user_id", client.user.ID).
			Msg("failed to leave after disconnect")
	}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrSessionNotFound,
		domain.ErrSessionInactive,
		domain.ErrNotParticipant,
		errEmptyMessage,
		errRateLimited,
		errNegativeCursor,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func errorMessage(err error) string {
	if isDomainError(err) {
		return err.Error()
	}
	return "internal error"
}
