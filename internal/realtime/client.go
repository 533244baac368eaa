package realtime

import (
	"sync/atomic"
	"time"

	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client is one websocket connection of a participant
type Client struct {
	conn      *websocket.Conn
	sessionID uuid.UUID
	user      domain.User

	// send is closed by the hub, and only when it drops the client
	send chan []byte

	// departed is set when the hub drops the client because its user already
	// left or the session ended, so no leave is owed on disconnect
	departed atomic.Bool
}

func newClient(conn *websocket.Conn, sessionID uuid.UUID, user domain.User, bufferSize int) *Client {
	return &Client{
		conn:      conn,
		sessionID: sessionID,
		user:      user,
		send:      make(chan []byte, bufferSize),
	}
}

type pumpConfig struct {
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

// readPump hands every inbound frame to handle until the connection fails
// or goes silent past the pong deadline
func (c *Client) readPump(cfg pumpConfig, handle func([]byte)) {
	c.conn.SetReadLimit(cfg.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).
					Str("session_id", c.sessionID.String()).
					Str("user_id", c.user.ID).
					Msg("websocket closed unexpectedly")
			}
			return
		}
		handle(data)
	}
}

// writePump is the only writer of the connection
func (c *Client) writePump(cfg pumpConfig) {
	ticker := time.NewTicker(cfg.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
