package relay

import (
	"log/slog"
	"time"

	"github.com/broadcomms/meeting-ledger/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP with many candidates fits.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is one websocket connection to the relay.
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn

	// SessionID identifies this connection to other participants.
	SessionID string

	// UserID comes from the X-User-ID upgrade header or the join payload.
	UserID      string
	DisplayName string

	// MeetingID is set while the client is in a meeting. Owned by the hub.
	MeetingID string

	// Send is drained by WritePump. The hub closes it on unregister or when
	// the client falls behind, and sets closed.
	Send   chan *protocol.Message
	closed bool
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, sessionID, userID string) *Client {
	return &Client{
		Hub:       hub,
		Conn:      conn,
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan *protocol.Message, sendBuffer),
	}
}

func (c *Client) logger() *slog.Logger {
	log := c.Hub.log.With("session", c.SessionID)
	if c.Conn != nil {
		log = log.With("remote", c.Conn.RemoteAddr().String())
	}
	return log
}

// ReadPump feeds the hub until the connection fails, then unregisters.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg protocol.Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger().Warn("read failed", "error", err)
			}
			return
		}
		c.Hub.Broadcast <- &Inbound{Client: c, Message: &msg}
	}
}

// WritePump writes queued messages and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(msg); err != nil {
				c.logger().Warn("write failed", "event", msg.Type, "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
