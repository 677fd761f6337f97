package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/broadcomms/meeting-ledger/internal/dns"
	"github.com/broadcomms/meeting-ledger/internal/logging"
	"github.com/broadcomms/meeting-ledger/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var (
	ErrClosed        = errors.New("signaling connection closed")
	ErrNotConnected  = errors.New("signaling connection not established")
	ErrSendQueueFull = errors.New("signaling send queue full")
)

// Client is the websocket link to the relay. Messages are delivered in the
// order they were received; Incoming is closed when the link drops.
type Client struct {
	url    string
	header http.Header
	log    *slog.Logger

	conn     *websocket.Conn
	incoming chan *protocol.Message
	outgoing chan *protocol.Message
	done     chan struct{}
	once     sync.Once
}

// NewClient creates a client for the websocket url. header is sent with the
// upgrade request and may be nil.
func NewClient(url string, header http.Header, log *slog.Logger) *Client {
	return &Client{
		url:      url,
		header:   header,
		log:      logging.OrDefault(log).With("component", "signaling"),
		incoming: make(chan *protocol.Message, sendBuffer),
		outgoing: make(chan *protocol.Message, sendBuffer),
		done:     make(chan struct{}),
	}
}

// Connect dials the relay and starts the read and write pumps.
func (c *Client) Connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = dns.DialContext

	conn, resp, err := dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return fmt.Errorf("connect %s: %w", c.url, err)
	}
	c.conn = conn

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	c.log.Debug("connected", "url", c.url)
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("read failed", "error", err)
			}
			return
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Warn("write failed", "event", msg.Type, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// Flush what was queued before Close, such as a leave.
			for len(c.outgoing) > 0 {
				if err := c.conn.WriteJSON(<-c.outgoing); err != nil {
					return
				}
			}
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues an event for the relay. It never blocks.
func (c *Client) Send(event string, payload any) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return fmt.Errorf("%w: dropping %s", ErrSendQueueFull, event)
	}
}

// Incoming returns received messages in order.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Close sends a close frame and stops both pumps. Safe to call more than
// once.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}
