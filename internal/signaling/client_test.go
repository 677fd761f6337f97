package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/broadcomms/meeting-ledger/internal/protocol"
	"github.com/gorilla/websocket"
)

// echoServer replies to every message with the same message.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-ID") != "alice" {
			http.Error(w, "missing user", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := conn.WriteJSON(&msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientRoundTrip(t *testing.T) {
	srv := echoServer(t)
	c := NewClient(wsURL(srv), http.Header{"X-User-ID": []string{"alice"}}, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := c.Send(protocol.EventPeerLeft, protocol.PeerLeftPayload{PeerSessionID: id}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	for _, want := range []string{"p1", "p2", "p3"} {
		select {
		case msg := <-c.Incoming():
			var p protocol.PeerLeftPayload
			if err := msg.Decode(&p); err != nil {
				t.Fatal(err)
			}
			if p.PeerSessionID != want {
				t.Errorf("got %s, want %s", p.PeerSessionID, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestClientCloseEndsIncoming(t *testing.T) {
	srv := echoServer(t)
	c := NewClient(wsURL(srv), http.Header{"X-User-ID": []string{"alice"}}, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.Close()
	c.Close()

	select {
	case _, ok := <-c.Incoming():
		for ok {
			_, ok = <-c.Incoming()
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Incoming not closed")
	}
	if err := c.Send(protocol.EventLeave, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestClientConnectRejected(t *testing.T) {
	srv := echoServer(t)
	c := NewClient(wsURL(srv), nil, nil)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected handshake failure")
	}
	if err := c.Send(protocol.EventLeave, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send before connect = %v", err)
	}
}
