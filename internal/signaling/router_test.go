package signaling

import (
	"errors"
	"testing"

	"github.com/broadcomms/meeting-ledger/internal/protocol"
)

func TestRouterDispatch(t *testing.T) {
	r := NewRouter()
	var got []string
	r.Handle(protocol.EventPeerLeft, func(m *protocol.Message) error {
		var p protocol.PeerLeftPayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		got = append(got, p.PeerSessionID)
		return nil
	})

	msg, _ := protocol.NewMessage(protocol.EventPeerLeft, protocol.PeerLeftPayload{PeerSessionID: "p1"})
	if err := r.Dispatch(msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(got) != 1 || got[0] != "p1" {
		t.Errorf("handled %v", got)
	}

	unknown := &protocol.Message{Type: "nope", Payload: []byte(`{}`)}
	if err := r.Dispatch(unknown); !errors.Is(err, ErrUnhandledEvent) {
		t.Errorf("unknown event err = %v", err)
	}

	bad := &protocol.Message{Type: protocol.EventPeerLeft}
	if err := r.Dispatch(bad); err == nil {
		t.Error("expected decode error for empty payload")
	}

	if ev := r.Events(); len(ev) != 1 || ev[0] != protocol.EventPeerLeft {
		t.Errorf("Events = %v", ev)
	}
}
