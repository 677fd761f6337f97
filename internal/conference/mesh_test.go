package conference

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/broadcomms/meeting-ledger/internal/media"
	"github.com/broadcomms/meeting-ledger/internal/protocol"
)

// meshNet plays the relay for a set of in-process coordinators: it assigns
// session ids, answers join with the roster and stamps the sender on relayed
// signals.
type meshNet struct {
	mu      sync.Mutex
	members map[string]*meshLink
	offers  []string
}

type meshLink struct {
	net    *meshNet
	sid    string
	name   string
	joined bool
	in     chan *protocol.Message
}

func newMeshNet() *meshNet {
	return &meshNet{members: make(map[string]*meshLink)}
}

func (n *meshNet) link(sid string) *meshLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	l := &meshLink{net: n, sid: sid, in: make(chan *protocol.Message, 1024)}
	n.members[sid] = l
	return l
}

func (l *meshLink) Incoming() <-chan *protocol.Message { return l.in }

func (l *meshLink) Send(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := &protocol.Message{Type: event, Payload: raw}

	n := l.net
	n.mu.Lock()
	defer n.mu.Unlock()

	switch event {
	case protocol.EventJoin:
		var p protocol.JoinPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		l.name = p.DisplayName
		roster := []protocol.Participant{}
		for _, other := range n.members {
			if other != l && other.joined {
				roster = append(roster, protocol.Participant{PeerSessionID: other.sid, DisplayName: other.name})
				other.push(protocol.EventPeerJoined, protocol.Participant{PeerSessionID: l.sid, DisplayName: l.name})
			}
		}
		l.joined = true
		l.push(protocol.EventSession, protocol.SessionPayload{PeerSessionID: l.sid})
		l.push(protocol.EventCurrentParticipants, roster)

	case protocol.EventLeave:
		l.joined = false
		for _, other := range n.members {
			if other != l && other.joined {
				other.push(protocol.EventPeerLeft, protocol.PeerLeftPayload{PeerSessionID: l.sid})
			}
		}

	case protocol.EventOffer, protocol.EventAnswer, protocol.EventICECandidate:
		var p protocol.SignalPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		target, ok := n.members[p.Target]
		if !ok || !target.joined {
			return nil
		}
		if event == protocol.EventOffer {
			n.offers = append(n.offers, l.sid+"->"+p.Target)
		}
		p.Target, p.Sender, p.DisplayName = "", l.sid, l.name
		target.push(event, p)

	case protocol.EventMediaUpdate:
		var p protocol.MediaUpdatePayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		p.Sender = l.sid
		for _, other := range n.members {
			if other != l && other.joined {
				other.push(event, p)
			}
		}
	}
	return nil
}

func (l *meshLink) push(event string, payload any) {
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		panic(err)
	}
	l.in <- msg
}

func (n *meshNet) joined(sid string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.members[sid].joined
}

func (n *meshNet) offerLog() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.offers...)
}

type meshPeer struct {
	sid      string
	coord    *Coordinator
	factory  *fakeFactory
	renderer *fakeRenderer
	done     chan error
}

func startMeshPeer(t *testing.T, n *meshNet, sid string) *meshPeer {
	t.Helper()
	p := &meshPeer{sid: sid, factory: newFakeFactory(sid), renderer: newFakeRenderer(), done: make(chan error, 1)}
	p.coord = New(Options{
		Session:    MeetingSession{MeetingID: "m1", UserID: sid, DisplayName: sid},
		Channel:    n.link(sid),
		Transports: p.factory,
		Media:      media.NewSource(media.FileCapturer{}, nil),
		Renderer:   p.renderer,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { p.done <- p.coord.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-p.coord.Done()
	})
	eventually(t, sid+" joined", func() bool { return n.joined(sid) })
	return p
}

func allConnected(p *meshPeer, want int) bool {
	peers := p.coord.Peers()
	if len(peers) != want {
		return false
	}
	for _, info := range peers {
		if info.State != StateConnected {
			return false
		}
	}
	return true
}

func TestMeshConverges(t *testing.T) {
	for _, k := range []int{2, 3, 5} {
		t.Run(fmt.Sprintf("%d participants", k), func(t *testing.T) {
			n := newMeshNet()
			var peers []*meshPeer
			for i := 0; i < k; i++ {
				peers = append(peers, startMeshPeer(t, n, fmt.Sprintf("s%d", i)))
			}

			for _, p := range peers {
				eventually(t, p.sid+" connected to everyone", func() bool { return allConnected(p, k-1) })
			}

			// Exactly one offer per pair, always from the later joiner.
			offers := n.offerLog()
			if len(offers) != k*(k-1)/2 {
				t.Errorf("offers = %v, want %d", offers, k*(k-1)/2)
			}
			seen := map[string]bool{}
			for _, o := range offers {
				if seen[o] {
					t.Errorf("duplicate offer %s", o)
				}
				seen[o] = true
			}
			for i := 0; i < k; i++ {
				for j := i + 1; j < k; j++ {
					want := fmt.Sprintf("s%d->s%d", j, i)
					if !seen[want] {
						t.Errorf("missing offer %s in %v", want, offers)
					}
				}
			}

			for _, p := range peers {
				for _, other := range peers {
					if other == p {
						continue
					}
					ts := p.factory.all(other.sid)
					if len(ts) != 1 {
						t.Errorf("%s has %d transports to %s", p.sid, len(ts), other.sid)
						continue
					}
					if ts[0].earlyCandidate {
						t.Errorf("%s applied a candidate from %s before the remote description", p.sid, other.sid)
					}
					eventually(t, "candidate exchange", func() bool { return len(ts[0].appliedCandidates()) == 1 })
				}
			}
		})
	}
}

func TestMeshSurvivesDeparture(t *testing.T) {
	n := newMeshNet()
	a := startMeshPeer(t, n, "a")
	b := startMeshPeer(t, n, "b")
	c := startMeshPeer(t, n, "c")
	for _, p := range []*meshPeer{a, b, c} {
		eventually(t, p.sid+" connected", func() bool { return allConnected(p, 2) })
	}

	c.coord.Leave()
	if err := <-c.done; err != nil {
		t.Fatalf("c Run = %v", err)
	}

	for _, p := range []*meshPeer{a, b} {
		eventually(t, p.sid+" dropped c", func() bool { return allConnected(p, 1) })
		tr := p.factory.all("c")[0]
		eventually(t, p.sid+" closed its transport to c", func() bool { return tr.closeCount() == 1 })
		if d := p.renderer.detachCount("c"); d != 1 {
			t.Errorf("%s detached c %d times", p.sid, d)
		}
	}
	if s, _ := peerState(a.coord.Peers(), "b"); s != StateConnected {
		t.Errorf("a-b state = %s", s)
	}
	if s, _ := peerState(b.coord.Peers(), "a"); s != StateConnected {
		t.Errorf("b-a state = %s", s)
	}
}

func TestMeshMediaUpdateReachesPeers(t *testing.T) {
	n := newMeshNet()
	a := startMeshPeer(t, n, "a")
	b := startMeshPeer(t, n, "b")
	eventually(t, "connected", func() bool { return allConnected(a, 1) && allConnected(b, 1) })

	if err := a.coord.SetAudioEnabled(false); err != nil {
		t.Fatalf("SetAudioEnabled: %v", err)
	}
	eventually(t, "b sees a muted", func() bool {
		b.renderer.mu.Lock()
		defer b.renderer.mu.Unlock()
		st, ok := b.renderer.media["a"]
		return ok && st == media.State{VideoEnabled: true, AudioEnabled: false}
	})
}
