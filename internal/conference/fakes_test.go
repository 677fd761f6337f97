package conference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/broadcomms/meeting-ledger/internal/media"
	"github.com/broadcomms/meeting-ledger/internal/protocol"
	pion "github.com/pion/webrtc/v4"
)

var errFake = errors.New("fake transport failure")

// fakeTrack is a remote track handed to the renderer.
type fakeTrack struct {
	id, stream string
	kind       pion.RTPCodecType
}

func (t fakeTrack) ID() string              { return t.id }
func (t fakeTrack) StreamID() string        { return t.stream }
func (t fakeTrack) Kind() pion.RTPCodecType { return t.kind }

// fakeFactory creates fakeTransports and remembers them per peer.
type fakeFactory struct {
	owner string

	mu         sync.Mutex
	transports map[string][]*fakeTransport
	failOffer  map[string]error
	// Gates hold the matching operation until closed.
	offerGate  chan struct{}
	answerGate chan struct{}
	remoteGate chan struct{}
}

func newFakeFactory(owner string) *fakeFactory {
	return &fakeFactory{owner: owner, transports: make(map[string][]*fakeTransport), failOffer: make(map[string]error)}
}

func (f *fakeFactory) NewTransport(peerID string, events TransportEvents) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{
		factory: f,
		owner:   f.owner,
		peer:    peerID,
		events:  events,
		seq:     len(f.transports[peerID]),
	}
	f.transports[peerID] = append(f.transports[peerID], t)
	return t, nil
}

func (f *fakeFactory) all(peerID string) []*fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTransport(nil), f.transports[peerID]...)
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ts := range f.transports {
		n += len(ts)
	}
	return n
}

func (f *fakeFactory) gate(which string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch which {
	case "offer":
		return f.offerGate
	case "answer":
		return f.answerGate
	}
	return f.remoteGate
}

type fakeTransport struct {
	factory *fakeFactory
	owner   string
	peer    string
	seq     int
	events  TransportEvents

	mu             sync.Mutex
	tracks         int
	local          *pion.SessionDescription
	remote         *pion.SessionDescription
	candidates     []string
	earlyCandidate bool
	closed         int
	signalled      bool
}

func wait(gate chan struct{}) {
	if gate != nil {
		<-gate
	}
}

func (t *fakeTransport) AddTracks(tracks []pion.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks += len(tracks)
	return nil
}

func (t *fakeTransport) CreateOffer() (pion.SessionDescription, error) {
	wait(t.factory.gate("offer"))
	t.factory.mu.Lock()
	err := t.factory.failOffer[t.peer]
	t.factory.mu.Unlock()
	if err != nil {
		return pion.SessionDescription{}, err
	}
	return t.setLocal(pion.SDPTypeOffer)
}

func (t *fakeTransport) CreateAnswer() (pion.SessionDescription, error) {
	wait(t.factory.gate("answer"))
	t.mu.Lock()
	hasRemote := t.remote != nil
	t.mu.Unlock()
	if !hasRemote {
		return pion.SessionDescription{}, errors.New("answer without remote offer")
	}
	return t.setLocal(pion.SDPTypeAnswer)
}

func (t *fakeTransport) setLocal(typ pion.SDPType) (pion.SessionDescription, error) {
	desc := pion.SessionDescription{Type: typ, SDP: fmt.Sprintf("%s %s->%s #%d", typ, t.owner, t.peer, t.seq)}
	t.mu.Lock()
	t.local = &desc
	t.mu.Unlock()

	t.events.ICECandidate(pion.ICECandidateInit{Candidate: fmt.Sprintf("candidate %s #%d", t.owner, t.seq)})
	t.maybeConnected()
	return desc, nil
}

func (t *fakeTransport) SetRemoteDescription(desc pion.SessionDescription) error {
	wait(t.factory.gate("remote"))
	t.mu.Lock()
	t.remote = &desc
	t.mu.Unlock()
	t.maybeConnected()
	return nil
}

// maybeConnected raises a track and the connected state once both
// descriptions are set.
func (t *fakeTransport) maybeConnected() {
	t.mu.Lock()
	ready := t.local != nil && t.remote != nil && !t.signalled
	if ready {
		t.signalled = true
	}
	t.mu.Unlock()
	if !ready {
		return
	}
	t.events.Track(fakeTrack{id: "video", stream: "meshcall-" + t.peer, kind: pion.RTPCodecTypeVideo})
	t.events.StateChange(pion.PeerConnectionStateConnected)
}

func (t *fakeTransport) AddICECandidate(cand pion.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		t.earlyCandidate = true
		return errors.New("candidate before remote description")
	}
	t.candidates = append(t.candidates, cand.Candidate)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) appliedCandidates() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.candidates...)
}

// fakeRenderer records calls. It is only touched from the coordinator
// goroutine, but tests read it from theirs.
type fakeRenderer struct {
	mu       sync.Mutex
	attached map[string]int
	detached map[string]int
	media    map[string]media.State
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{attached: map[string]int{}, detached: map[string]int{}, media: map[string]media.State{}}
}

func (r *fakeRenderer) Attach(peerID, _ string, _ RemoteTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached[peerID]++
}

func (r *fakeRenderer) Detach(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached[peerID]++
}

func (r *fakeRenderer) MediaChanged(peerID string, state media.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.media[peerID] = state
}

func (r *fakeRenderer) detachCount(peerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detached[peerID]
}

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) Report(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

type failingCapturer struct{ err error }

func (c failingCapturer) Open(media.Kind) (media.Device, error) { return nil, c.err }

// sentMessage is a message a coordinator handed to its channel.
type sentMessage struct {
	Event   string
	Payload any
}

// scriptChannel lets a test play the server. Deliveries are unbuffered so a
// returned deliver means the coordinator has taken the message.
type scriptChannel struct {
	in chan *protocol.Message

	mu   sync.Mutex
	sent []sentMessage
	// failSend makes Send of the event return the error without recording it.
	failSend map[string]error
}

func newScriptChannel() *scriptChannel {
	return &scriptChannel{in: make(chan *protocol.Message), failSend: make(map[string]error)}
}

func (s *scriptChannel) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failSend[event]; err != nil {
		return err
	}
	s.sent = append(s.sent, sentMessage{Event: event, Payload: payload})
	return nil
}

func (s *scriptChannel) failOn(event string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSend[event] = err
}

func (s *scriptChannel) Incoming() <-chan *protocol.Message { return s.in }

func (s *scriptChannel) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	select {
	case s.in <- msg:
	case <-time.After(5 * time.Second):
		t.Fatalf("coordinator did not take %s", event)
	}
}

func (s *scriptChannel) sentOf(event string) []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentMessage
	for _, m := range s.sent {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

// harness runs one coordinator against a scriptChannel.
type harness struct {
	t        *testing.T
	coord    *Coordinator
	ch       *scriptChannel
	factory  *fakeFactory
	renderer *fakeRenderer
	errs     *errorLog
	result   chan error
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, session MeetingSession, capturer media.Capturer) *harness {
	t.Helper()
	if capturer == nil {
		capturer = media.FileCapturer{}
	}
	h := &harness{
		t:        t,
		ch:       newScriptChannel(),
		factory:  newFakeFactory(session.UserID),
		renderer: newFakeRenderer(),
		errs:     &errorLog{},
		result:   make(chan error, 1),
	}
	h.coord = New(Options{
		Session:    session,
		Channel:    h.ch,
		Transports: h.factory,
		Media:      media.NewSource(capturer, nil),
		Renderer:   h.renderer,
		Notifier:   h.errs,
	})
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.result <- h.coord.Run(ctx) }()
	h.t.Cleanup(func() {
		cancel()
		<-h.coord.Done()
	})
}

// sync waits for every message delivered so far to be handled.
func (h *harness) sync() []PeerInfo {
	h.t.Helper()
	return h.coord.Peers()
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatal("Run did not return")
		return nil
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func peerState(peers []PeerInfo, id string) (NegotiationState, bool) {
	for _, p := range peers {
		if p.PeerID == id {
			return p.State, true
		}
	}
	return 0, false
}
