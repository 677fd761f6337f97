package rtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/broadcomms/meeting-ledger/internal/conference"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

var ErrPeerClosed = errors.New("peer connection closed")

// Error wraps a pion failure with the operation and peer it concerns.
type Error struct {
	Op   string
	Peer string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (peer %s): %v", e.Op, e.Peer, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Peer is one pion PeerConnection. Callbacks stop once Close is called.
type Peer struct {
	id     string
	pc     *pion.PeerConnection
	log    *slog.Logger
	closed atomic.Bool

	mu     sync.Mutex
	remote []*RemoteTrack
}

func (p *Peer) bind(events conference.TransportEvents) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil || p.closed.Load() || events.ICECandidate == nil {
			return
		}
		events.ICECandidate(c.ToJSON())
	})

	p.pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		if p.closed.Load() || events.StateChange == nil {
			return
		}
		events.StateChange(s)
	})

	p.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		if p.closed.Load() {
			return
		}
		rt := &RemoteTrack{track: track}
		p.mu.Lock()
		p.remote = append(p.remote, rt)
		p.mu.Unlock()

		p.log.Debug("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == pion.RTPCodecTypeVideo {
			p.requestKeyframe(track)
		}
		go rt.drain()

		if events.Track != nil {
			events.Track(rt)
		}
	})
}

func (p *Peer) requestKeyframe(track *pion.TrackRemote) {
	err := p.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
	if err != nil {
		p.log.Debug("send pli", "error", err)
	}
}

// AddTracks attaches the local tracks and drains their RTCP feedback.
func (p *Peer) AddTracks(tracks []pion.TrackLocal) error {
	for _, t := range tracks {
		sender, err := p.pc.AddTrack(t)
		if err != nil {
			return &Error{Op: "add track " + t.ID(), Peer: p.id, Err: err}
		}
		go p.readRTCP(sender)
	}
	return nil
}

// readRTCP keeps the interceptors fed; pion stalls senders whose RTCP is not
// read.
func (p *Peer) readRTCP(sender *pion.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
				p.log.Debug("keyframe requested", "track", sender.Track().ID())
			}
		}
	}
}

func (p *Peer) CreateOffer() (pion.SessionDescription, error) {
	if p.closed.Load() {
		return pion.SessionDescription{}, ErrPeerClosed
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return offer, &Error{Op: "create offer", Peer: p.id, Err: err}
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return offer, &Error{Op: "set local description", Peer: p.id, Err: err}
	}
	return offer, nil
}

func (p *Peer) CreateAnswer() (pion.SessionDescription, error) {
	if p.closed.Load() {
		return pion.SessionDescription{}, ErrPeerClosed
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return answer, &Error{Op: "create answer", Peer: p.id, Err: err}
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return answer, &Error{Op: "set local description", Peer: p.id, Err: err}
	}
	return answer, nil
}

func (p *Peer) SetRemoteDescription(desc pion.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return &Error{Op: "set remote description", Peer: p.id, Err: err}
	}
	return nil
}

func (p *Peer) AddICECandidate(cand pion.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(cand); err != nil {
		return &Error{Op: "add ice candidate", Peer: p.id, Err: err}
	}
	return nil
}

// Close releases the connection. Later calls are no-ops.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if err := p.pc.Close(); err != nil {
		return &Error{Op: "close", Peer: p.id, Err: err}
	}
	return nil
}

// RemoteTracks lists the tracks received so far.
func (p *Peer) RemoteTracks() []*RemoteTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*RemoteTrack(nil), p.remote...)
}

// RemoteTrack wraps an inbound pion track and counts what arrives on it.
type RemoteTrack struct {
	track   *pion.TrackRemote
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (t *RemoteTrack) ID() string              { return t.track.ID() }
func (t *RemoteTrack) StreamID() string        { return t.track.StreamID() }
func (t *RemoteTrack) Kind() pion.RTPCodecType { return t.track.Kind() }

// Stats returns packet and payload byte counts.
func (t *RemoteTrack) Stats() (packets, bytes uint64) {
	return t.packets.Load(), t.bytes.Load()
}

// drain consumes RTP until the track ends. Frames are not decoded.
func (t *RemoteTrack) drain() {
	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			return
		}
		t.count(pkt)
	}
}

func (t *RemoteTrack) count(pkt *rtp.Packet) {
	t.packets.Add(1)
	t.bytes.Add(uint64(len(pkt.Payload)))
}
