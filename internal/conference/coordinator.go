package conference

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/broadcomms/meeting-ledger/internal/logging"
	"github.com/broadcomms/meeting-ledger/internal/media"
	"github.com/broadcomms/meeting-ledger/internal/protocol"
	"github.com/broadcomms/meeting-ledger/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

// Channel is the ordered, bidirectional signaling link.
type Channel interface {
	Send(event string, payload any) error
	// Incoming is closed when the link is lost.
	Incoming() <-chan *protocol.Message
}

// Transport is one peer connection. Methods may block and are called from
// task goroutines, so implementations must be safe for concurrent use.
type Transport interface {
	AddTracks(tracks []pion.TrackLocal) error
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (pion.SessionDescription, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer() (pion.SessionDescription, error)
	SetRemoteDescription(desc pion.SessionDescription) error
	AddICECandidate(cand pion.ICECandidateInit) error
	Close() error
}

// TransportEvents are the callbacks a Transport raises. They may be invoked
// from any goroutine.
type TransportEvents struct {
	ICECandidate func(pion.ICECandidateInit)
	Track        func(RemoteTrack)
	StateChange  func(pion.PeerConnectionState)
}

type TransportFactory interface {
	NewTransport(peerID string, events TransportEvents) (Transport, error)
}

// RemoteTrack is an inbound track from a peer.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() pion.RTPCodecType
}

// Renderer displays remote participants. Calls come from the coordinator
// goroutine and must not block.
type Renderer interface {
	Attach(peerID, displayName string, track RemoteTrack)
	Detach(peerID string)
	MediaChanged(peerID string, state media.State)
}

// LocalMedia acquires the local capture stream.
type LocalMedia interface {
	Acquire(ctx context.Context, streamID string) (*media.Stream, error)
}

// MeetingSession identifies the local participant in one meeting.
type MeetingSession struct {
	MeetingID   string
	UserID      string
	DisplayName string
	Organizer   bool
	// WaitForStart defers joining until conference_started arrives.
	WaitForStart bool
}

type phase int

const (
	phaseIdle phase = iota
	phaseWaiting
	phaseJoined
	phaseEnded
)

const (
	eventBuffer     = 256
	maxEarlyPerPeer = 64
	streamIDPrefix  = "meshcall-"
)

type Options struct {
	Session    MeetingSession
	Channel    Channel
	Transports TransportFactory
	Media      LocalMedia
	Renderer   Renderer
	Notifier   Notifier
	Logger     *slog.Logger
}

// Coordinator maintains one peer connection to every other participant of a
// meeting. All state is owned by the Run goroutine; the exported methods post
// work to it.
type Coordinator struct {
	session    MeetingSession
	channel    Channel
	transports TransportFactory
	media      LocalMedia
	renderer   Renderer
	notifier   Notifier
	log        *slog.Logger

	router   *signaling.Router
	selfID   string
	registry *Registry
	early    map[string][]pion.ICECandidateInit
	seen     map[string]PeerInfo
	stream   *media.Stream
	phase    phase
	endErr   error
	ctx      context.Context

	events  chan func()
	done    chan struct{}
	closing sync.WaitGroup
}

func New(opts Options) *Coordinator {
	c := &Coordinator{
		session:    opts.Session,
		channel:    opts.Channel,
		transports: opts.Transports,
		media:      opts.Media,
		renderer:   opts.Renderer,
		notifier:   opts.Notifier,
		log:        logging.OrDefault(opts.Logger).With("component", "conference", "meeting", opts.Session.MeetingID),
		router:     signaling.NewRouter(),
		registry:   NewRegistry(),
		early:      make(map[string][]pion.ICECandidateInit),
		seen:       make(map[string]PeerInfo),
		events:     make(chan func(), eventBuffer),
		done:       make(chan struct{}),
	}
	if c.renderer == nil {
		c.renderer = nopRenderer{}
	}
	if c.notifier == nil {
		c.notifier = NotifierFunc(func(error) {})
	}
	c.routes()
	return c
}

// Run joins the meeting and processes signaling until the session ends. It
// returns nil after Leave, ErrChannelClosed when the link drops,
// ErrConferenceEnded when the organizer stops the meeting, or the media
// acquisition error if the local stream could not be opened.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.closing.Wait()
	defer close(c.done)
	c.ctx = ctx

	if c.session.WaitForStart {
		c.phase = phaseWaiting
		c.log.Info("waiting for the conference to start")
	} else if err := c.join(ctx); err != nil {
		return err
	}

	incoming := c.channel.Incoming()
	for {
		select {
		case <-ctx.Done():
			c.sendLeave()
			c.end(ctx.Err())
		case msg, ok := <-incoming:
			if !ok {
				c.log.Warn("signaling channel lost")
				c.end(ErrChannelClosed)
				break
			}
			if err := c.router.Dispatch(msg); err != nil {
				c.log.Warn("dropping message", "event", msg.Type, "error", err)
			}
		case fn := <-c.events:
			fn()
		}

		if c.phase == phaseEnded {
			return c.endErr
		}
	}
}

// join acquires local media and announces the local participant. Nothing is
// created when acquisition fails.
func (c *Coordinator) join(ctx context.Context) error {
	stream, err := c.media.Acquire(ctx, streamIDPrefix+c.session.UserID)
	if err != nil {
		c.phase = phaseEnded
		c.endErr = &Error{Op: "acquire media", Err: err}
		return c.endErr
	}
	c.stream = stream

	err = c.channel.Send(protocol.EventJoin, protocol.JoinPayload{
		MeetingID:   c.session.MeetingID,
		UserID:      c.session.UserID,
		DisplayName: c.session.DisplayName,
	})
	if err != nil {
		c.log.Warn("send join", "error", err)
	}

	c.phase = phaseJoined
	c.log.Info("joined meeting", "user", c.session.UserID)
	return nil
}

// Leave closes every peer connection, releases local media and announces the
// departure. Run then returns nil.
func (c *Coordinator) Leave() {
	c.post(func() {
		c.sendLeave()
		c.end(nil)
	})
}

func (c *Coordinator) sendLeave() {
	if c.phase != phaseJoined {
		return
	}
	err := c.channel.Send(protocol.EventLeave, protocol.LeavePayload{MeetingID: c.session.MeetingID})
	if err != nil {
		c.log.Debug("send leave", "error", err)
	}
}

// end tears down every record and the local stream. Only the first reason is
// kept.
func (c *Coordinator) end(reason error) {
	if c.phase == phaseEnded {
		return
	}
	for _, rec := range c.registry.Records() {
		c.closeRecord(rec)
	}
	clear(c.early)
	if c.stream != nil {
		c.stream.Stop()
		c.stream = nil
	}
	c.phase = phaseEnded
	c.endErr = reason
}

func (c *Coordinator) SetVideoEnabled(enabled bool) error {
	return c.call(func() error { return c.setMedia(&enabled, nil) })
}

func (c *Coordinator) SetAudioEnabled(enabled bool) error {
	return c.call(func() error { return c.setMedia(nil, &enabled) })
}

func (c *Coordinator) ToggleVideo() error {
	return c.call(func() error {
		if c.stream == nil {
			return ErrNotJoined
		}
		enabled := !c.stream.State().VideoEnabled
		return c.setMedia(&enabled, nil)
	})
}

func (c *Coordinator) ToggleAudio() error {
	return c.call(func() error {
		if c.stream == nil {
			return ErrNotJoined
		}
		enabled := !c.stream.State().AudioEnabled
		return c.setMedia(nil, &enabled)
	})
}

// LocalMedia reports the local enablement state.
func (c *Coordinator) LocalMedia() (media.State, error) {
	var state media.State
	err := c.call(func() error {
		if c.stream == nil {
			return ErrNotJoined
		}
		state = c.stream.State()
		return nil
	})
	return state, err
}

// setMedia applies a toggle and broadcasts the full state once.
func (c *Coordinator) setMedia(video, audio *bool) error {
	if c.stream == nil {
		return ErrNotJoined
	}
	if video != nil {
		c.stream.SetVideoEnabled(*video)
	}
	if audio != nil {
		c.stream.SetAudioEnabled(*audio)
	}

	state := c.stream.State()
	return c.channel.Send(protocol.EventMediaUpdate, protocol.MediaUpdatePayload{
		MeetingID:    c.session.MeetingID,
		UserID:       c.session.UserID,
		VideoEnabled: state.VideoEnabled,
		AudioEnabled: state.AudioEnabled,
	})
}

// Peers returns the live records.
func (c *Coordinator) Peers() []PeerInfo {
	var out []PeerInfo
	if err := c.call(func() error { out = c.registry.Snapshot(); return nil }); err != nil {
		return nil
	}
	return out
}

// Summary lists every peer seen during the session with its last state. Only
// valid after Run has returned.
func (c *Coordinator) Summary() []PeerInfo {
	select {
	case <-c.done:
	default:
		return nil
	}
	out := make([]PeerInfo, 0, len(c.seen))
	for _, info := range c.seen {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Done is closed when Run returns.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// post queues fn on the Run goroutine. It reports false once Run has returned.
func (c *Coordinator) post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Coordinator) call(fn func() error) error {
	errc := make(chan error, 1)
	if !c.post(func() { errc <- fn() }) {
		return ErrSessionEnded
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrSessionEnded
		}
	}
}

func (c *Coordinator) report(err error) {
	var ce *Error
	if errors.As(err, &ce) && ce.Peer != "" {
		c.log.Warn("peer error", "peer", ce.Peer, "op", ce.Op, "error", ce.Err)
	} else {
		c.log.Warn("conference error", "error", err)
	}
	c.notifier.Report(err)
}

type nopRenderer struct{}

func (nopRenderer) Attach(string, string, RemoteTrack) {}
func (nopRenderer) Detach(string) {}
func (nopRenderer) MediaChanged(string, media.State) {}
