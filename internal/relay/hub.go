package relay

import (
	"context"
	"log/slog"
	"slices"

	"github.com/broadcomms/meeting-ledger/internal/logging"
	"github.com/broadcomms/meeting-ledger/internal/protocol"
)

// Inbound is a message read from a client.
type Inbound struct {
	Client  *Client
	Message *protocol.Message
}

// Room is the set of clients joined to one meeting, in join order.
type Room struct {
	MeetingID string
	Members   []*Client
}

func (r *Room) remove(c *Client) bool {
	for i, m := range r.Members {
		if m == c {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) find(sessionID string) *Client {
	for _, m := range r.Members {
		if m.SessionID == sessionID {
			return m
		}
	}
	return nil
}

type announcement struct {
	meetingID string
	event     string
}

type rosterQuery struct {
	meetingID string
	reply     chan []protocol.Participant
}

// Hub owns every room. All state is touched only by Run.
type Hub struct {
	Rooms map[string]*Room

	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan *Inbound

	announce chan announcement
	query    chan rosterQuery
	log      *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		Rooms:      make(map[string]*Room),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *Inbound),
		announce:   make(chan announcement),
		query:      make(chan rosterQuery),
		log:        logging.OrDefault(log).With("component", "relay"),
	}
}

// Run processes hub traffic until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.Register:
			c.logger().Info("client registered", "user", c.UserID)

		case c := <-h.Unregister:
			c.logger().Info("client unregistered")
			h.drop(c)

		case in := <-h.Broadcast:
			if in.Client.closed {
				continue
			}
			h.handle(in.Client, in.Message)

		case a := <-h.announce:
			h.log.Info("announcing", "event", a.event, "meeting", a.meetingID)
			if room, ok := h.Rooms[a.meetingID]; ok {
				h.fanout(room, nil, a.event, protocol.ConferencePayload{MeetingID: a.meetingID})
			}

		case q := <-h.query:
			q.reply <- h.roster(q.meetingID, nil)
		}
	}
}

// Announce sends a conference event to everyone in the meeting.
func (h *Hub) Announce(ctx context.Context, meetingID, event string) error {
	select {
	case h.announce <- announcement{meetingID: meetingID, event: event}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Participants lists the meeting's members in join order.
func (h *Hub) Participants(ctx context.Context, meetingID string) ([]protocol.Participant, error) {
	q := rosterQuery{meetingID: meetingID, reply: make(chan []protocol.Participant, 1)}
	select {
	case h.query <- q:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-q.reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) handle(c *Client, msg *protocol.Message) {
	switch msg.Type {
	case protocol.EventJoin:
		h.join(c, msg)

	case protocol.EventLeave:
		h.leave(c)

	case protocol.EventOffer, protocol.EventAnswer, protocol.EventICECandidate:
		h.relaySignal(c, msg)

	case protocol.EventMediaUpdate:
		h.relayMedia(c, msg)

	default:
		c.logger().Debug("unknown event", "event", msg.Type)
		h.sendError(c, "Unknown event "+msg.Type)
	}
}

func (h *Hub) join(c *Client, msg *protocol.Message) {
	var p protocol.JoinPayload
	if err := msg.Decode(&p); err != nil || p.MeetingID == "" {
		h.sendError(c, "Meeting ID is required")
		return
	}
	if c.MeetingID == p.MeetingID {
		c.logger().Debug("already joined", "meeting", p.MeetingID)
		return
	}
	if c.MeetingID != "" {
		h.leave(c)
	}

	if c.UserID == "" {
		c.UserID = p.UserID
	}
	c.DisplayName = p.DisplayName
	if c.DisplayName == "" {
		c.DisplayName = c.UserID
	}

	room, ok := h.Rooms[p.MeetingID]
	if !ok {
		room = &Room{MeetingID: p.MeetingID}
		h.Rooms[p.MeetingID] = room
		h.log.Info("room opened", "meeting", p.MeetingID)
	}

	roster := h.roster(p.MeetingID, c)
	room.Members = append(room.Members, c)
	c.MeetingID = p.MeetingID
	c.logger().Info("joined", "meeting", p.MeetingID, "user", c.UserID, "members", len(room.Members))

	h.send(c, protocol.EventSession, protocol.SessionPayload{PeerSessionID: c.SessionID})
	h.send(c, protocol.EventCurrentParticipants, roster)
	h.fanout(room, c, protocol.EventPeerJoined, participant(c))
}

// leave removes c from its room and tells the remaining members.
func (h *Hub) leave(c *Client) {
	if c.MeetingID == "" {
		return
	}
	room, ok := h.Rooms[c.MeetingID]
	c.MeetingID = ""
	if !ok || !room.remove(c) {
		return
	}

	c.logger().Info("left", "meeting", room.MeetingID)
	h.fanout(room, nil, protocol.EventPeerLeft, protocol.PeerLeftPayload{PeerSessionID: c.SessionID})
	if len(room.Members) == 0 {
		delete(h.Rooms, room.MeetingID)
		h.log.Info("room closed", "meeting", room.MeetingID)
	}
}

// relaySignal forwards an offer, answer or candidate to its target, naming
// the sender.
func (h *Hub) relaySignal(c *Client, msg *protocol.Message) {
	room, ok := h.Rooms[c.MeetingID]
	if !ok {
		h.sendError(c, "You must join a meeting first")
		return
	}

	var p protocol.SignalPayload
	if err := msg.Decode(&p); err != nil || p.Target == "" {
		h.sendError(c, "Signal target is required")
		return
	}

	target := room.find(p.Target)
	if target == nil {
		c.logger().Debug("signal target not in meeting", "event", msg.Type, "target", p.Target)
		return
	}

	p.Target = ""
	p.Sender = c.SessionID
	p.DisplayName = c.DisplayName
	h.send(target, msg.Type, p)
}

// relayMedia broadcasts a media state snapshot to the rest of the meeting.
func (h *Hub) relayMedia(c *Client, msg *protocol.Message) {
	room, ok := h.Rooms[c.MeetingID]
	if !ok {
		h.sendError(c, "You must join a meeting first")
		return
	}

	var p protocol.MediaUpdatePayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(c, "Invalid media update")
		return
	}
	p.MeetingID = c.MeetingID
	p.UserID = c.UserID
	p.Sender = c.SessionID
	h.fanout(room, c, protocol.EventMediaUpdate, p)
}

// roster lists the room's members except skip.
func (h *Hub) roster(meetingID string, skip *Client) []protocol.Participant {
	out := []protocol.Participant{}
	room, ok := h.Rooms[meetingID]
	if !ok {
		return out
	}
	for _, m := range room.Members {
		if m != skip {
			out = append(out, participant(m))
		}
	}
	return out
}

func participant(c *Client) protocol.Participant {
	return protocol.Participant{PeerSessionID: c.SessionID, UserID: c.UserID, DisplayName: c.DisplayName}
}

// fanout sends to every member of room except skip. Members dropped along
// the way are skipped.
func (h *Hub) fanout(room *Room, skip *Client, event string, payload any) {
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		h.log.Error("encode", "event", event, "error", err)
		return
	}
	for _, m := range slices.Clone(room.Members) {
		if m != skip {
			h.deliver(m, msg)
		}
	}
}

func (h *Hub) send(c *Client, event string, payload any) {
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		h.log.Error("encode", "event", event, "error", err)
		return
	}
	h.deliver(c, msg)
}

// deliver queues msg without blocking the hub. A client whose buffer is full
// is dropped.
func (h *Hub) deliver(c *Client, msg *protocol.Message) {
	if c.closed {
		return
	}
	select {
	case c.Send <- msg:
	default:
		c.logger().Warn("send buffer full, dropping client", "event", msg.Type)
		h.drop(c)
	}
}

// drop closes c's send queue and takes it out of its meeting. WritePump then
// closes the connection. Dropping twice is a no-op.
func (h *Hub) drop(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
	h.leave(c)
}

func (h *Hub) sendError(c *Client, text string) {
	h.send(c, protocol.EventError, protocol.ErrorPayload{Error: text})
}
