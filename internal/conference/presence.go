package conference

import (
	"github.com/broadcomms/meeting-ledger/internal/media"
	"github.com/broadcomms/meeting-ledger/internal/protocol"
)

func (c *Coordinator) routes() {
	c.router.Handle(protocol.EventSession, c.handleSession)
	c.router.Handle(protocol.EventCurrentParticipants, c.handleRoster)
	c.router.Handle(protocol.EventPeerJoined, c.handlePeerJoined)
	c.router.Handle(protocol.EventPeerLeft, c.handlePeerLeft)
	c.router.Handle(protocol.EventOffer, c.joinedOnly(c.handleOffer))
	c.router.Handle(protocol.EventAnswer, c.joinedOnly(c.handleAnswer))
	c.router.Handle(protocol.EventICECandidate, c.joinedOnly(c.handleCandidate))
	c.router.Handle(protocol.EventMediaUpdate, c.handleMediaUpdate)
	c.router.Handle(protocol.EventConferenceStarted, c.handleConferenceStarted)
	c.router.Handle(protocol.EventConferenceEnded, c.handleConferenceEnded)
	c.router.Handle(protocol.EventError, c.handleServerError)
}

// joinedOnly drops negotiation traffic that arrives before join or after the
// session ended.
func (c *Coordinator) joinedOnly(h func(*protocol.Message) error) func(*protocol.Message) error {
	return func(msg *protocol.Message) error {
		if c.phase != phaseJoined {
			c.log.Debug("ignoring signal outside the meeting", "event", msg.Type)
			return nil
		}
		return h(msg)
	}
}

// handleSession records the session id the server assigned to us. Glare
// resolution needs it.
func (c *Coordinator) handleSession(msg *protocol.Message) error {
	var p protocol.SessionPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	c.selfID = p.PeerSessionID
	c.log.Debug("session assigned", "session", p.PeerSessionID)
	return nil
}

// handleRoster offers to every participant already present. Newcomers offer
// to existing members, never the reverse, so each pair negotiates once.
func (c *Coordinator) handleRoster(msg *protocol.Message) error {
	if c.phase != phaseJoined {
		return nil
	}
	var roster []protocol.Participant
	if err := msg.Decode(&roster); err != nil {
		return err
	}

	c.log.Info("current participants", "count", len(roster))
	for _, p := range roster {
		if p.PeerSessionID == "" {
			continue
		}
		c.startOffer(p)
	}
	return nil
}

// handlePeerJoined only logs: the newcomer sends the offer.
func (c *Coordinator) handlePeerJoined(msg *protocol.Message) error {
	var p protocol.Participant
	if err := msg.Decode(&p); err != nil {
		return err
	}
	c.log.Info("peer joined", "peer", p.PeerSessionID, "user", p.UserID, "name", p.DisplayName)
	return nil
}

func (c *Coordinator) handlePeerLeft(msg *protocol.Message) error {
	var p protocol.PeerLeftPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}

	delete(c.early, p.PeerSessionID)
	rec, ok := c.registry.Get(p.PeerSessionID)
	if !ok {
		c.log.Debug("peer left without a connection", "peer", p.PeerSessionID)
		return nil
	}
	c.log.Info("peer left", "peer", p.PeerSessionID, "state", rec.State)
	c.closeRecord(rec)
	return nil
}

func (c *Coordinator) handleMediaUpdate(msg *protocol.Message) error {
	var p protocol.MediaUpdatePayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if p.Sender == "" {
		return ErrMalformedPayload
	}

	state := media.State{VideoEnabled: p.VideoEnabled, AudioEnabled: p.AudioEnabled}
	if rec, ok := c.registry.Get(p.Sender); ok {
		rec.RemoteMedia = &state
	}
	c.renderer.MediaChanged(p.Sender, state)
	return nil
}

func (c *Coordinator) handleConferenceStarted(msg *protocol.Message) error {
	var p protocol.ConferencePayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if p.MeetingID != "" && p.MeetingID != c.session.MeetingID {
		return nil
	}
	if c.phase != phaseWaiting {
		c.log.Debug("conference started", "phase", c.phase)
		return nil
	}

	c.log.Info("conference started")
	// join records its failure as the session's end reason.
	c.join(c.ctx)
	return nil
}

func (c *Coordinator) handleConferenceEnded(msg *protocol.Message) error {
	var p protocol.ConferencePayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if p.MeetingID != "" && p.MeetingID != c.session.MeetingID {
		return nil
	}

	c.log.Info("conference ended by the organizer")
	c.end(ErrConferenceEnded)
	return nil
}

func (c *Coordinator) handleServerError(msg *protocol.Message) error {
	var p protocol.ErrorPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	c.report(&Error{Op: "signaling", Err: ErrServer, Details: p.Error})
	return nil
}
