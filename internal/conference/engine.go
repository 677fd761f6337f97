package conference

import (
	"github.com/broadcomms/meeting-ledger/internal/protocol"
	pion "github.com/pion/webrtc/v4"
)

// newRecord registers a record for peerID, opens its transport and attaches
// the local tracks. Failures are reported and yield nil.
func (c *Coordinator) newRecord(peerID, displayName string) *Record {
	rec, err := c.registry.Create(peerID, displayName)
	if err != nil {
		c.report(peerError("create connection", peerID, err))
		return nil
	}

	t, err := c.transports.NewTransport(peerID, c.transportEvents(rec))
	if err != nil {
		c.registry.Dispose(rec)
		c.report(peerError("create connection", peerID, err))
		return nil
	}
	rec.transport = t

	if c.stream != nil {
		if err := t.AddTracks(c.stream.Tracks()); err != nil {
			c.fail(rec, "attach local tracks", err)
			return nil
		}
		rec.LocalTracksAttached = true
	}
	return rec
}

func (c *Coordinator) transportEvents(rec *Record) TransportEvents {
	return TransportEvents{
		ICECandidate: func(cand pion.ICECandidateInit) {
			c.postFor(rec, func() {
				// A lost candidate is not fatal; ICE may succeed on another one.
				err := c.sendSignal(protocol.EventICECandidate, protocol.SignalPayload{Target: rec.PeerID, Candidate: &cand})
				if err != nil {
					c.log.Warn("send ice candidate", "peer", rec.PeerID, "error", err)
				}
			})
		},
		Track: func(track RemoteTrack) {
			c.postFor(rec, func() { c.attachRemote(rec, track) })
		},
		StateChange: func(state pion.PeerConnectionState) {
			c.postFor(rec, func() { c.connectionStateChanged(rec, state) })
		},
	}
}

// current reports whether rec is still the live record for its peer.
func (c *Coordinator) current(rec *Record) bool {
	cur, ok := c.registry.Get(rec.PeerID)
	return ok && cur == rec && rec.open()
}

// postFor queues fn for rec; it is skipped if rec has been replaced or closed
// by the time it runs.
func (c *Coordinator) postFor(rec *Record, fn func()) {
	c.post(func() {
		if c.current(rec) {
			fn()
		}
	})
}

// spawn runs work off the coordinator goroutine. Its result is applied by then
// only if rec is still current when the completion is processed.
func (c *Coordinator) spawn(rec *Record, op string, work func() error, then func()) {
	go func() {
		err := work()
		c.post(func() {
			if !c.current(rec) {
				c.log.Debug("dropping stale completion", "peer", rec.PeerID, "op", op)
				return
			}
			if err != nil {
				c.fail(rec, op, err)
				return
			}
			then()
		})
	}()
}

// startOffer opens a connection to a participant that was already in the
// meeting when we joined.
func (c *Coordinator) startOffer(p protocol.Participant) {
	if rec, ok := c.registry.Get(p.PeerSessionID); ok {
		c.log.Debug("peer already has a connection", "peer", p.PeerSessionID, "state", rec.State)
		return
	}

	rec := c.newRecord(p.PeerSessionID, p.DisplayName)
	if rec == nil {
		return
	}

	rec.offering = true
	t := rec.transport
	var offer pion.SessionDescription
	c.spawn(rec, "create offer", func() (err error) {
		offer, err = t.CreateOffer()
		return err
	}, func() {
		rec.offering = false
		rec.localDescSet = true
		if err := rec.transition(StateHaveLocalOffer); err != nil {
			c.fail(rec, "create offer", err)
			return
		}
		if err := c.sendSignal(protocol.EventOffer, protocol.SignalPayload{Target: rec.PeerID, Offer: &offer}); err != nil {
			c.fail(rec, "send offer", err)
		}
	})
}

// handleOffer answers an offer. When both sides offered at once, the side
// with the greater session id keeps its own offer and the other side yields,
// so the pair settles on one negotiation. Without a known session id we
// always yield.
func (c *Coordinator) handleOffer(msg *protocol.Message) error {
	var p protocol.SignalPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if p.Sender == "" || p.Offer == nil {
		return ErrMalformedPayload
	}

	if rec, ok := c.registry.Get(p.Sender); ok {
		if rec.remoteOfferSDP == p.Offer.SDP {
			c.log.Debug("ignoring duplicate offer", "peer", p.Sender)
			return nil
		}
		if c.winsGlare(rec, p.Sender) {
			c.log.Info("keeping our offer over a crossing one", "peer", p.Sender)
			return nil
		}
		c.log.Info("replacing negotiation with incoming offer", "peer", p.Sender, "state", rec.State)
		c.closeRecord(rec)
	}

	rec := c.newRecord(p.Sender, p.DisplayName)
	if rec == nil {
		return nil
	}
	rec.remoteOfferSDP = p.Offer.SDP
	if early := c.early[p.Sender]; len(early) > 0 {
		rec.pendingCandidates = append(rec.pendingCandidates, early...)
		delete(c.early, p.Sender)
	}

	t := rec.transport
	offer := *p.Offer
	c.spawn(rec, "apply offer", func() error {
		return t.SetRemoteDescription(offer)
	}, func() {
		rec.remoteDescSet = true
		if err := rec.transition(StateHaveRemoteOffer); err != nil {
			c.fail(rec, "apply offer", err)
			return
		}
		c.flushCandidates(rec)
		c.answer(rec)
	})
	return nil
}

func (c *Coordinator) winsGlare(rec *Record, sender string) bool {
	ours := rec.offering || rec.State == StateHaveLocalOffer
	return ours && c.selfID != "" && c.selfID > sender
}

func (c *Coordinator) answer(rec *Record) {
	t := rec.transport
	var answer pion.SessionDescription
	c.spawn(rec, "create answer", func() (err error) {
		answer, err = t.CreateAnswer()
		return err
	}, func() {
		rec.localDescSet = true
		if err := rec.transition(StateConnected); err != nil {
			c.fail(rec, "create answer", err)
			return
		}
		if err := c.sendSignal(protocol.EventAnswer, protocol.SignalPayload{Target: rec.PeerID, Answer: &answer}); err != nil {
			c.fail(rec, "send answer", err)
		}
	})
}

// handleAnswer completes a negotiation we offered. Answers for peers that are
// not awaiting one are dropped.
func (c *Coordinator) handleAnswer(msg *protocol.Message) error {
	var p protocol.SignalPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if p.Sender == "" || p.Answer == nil {
		return ErrMalformedPayload
	}

	rec, ok := c.registry.Get(p.Sender)
	if !ok || !rec.open() {
		c.log.Debug("ignoring answer from unknown peer", "peer", p.Sender)
		return nil
	}
	if rec.State != StateHaveLocalOffer || rec.answerPending {
		c.log.Debug("ignoring unexpected answer", "peer", p.Sender, "state", rec.State)
		return nil
	}

	rec.answerPending = true
	t := rec.transport
	answer := *p.Answer
	c.spawn(rec, "apply answer", func() error {
		return t.SetRemoteDescription(answer)
	}, func() {
		rec.answerPending = false
		rec.remoteDescSet = true
		if err := rec.transition(StateConnected); err != nil {
			c.fail(rec, "apply answer", err)
			return
		}
		c.flushCandidates(rec)
	})
	return nil
}

// handleCandidate applies a remote candidate, or buffers it until the remote
// description is in place.
func (c *Coordinator) handleCandidate(msg *protocol.Message) error {
	var p protocol.SignalPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if p.Sender == "" || p.Candidate == nil {
		return ErrMalformedPayload
	}

	rec, ok := c.registry.Get(p.Sender)
	if !ok || !rec.open() {
		c.holdEarly(p.Sender, *p.Candidate)
		return nil
	}
	if !rec.remoteDescSet {
		rec.pendingCandidates = append(rec.pendingCandidates, *p.Candidate)
		return nil
	}
	c.applyCandidate(rec, *p.Candidate)
	return nil
}

// holdEarly keeps candidates that arrive before the sender's offer.
func (c *Coordinator) holdEarly(peerID string, cand pion.ICECandidateInit) {
	held := c.early[peerID]
	if len(held) >= maxEarlyPerPeer {
		c.log.Debug("dropping early candidate", "peer", peerID)
		return
	}
	c.early[peerID] = append(held, cand)
}

func (c *Coordinator) flushCandidates(rec *Record) {
	pending := rec.pendingCandidates
	rec.pendingCandidates = nil
	for _, cand := range pending {
		c.applyCandidate(rec, cand)
	}
}

// applyCandidate failures are not fatal; the connection may still succeed on
// another candidate.
func (c *Coordinator) applyCandidate(rec *Record, cand pion.ICECandidateInit) {
	if err := rec.transport.AddICECandidate(cand); err != nil {
		c.log.Warn("add ice candidate", "peer", rec.PeerID, "error", err)
	}
}

func (c *Coordinator) attachRemote(rec *Record, track RemoteTrack) {
	rec.RemoteStreamAttached = true
	c.log.Info("remote track", "peer", rec.PeerID, "kind", track.Kind().String())
	c.renderer.Attach(rec.PeerID, rec.DisplayName, track)
}

func (c *Coordinator) connectionStateChanged(rec *Record, state pion.PeerConnectionState) {
	rec.connState = state
	c.log.Debug("connection state", "peer", rec.PeerID, "state", state.String())
	if state == pion.PeerConnectionStateFailed {
		c.fail(rec, "connect", ErrConnectionFailed)
	}
}

func (c *Coordinator) sendSignal(event string, payload protocol.SignalPayload) error {
	return c.channel.Send(event, payload)
}

// fail marks rec failed, reports it and releases it. Other peers are not
// affected.
func (c *Coordinator) fail(rec *Record, op string, err error) {
	if !rec.open() {
		return
	}
	rec.State = StateFailed
	c.report(peerError(op, rec.PeerID, err))
	c.closeRecord(rec)
}

// closeRecord releases rec's transport and tile and removes it from the
// registry. Closing twice is a no-op.
func (c *Coordinator) closeRecord(rec *Record) {
	if rec.State == StateClosed {
		return
	}
	last := rec.info()
	rec.State = StateClosed

	if rec.transport != nil {
		c.closeTransport(rec.PeerID, rec.transport)
	}
	rec.LocalTracksAttached = false
	rec.pendingCandidates = nil
	if rec.RemoteStreamAttached {
		rec.RemoteStreamAttached = false
		c.renderer.Detach(rec.PeerID)
	}

	if c.registry.Dispose(rec) {
		c.seen[rec.PeerID] = last
	}
}

// closeTransport closes t off the event loop. Run waits for outstanding
// closes before it returns.
func (c *Coordinator) closeTransport(peerID string, t Transport) {
	c.closing.Add(1)
	go func() {
		defer c.closing.Done()
		if err := t.Close(); err != nil {
			c.log.Debug("close transport", "peer", peerID, "error", err)
		}
	}()
}
