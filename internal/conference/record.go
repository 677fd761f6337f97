package conference

import (
	"fmt"
	"slices"

	"github.com/broadcomms/meeting-ledger/internal/media"
	pion "github.com/pion/webrtc/v4"
)

// NegotiationState is the per-peer offer/answer state.
type NegotiationState int

const (
	StateNew NegotiationState = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateConnected
	StateFailed
	StateClosed
)

func (s NegotiationState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("NegotiationState(%d)", int(s))
}

var transitions = map[NegotiationState][]NegotiationState{
	StateNew:             {StateHaveLocalOffer, StateHaveRemoteOffer, StateFailed, StateClosed},
	StateHaveLocalOffer:  {StateConnected, StateFailed, StateClosed},
	StateHaveRemoteOffer: {StateConnected, StateFailed, StateClosed},
	StateConnected:       {StateFailed, StateClosed},
	StateFailed:          {StateClosed},
}

// Record is the registry's entry for one remote participant.
type Record struct {
	PeerID      string
	DisplayName string
	State       NegotiationState

	LocalTracksAttached  bool
	RemoteStreamAttached bool
	RemoteMedia          *media.State

	transport Transport
	connState pion.PeerConnectionState

	localDescSet   bool
	remoteDescSet  bool
	offering       bool
	answerPending  bool
	remoteOfferSDP string
	everConnected  bool

	// Remote candidates waiting for the remote description, in arrival order.
	pendingCandidates []pion.ICECandidateInit
}

func (r *Record) open() bool {
	return r.State != StateFailed && r.State != StateClosed
}

// transition moves the record along the negotiation state machine. Reaching
// connected requires both descriptions.
func (r *Record) transition(to NegotiationState) error {
	if !slices.Contains(transitions[r.State], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
	}
	if to == StateConnected && !(r.localDescSet && r.remoteDescSet) {
		return fmt.Errorf("%w: %s -> connected without both descriptions", ErrInvalidTransition, r.State)
	}

	r.State = to
	if to == StateConnected {
		r.everConnected = true
	}
	return nil
}

// PeerInfo is a copy of a record's observable fields.
type PeerInfo struct {
	PeerID               string
	DisplayName          string
	State                NegotiationState
	ConnectionState      string
	LocalTracksAttached  bool
	RemoteStreamAttached bool
	RemoteMedia          *media.State
	EverConnected        bool
}

func (r *Record) info() PeerInfo {
	info := PeerInfo{
		PeerID:               r.PeerID,
		DisplayName:          r.DisplayName,
		State:                r.State,
		ConnectionState:      r.connState.String(),
		LocalTracksAttached:  r.LocalTracksAttached,
		RemoteStreamAttached: r.RemoteStreamAttached,
		EverConnected:        r.everConnected,
	}
	if r.RemoteMedia != nil {
		m := *r.RemoteMedia
		info.RemoteMedia = &m
	}
	return info
}
