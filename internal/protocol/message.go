package protocol

import (
	"encoding/json"
	"fmt"

	pion "github.com/pion/webrtc/v4"
)

// Message is the envelope for every event exchanged between a client and the
// signaling server, in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event names. C = client originated, S = server originated or relayed.
const (
	EventJoin  = "webrtc_join"  // C
	EventLeave = "webrtc_leave" // C

	EventSession             = "webrtc_session"              // S
	EventCurrentParticipants = "webrtc_current_participants" // S
	EventPeerJoined          = "webrtc_peer_joined"          // S
	EventPeerLeft            = "webrtc_peer_left"            // S

	EventOffer        = "webrtc_offer"         // C/S
	EventAnswer       = "webrtc_answer"        // C/S
	EventICECandidate = "webrtc_ice_candidate" // C/S
	EventMediaUpdate  = "media_update"         // C/S

	EventConferenceStarted = "conference_started" // S
	EventConferenceEnded   = "conference_ended"   // S

	EventError = "error" // S
)

// NewMessage encodes payload into a Message of the given type. A nil payload
// produces an empty object so receivers can always decode.
func NewMessage(event string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: event, Payload: json.RawMessage(`{}`)}, nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}

	return &Message{Type: event, Payload: b}, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("decode %s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}

// JoinPayload announces presence in a meeting.
type JoinPayload struct {
	MeetingID   string `json:"meeting_id"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"username,omitempty"`
}

// LeavePayload withdraws from a meeting without closing the socket.
type LeavePayload struct {
	MeetingID string `json:"meeting_id"`
}

// SessionPayload tells a client the session id the server assigned to it.
type SessionPayload struct {
	PeerSessionID string `json:"peer_sid"`
}

// Participant is one roster entry.
type Participant struct {
	PeerSessionID string `json:"peer_sid"`
	UserID        string `json:"user_id,omitempty"`
	DisplayName   string `json:"username,omitempty"`
}

// PeerLeftPayload names the session that left the meeting.
type PeerLeftPayload struct {
	PeerSessionID string `json:"peer_sid"`
}

// SignalPayload carries one of offer, answer or candidate. Clients fill
// Target; the relay replaces it with Sender and the sender's display name.
type SignalPayload struct {
	Target      string `json:"target,omitempty"`
	Sender      string `json:"sender,omitempty"`
	DisplayName string `json:"username,omitempty"`

	Offer     *pion.SessionDescription `json:"offer,omitempty"`
	Answer    *pion.SessionDescription `json:"answer,omitempty"`
	Candidate *pion.ICECandidateInit   `json:"candidate,omitempty"`
}

// MediaUpdatePayload is a full snapshot of a participant's track enablement.
type MediaUpdatePayload struct {
	MeetingID    string `json:"meeting_id"`
	UserID       string `json:"user_id"`
	Sender       string `json:"sender,omitempty"`
	VideoEnabled bool   `json:"video_enabled"`
	AudioEnabled bool   `json:"audio_enabled"`
}

// ConferencePayload accompanies conference_started and conference_ended.
type ConferencePayload struct {
	MeetingID string `json:"meeting_id,omitempty"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
}
