package conference

import (
	"errors"
	"fmt"
)

var (
	ErrNegotiation       = errors.New("negotiation failed")
	ErrConnectionFailed  = errors.New("peer connection failed")
	ErrChannelClosed     = errors.New("signaling channel closed")
	ErrConferenceEnded   = errors.New("conference ended by the organizer")
	ErrNotJoined         = errors.New("not joined to a meeting")
	ErrSessionEnded      = errors.New("meeting session has ended")
	ErrInvalidTransition = errors.New("invalid negotiation transition")
	ErrDuplicatePeer     = errors.New("peer already registered")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrServer            = errors.New("signaling server error")
)

// Error ties a failure to the operation and, for per-peer errors, the peer.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	switch {
	case e.Peer != "" && e.Details != "":
		return fmt.Sprintf("%s (peer %s): %v (%s)", e.Op, e.Peer, e.Err, e.Details)
	case e.Peer != "":
		return fmt.Sprintf("%s (peer %s): %v", e.Op, e.Peer, e.Err)
	case e.Details != "":
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func peerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: fmt.Errorf("%w: %w", ErrNegotiation, err)}
}

// Notifier surfaces non-fatal errors to the user.
type Notifier interface {
	Report(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(error)

func (f NotifierFunc) Report(err error) { f(err) }
