package signaling

import (
	"errors"
	"fmt"
	"sort"

	"github.com/broadcomms/meeting-ledger/internal/protocol"
)

var ErrUnhandledEvent = errors.New("unhandled event")

// HandlerFunc consumes one received message.
type HandlerFunc func(*protocol.Message) error

// Router is the dispatch table from event name to handler. It does no
// locking: messages are dispatched one at a time by a single reader, and each
// handler runs to completion before the next message.
type Router struct {
	handlers map[string]HandlerFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Handle registers h for event, replacing any previous handler.
func (r *Router) Handle(event string, h HandlerFunc) {
	r.handlers[event] = h
}

// Dispatch routes msg to its handler.
func (r *Router) Dispatch(msg *protocol.Message) error {
	h, ok := r.handlers[msg.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnhandledEvent, msg.Type)
	}
	if err := h(msg); err != nil {
		return fmt.Errorf("%s: %w", msg.Type, err)
	}
	return nil
}

// Events lists the registered event names.
func (r *Router) Events() []string {
	out := make([]string, 0, len(r.handlers))
	for e := range r.handlers {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
