package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/broadcomms/meeting-ledger/internal/logging"
	"github.com/broadcomms/meeting-ledger/internal/protocol"
	"github.com/broadcomms/meeting-ledger/internal/relay"
	"github.com/broadcomms/meeting-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// UserHeader carries the caller's user id on REST and websocket requests.
const UserHeader = "X-User-ID"

const announceTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	// Native clients send no Origin; browsers are not served.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the relay websocket and the organizer REST endpoints.
type Server struct {
	hub   *relay.Hub
	store store.Store
	log   *slog.Logger
	now   func() time.Time

	// actions serializes conference start and stop so a meeting's state check
	// and update happen as one step, and announcements go out in that order.
	actions sync.Mutex
}

func New(hub *relay.Hub, st store.Store, log *slog.Logger) *Server {
	return &Server{hub: hub, store: st, log: logging.OrDefault(log).With("component", "http"), now: time.Now}
}

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /meetings", s.listMeetings)
	mux.HandleFunc("POST /conference/start/{id}", s.conferenceAction(protocol.EventConferenceStarted))
	mux.HandleFunc("POST /conference/stop/{id}", s.conferenceAction(protocol.EventConferenceEnded))
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}

	client := relay.NewClient(s.hub, conn, uuid.NewString(), r.Header.Get(UserHeader))
	s.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// ActionResponse is the body of every organizer endpoint.
type ActionResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Meeting *store.Meeting `json:"meeting,omitempty"`
}

// conferenceAction starts or stops a meeting and announces it to the room.
func (s *Server) conferenceAction(event string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		user := r.Header.Get(UserHeader)
		if user == "" {
			writeJSON(w, http.StatusUnauthorized, ActionResponse{Error: "Missing " + UserHeader + " header"})
			return
		}

		s.actions.Lock()
		defer s.actions.Unlock()

		var (
			m       *store.Meeting
			err     error
			message string
		)
		if event == protocol.EventConferenceStarted {
			m, err = store.Start(s.store, id, user, s.now())
			message = "Conference started"
		} else {
			m, err = store.Stop(s.store, id, user)
			message = "Conference stopped"
		}
		if err != nil {
			status, text := actionError(err)
			s.log.Info("conference action rejected", "meeting", id, "user", user, "event", event, "error", err)
			writeJSON(w, status, ActionResponse{Error: text})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), announceTimeout)
		defer cancel()
		if err := s.hub.Announce(ctx, id, event); err != nil {
			s.log.Warn("announce failed", "meeting", id, "event", event, "error", err)
		}

		s.log.Info(message, "meeting", id, "user", user)
		writeJSON(w, http.StatusOK, ActionResponse{Success: true, Message: message, Meeting: m})
	}
}

func actionError(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Meeting not found"
	case errors.Is(err, store.ErrNotOrganizer):
		return http.StatusForbidden, "Unauthorized"
	case errors.Is(err, store.ErrAlreadyActive):
		return http.StatusBadRequest, "Conference already started"
	case errors.Is(err, store.ErrNotActive):
		return http.StatusBadRequest, "Conference is not active"
	}
	return http.StatusInternalServerError, "Internal error"
}

// MeetingView is one entry of GET /meetings.
type MeetingView struct {
	store.Meeting
	Participants int `json:"participants"`
}

func (s *Server) listMeetings(w http.ResponseWriter, r *http.Request) {
	meetings, err := s.store.List()
	if err != nil {
		s.log.Error("list meetings", "error", err)
		writeJSON(w, http.StatusInternalServerError, ActionResponse{Error: "Internal error"})
		return
	}

	out := make([]MeetingView, 0, len(meetings))
	for _, m := range meetings {
		members, err := s.hub.Participants(r.Context(), m.ID)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, ActionResponse{Error: err.Error()})
			return
		}
		out = append(out, MeetingView{Meeting: *m, Participants: len(members)})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
