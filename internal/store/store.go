package store

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound       = errors.New("meeting not found")
	ErrAlreadyActive  = errors.New("conference already started")
	ErrNotActive      = errors.New("conference is not active")
	ErrNotOrganizer   = errors.New("unauthorized")
	ErrInvalidMeeting = errors.New("meeting needs an id and an organizer")
)

// Meeting is the server's record of a conference room.
type Meeting struct {
	ID          string    `msgpack:"id" json:"id"`
	Title       string    `msgpack:"title" json:"title,omitempty"`
	OrganizerID string    `msgpack:"organizer" json:"organizer_id"`
	Active      bool      `msgpack:"active" json:"conference_active"`
	StartedAt   time.Time `msgpack:"started_at" json:"started_at,omitempty"`
}

// Store persists meetings.
type Store interface {
	Get(id string) (*Meeting, error)
	Put(m *Meeting) error
	List() ([]*Meeting, error)
	Close() error
}

// Start marks a meeting active on behalf of userID, enforcing organizer-only
// access and rejecting a double start.
func Start(s Store, id, userID string, now time.Time) (*Meeting, error) {
	m, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if m.OrganizerID != userID {
		return nil, ErrNotOrganizer
	}
	if m.Active {
		return nil, ErrAlreadyActive
	}

	m.Active = true
	m.StartedAt = now
	if err := s.Put(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Stop is the inverse of Start.
func Stop(s Store, id, userID string) (*Meeting, error) {
	m, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if m.OrganizerID != userID {
		return nil, ErrNotOrganizer
	}
	if !m.Active {
		return nil, ErrNotActive
	}

	m.Active = false
	m.StartedAt = time.Time{}
	if err := s.Put(m); err != nil {
		return nil, err
	}
	return m, nil
}

// InmemStore keeps meetings in a map.
type InmemStore struct {
	mu       sync.RWMutex
	meetings map[string]Meeting
}

func NewInmemStore() *InmemStore {
	return &InmemStore{meetings: make(map[string]Meeting)}
}

func (s *InmemStore) Get(id string) (*Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.meetings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *InmemStore) Put(m *Meeting) error {
	if m.ID == "" || m.OrganizerID == "" {
		return ErrInvalidMeeting
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetings[m.ID] = *m
	return nil
}

func (s *InmemStore) List() ([]*Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Meeting, 0, len(s.meetings))
	for _, m := range s.meetings {
		m := m
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InmemStore) Close() error { return nil }
