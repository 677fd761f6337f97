package store

import (
	"errors"
	"testing"
	"time"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}
	if err := s.Put(&Meeting{ID: "x"}); !errors.Is(err, ErrInvalidMeeting) {
		t.Fatalf("Put without organizer err = %v", err)
	}

	for _, m := range []*Meeting{
		{ID: "retro", OrganizerID: "bob"},
		{ID: "standup", Title: "Daily", OrganizerID: "alice"},
	} {
		if err := s.Put(m); err != nil {
			t.Fatalf("Put(%s): %v", m.ID, err)
		}
	}

	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	if _, err := Start(s, "standup", "bob", now); !errors.Is(err, ErrNotOrganizer) {
		t.Errorf("Start by non-organizer err = %v", err)
	}
	if _, err := Stop(s, "standup", "alice"); !errors.Is(err, ErrNotActive) {
		t.Errorf("Stop inactive err = %v", err)
	}

	m, err := Start(s, "standup", "alice", now)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.Active || !m.StartedAt.Equal(now) {
		t.Errorf("started meeting = %+v", m)
	}
	if _, err := Start(s, "standup", "alice", now); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("double Start err = %v", err)
	}

	got, err := s.Get("standup")
	if err != nil || !got.Active || got.Title != "Daily" {
		t.Fatalf("Get after start = %+v, %v", got, err)
	}

	if _, err := Stop(s, "standup", "alice"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "retro" || list[1].ID != "standup" || list[1].Active {
		t.Errorf("List = %+v", list)
	}
}

func TestInmemStore(t *testing.T) {
	exerciseStore(t, NewInmemStore())
}

func TestBadgerStore(t *testing.T) {
	dir := t.TempDir()

	s, err := NewBadgerStore(dir, nil)
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	exerciseStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewBadgerStore(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	m, err := reopened.Get("retro")
	if err != nil || m.OrganizerID != "bob" {
		t.Errorf("after reopen Get = %+v, %v", m, err)
	}
}
