package server

import (
	"errors"
	"fmt"

	"github.com/broadcomms/meeting-ledger/internal/config"
	"github.com/broadcomms/meeting-ledger/internal/store"
)

// Seed adds the meetings the store does not have yet. Existing meetings keep
// their active flag across restarts.
func Seed(st store.Store, seeds []config.MeetingSeed) (int, error) {
	added := 0
	for _, s := range seeds {
		_, err := st.Get(s.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return added, fmt.Errorf("seed %s: %w", s.ID, err)
		}

		if err := st.Put(&store.Meeting{ID: s.ID, Title: s.Title, OrganizerID: s.Organizer}); err != nil {
			return added, fmt.Errorf("seed %s: %w", s.ID, err)
		}
		added++
	}
	return added, nil
}
