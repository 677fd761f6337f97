package conference

import (
	"fmt"
	"sort"
)

// Registry maps remote peer session ids to their records. At most one record
// exists per peer id; a disposed record is never handed out again.
type Registry struct {
	records map[string]*Record
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Create registers a fresh record in state new.
func (r *Registry) Create(peerID, displayName string) (*Record, error) {
	if existing, ok := r.records[peerID]; ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrDuplicatePeer, peerID, existing.State)
	}

	rec := &Record{PeerID: peerID, DisplayName: displayName, State: StateNew}
	r.records[peerID] = rec
	return rec, nil
}

func (r *Registry) Get(peerID string) (*Record, bool) {
	rec, ok := r.records[peerID]
	return rec, ok
}

// Dispose removes rec if it is still the registered record for its peer.
func (r *Registry) Dispose(rec *Record) bool {
	if cur, ok := r.records[rec.PeerID]; ok && cur == rec {
		delete(r.records, rec.PeerID)
		return true
	}
	return false
}

func (r *Registry) Len() int {
	return len(r.records)
}

// Records returns the live records ordered by peer id.
func (r *Registry) Records() []*Record {
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (r *Registry) Snapshot() []PeerInfo {
	recs := r.Records()
	out := make([]PeerInfo, len(recs))
	for i, rec := range recs {
		out[i] = rec.info()
	}
	return out
}
