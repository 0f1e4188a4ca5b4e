// Package store holds the canonical record of detected threats for the
// lifetime of the agent process. It is the single source of truth for
// "is this threat still open" queries from the response engine, the status
// surface and operator tooling.
package store

import (
	"sync"
	"time"

	"github.com/leshsec/lesh/internal/threat"
)

// Store is a mutex-guarded threat record store. The detection loop is the
// only writer of new records; status readers always receive copies.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*threat.Threat
	order   []string // insertion order, for stable listings
	seen    int      // total threats ever added
	created time.Time
}

func New() *Store {
	return &Store{
		byID:    make(map[string]*threat.Threat),
		created: time.Now().UTC(),
	}
}

// Add records the given threats, skipping any whose ID is already known.
// It returns the threats that were actually added.
func (s *Store) Add(threats []threat.Threat) []threat.Threat {
	if len(threats) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []threat.Threat
	for _, t := range threats {
		if t.ID == "" {
			t.ID = t.StableID()
		}
		if _, ok := s.byID[t.ID]; ok {
			continue
		}
		c := t.Clone()
		s.byID[c.ID] = &c
		s.order = append(s.order, c.ID)
		s.seen++
		added = append(added, c.Clone())
	}
	return added
}

// Known reports whether a threat ID is already recorded.
func (s *Store) Known(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// Get returns a copy of the threat with the given ID.
func (s *Store) Get(id string) (threat.Threat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return threat.Threat{}, false
	}
	return t.Clone(), true
}

// ListActive returns copies of all unresolved threats in insertion order.
func (s *Store) ListActive() []threat.Threat {
	return s.list(func(t *threat.Threat) bool { return !t.Resolved })
}

// ListAll returns copies of every recorded threat in insertion order.
func (s *Store) ListAll() []threat.Threat {
	return s.list(func(*threat.Threat) bool { return true })
}

func (s *Store) list(keep func(*threat.Threat) bool) []threat.Threat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]threat.Threat, 0, len(s.order))
	for _, id := range s.order {
		if t := s.byID[id]; keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// MarkResolved flips a threat to resolved exactly once. It returns false if
// the ID is unknown or the threat is already resolved; repeated calls are
// idempotent no-ops, not errors. The resolved flag never transitions back.
func (s *Store) MarkResolved(id, action, details string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok || t.Resolved {
		return false
	}
	now := time.Now().UTC()
	t.Resolved = true
	t.ResolutionTime = &now
	t.ResolutionAction = action
	t.ResolutionDetails = details
	return true
}

// Counts returns the total number of threats ever seen and how many are
// currently unresolved.
func (s *Store) Counts() (seen, active int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.byID {
		if !t.Resolved {
			active++
		}
	}
	return s.seen, active
}
