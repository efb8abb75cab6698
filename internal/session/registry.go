package session

import (
	"sync"

	"github.com/persistorai/queuecall/internal/metrics"
)

// Registry indexes live sessions by counter and, for lobby displays, by agency.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*Session
	byCounter map[string]map[string]*Session
	byAgency  map[string]map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]*Session),
		byCounter: make(map[string]map[string]*Session),
		byAgency:  make(map[string]map[string]*Session),
	}
}

// Add registers s, replacing any session with the same id.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byID[s.ID]; ok {
		r.removeLocked(old)
	}

	r.byID[s.ID] = s

	index := r.byCounter
	key := s.CounterID

	if !s.CounterScoped() {
		index = r.byAgency
		key = s.AgencyID
	}

	if index[key] == nil {
		index[key] = make(map[string]*Session)
	}

	index[key][s.ID] = s

	metrics.Sessions.WithLabelValues(string(s.Role)).Inc()
}

// Remove unregisters the session and returns it, or nil if unknown.
func (r *Registry) Remove(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return nil
	}

	r.removeLocked(s)

	return s
}

func (r *Registry) removeLocked(s *Session) {
	delete(r.byID, s.ID)

	index := r.byCounter
	key := s.CounterID

	if !s.CounterScoped() {
		index = r.byAgency
		key = s.AgencyID
	}

	if set := index[key]; set != nil {
		delete(set, s.ID)

		if len(set) == 0 {
			delete(index, key)
		}
	}

	metrics.Sessions.WithLabelValues(string(s.Role)).Dec()
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]

	return s, ok
}

// Counter returns the sessions bound to a counter, optionally filtered by role.
func (r *Registry) Counter(counterID string, roles ...Role) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return collect(r.byCounter[counterID], roles)
}

// Lobby returns the lobby displays of an agency.
func (r *Registry) Lobby(agencyID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return collect(r.byAgency[agencyID], nil)
}

// CountRole returns how many sessions of role are bound to a counter.
func (r *Registry) CountRole(counterID string, role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.byCounter[counterID] {
		if s.Role == role {
			n++
		}
	}

	return n
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

func collect(set map[string]*Session, roles []Role) []*Session {
	out := make([]*Session, 0, len(set))

	for _, s := range set {
		if len(roles) > 0 && !hasRole(roles, s.Role) {
			continue
		}

		out = append(out, s)
	}

	return out
}

func hasRole(roles []Role, r Role) bool {
	for _, want := range roles {
		if want == r {
			return true
		}
	}

	return false
}
