// Package safety owns the cooldown and protected-resource state that gates
// every automated dispatch.
//
// All reads and writes go through Store methods. The check-then-set in
// TryReserve runs under one mutex so two concurrent events can never both
// pass the cooldown check for the same resource.
package safety

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/warden/internal/action"
)

// Settings is the process-wide safety configuration.
type Settings struct {
	Enabled        bool
	GlobalCooldown time.Duration
	Protected      []string
}

// Decision is the result of a reservation attempt.
type Decision struct {
	Reserved bool
	Reason   string // one of the action.Reason* constants when not reserved

	// Token identifies the reservation for Release and Commit. It is only
	// set when Reserved is true.
	Token string
}

// Cooldown describes the remaining cooldown for one resource.
type Cooldown struct {
	Resource     string        `json:"resource"`
	LastDispatch time.Time     `json:"last_dispatch"`
	Remaining    time.Duration `json:"remaining"`
}

// reservation remembers what a successful TryReserve overwrote.
type reservation struct {
	name       string
	at         time.Time
	prev       time.Time
	prevGlobal time.Time
	cooldown   time.Duration
}

// Store is the cooldown and safety state machine.
type Store struct {
	mu             sync.Mutex
	enabled        bool
	globalCooldown time.Duration
	protected      map[string]struct{}
	last           map[string]time.Time
	cooldowns      map[string]time.Duration
	globalLast     time.Time
	pending        map[string]reservation // by token
	now            func() time.Time
}

// NewStore creates a store initialised from settings.
func NewStore(s Settings) *Store {
	st := &Store{
		last:      make(map[string]time.Time),
		cooldowns: make(map[string]time.Duration),
		pending:   make(map[string]reservation),
		now:       time.Now,
	}
	st.Update(s)
	return st
}

// Update replaces the settings. Cooldown timestamps are kept.
func (s *Store) Update(settings Settings) {
	protected := make(map[string]struct{}, len(settings.Protected))
	for _, name := range settings.Protected {
		if n := action.ResourceKey(name); n != "" {
			protected[n] = struct{}{}
		}
	}

	s.mu.Lock()
	s.enabled = settings.Enabled
	s.globalCooldown = settings.GlobalCooldown
	s.protected = protected
	s.mu.Unlock()
}

// TryReserve atomically checks, in order: protected, disabled, global
// cooldown, resource cooldown. On success it stamps both the resource and
// the global timestamp before returning.
func (s *Store) TryReserve(resource string, cooldown time.Duration) Decision {
	name := action.ResourceKey(resource)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.protected[name]; ok {
		return Decision{Reason: action.ReasonProtected}
	}
	if !s.enabled {
		return Decision{Reason: action.ReasonDisabled}
	}

	now := s.now()
	if s.globalCooldown > 0 && !s.globalLast.IsZero() && now.Sub(s.globalLast) < s.globalCooldown {
		return Decision{Reason: action.ReasonGlobalCooldown}
	}
	prev, seen := s.last[name]
	if seen && cooldown > 0 && now.Sub(prev) < cooldown {
		return Decision{Reason: action.ReasonResourceCooldown}
	}

	token := uuid.New().String()
	s.pending[token] = reservation{
		name:       name,
		at:         now,
		prev:       prev,
		prevGlobal: s.globalLast,
		cooldown:   s.cooldowns[name],
	}
	s.last[name] = now
	s.cooldowns[name] = cooldown
	s.globalLast = now

	return Decision{Reserved: true, Token: token}
}

// Release rolls back the reservation identified by token. Timestamps are
// only restored if no later reservation has overwritten them. Unknown or
// already settled tokens are ignored.
func (s *Store) Release(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.pending[token]
	if !ok {
		return
	}
	delete(s.pending, token)

	if s.last[r.name].Equal(r.at) {
		if r.prev.IsZero() {
			delete(s.last, r.name)
			delete(s.cooldowns, r.name)
		} else {
			s.last[r.name] = r.prev
			s.cooldowns[r.name] = r.cooldown
		}
	}
	if s.globalLast.Equal(r.at) {
		s.globalLast = r.prevGlobal
	}
}

// Commit settles the reservation identified by token once its dispatch has
// reached the actuator. The cooldown stands and a later Release of the same
// token is a no-op.
func (s *Store) Commit(token string) {
	s.mu.Lock()
	delete(s.pending, token)
	s.mu.Unlock()
}

// IsProtected reports whether resource is in the protected set.
func (s *Store) IsProtected(resource string) bool {
	name := action.ResourceKey(resource)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.protected[name]
	return ok
}

// Enabled reports whether automated dispatch is switched on.
func (s *Store) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Snapshot returns resources that are still cooling down, soonest-expiring first.
func (s *Store) Snapshot() []Cooldown {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]Cooldown, 0, len(s.last))
	for name, at := range s.last {
		remaining := s.cooldowns[name] - now.Sub(at)
		if remaining <= 0 {
			continue
		}
		out = append(out, Cooldown{Resource: name, LastDispatch: at, Remaining: remaining})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Remaining != out[j].Remaining {
			return out[i].Remaining < out[j].Remaining
		}
		return out[i].Resource < out[j].Resource
	})
	return out
}
