package store

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jwebster45206/consequence-engine/pkg/consequence"
)

// ConsequenceRegistry holds every consequence the engine has applied.
// Entries are never deleted; expiry only marks them resolved.
type ConsequenceRegistry struct {
	mu       sync.RWMutex
	items    map[string]*consequence.Consequence
	claimed  map[string]bool // world-scoped consequences already applied
	onChange func()
}

func NewConsequenceRegistry() *ConsequenceRegistry {
	return &ConsequenceRegistry{
		items:   make(map[string]*consequence.Consequence),
		claimed: make(map[string]bool),
	}
}

// SetOnChange registers a callback fired after each mutation, outside the lock
func (r *ConsequenceRegistry) SetOnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Register stores a copy of c, stamping its application and expiration times
// the first time it is seen. Later registrations only add affected players.
func (r *ConsequenceRegistry) Register(c *consequence.Consequence, playerID string, now time.Time, scenarioLength time.Duration) *consequence.Consequence {
	r.mu.Lock()
	existing, ok := r.items[c.ID]
	if !ok {
		existing = c.Clone()
		existing.Stamp(now, scenarioLength)
		if existing.AffectedPlayers == nil {
			existing.AffectedPlayers = []string{}
		}
		r.items[existing.ID] = existing
	}
	existing.AddAffectedPlayer(playerID)
	out := existing.Clone()
	r.mu.Unlock()

	r.changed()
	return out
}

// Claim marks a world-scoped consequence as applied. It returns false if it already was.
func (r *ConsequenceRegistry) Claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed[id] {
		return false
	}
	r.claimed[id] = true
	return true
}

// Release undoes a Claim when the application failed
func (r *ConsequenceRegistry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claimed, id)
}

// Get returns a copy of the consequence
func (r *ConsequenceRegistry) Get(id string) (*consequence.Consequence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Unresolved returns copies of every consequence not yet resolved, ordered by ID
func (r *ConsequenceRegistry) Unresolved() []*consequence.Consequence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*consequence.Consequence{}
	for _, id := range slices.Sorted(maps.Keys(r.items)) {
		if c := r.items[id]; !c.Resolved {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Expired returns copies of unresolved consequences whose expiration has passed
func (r *ConsequenceRegistry) Expired(now time.Time) []*consequence.Consequence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*consequence.Consequence
	for _, id := range slices.Sorted(maps.Keys(r.items)) {
		if c := r.items[id]; c.IsExpired(now) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// HoldsEvent reports whether an unresolved world-event consequence other than exceptID
// still refers to eventID
func (r *ConsequenceRegistry) HoldsEvent(eventID, exceptID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.items {
		if id == exceptID || c.Resolved || c.WorldEvent == nil {
			continue
		}
		if c.Kind == consequence.KindWorldEvent && c.WorldEvent.EventID == eventID {
			return true
		}
	}
	return false
}

// Resolve marks the consequence resolved. It returns false if unknown or already resolved.
func (r *ConsequenceRegistry) Resolve(id string) bool {
	r.mu.Lock()
	c, ok := r.items[id]
	if !ok || c.Resolved {
		r.mu.Unlock()
		return false
	}
	c.Resolved = true
	r.mu.Unlock()

	r.changed()
	return true
}

// Len returns the number of registered consequences
func (r *ConsequenceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Snapshot returns deep copies of every consequence
func (r *ConsequenceRegistry) Snapshot() map[string]*consequence.Consequence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*consequence.Consequence, len(r.items))
	for id, c := range r.items {
		out[id] = c.Clone()
	}
	return out
}

// Restore replaces the registry contents. World-scoped entries are treated as already claimed.
func (r *ConsequenceRegistry) Restore(items map[string]*consequence.Consequence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if items == nil {
		items = make(map[string]*consequence.Consequence)
	}
	r.items = items
	r.claimed = make(map[string]bool)
	for id, c := range items {
		if c.IsWorldScoped() {
			r.claimed[id] = true
		}
	}
}

func (r *ConsequenceRegistry) changed() {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
