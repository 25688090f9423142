package store

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/consequence-engine/pkg/state"
)

// MaxChangeLog bounds the in-memory tail of world state changes
const MaxChangeLog = 500

// MaxInfluentialPlayers bounds the influence ranking
const MaxInfluentialPlayers = 10

var (
	ErrUnknownFaction = errors.New("unknown faction")
	ErrSameFaction    = errors.New("a faction has no relation with itself")
)

// Source identifies what caused a world mutation
type Source struct {
	ConsequenceID string
	PlayerID      string
}

// WorldStore owns the shared WorldState. All mutations go through its methods
// and are serialized by a single lock.
type WorldStore struct {
	mu       sync.RWMutex
	state    *state.WorldState
	changes  []state.WorldStateChange
	onChange func()
	now      func() time.Time
	logger   *slog.Logger
}

// NewWorldStore wraps an existing world state
func NewWorldStore(ws *state.WorldState, logger *slog.Logger) *WorldStore {
	if ws == nil {
		ws = state.NewWorldState(state.DefaultFactions, state.DefaultRegions, time.Now().UTC())
	}
	return &WorldStore{
		state:   ws,
		changes: []state.WorldStateChange{},
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// SetClock overrides the time source
func (s *WorldStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetOnChange registers a callback fired after each mutation, outside the lock
func (s *WorldStore) SetOnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// State returns the live world state. Callers must treat it as read-only;
// use Snapshot for a copy that is safe to hold.
func (s *WorldStore) State() *state.WorldState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// View runs fn with a read lock held over the live state
func (s *WorldStore) View(fn func(ws *state.WorldState)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

// Snapshot returns a deep copy of the world and the change log tail
func (s *WorldStore) Snapshot() (*state.WorldState, []state.WorldStateChange) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), slices.Clone(s.changes)
}

// Restore replaces the world state wholesale
func (s *WorldStore) Restore(ws *state.WorldState, changes []state.WorldStateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = ws
	if changes == nil {
		changes = []state.WorldStateChange{}
	}
	s.changes = changes
}

// Changes returns up to limit of the most recent change records, oldest first
func (s *WorldStore) Changes(limit int) []state.WorldStateChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.changes) {
		limit = len(s.changes)
	}
	return slices.Clone(s.changes[len(s.changes)-limit:])
}

// FactionPower returns a faction's current power
func (s *WorldStore) FactionPower(faction string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.FactionPower[state.NormalizeFaction(faction)]
	return p, ok
}

// AdjustFactionPower nudges a faction's global power and returns the before/after values
func (s *WorldStore) AdjustFactionPower(faction string, delta float64, src Source) (before, after float64, err error) {
	faction = state.NormalizeFaction(faction)

	s.mu.Lock()
	before, ok := s.state.FactionPower[faction]
	if !ok {
		s.mu.Unlock()
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownFaction, faction)
	}
	after = before + delta
	s.state.FactionPower[faction] = after
	s.recordLocked("faction_power", faction, delta, fmt.Sprintf("%s power %+.1f", faction, delta), src)
	s.mu.Unlock()

	s.changed()
	return before, after, nil
}

// ChangeRelation moves the relation between two factions, clamped to [-100,100].
// It returns a copy of the updated relation.
func (s *WorldStore) ChangeRelation(a, b string, change int, reason string, src Source) (state.FactionRelation, error) {
	a, b = state.NormalizeFaction(a), state.NormalizeFaction(b)
	if a == b {
		return state.FactionRelation{}, ErrSameFaction
	}

	s.mu.Lock()
	if !s.state.HasFaction(a) || !s.state.HasFaction(b) {
		s.mu.Unlock()
		return state.FactionRelation{}, fmt.Errorf("%w: %s/%s", ErrUnknownFaction, a, b)
	}

	rel, ok := s.state.Relation(a, b)
	if !ok {
		first, second := a, b
		if second < first {
			first, second = second, first
		}
		rel = &state.FactionRelation{FactionA: first, FactionB: second, Status: state.StatusNeutral, History: []state.RelationChange{}}
		s.state.FactionRelations[state.PairKey(a, b)] = rel
	}

	now := s.now()
	newValue := state.ClampRelation(rel.Value + change)
	applied := newValue - rel.Value
	rel.Value = newValue
	rel.Status = state.StatusForValue(newValue)
	rel.History = append(rel.History, state.RelationChange{
		Change:        applied,
		Value:         newValue,
		Reason:        reason,
		ConsequenceID: src.ConsequenceID,
		Timestamp:     now,
	})
	s.recordLocked("faction_relation", state.PairKey(a, b), float64(applied), reason, src)

	out := *rel
	out.History = slices.Clone(rel.History)
	s.mu.Unlock()

	s.changed()
	return out, nil
}

// StartEvent adds an active world event and attaches it to each known region.
// It returns the regions the event was attached to and those that do not exist.
func (s *WorldStore) StartEvent(ev state.WorldEvent, major bool, src Source) (attached, missing []string) {
	s.mu.Lock()
	now := s.now()
	if ev.StartedAt.IsZero() {
		ev.StartedAt = now
	}
	if ev.Regions == nil {
		ev.Regions = []string{}
	}

	if _, exists := s.state.ActiveEvent(ev.ID); !exists {
		s.state.ActiveEvents = append(s.state.ActiveEvents, ev)
	}

	for _, regionID := range ev.Regions {
		region, ok := s.state.Regions[regionID]
		if !ok {
			missing = append(missing, regionID)
			continue
		}
		if !slices.Contains(region.ActiveEvents, ev.ID) {
			region.ActiveEvents = append(region.ActiveEvents, ev.ID)
		}
		attached = append(attached, regionID)
	}

	if major {
		s.state.LastMajorEvent = &state.MajorEvent{EventID: ev.ID, Name: ev.Name, Timestamp: now}
	}
	s.recordLocked("world_event", ev.ID, 1, "started: "+ev.Name, src)
	s.mu.Unlock()

	s.changed()
	return attached, missing
}

// CompleteEvent moves an event from active to completed and detaches it from regions
func (s *WorldStore) CompleteEvent(eventID string) bool {
	s.mu.Lock()
	idx, ok := s.state.ActiveEvent(eventID)
	if !ok {
		s.mu.Unlock()
		return false
	}

	now := s.now()
	ev := s.state.ActiveEvents[idx]
	ev.EndedAt = &now
	s.state.ActiveEvents = slices.Delete(s.state.ActiveEvents, idx, idx+1)
	s.state.CompletedEvents = append(s.state.CompletedEvents, ev)

	for _, region := range s.state.Regions {
		region.ActiveEvents = slices.DeleteFunc(region.ActiveEvents, func(id string) bool { return id == eventID })
	}
	s.recordLocked("world_event", eventID, -1, "completed: "+ev.Name, Source{ConsequenceID: ev.ConsequenceID})
	s.mu.Unlock()

	s.changed()
	return true
}

// SetFlag sets a global flag
func (s *WorldStore) SetFlag(key, value string) {
	s.mu.Lock()
	s.state.Flags[key] = value
	s.recordLocked("flag", key, 0, value, Source{})
	s.mu.Unlock()

	s.changed()
}

// Flag reads a global flag
func (s *WorldStore) Flag(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.Flags[key]
	return v, ok
}

// RecordChoice bumps the global choice counter and replaces the influence ranking
func (s *WorldStore) RecordChoice(ranking []state.InfluenceEntry) {
	sort.SliceStable(ranking, func(i, j int) bool {
		if ranking[i].Score != ranking[j].Score {
			return ranking[i].Score > ranking[j].Score
		}
		return ranking[i].PlayerID < ranking[j].PlayerID
	})
	if len(ranking) > MaxInfluentialPlayers {
		ranking = ranking[:MaxInfluentialPlayers]
	}

	s.mu.Lock()
	s.state.TotalChoices++
	s.state.InfluentialPlayers = ranking
	s.state.UpdatedAt = s.now()
	s.mu.Unlock()

	s.changed()
}

// recordLocked appends to the change log; the caller holds the write lock
func (s *WorldStore) recordLocked(kind, target string, delta float64, desc string, src Source) {
	now := s.now()
	s.state.UpdatedAt = now
	s.changes = append(s.changes, state.WorldStateChange{
		ID:            uuid.NewString(),
		Kind:          kind,
		Target:        target,
		Delta:         delta,
		Description:   desc,
		ConsequenceID: src.ConsequenceID,
		PlayerID:      src.PlayerID,
		Timestamp:     now,
	})
	if over := len(s.changes) - MaxChangeLog; over > 0 {
		s.changes = slices.Delete(s.changes, 0, over)
	}
}

func (s *WorldStore) changed() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
