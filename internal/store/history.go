package store

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jwebster45206/consequence-engine/pkg/state"
)

// HistoryStore owns every PlayerHistory. Histories are created lazily and never removed.
type HistoryStore struct {
	mu        sync.RWMutex
	histories map[string]*state.PlayerHistory
	factions  []string
	onChange  func()
	now       func() time.Time
	logger    *slog.Logger
}

// NewHistoryStore creates an empty store whose new histories carry zero reputation for each faction
func NewHistoryStore(factions []string, logger *slog.Logger) *HistoryStore {
	return &HistoryStore{
		histories: make(map[string]*state.PlayerHistory),
		factions:  slices.Clone(factions),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// SetClock overrides the time source
func (s *HistoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetOnChange registers a callback fired after each mutation, outside the lock
func (s *HistoryStore) SetOnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// getOrCreateLocked returns the live history; the caller holds the write lock
func (s *HistoryStore) getOrCreateLocked(playerID string) *state.PlayerHistory {
	h, ok := s.histories[playerID]
	if !ok {
		h = state.NewPlayerHistory(playerID, s.factions, s.now())
		s.histories[playerID] = h
		s.logger.Debug("Created player history", "player_id", playerID)
	}
	return h
}

// GetOrCreate returns a copy of the player's history, creating it on first reference
func (s *HistoryStore) GetOrCreate(playerID string) *state.PlayerHistory {
	s.mu.RLock()
	h, ok := s.histories[playerID]
	if ok {
		out := h.Clone()
		s.mu.RUnlock()
		return out
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(playerID).Clone()
}

// Exists reports whether a history has been created for the player
func (s *HistoryStore) Exists(playerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.histories[playerID]
	return ok
}

// View runs fn over the live history under the read lock. fn must not retain h.
func (s *HistoryStore) View(playerID string, fn func(h *state.PlayerHistory)) {
	s.mu.RLock()
	if h, ok := s.histories[playerID]; ok {
		fn(h)
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.getOrCreateLocked(playerID))
}

// Update runs fn over the live history under the write lock and fires the change hook
func (s *HistoryStore) Update(playerID string, fn func(h *state.PlayerHistory)) {
	s.mu.Lock()
	h := s.getOrCreateLocked(playerID)
	fn(h)
	h.LastActive = s.now()
	s.mu.Unlock()

	s.changed()
}

// PlayerIDs returns every known player ID, sorted
func (s *HistoryStore) PlayerIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.histories))
}

// Snapshot returns a deep copy of every history
func (s *HistoryStore) Snapshot() map[string]*state.PlayerHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*state.PlayerHistory, len(s.histories))
	for id, h := range s.histories {
		out[id] = h.Clone()
	}
	return out
}

// Restore replaces every history
func (s *HistoryStore) Restore(histories map[string]*state.PlayerHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if histories == nil {
		histories = make(map[string]*state.PlayerHistory)
	}
	s.histories = histories
}

// RecordChoice appends a choice to the player's ledger and returns the updated influence score
func (s *HistoryStore) RecordChoice(playerID string, rec state.ChoiceRecord) float64 {
	var score float64
	s.Update(playerID, func(h *state.PlayerHistory) {
		if rec.Timestamp.IsZero() {
			rec.Timestamp = s.now()
		}
		if rec.ConsequenceIDs == nil {
			rec.ConsequenceIDs = []string{}
		}
		h.Choices = append(h.Choices, rec)
		h.TotalChoices++
		score = h.InfluenceScore()
	})
	return score
}

// InfluenceRanking scores every player for the world's influence list
func (s *HistoryStore) InfluenceRanking() []state.InfluenceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]state.InfluenceEntry, 0, len(s.histories))
	for id, h := range s.histories {
		out = append(out, state.InfluenceEntry{PlayerID: id, Score: h.InfluenceScore()})
	}
	return out
}

// AdjustReputation adds change to the player's standing with a faction and returns the new value
func (s *HistoryStore) AdjustReputation(playerID, faction string, change int) int {
	faction = state.NormalizeFaction(faction)
	var value int
	s.Update(playerID, func(h *state.PlayerHistory) {
		h.FactionReputation[faction] += change
		value = h.FactionReputation[faction]
	})
	return value
}

// ActivateConsequence adds the consequence to the player's active set.
// It returns false if the player already holds it as active or resolved.
func (s *HistoryStore) ActivateConsequence(playerID, consequenceID string) bool {
	claimed := false
	s.Update(playerID, func(h *state.PlayerHistory) {
		if h.TracksConsequence(consequenceID) {
			return
		}
		h.ActiveConsequences[consequenceID] = true
		claimed = true
	})
	return claimed
}

// ForgetConsequence drops a consequence from the player's active set without resolving it
func (s *HistoryStore) ForgetConsequence(playerID, consequenceID string) {
	s.Update(playerID, func(h *state.PlayerHistory) {
		delete(h.ActiveConsequences, consequenceID)
	})
}

// ResolveConsequence moves the consequence from active to resolved for one player.
// It returns false if the player did not hold it as active.
func (s *HistoryStore) ResolveConsequence(playerID, consequenceID string) bool {
	resolved := false
	s.mu.Lock()
	if h, ok := s.histories[playerID]; ok && h.ActiveConsequences[consequenceID] {
		delete(h.ActiveConsequences, consequenceID)
		h.ResolvedConsequences[consequenceID] = true
		resolved = true
	}
	s.mu.Unlock()

	if resolved {
		s.changed()
	}
	return resolved
}

// ResolveEverywhere moves the consequence from active to resolved in every history that holds it.
// It returns the IDs of the players touched.
func (s *HistoryStore) ResolveEverywhere(consequenceID string) []string {
	var touched []string
	s.mu.Lock()
	for id, h := range s.histories {
		if !h.ActiveConsequences[consequenceID] {
			continue
		}
		delete(h.ActiveConsequences, consequenceID)
		h.ResolvedConsequences[consequenceID] = true
		touched = append(touched, id)
	}
	s.mu.Unlock()

	if len(touched) > 0 {
		slices.Sort(touched)
		s.changed()
	}
	return touched
}

// DiscoverClue adds a clue to the player's discovered set; it returns false if already held
func (s *HistoryStore) DiscoverClue(playerID, clueID string) bool {
	added := false
	s.Update(playerID, func(h *state.PlayerHistory) {
		if h.DiscoveredClues[clueID] {
			return
		}
		h.DiscoveredClues[clueID] = true
		added = true
	})
	return added
}

// ReceiveSharedClue records a clue passed from one player to another.
// The recipient discovers the clue and the sender's shared set is updated.
// It returns false if the recipient already held the clue.
func (s *HistoryStore) ReceiveSharedClue(fromPlayer, toPlayer, clueID string) bool {
	s.mu.Lock()
	now := s.now()
	sender := s.getOrCreateLocked(fromPlayer)
	recipient := s.getOrCreateLocked(toPlayer)

	sender.SharedClues[clueID] = true
	sender.LastActive = now

	added := false
	if !recipient.DiscoveredClues[clueID] {
		recipient.DiscoveredClues[clueID] = true
		recipient.ReceivedShares = append(recipient.ReceivedShares, state.ClueShare{
			ClueID:     clueID,
			FromPlayer: fromPlayer,
			Timestamp:  now,
		})
		added = true
	}
	s.mu.Unlock()

	s.changed()
	return added
}

// Unlock adds content to the player's unlocked set; it returns false if already unlocked
func (s *HistoryStore) Unlock(playerID, contentID string) bool {
	added := false
	s.Update(playerID, func(h *state.PlayerHistory) {
		if h.UnlockedContent[contentID] {
			return
		}
		h.UnlockedContent[contentID] = true
		added = true
	})
	return added
}

func (s *HistoryStore) changed() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
