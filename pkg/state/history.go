package state

import (
	"maps"
	"slices"
	"time"
)

// ChoiceRecord is one past choice in a player's ledger
type ChoiceRecord struct {
	ScenarioID     string    `json:"scenario_id"`
	ChoiceID       string    `json:"choice_id"`
	Timestamp      time.Time `json:"timestamp"`
	ConsequenceIDs []string  `json:"consequence_ids"`
}

// ClueShare records where a shared clue came from
type ClueShare struct {
	ClueID     string    `json:"clue_id"`
	FromPlayer string    `json:"from_player"`
	Timestamp  time.Time `json:"timestamp"`
}

// PlayerHistory is a player's permanent narrative ledger.
// Sets are represented as map[string]bool.
type PlayerHistory struct {
	PlayerID             string          `json:"player_id"`
	Choices              []ChoiceRecord  `json:"choices"`
	ActiveConsequences   map[string]bool `json:"active_consequences"`
	ResolvedConsequences map[string]bool `json:"resolved_consequences"`
	FactionReputation    map[string]int  `json:"faction_reputation"`
	DiscoveredClues      map[string]bool `json:"discovered_clues"`
	SharedClues          map[string]bool `json:"shared_clues"` // clues this player has passed on
	ReceivedShares       []ClueShare     `json:"received_shares"`
	UnlockedContent      map[string]bool `json:"unlocked_content"`
	TotalChoices         int             `json:"total_choices"`
	LastActive           time.Time       `json:"last_active"`
}

// NewPlayerHistory creates an empty history with zero reputation for every faction
func NewPlayerHistory(playerID string, factions []string, now time.Time) *PlayerHistory {
	h := &PlayerHistory{
		PlayerID:             playerID,
		Choices:              []ChoiceRecord{},
		ActiveConsequences:   make(map[string]bool),
		ResolvedConsequences: make(map[string]bool),
		FactionReputation:    make(map[string]int, len(factions)),
		DiscoveredClues:      make(map[string]bool),
		SharedClues:          make(map[string]bool),
		ReceivedShares:       []ClueShare{},
		UnlockedContent:      make(map[string]bool),
		LastActive:           now,
	}
	for _, f := range factions {
		h.FactionReputation[NormalizeFaction(f)] = 0
	}
	return h
}

// HasClue implements condition.HistoryView
func (h *PlayerHistory) HasClue(clueID string) bool {
	return h.DiscoveredClues[clueID]
}

// HasUnlocked implements condition.HistoryView
func (h *PlayerHistory) HasUnlocked(contentID string) bool {
	return h.UnlockedContent[contentID]
}

// ReputationWith implements condition.HistoryView
func (h *PlayerHistory) ReputationWith(faction string) int {
	return h.FactionReputation[NormalizeFaction(faction)]
}

// ChoiceCount implements condition.HistoryView
func (h *PlayerHistory) ChoiceCount() int {
	return h.TotalChoices
}

// ClueCount implements condition.HistoryView
func (h *PlayerHistory) ClueCount() int {
	return len(h.DiscoveredClues)
}

// TracksConsequence reports whether the consequence is active or resolved for this player
func (h *PlayerHistory) TracksConsequence(id string) bool {
	return h.ActiveConsequences[id] || h.ResolvedConsequences[id]
}

// MaxReputation returns the highest reputation the player holds with any faction
func (h *PlayerHistory) MaxReputation() int {
	best := 0
	for _, v := range h.FactionReputation {
		best = max(best, v)
	}
	return best
}

// InfluenceScore is used to rank the most influential players
func (h *PlayerHistory) InfluenceScore() float64 {
	total := 0
	for _, v := range h.FactionReputation {
		if v < 0 {
			v = -v
		}
		total += v
	}
	return float64(h.TotalChoices) + float64(total)/10
}

// Clone returns a deep copy
func (h *PlayerHistory) Clone() *PlayerHistory {
	if h == nil {
		return nil
	}
	out := *h
	if h.Choices != nil {
		out.Choices = make([]ChoiceRecord, len(h.Choices))
		for i, c := range h.Choices {
			out.Choices[i] = c
			out.Choices[i].ConsequenceIDs = slices.Clone(c.ConsequenceIDs)
		}
	}
	out.ActiveConsequences = maps.Clone(h.ActiveConsequences)
	out.ResolvedConsequences = maps.Clone(h.ResolvedConsequences)
	out.FactionReputation = maps.Clone(h.FactionReputation)
	out.DiscoveredClues = maps.Clone(h.DiscoveredClues)
	out.SharedClues = maps.Clone(h.SharedClues)
	out.ReceivedShares = slices.Clone(h.ReceivedShares)
	out.UnlockedContent = maps.Clone(h.UnlockedContent)
	return &out
}
