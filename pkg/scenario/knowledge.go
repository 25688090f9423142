package scenario

import (
	"slices"
	"time"

	"github.com/jwebster45206/consequence-engine/pkg/condition"
)

// Shareability controls whether a clue may pass between players
type Shareability string

const (
	SharePrivate   Shareability = "private"
	ShareShareable Shareability = "shareable"
	SharePublic    Shareability = "public"
)

// ClueCategory drives the eligibility heuristic for shareable clues
type ClueCategory string

const (
	CategoryMagical     ClueCategory = "magical"
	CategoryPhysical    ClueCategory = "physical"
	CategoryTestimony   ClueCategory = "testimony"
	CategoryDocument    ClueCategory = "document"
	CategoryObservation ClueCategory = "observation"
)

// Clue is a piece of information inside a scenario
type Clue struct {
	ID                string              `json:"id"`
	Title             string              `json:"title"`
	Content           string              `json:"content"`
	Category          ClueCategory        `json:"category"`
	Shareability      Shareability        `json:"shareability"`
	RelatedClues      []string            `json:"related_clues,omitempty"`
	UnlockRequirement condition.Predicate `json:"unlock_requirement"`
}

// PotentialReveal is a hidden element a player has not unlocked yet
type PotentialReveal struct {
	ElementID string              `json:"element_id"`
	UnlockID  string              `json:"unlock_id"`
	Condition condition.Predicate `json:"condition"`
	Hint      string              `json:"hint,omitempty"`
}

// Deduction is a hypothesis a player has recorded
type Deduction struct {
	ID              string    `json:"id"`
	Hypothesis      string    `json:"hypothesis"`
	Confidence      float64   `json:"confidence"`
	SupportingClues []string  `json:"supporting_clues"`
	Timestamp       time.Time `json:"timestamp"`
}

// AsymmetricInfo is one player's view of one scenario
type AsymmetricInfo struct {
	PlayerID         string            `json:"player_id"`
	ScenarioID       string            `json:"scenario_id"`
	VisibleChoices   []string          `json:"visible_choices"`
	HiddenChoices    []string          `json:"hidden_choices"`
	AvailableClues   []string          `json:"available_clues"`
	DiscoveredClues  []string          `json:"discovered_clues"`
	SharedClues      []string          `json:"shared_clues"`
	PotentialReveals []PotentialReveal `json:"potential_reveals"`
	Deductions       []Deduction       `json:"deductions"`
}

// NewAsymmetricInfo returns an empty view for a player
func NewAsymmetricInfo(playerID, scenarioID string) *AsymmetricInfo {
	return &AsymmetricInfo{
		PlayerID:         playerID,
		ScenarioID:       scenarioID,
		VisibleChoices:   []string{},
		HiddenChoices:    []string{},
		AvailableClues:   []string{},
		DiscoveredClues:  []string{},
		SharedClues:      []string{},
		PotentialReveals: []PotentialReveal{},
		Deductions:       []Deduction{},
	}
}

// CanSee reports whether the choice is in the player's visible set
func (a *AsymmetricInfo) CanSee(choiceID string) bool {
	return slices.Contains(a.VisibleChoices, choiceID)
}

// Clone returns a deep copy
func (a *AsymmetricInfo) Clone() *AsymmetricInfo {
	if a == nil {
		return nil
	}
	out := *a
	out.VisibleChoices = slices.Clone(a.VisibleChoices)
	out.HiddenChoices = slices.Clone(a.HiddenChoices)
	out.AvailableClues = slices.Clone(a.AvailableClues)
	out.DiscoveredClues = slices.Clone(a.DiscoveredClues)
	out.SharedClues = slices.Clone(a.SharedClues)
	out.PotentialReveals = slices.Clone(a.PotentialReveals)
	if a.Deductions != nil {
		out.Deductions = make([]Deduction, len(a.Deductions))
		for i, d := range a.Deductions {
			out.Deductions[i] = d
			out.Deductions[i].SupportingClues = slices.Clone(d.SupportingClues)
		}
	}
	return &out
}

// appendUnique appends v to s if it is not already present
func appendUnique(s []string, v string) []string {
	if slices.Contains(s, v) {
		return s
	}
	return append(s, v)
}

// AddDiscovered records a discovered clue once
func (a *AsymmetricInfo) AddDiscovered(clueID string) {
	a.DiscoveredClues = appendUnique(a.DiscoveredClues, clueID)
	a.AvailableClues = appendUnique(a.AvailableClues, clueID)
}

// AddShared records a clue received from another player once
func (a *AsymmetricInfo) AddShared(clueID string) {
	a.SharedClues = appendUnique(a.SharedClues, clueID)
	a.AddDiscovered(clueID)
}
