package applier

import (
	"github.com/jwebster45206/consequence-engine/pkg/consequence"
	"github.com/jwebster45206/consequence-engine/pkg/state"
)

// PlayerEffect summarizes what one consequence did to one player
type PlayerEffect struct {
	PlayerID      string           `json:"player_id"`
	ConsequenceID string           `json:"consequence_id"`
	Kind          consequence.Kind `json:"kind"`
	Description   string           `json:"description"`
	Faction       string           `json:"faction,omitempty"`
	Stat          string           `json:"stat,omitempty"`
	Before        int              `json:"before"`
	After         int              `json:"after"`
	Status        string           `json:"status,omitempty"`
	Unlocked      string           `json:"unlocked,omitempty"`
	LeveledUp     bool             `json:"leveled_up,omitempty"`
	Level         int              `json:"level,omitempty"`
}

// WorldEffect summarizes what one consequence did to the shared world
type WorldEffect struct {
	ConsequenceID string               `json:"consequence_id"`
	Kind          consequence.Kind     `json:"kind"`
	Description   string               `json:"description"`
	Target        string               `json:"target"`
	Before        float64              `json:"before"`
	After         float64              `json:"after"`
	Status        state.RelationStatus `json:"status,omitempty"`
	Regions       []string             `json:"regions,omitempty"`
}

// Skip reasons reported when a consequence is deliberately not applied
const (
	SkipAlreadyApplied = "already_applied"
	SkipConditionUnmet = "condition_unmet"
)

// Outcome is the result of applying a single consequence
type Outcome struct {
	ConsequenceID string         `json:"consequence_id"`
	Applied       bool           `json:"applied"`
	Skipped       string         `json:"skipped,omitempty"`
	Expired       bool           `json:"expired,omitempty"`
	PlayerEffects []PlayerEffect `json:"player_effects"`
	WorldEffects  []WorldEffect  `json:"world_effects"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// ConsequenceApplicationResult reports a batch application.
// Success is false only when nothing in the batch was applied.
type ConsequenceApplicationResult struct {
	Success               bool                      `json:"success"`
	AppliedConsequenceIDs []string                  `json:"applied_consequence_ids"`
	PerPlayerEffects      map[string][]PlayerEffect `json:"per_player_effects"`
	WorldEffects          []WorldEffect             `json:"world_effects"`
	Errors                []string                  `json:"errors"`
}

// NewResult returns an empty result with non-nil collections
func NewResult() *ConsequenceApplicationResult {
	return &ConsequenceApplicationResult{
		AppliedConsequenceIDs: []string{},
		PerPlayerEffects:      make(map[string][]PlayerEffect),
		WorldEffects:          []WorldEffect{},
		Errors:                []string{},
	}
}

// Add folds a single outcome into the batch result
func (r *ConsequenceApplicationResult) Add(o Outcome) {
	if o.Applied {
		r.AppliedConsequenceIDs = append(r.AppliedConsequenceIDs, o.ConsequenceID)
		r.Success = true
	}
	for _, pe := range o.PlayerEffects {
		r.PerPlayerEffects[pe.PlayerID] = append(r.PerPlayerEffects[pe.PlayerID], pe)
	}
	r.WorldEffects = append(r.WorldEffects, o.WorldEffects...)
	r.Errors = append(r.Errors, o.Warnings...)
}

// Merge folds another batch result into r
func (r *ConsequenceApplicationResult) Merge(other *ConsequenceApplicationResult) {
	if other == nil {
		return
	}
	r.Success = r.Success || other.Success
	r.AppliedConsequenceIDs = append(r.AppliedConsequenceIDs, other.AppliedConsequenceIDs...)
	for id, effects := range other.PerPlayerEffects {
		r.PerPlayerEffects[id] = append(r.PerPlayerEffects[id], effects...)
	}
	r.WorldEffects = append(r.WorldEffects, other.WorldEffects...)
	r.Errors = append(r.Errors, other.Errors...)
}
