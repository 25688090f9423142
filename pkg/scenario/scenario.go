package scenario

import (
	"slices"
	"time"

	"github.com/jwebster45206/consequence-engine/pkg/condition"
	"github.com/jwebster45206/consequence-engine/pkg/consequence"
)

// Type tags the kind of scenario being generated
type Type string

const (
	TypeMystery     Type = "mystery"
	TypePolitical   Type = "political"
	TypeCombat      Type = "combat"
	TypeExploration Type = "exploration"
	TypeSocial      Type = "social"
)

// Visibility controls which players can see a choice
type Visibility string

const (
	VisibilityAll         Visibility = "all"
	VisibilityHidden      Visibility = "hidden"
	VisibilityConditional Visibility = "conditional"
)

// Phase is the lifecycle position of an in-flight scenario
type Phase string

const (
	PhaseGenerating Phase = "generating"
	PhaseActive     Phase = "active"
	PhaseResolved   Phase = "resolved"
)

// Outcome is the terminal tag of a resolved scenario
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailure   Outcome = "FAILURE"
	OutcomePartial   Outcome = "PARTIAL"
	OutcomeAbandoned Outcome = "ABANDONED"
)

// Source records how a scenario was produced
const (
	SourceAI       = "ai"
	SourceTemplate = "template"
)

const (
	MinChoices = 2
	MaxChoices = 4
)

// Choice is a player-facing option within a scenario
type Choice struct {
	ID                  string                    `json:"id"`
	Text                string                    `json:"text"`
	Description         string                    `json:"description,omitempty"`
	Visibility          Visibility                `json:"visibility"`
	VisibilityCondition condition.Predicate       `json:"visibility_condition"`
	Requirements        []condition.Predicate     `json:"requirements,omitempty"`
	Consequences        []consequence.Consequence `json:"consequences"`
}

// VisibleTo reports whether a player with the given history can see the choice
func (c *Choice) VisibleTo(h condition.HistoryView) bool {
	switch c.Visibility {
	case VisibilityHidden:
		return false
	case VisibilityConditional:
		return c.VisibilityCondition.Visible(h)
	default:
		return true
	}
}

// RequirementsMet reports whether every declared requirement holds
func (c *Choice) RequirementsMet(h condition.HistoryView) bool {
	for _, req := range c.Requirements {
		if !req.Satisfied(h) {
			return false
		}
	}
	return true
}

// HiddenElement is content a player can unlock once its condition holds
type HiddenElement struct {
	ID          string              `json:"id"`
	Description string              `json:"description"`
	Condition   condition.Predicate `json:"condition"`
	UnlockID    string              `json:"unlock_id,omitempty"` // defaults to ID
}

// Key is the unlock identifier recorded in a player's history
func (e *HiddenElement) Key() string {
	if e.UnlockID != "" {
		return e.UnlockID
	}
	return e.ID
}

// ScenarioResponse is a generated scenario with its per-player views
type ScenarioResponse struct {
	ID             string                     `json:"id"`
	Type           Type                       `json:"type"`
	Title          string                     `json:"title"`
	Narrative      string                     `json:"narrative"`
	Choices        []Choice                   `json:"choices"`
	Clues          []Clue                     `json:"clues"`
	HiddenElements []HiddenElement            `json:"hidden_elements"`
	AsymmetricInfo map[string]*AsymmetricInfo `json:"asymmetric_info"`
	Source         string                     `json:"source"`
	TemplateID     string                     `json:"template_id,omitempty"`
	Difficulty     int                        `json:"difficulty"`
	GeneratedAt    time.Time                  `json:"generated_at"`
}

// Choice finds a choice by ID
func (s *ScenarioResponse) Choice(id string) (*Choice, bool) {
	for i := range s.Choices {
		if s.Choices[i].ID == id {
			return &s.Choices[i], true
		}
	}
	return nil, false
}

// Clue finds a clue by ID
func (s *ScenarioResponse) Clue(id string) (*Clue, bool) {
	for i := range s.Clues {
		if s.Clues[i].ID == id {
			return &s.Clues[i], true
		}
	}
	return nil, false
}

// PlayerIDs returns the players with an asymmetric info entry, sorted
func (s *ScenarioResponse) PlayerIDs() []string {
	ids := make([]string, 0, len(s.AsymmetricInfo))
	for id := range s.AsymmetricInfo {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// GenerationRequest asks the orchestrator for a new scenario
type GenerationRequest struct {
	PartyCode   string            `json:"party_code"`
	PlayerIDs   []string          `json:"player_ids"`
	PlayerNames map[string]string `json:"player_names,omitempty"`
	Type        Type              `json:"type"`
	Difficulty  int               `json:"difficulty"`
	Location    string            `json:"location,omitempty"`
	Context     string            `json:"context,omitempty"`
}

// PlayerName returns the display name for a player, falling back to the ID
func (r *GenerationRequest) PlayerName(playerID string) string {
	if name := r.PlayerNames[playerID]; name != "" {
		return name
	}
	return playerID
}

// Clone returns a deep copy
func (s *ScenarioResponse) Clone() *ScenarioResponse {
	if s == nil {
		return nil
	}
	out := *s
	if s.Choices != nil {
		out.Choices = make([]Choice, len(s.Choices))
		for i, ch := range s.Choices {
			out.Choices[i] = ch
			out.Choices[i].Requirements = slices.Clone(ch.Requirements)
			if ch.Consequences != nil {
				out.Choices[i].Consequences = make([]consequence.Consequence, len(ch.Consequences))
				for j := range ch.Consequences {
					out.Choices[i].Consequences[j] = *ch.Consequences[j].Clone()
				}
			}
		}
	}
	if s.Clues != nil {
		out.Clues = make([]Clue, len(s.Clues))
		for i, c := range s.Clues {
			out.Clues[i] = c
			out.Clues[i].RelatedClues = slices.Clone(c.RelatedClues)
		}
	}
	out.HiddenElements = slices.Clone(s.HiddenElements)
	if s.AsymmetricInfo != nil {
		out.AsymmetricInfo = make(map[string]*AsymmetricInfo, len(s.AsymmetricInfo))
		for k, v := range s.AsymmetricInfo {
			out.AsymmetricInfo[k] = v.Clone()
		}
	}
	return &out
}
