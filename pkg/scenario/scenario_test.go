package scenario

import (
	"testing"

	"github.com/jwebster45206/consequence-engine/pkg/condition"
	"github.com/jwebster45206/consequence-engine/pkg/consequence"
)

type history struct {
	clues map[string]bool
	rep   map[string]int
}

func (h history) HasClue(id string) bool            { return h.clues[id] }
func (h history) HasUnlocked(string) bool           { return false }
func (h history) ReputationWith(faction string) int { return h.rep[faction] }
func (h history) ChoiceCount() int                  { return 0 }
func (h history) ClueCount() int                    { return len(h.clues) }

func TestChoice_VisibleTo(t *testing.T) {
	h := history{clues: map[string]bool{"map": true}, rep: map[string]int{"KORVAN": 5}}

	tests := []struct {
		name   string
		choice Choice
		want   bool
	}{
		{"all", Choice{Visibility: VisibilityAll}, true},
		{"unset visibility behaves like all", Choice{}, true},
		{"hidden", Choice{Visibility: VisibilityHidden}, false},
		{"conditional met", Choice{Visibility: VisibilityConditional, VisibilityCondition: condition.Parse("has_clue_map")}, true},
		{"conditional unmet", Choice{Visibility: VisibilityConditional, VisibilityCondition: condition.Parse("reputation_korvan_gt_10")}, false},
		{"conditional unknown shows", Choice{Visibility: VisibilityConditional, VisibilityCondition: condition.Parse("stars_align")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.choice.VisibleTo(h); got != tt.want {
				t.Errorf("VisibleTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChoice_RequirementsMet(t *testing.T) {
	h := history{clues: map[string]bool{"map": true}}

	c := Choice{Requirements: []condition.Predicate{condition.Parse("has_clue_map")}}
	if !c.RequirementsMet(h) {
		t.Error("expected requirement to be met")
	}

	c.Requirements = append(c.Requirements, condition.Parse("unrecognized_requirement"))
	if c.RequirementsMet(h) {
		t.Error("unrecognized requirements must not be treated as met")
	}
}

func TestScenarioResponse_Clone(t *testing.T) {
	s := &ScenarioResponse{
		ID: "s1",
		Choices: []Choice{{
			ID:           "c1",
			Consequences: []consequence.Consequence{{ID: "q1", AffectedPlayers: []string{"p1"}}},
		}},
		Clues:          []Clue{{ID: "k1", RelatedClues: []string{"k2"}}},
		AsymmetricInfo: map[string]*AsymmetricInfo{"p1": NewAsymmetricInfo("p1", "s1")},
	}

	cp := s.Clone()
	cp.Choices[0].Consequences[0].AffectedPlayers[0] = "p2"
	cp.Clues[0].RelatedClues[0] = "k3"
	cp.AsymmetricInfo["p1"].VisibleChoices = append(cp.AsymmetricInfo["p1"].VisibleChoices, "c1")

	if s.Choices[0].Consequences[0].AffectedPlayers[0] != "p1" {
		t.Error("clone shares consequence slices")
	}
	if s.Clues[0].RelatedClues[0] != "k2" {
		t.Error("clone shares related clues")
	}
	if len(s.AsymmetricInfo["p1"].VisibleChoices) != 0 {
		t.Error("clone shares asymmetric info")
	}
}

func TestAsymmetricInfo_AddShared(t *testing.T) {
	info := NewAsymmetricInfo("p1", "s1")
	info.AddShared("k1")
	info.AddShared("k1")

	if len(info.SharedClues) != 1 || len(info.DiscoveredClues) != 1 || len(info.AvailableClues) != 1 {
		t.Errorf("expected single entries, got %+v", info)
	}
}
