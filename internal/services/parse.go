package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jwebster45206/consequence-engine/pkg/consequence"
	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

// scenarioPayload is the shape a model is asked to answer with
type scenarioPayload struct {
	Type           scenario.Type            `json:"type"`
	Title          string                   `json:"title"`
	Narrative      string                   `json:"narrative"`
	Choices        []scenario.Choice        `json:"choices"`
	Clues          []scenario.Clue          `json:"clues"`
	HiddenElements []scenario.HiddenElement `json:"hidden_elements"`
}

// extractJSON pulls the outermost JSON object out of a model reply, tolerating
// code fences and surrounding prose.
func extractJSON(text string) (string, bool) {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// ParseScenarioPayload converts a model reply into a scenario. Choices get IDs
// and default visibility when missing; consequences with a bad payload are
// dropped. A reply without a narrative or choices is malformed.
func ParseScenarioPayload(text string, req *scenario.GenerationRequest) (*scenario.ScenarioResponse, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}

	var p scenarioPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(p.Narrative) == "" {
		return nil, fmt.Errorf("%w: missing narrative", ErrMalformedResponse)
	}
	if len(p.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	resp := &scenario.ScenarioResponse{
		Type:           p.Type,
		Title:          p.Title,
		Narrative:      p.Narrative,
		Clues:          p.Clues,
		HiddenElements: p.HiddenElements,
		Source:         scenario.SourceAI,
		AsymmetricInfo: map[string]*scenario.AsymmetricInfo{},
	}
	if req != nil {
		resp.Difficulty = req.Difficulty
		if resp.Type == "" {
			resp.Type = req.Type
		}
	}
	if resp.Clues == nil {
		resp.Clues = []scenario.Clue{}
	}
	if resp.HiddenElements == nil {
		resp.HiddenElements = []scenario.HiddenElement{}
	}

	seen := make(map[string]bool, len(p.Choices))
	for i, ch := range p.Choices {
		if ch.ID == "" || seen[ch.ID] {
			ch.ID = fmt.Sprintf("choice_%d", i+1)
		}
		seen[ch.ID] = true
		if ch.Visibility == "" {
			ch.Visibility = scenario.VisibilityAll
		}
		kept := make([]consequence.Consequence, 0, len(ch.Consequences))
		for _, c := range ch.Consequences {
			if c.Validate() != nil {
				continue
			}
			c.ID = ""
			c.EnsureID()
			c.ChoiceID = ch.ID
			c.AppliedAt, c.ExpiresAt, c.Resolved = nil, nil, false
			c.AffectedPlayers = []string{}
			kept = append(kept, c)
		}
		ch.Consequences = kept
		resp.Choices = append(resp.Choices, ch)
	}
	return resp, nil
}
