package services

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

// ScenarioSystemPrompt instructs the model on the response format
const ScenarioSystemPrompt = `You are the game master of a persistent fantasy world shared by a party of players.
Write one short scenario for the party and answer with a single JSON object and nothing else.

The object has these fields:
- "title": short title
- "narrative": two to four sentences setting the scene
- "choices": 2 to 4 objects with "id" (snake_case), "text", optional "description",
  "visibility" ("all", "hidden" or "conditional"), optional "visibility_condition",
  and "consequences"
- "clues": optional objects with "id", "title", "content",
  "category" (magical, physical, testimony, document, observation)
  and "shareability" (private, shareable, public)

Each consequence has "kind", "description", "duration" (immediate, short, medium, long, permanent),
"severity" (minor, moderate, major, critical) and exactly one payload matching its kind:
- reputation: {"reputation": {"faction": "KORVAN", "change": 10}}
- world_event: {"world_event": {"event_id": "...", "name": "...", "affected_regions": ["capital"]}}
- faction_relation: {"faction_relation": {"faction_a": "...", "faction_b": "...", "change": -10, "reason": "..."}}
- hidden_reveal: {"reveal": {"reveal_id": "...", "condition": "...", "content": "..."}}
- character_effect: {"character_effect": {"stat": "hp|mana|gold|xp", "change": 10}}

Conditions use this grammar: has_clue_<id>, reputation_<FACTION>_gt_<n>, unlocked_<id>,
min_choices_<n>, has_any_clue, faction_enemy_<FACTION>.`

// BuildScenarioPrompt renders the user prompt for a generation request
func BuildScenarioPrompt(req *scenario.GenerationRequest, gc *GenerationContext) string {
	var b strings.Builder

	typ := req.Type
	if typ == "" {
		typ = scenario.TypeMystery
	}
	fmt.Fprintf(&b, "Scenario type: %s\n", typ)
	fmt.Fprintf(&b, "Difficulty: %d of 10\n", req.Difficulty)
	if req.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", req.Location)
	}

	names := make([]string, 0, len(req.PlayerIDs))
	for _, id := range req.PlayerIDs {
		names = append(names, req.PlayerName(id))
	}
	fmt.Fprintf(&b, "Players (%d): %s\n", len(names), strings.Join(names, ", "))

	if gc != nil {
		if len(gc.FactionPower) > 0 {
			b.WriteString("\nFaction power:\n")
			for _, f := range sortedKeys(gc.FactionPower) {
				fmt.Fprintf(&b, "- %s: %.1f\n", f, gc.FactionPower[f])
			}
		}
		if len(gc.ActiveEvents) > 0 {
			fmt.Fprintf(&b, "\nActive world events: %s\n", strings.Join(gc.ActiveEvents, "; "))
		}
		if len(gc.Reputations) > 0 {
			b.WriteString("\nPlayer standing:\n")
			for _, id := range req.PlayerIDs {
				reps := gc.Reputations[id]
				var parts []string
				for _, f := range sortedKeys(reps) {
					if reps[f] != 0 {
						parts = append(parts, fmt.Sprintf("%s %+d", f, reps[f]))
					}
				}
				if len(parts) == 0 {
					parts = append(parts, "unknown to every faction")
				}
				fmt.Fprintf(&b, "- %s: %s\n", req.PlayerName(id), strings.Join(parts, ", "))
			}
		}
	}

	if req.Context != "" {
		fmt.Fprintf(&b, "\nRecent events: %s\n", req.Context)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
