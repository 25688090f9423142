package templates

import (
	"math/rand"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jwebster45206/consequence-engine/pkg/scenario"
	"github.com/jwebster45206/consequence-engine/pkg/state"
)

// Generator produces a value for a placeholder
type Generator func(rng *rand.Rand, req *scenario.GenerationRequest) string

var npcFirstNames = []string{"Aldric", "Maren", "Tobias", "Isolde", "Corwin", "Saela", "Brannoc", "Elowen", "Dacian", "Ysolde"}

var npcEpithets = []string{"the Grey", "of the Marsh", "Blackhand", "the Younger", "Ashborn", "the Quiet"}

var artifacts = []string{"sunstone_amulet", "ledger_of_debts", "cracked_crown", "warden_seal", "silver_compass", "bone_flute"}

var locations = []string{"a rain-soaked market square", "the ruined watchtower", "a crowded tavern cellar", "the harbor warehouses", "an abandoned chapel"}

func pick(rng *rand.Rand, opts []string) string {
	if len(opts) == 0 {
		return ""
	}
	return opts[rng.Intn(len(opts))]
}

func defaultGenerators() map[string]Generator {
	return map[string]Generator{
		"faction": func(rng *rand.Rand, _ *scenario.GenerationRequest) string {
			return pick(rng, state.DefaultFactions)
		},
		"region": func(rng *rand.Rand, _ *scenario.GenerationRequest) string {
			ids := make([]string, 0, len(state.DefaultRegions))
			for id := range state.DefaultRegions {
				ids = append(ids, id)
			}
			slices.Sort(ids)
			return pick(rng, ids)
		},
		"npc_name": func(rng *rand.Rand, _ *scenario.GenerationRequest) string {
			return pick(rng, npcFirstNames) + " " + pick(rng, npcEpithets)
		},
		"artifact": func(rng *rand.Rand, _ *scenario.GenerationRequest) string {
			return pick(rng, artifacts)
		},
		"player_name": func(rng *rand.Rand, req *scenario.GenerationRequest) string {
			if req == nil || len(req.PlayerIDs) == 0 {
				return "a stranger"
			}
			return req.PlayerName(pick(rng, req.PlayerIDs))
		},
		"location": func(rng *rand.Rand, req *scenario.GenerationRequest) string {
			if req != nil && req.Location != "" {
				return req.Location
			}
			return pick(rng, locations)
		},
	}
}

// titleCase turns an identifier like eastern_marshes into Eastern Marshes.
// Casers hold state, so each call gets its own.
func titleCase(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(strings.ToLower(s), "_", " "))
}
