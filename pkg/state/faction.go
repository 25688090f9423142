package state

import (
	"github.com/jwebster45206/consequence-engine/pkg/condition"
)

// RelationStatus is the label attached to a faction relation value
type RelationStatus string

const (
	StatusHostile  RelationStatus = "hostile"
	StatusTense    RelationStatus = "tense"
	StatusNeutral  RelationStatus = "neutral"
	StatusFriendly RelationStatus = "friendly"
	StatusAllied   RelationStatus = "allied"
)

const (
	MinRelation  = -100
	MaxRelation  = 100
	InitialPower = 50.0
)

// DefaultFactions are seeded into a fresh world
var DefaultFactions = []string{"KORVAN", "SILVERMOON", "IRONHOLD", "SHADOWVEIL", "CRIMSON_PACT"}

// DefaultRegions are seeded into a fresh world, keyed by region ID
var DefaultRegions = map[string]string{
	"northern_reaches": "Northern Reaches",
	"capital":          "The Capital",
	"eastern_marshes":  "Eastern Marshes",
	"southern_coast":   "Southern Coast",
	"old_forest":       "The Old Forest",
}

// NormalizeFaction returns the canonical faction key
func NormalizeFaction(f string) string {
	return condition.NormalizeFaction(f)
}

// PairKey returns the unordered key for two factions
func PairKey(a, b string) string {
	a, b = NormalizeFaction(a), NormalizeFaction(b)
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// StatusForValue maps a relation value onto its status label
func StatusForValue(v int) RelationStatus {
	switch {
	case v <= -60:
		return StatusHostile
	case v <= -20:
		return StatusTense
	case v < 20:
		return StatusNeutral
	case v < 60:
		return StatusFriendly
	default:
		return StatusAllied
	}
}

// ClampRelation bounds a relation value to [MinRelation, MaxRelation]
func ClampRelation(v int) int {
	return max(MinRelation, min(MaxRelation, v))
}
