package consequence

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/consequence-engine/pkg/condition"
)

// Kind is one of the five effect families a consequence can carry
type Kind string

const (
	KindReputation      Kind = "reputation"
	KindWorldEvent      Kind = "world_event"
	KindFactionRelation Kind = "faction_relation"
	KindHiddenReveal    Kind = "hidden_reveal"
	KindCharacterEffect Kind = "character_effect"
)

// Duration determines how long a consequence stays active once applied
type Duration string

const (
	DurationImmediate Duration = "immediate"
	DurationShort     Duration = "short"
	DurationMedium    Duration = "medium"
	DurationLong      Duration = "long"
	DurationPermanent Duration = "permanent"
)

// Severity tiers
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// DefaultScenarioLength is the nominal length of one scenario, used to scale durations
const DefaultScenarioLength = 30 * time.Minute

// IsMajor reports whether the severity counts as a major world event
func (s Severity) IsMajor() bool {
	return s == SeverityMajor || s == SeverityCritical
}

// ReputationChange adjusts a player's standing with a faction
type ReputationChange struct {
	Faction string `json:"faction"`
	Change  int    `json:"change"`
}

// WorldEvent starts a world event in the listed regions
type WorldEvent struct {
	EventID         string   `json:"event_id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	AffectedRegions []string `json:"affected_regions,omitempty"`
}

// FactionRelationChange moves the relation between two factions
type FactionRelationChange struct {
	FactionA string `json:"faction_a"`
	FactionB string `json:"faction_b"`
	Change   int    `json:"change"`
	Reason   string `json:"reason,omitempty"`
}

// HiddenReveal unlocks content for a player once its condition holds
type HiddenReveal struct {
	RevealID  string              `json:"reveal_id"`
	Condition condition.Predicate `json:"condition"`
	Content   string              `json:"content,omitempty"`
}

// CharacterEffect changes a stat on the player's session record
type CharacterEffect struct {
	Stat   string `json:"stat"` // hp, mana, gold, xp
	Change int    `json:"change"`
	Status string `json:"status,omitempty"` // optional status label added to the player
}

// Consequence is a typed, possibly delayed effect produced by a choice.
// Exactly one payload field is set, matching Kind.
type Consequence struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"kind"`
	Description string   `json:"description"`
	Duration    Duration `json:"duration"`
	Severity    Severity `json:"severity"`

	ScenarioID string `json:"scenario_id,omitempty"`
	ChoiceID   string `json:"choice_id,omitempty"`

	// RevealCondition gates when the consequence surfaces after its choice is made
	RevealCondition condition.Predicate `json:"reveal_condition"`

	Reputation      *ReputationChange      `json:"reputation,omitempty"`
	WorldEvent      *WorldEvent            `json:"world_event,omitempty"`
	FactionRelation *FactionRelationChange `json:"faction_relation,omitempty"`
	Reveal          *HiddenReveal          `json:"reveal,omitempty"`
	CharacterEffect *CharacterEffect       `json:"character_effect,omitempty"`

	AppliedAt       *time.Time `json:"applied_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Resolved        bool       `json:"resolved"`
	AffectedPlayers []string   `json:"affected_players"`
}

// EnsureID assigns a random ID if the consequence has none
func (c *Consequence) EnsureID() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
}

// IsWorldScoped reports whether the effect lands on shared world state rather than a single player.
// World-scoped consequences apply once globally; player-scoped ones once per player.
func (c *Consequence) IsWorldScoped() bool {
	return c.Kind == KindWorldEvent || c.Kind == KindFactionRelation
}

// Validate checks that the payload matches the kind
func (c *Consequence) Validate() error {
	var ok bool
	switch c.Kind {
	case KindReputation:
		ok = c.Reputation != nil && c.Reputation.Faction != ""
	case KindWorldEvent:
		ok = c.WorldEvent != nil && c.WorldEvent.EventID != ""
	case KindFactionRelation:
		ok = c.FactionRelation != nil && c.FactionRelation.FactionA != "" && c.FactionRelation.FactionB != ""
	case KindHiddenReveal:
		ok = c.Reveal != nil && c.Reveal.RevealID != ""
	case KindCharacterEffect:
		ok = c.CharacterEffect != nil && c.CharacterEffect.Stat != ""
	default:
		return fmt.Errorf("unknown consequence kind %q", c.Kind)
	}
	if !ok {
		return fmt.Errorf("consequence %s of kind %s is missing its payload", c.ID, c.Kind)
	}
	return nil
}

// ExpirationFor maps a duration class onto an absolute expiration time.
// Permanent consequences return nil.
func ExpirationFor(d Duration, appliedAt time.Time, scenarioLength time.Duration) *time.Time {
	if scenarioLength <= 0 {
		scenarioLength = DefaultScenarioLength
	}

	var offset time.Duration
	switch d {
	case DurationImmediate:
		offset = time.Minute
	case DurationShort:
		offset = 2 * scenarioLength
	case DurationMedium:
		offset = 7 * scenarioLength
	case DurationLong:
		offset = 15 * scenarioLength
	case DurationPermanent:
		return nil
	default:
		// unknown classes behave like immediate
		offset = time.Minute
	}

	exp := appliedAt.Add(offset)
	return &exp
}

// Stamp records the application time and computes the expiration, once
func (c *Consequence) Stamp(now time.Time, scenarioLength time.Duration) {
	if c.AppliedAt != nil {
		return
	}
	applied := now
	c.AppliedAt = &applied
	c.ExpiresAt = ExpirationFor(c.Duration, now, scenarioLength)
}

// IsExpired reports whether the consequence should be retired at now
func (c *Consequence) IsExpired(now time.Time) bool {
	return !c.Resolved && c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// AddAffectedPlayer records a player as holding this consequence
func (c *Consequence) AddAffectedPlayer(playerID string) {
	if playerID == "" || slices.Contains(c.AffectedPlayers, playerID) {
		return
	}
	c.AffectedPlayers = append(c.AffectedPlayers, playerID)
}

// IsBeneficial gives a rough read on whether the consequence helps the acting player
func (c *Consequence) IsBeneficial() bool {
	switch c.Kind {
	case KindReputation:
		return c.Reputation != nil && c.Reputation.Change > 0
	case KindFactionRelation:
		return c.FactionRelation != nil && c.FactionRelation.Change > 0
	case KindCharacterEffect:
		return c.CharacterEffect != nil && c.CharacterEffect.Change > 0
	case KindHiddenReveal:
		return true
	case KindWorldEvent:
		return !c.Severity.IsMajor()
	}
	return false
}

// Clone returns a deep copy
func (c *Consequence) Clone() *Consequence {
	if c == nil {
		return nil
	}
	out := *c
	if c.Reputation != nil {
		r := *c.Reputation
		out.Reputation = &r
	}
	if c.WorldEvent != nil {
		w := *c.WorldEvent
		w.AffectedRegions = slices.Clone(c.WorldEvent.AffectedRegions)
		out.WorldEvent = &w
	}
	if c.FactionRelation != nil {
		f := *c.FactionRelation
		out.FactionRelation = &f
	}
	if c.Reveal != nil {
		r := *c.Reveal
		out.Reveal = &r
	}
	if c.CharacterEffect != nil {
		e := *c.CharacterEffect
		out.CharacterEffect = &e
	}
	if c.AppliedAt != nil {
		t := *c.AppliedAt
		out.AppliedAt = &t
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		out.ExpiresAt = &t
	}
	out.AffectedPlayers = slices.Clone(c.AffectedPlayers)
	return &out
}
