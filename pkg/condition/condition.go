package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which predicate a condition string was parsed into
type Kind string

const (
	KindAlways       Kind = "always"        // empty condition
	KindHasClue      Kind = "has_clue"      // has_clue_<id>
	KindReputationGT Kind = "reputation_gt" // reputation_<faction>_gt_<n>
	KindUnlocked     Kind = "unlocked"      // unlocked_<id>
	KindMinChoices   Kind = "min_choices"   // min_choices_<n>
	KindHasAnyClue   Kind = "has_any_clue"  // has_any_clue
	KindFactionEnemy Kind = "faction_enemy" // faction_enemy_<faction>
	KindUnknown      Kind = "unknown"
)

// EnemyThreshold is the reputation below which a player counts as an enemy of a faction
const EnemyThreshold = -20

// HistoryView is the read-only slice of a player's history that conditions are evaluated against.
// This avoids an import cycle with the state package
type HistoryView interface {
	HasClue(clueID string) bool
	HasUnlocked(contentID string) bool
	ReputationWith(faction string) int
	ChoiceCount() int
	ClueCount() int
}

// Predicate is a condition string parsed once into kind and operands.
// It serializes back to its original string so data files keep the compact grammar.
type Predicate struct {
	Kind    Kind
	Raw     string
	ID      string
	Faction string
	N       int
}

// Parse converts a condition string into a Predicate.
// Strings that do not match the grammar produce KindUnknown rather than an error.
func Parse(s string) Predicate {
	raw := strings.TrimSpace(s)
	p := Predicate{Raw: raw, Kind: KindUnknown}

	switch {
	case raw == "":
		p.Kind = KindAlways
	case raw == "has_any_clue":
		p.Kind = KindHasAnyClue
	case strings.HasPrefix(raw, "has_clue_"):
		if id := strings.TrimPrefix(raw, "has_clue_"); id != "" {
			p.Kind = KindHasClue
			p.ID = id
		}
	case strings.HasPrefix(raw, "unlocked_"):
		if id := strings.TrimPrefix(raw, "unlocked_"); id != "" {
			p.Kind = KindUnlocked
			p.ID = id
		}
	case strings.HasPrefix(raw, "min_choices_"):
		if n, err := strconv.Atoi(strings.TrimPrefix(raw, "min_choices_")); err == nil {
			p.Kind = KindMinChoices
			p.N = n
		}
	case strings.HasPrefix(raw, "faction_enemy_"):
		if f := strings.TrimPrefix(raw, "faction_enemy_"); f != "" {
			p.Kind = KindFactionEnemy
			p.Faction = NormalizeFaction(f)
		}
	case strings.HasPrefix(raw, "reputation_"):
		// faction names may themselves contain underscores, so split on the last _gt_
		body := strings.TrimPrefix(raw, "reputation_")
		idx := strings.LastIndex(body, "_gt_")
		if idx <= 0 {
			break
		}
		n, err := strconv.Atoi(body[idx+len("_gt_"):])
		if err != nil {
			break
		}
		p.Kind = KindReputationGT
		p.Faction = NormalizeFaction(body[:idx])
		p.N = n
	}

	return p
}

// NormalizeFaction returns the canonical form of a faction name
func NormalizeFaction(f string) string {
	return strings.ToUpper(strings.TrimSpace(f))
}

// HasClue builds a has_clue predicate
func HasClue(id string) Predicate { return Parse("has_clue_" + id) }

// Unlocked builds an unlocked predicate
func Unlocked(id string) Predicate { return Parse("unlocked_" + id) }

// ReputationAbove builds a reputation_<faction>_gt_<n> predicate
func ReputationAbove(faction string, n int) Predicate {
	return Parse(fmt.Sprintf("reputation_%s_gt_%d", faction, n))
}

// MinChoices builds a min_choices predicate
func MinChoices(n int) Predicate { return Parse(fmt.Sprintf("min_choices_%d", n)) }

// IsEmpty reports whether the predicate carries no condition at all
func (p Predicate) IsEmpty() bool {
	return p.Kind == KindAlways || p.Kind == ""
}

func (p Predicate) String() string {
	return p.Raw
}

// Evaluate tests the predicate against a history.
// Unknown predicates return fallback; an empty predicate is always true.
func (p Predicate) Evaluate(h HistoryView, fallback bool) bool {
	switch p.Kind {
	case KindAlways, "":
		return true
	case KindUnknown:
		return fallback
	}

	if h == nil {
		return false
	}

	switch p.Kind {
	case KindHasClue:
		return h.HasClue(p.ID)
	case KindReputationGT:
		return h.ReputationWith(p.Faction) > p.N
	case KindUnlocked:
		return h.HasUnlocked(p.ID)
	case KindMinChoices:
		return h.ChoiceCount() >= p.N
	case KindHasAnyClue:
		return h.ClueCount() > 0
	case KindFactionEnemy:
		return h.ReputationWith(p.Faction) < EnemyThreshold
	}
	return fallback
}

// Visible evaluates the predicate for choice visibility; unrecognized conditions show the choice.
func (p Predicate) Visible(h HistoryView) bool {
	return p.Evaluate(h, true)
}

// Satisfied evaluates the predicate for discovery and reveal gating; unrecognized conditions never unlock.
func (p Predicate) Satisfied(h HistoryView) bool {
	return p.Evaluate(h, false)
}

// Hint returns a player-facing description of what would satisfy the predicate.
// It returns "" for predicates that have no meaningful hint.
func (p Predicate) Hint(h HistoryView) string {
	switch p.Kind {
	case KindHasClue:
		return fmt.Sprintf("discover the clue %q", p.ID)
	case KindReputationGT:
		needed := p.N + 1
		if h != nil {
			needed = p.N + 1 - h.ReputationWith(p.Faction)
		}
		if needed < 1 {
			needed = 1
		}
		return fmt.Sprintf("gain %d more reputation with %s", needed, p.Faction)
	case KindUnlocked:
		return fmt.Sprintf("uncover %q first", p.ID)
	case KindMinChoices:
		needed := p.N
		if h != nil {
			needed = p.N - h.ChoiceCount()
		}
		if needed < 1 {
			needed = 1
		}
		if needed == 1 {
			return "make 1 more choice"
		}
		return fmt.Sprintf("make %d more choices", needed)
	case KindHasAnyClue:
		return "discover any clue"
	case KindFactionEnemy:
		return fmt.Sprintf("become an enemy of %s", p.Faction)
	}
	return ""
}

// MarshalJSON writes the predicate as its condition string
func (p Predicate) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Raw)
}

// UnmarshalJSON parses a condition string
func (p *Predicate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("condition must be a string: %w", err)
	}
	*p = Parse(s)
	return nil
}

// Substitute replaces placeholders in the raw string and re-parses
func (p Predicate) Substitute(replace func(string) string) Predicate {
	if p.Raw == "" {
		return p
	}
	return Parse(replace(p.Raw))
}
