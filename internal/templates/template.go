package templates

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/jwebster45206/consequence-engine/pkg/condition"
	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

// Variable declares a {NAME} placeholder and how to fill it.
// Exactly one of Options or Generator is set.
type Variable struct {
	Name      string   `json:"name"`
	Options   []string `json:"options,omitempty"`
	Generator string   `json:"generator,omitempty"`

	// DistinctFrom names an earlier variable whose value this one must differ from
	DistinctFrom string `json:"distinct_from,omitempty"`
}

// Template is a parameterized scenario definition
type Template struct {
	ID             string                   `json:"id"`
	Type           scenario.Type            `json:"type"`
	Title          string                   `json:"title"`
	Narrative      string                   `json:"narrative"`
	Variables      []Variable               `json:"variables"`
	Choices        []scenario.Choice        `json:"choices"`
	Clues          []scenario.Clue          `json:"clues,omitempty"`
	HiddenElements []scenario.HiddenElement `json:"hidden_elements,omitempty"`
	MinPlayers     int                      `json:"min_players"`
	MaxPlayers     int                      `json:"max_players"`
	MinDifficulty  int                      `json:"min_difficulty"`
	MaxDifficulty  int                      `json:"max_difficulty"`
}

// Fits reports whether the template's ranges contain the player count and difficulty.
// A zero maximum means unbounded.
func (t *Template) Fits(players, difficulty int) bool {
	if players < t.MinPlayers || (t.MaxPlayers > 0 && players > t.MaxPlayers) {
		return false
	}
	if difficulty < t.MinDifficulty || (t.MaxDifficulty > 0 && difficulty > t.MaxDifficulty) {
		return false
	}
	return true
}

var placeholderPattern = regexp.MustCompile(`\{([A-Z][A-Z0-9_]*)\}`)

// titleSuffix marks the title-cased form of any variable, e.g. {REGION_TITLE}
const titleSuffix = "_TITLE"

var playerPlaceholder = regexp.MustCompile(`^PLAYER_[1-9][0-9]*$`)

// builtinPlaceholders are filled from the request rather than declared
var builtinPlaceholders = []string{"LOCATION", "PARTY"}

// placeholders lists every {NAME} used anywhere in the template's text
func (t *Template) placeholders() []string {
	var texts []string
	texts = append(texts, t.Title, t.Narrative)
	for _, ch := range t.Choices {
		texts = append(texts, ch.Text, ch.Description, ch.VisibilityCondition.Raw)
		for _, r := range ch.Requirements {
			texts = append(texts, r.Raw)
		}
		for _, c := range ch.Consequences {
			texts = append(texts, c.Description, c.RevealCondition.Raw)
			if c.Reputation != nil {
				texts = append(texts, c.Reputation.Faction)
			}
			if c.WorldEvent != nil {
				texts = append(texts, c.WorldEvent.EventID, c.WorldEvent.Name, c.WorldEvent.Description)
				texts = append(texts, c.WorldEvent.AffectedRegions...)
			}
			if c.FactionRelation != nil {
				texts = append(texts, c.FactionRelation.FactionA, c.FactionRelation.FactionB, c.FactionRelation.Reason)
			}
			if c.Reveal != nil {
				texts = append(texts, c.Reveal.RevealID, c.Reveal.Content, c.Reveal.Condition.Raw)
			}
			if c.CharacterEffect != nil {
				texts = append(texts, c.CharacterEffect.Status)
			}
		}
	}
	for _, cl := range t.Clues {
		texts = append(texts, cl.Title, cl.Content, cl.UnlockRequirement.Raw)
	}
	for _, he := range t.HiddenElements {
		texts = append(texts, he.Description, he.Condition.Raw)
	}

	var names []string
	for _, s := range texts {
		for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			if !slices.Contains(names, m[1]) {
				names = append(names, m[1])
			}
		}
	}
	return names
}

// validate checks structure and placeholder coverage. It returns warnings for
// problems generation can repair and an error for ones it cannot.
func (t *Template) validate(generators map[string]Generator) (warnings []string, err error) {
	var errs []error
	if t.ID == "" {
		errs = append(errs, errors.New("template id is required"))
	}
	if t.Type == "" {
		errs = append(errs, errors.New("template type is required"))
	}
	if strings.TrimSpace(t.Narrative) == "" {
		errs = append(errs, errors.New("narrative is required"))
	}
	if len(t.Choices) == 0 {
		errs = append(errs, errors.New("at least one choice is required"))
	} else if len(t.Choices) < scenario.MinChoices || len(t.Choices) > scenario.MaxChoices {
		warnings = append(warnings, fmt.Sprintf("has %d choices; generated scenarios are adjusted to %d-%d",
			len(t.Choices), scenario.MinChoices, scenario.MaxChoices))
	}
	if t.MaxPlayers > 0 && t.MinPlayers > t.MaxPlayers {
		errs = append(errs, fmt.Errorf("min_players %d exceeds max_players %d", t.MinPlayers, t.MaxPlayers))
	}
	if t.MaxDifficulty > 0 && t.MinDifficulty > t.MaxDifficulty {
		errs = append(errs, fmt.Errorf("min_difficulty %d exceeds max_difficulty %d", t.MinDifficulty, t.MaxDifficulty))
	}

	declared := make(map[string]bool, len(t.Variables))
	for _, v := range t.Variables {
		if v.Name == "" {
			errs = append(errs, errors.New("variable with empty name"))
			continue
		}
		if v.DistinctFrom != "" && !declared[v.DistinctFrom] {
			errs = append(errs, fmt.Errorf("variable %s is distinct from undeclared variable %s", v.Name, v.DistinctFrom))
		}
		declared[v.Name] = true
		switch {
		case v.Generator != "" && len(v.Options) > 0:
			errs = append(errs, fmt.Errorf("variable %s declares both options and a generator", v.Name))
		case v.Generator != "":
			if _, ok := generators[v.Generator]; !ok {
				errs = append(errs, fmt.Errorf("variable %s uses unknown generator %q", v.Name, v.Generator))
			}
		case len(v.Options) == 0:
			errs = append(errs, fmt.Errorf("variable %s needs options or a generator", v.Name))
		}
	}

	for _, name := range t.placeholders() {
		base := strings.TrimSuffix(name, titleSuffix)
		if declared[name] || declared[base] || playerPlaceholder.MatchString(base) || slices.Contains(builtinPlaceholders, base) {
			continue
		}
		errs = append(errs, fmt.Errorf("placeholder {%s} is not declared", name))
	}

	seen := make(map[string]bool)
	for _, ch := range t.Choices {
		if ch.ID == "" {
			errs = append(errs, errors.New("choice with empty id"))
			continue
		}
		if seen[ch.ID] {
			errs = append(errs, fmt.Errorf("duplicate choice id %s", ch.ID))
		}
		seen[ch.ID] = true
		if ch.Visibility == scenario.VisibilityConditional && ch.VisibilityCondition.IsEmpty() {
			warnings = append(warnings, fmt.Sprintf("choice %s is conditional but has no condition", ch.ID))
		}
		if ch.VisibilityCondition.Kind == condition.KindUnknown {
			warnings = append(warnings, fmt.Sprintf("choice %s has unrecognized condition %q", ch.ID, ch.VisibilityCondition.Raw))
		}
		for i := range ch.Consequences {
			if err := ch.Consequences[i].Validate(); err != nil {
				errs = append(errs, fmt.Errorf("choice %s: %w", ch.ID, err))
			}
		}
	}

	return warnings, errors.Join(errs...)
}
