package templates

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"math/rand"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/consequence-engine/pkg/condition"
	"github.com/jwebster45206/consequence-engine/pkg/consequence"
	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

var (
	ErrNoTemplates     = errors.New("no templates for scenario type")
	ErrUnknownTemplate = errors.New("unknown template")
)

// maxDistinctAttempts bounds re-rolls for a distinct_from variable
const maxDistinctAttempts = 16

//go:embed builtin/*.json
var builtinFS embed.FS

// Catalog holds scenario templates and the generators their variables use.
// It is safe for concurrent use.
type Catalog struct {
	mu         sync.RWMutex
	templates  map[string]*Template
	order      []string
	generators map[string]Generator

	rngMu sync.Mutex
	rng   *rand.Rand

	logger *slog.Logger
	now    func() time.Time
}

// NewCatalog returns an empty catalog with the default generators registered
func NewCatalog(rng *rand.Rand, logger *slog.Logger) *Catalog {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Catalog{
		templates:  make(map[string]*Template),
		generators: defaultGenerators(),
		rng:        rng,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewDefaultCatalog returns a catalog loaded with the built-in templates
func NewDefaultCatalog(rng *rand.Rand, logger *slog.Logger) (*Catalog, error) {
	c := NewCatalog(rng, logger)
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return nil, fmt.Errorf("failed to open built-in templates: %w", err)
	}
	if _, err := c.LoadFS(sub); err != nil {
		return nil, fmt.Errorf("failed to load built-in templates: %w", err)
	}
	return c, nil
}

// SetClock overrides the time source
func (c *Catalog) SetClock(now func() time.Time) {
	c.now = now
}

// RegisterGenerator adds or replaces a named variable generator
func (c *Catalog) RegisterGenerator(name string, g Generator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generators[name] = g
}

// Validate checks a template against the catalog's generators
func (c *Catalog) Validate(t *Template) (warnings []string, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return t.validate(c.generators)
}

// Register validates and adds a template, replacing any with the same ID
func (c *Catalog) Register(t *Template) error {
	warnings, err := c.Validate(t)
	if err != nil {
		return fmt.Errorf("template %s: %w", t.ID, err)
	}
	for _, w := range warnings {
		c.logger.Warn("Template warning", "template_id", t.ID, "warning", w)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.templates[t.ID]; !exists {
		c.order = append(c.order, t.ID)
	}
	c.templates[t.ID] = t
	return nil
}

// DecodeTemplates strictly decodes a file holding one template or an array of them
func DecodeTemplates(data []byte) ([]*Template, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var list []*Template
		if err := decodeStrict(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var t Template
	if err := decodeStrict(trimmed, &t); err != nil {
		return nil, err
	}
	return []*Template{&t}, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// LoadFS registers every .json template file at the root of fsys.
// Bad files are reported together; good ones are still registered.
func (c *Catalog) LoadFS(fsys fs.FS) (int, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return 0, fmt.Errorf("failed to list templates: %w", err)
	}

	var errs []error
	loaded := 0
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		list, err := DecodeTemplates(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		for _, t := range list {
			if err := c.Register(t); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
				continue
			}
			loaded++
		}
	}
	c.logger.Debug("Templates loaded", "count", loaded)
	return loaded, errors.Join(errs...)
}

// LoadDir registers every .json template file in dir
func (c *Catalog) LoadDir(dir string) (int, error) {
	return c.LoadFS(os.DirFS(dir))
}

// Get returns a registered template
func (c *Catalog) Get(id string) (*Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[id]
	return t, ok
}

// Templates returns every template in registration order
func (c *Catalog) Templates() []*Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Template, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.templates[id])
	}
	return out
}

// Types lists the scenario types with at least one template
func (c *Catalog) Types() []scenario.Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var types []scenario.Type
	for _, id := range c.order {
		if t := c.templates[id].Type; !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	slices.Sort(types)
	return types
}

// SelectTemplate picks a template of the requested type whose player and
// difficulty ranges fit the request. If none fit it falls back to any
// template of that type; it fails only when the type has no templates.
// An empty type selects across the whole catalog.
func (c *Catalog) SelectTemplate(typ scenario.Type, req *scenario.GenerationRequest) (*Template, error) {
	players, difficulty := 0, 0
	if req != nil {
		players, difficulty = len(req.PlayerIDs), req.Difficulty
	}

	c.mu.RLock()
	var ofType, fitting []*Template
	for _, id := range c.order {
		t := c.templates[id]
		if typ != "" && t.Type != typ {
			continue
		}
		ofType = append(ofType, t)
		if t.Fits(players, difficulty) {
			fitting = append(fitting, t)
		}
	}
	c.mu.RUnlock()

	if len(ofType) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoTemplates, typ)
	}
	pool := fitting
	if len(pool) == 0 {
		c.logger.Debug("No template fits request, using any of type",
			"scenario_type", typ, "players", players, "difficulty", difficulty)
		pool = ofType
	}
	return pool[c.intn(len(pool))], nil
}

// Generate selects and instantiates a template for the request
func (c *Catalog) Generate(req *scenario.GenerationRequest) (*scenario.ScenarioResponse, error) {
	t, err := c.SelectTemplate(req.Type, req)
	if err != nil {
		return nil, err
	}
	return c.Instantiate(t, req), nil
}

func (c *Catalog) intn(n int) int {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.rng.Intn(n)
}

// resolveVariables picks a value for every declared variable plus the built-ins
func (c *Catalog) resolveVariables(t *Template, req *scenario.GenerationRequest) map[string]string {
	c.mu.RLock()
	generators := c.generators
	c.mu.RUnlock()

	values := make(map[string]string, len(t.Variables)*2+8)

	c.rngMu.Lock()
	for _, v := range t.Variables {
		var val string
		for range maxDistinctAttempts {
			switch {
			case len(v.Options) > 0:
				val = v.Options[c.rng.Intn(len(v.Options))]
			case v.Generator != "":
				if g, ok := generators[v.Generator]; ok {
					val = g(c.rng, req)
				}
			}
			if v.DistinctFrom == "" || val != values[v.DistinctFrom] {
				break
			}
		}
		values[v.Name] = val
	}
	if _, ok := values["LOCATION"]; !ok {
		values["LOCATION"] = generators["location"](c.rng, req)
	}
	c.rngMu.Unlock()

	values["PARTY"] = req.PartyCode
	for i, id := range req.PlayerIDs {
		values["PLAYER_"+strconv.Itoa(i+1)] = req.PlayerName(id)
	}
	titled := make(map[string]string, len(values))
	for k, v := range values {
		titled[k+titleSuffix] = titleCase(v)
	}
	maps.Copy(values, titled)
	return values
}

// Instantiate turns a template into a concrete scenario for the request.
// Every requested player gets an AsymmetricInfo entry, even an empty one.
func (c *Catalog) Instantiate(t *Template, req *scenario.GenerationRequest) *scenario.ScenarioResponse {
	values := c.resolveVariables(t, req)
	sub := func(s string) string {
		return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
			name := m[1 : len(m)-1]
			if v, ok := values[name]; ok {
				return v
			}
			if playerPlaceholder.MatchString(strings.TrimSuffix(name, titleSuffix)) {
				return "a stranger"
			}
			return m
		})
	}
	subPred := func(p condition.Predicate) condition.Predicate { return p.Substitute(sub) }

	resp := &scenario.ScenarioResponse{
		ID:             uuid.NewString(),
		Type:           t.Type,
		Title:          sub(t.Title),
		Narrative:      sub(t.Narrative),
		Choices:        make([]scenario.Choice, 0, len(t.Choices)),
		Clues:          make([]scenario.Clue, 0, len(t.Clues)),
		HiddenElements: make([]scenario.HiddenElement, 0, len(t.HiddenElements)),
		AsymmetricInfo: make(map[string]*scenario.AsymmetricInfo, len(req.PlayerIDs)),
		Source:         scenario.SourceTemplate,
		TemplateID:     t.ID,
		Difficulty:     req.Difficulty,
		GeneratedAt:    c.now(),
	}

	for _, tc := range t.Choices {
		ch := scenario.Choice{
			ID:                  tc.ID,
			Text:                sub(tc.Text),
			Description:         sub(tc.Description),
			Visibility:          tc.Visibility,
			VisibilityCondition: subPred(tc.VisibilityCondition),
			Consequences:        make([]consequence.Consequence, 0, len(tc.Consequences)),
		}
		if ch.Visibility == "" {
			ch.Visibility = scenario.VisibilityAll
		}
		for _, r := range tc.Requirements {
			ch.Requirements = append(ch.Requirements, subPred(r))
		}
		for i := range tc.Consequences {
			cons := instantiateConsequence(&tc.Consequences[i], sub)
			cons.ScenarioID = resp.ID
			cons.ChoiceID = ch.ID
			ch.Consequences = append(ch.Consequences, *cons)
		}
		resp.Choices = append(resp.Choices, ch)
	}

	for _, tc := range t.Clues {
		clue := tc
		clue.Title = sub(tc.Title)
		clue.Content = sub(tc.Content)
		clue.RelatedClues = slices.Clone(tc.RelatedClues)
		clue.UnlockRequirement = subPred(tc.UnlockRequirement)
		resp.Clues = append(resp.Clues, clue)
	}

	for _, he := range t.HiddenElements {
		el := he
		el.Description = sub(he.Description)
		el.Condition = subPred(he.Condition)
		resp.HiddenElements = append(resp.HiddenElements, el)
	}

	for _, id := range req.PlayerIDs {
		resp.AsymmetricInfo[id] = scenario.NewAsymmetricInfo(id, resp.ID)
	}

	c.logger.Debug("Template instantiated",
		"template_id", t.ID, "scenario_id", resp.ID, "players", len(req.PlayerIDs))
	return resp
}

// instantiateConsequence copies a consequence template with fresh identity and
// placeholders filled. Application state is never carried over.
func instantiateConsequence(tc *consequence.Consequence, sub func(string) string) *consequence.Consequence {
	c := tc.Clone()
	c.ID = uuid.NewString()
	c.Description = sub(c.Description)
	c.RevealCondition = c.RevealCondition.Substitute(sub)
	c.AppliedAt = nil
	c.ExpiresAt = nil
	c.Resolved = false
	c.AffectedPlayers = []string{}

	if c.Reputation != nil {
		c.Reputation.Faction = condition.NormalizeFaction(sub(c.Reputation.Faction))
	}
	if c.WorldEvent != nil {
		c.WorldEvent.EventID = sub(c.WorldEvent.EventID)
		c.WorldEvent.Name = sub(c.WorldEvent.Name)
		c.WorldEvent.Description = sub(c.WorldEvent.Description)
		for i, r := range c.WorldEvent.AffectedRegions {
			c.WorldEvent.AffectedRegions[i] = sub(r)
		}
	}
	if c.FactionRelation != nil {
		c.FactionRelation.FactionA = condition.NormalizeFaction(sub(c.FactionRelation.FactionA))
		c.FactionRelation.FactionB = condition.NormalizeFaction(sub(c.FactionRelation.FactionB))
		c.FactionRelation.Reason = sub(c.FactionRelation.Reason)
	}
	if c.Reveal != nil {
		c.Reveal.RevealID = sub(c.Reveal.RevealID)
		c.Reveal.Content = sub(c.Reveal.Content)
		c.Reveal.Condition = c.Reveal.Condition.Substitute(sub)
	}
	if c.CharacterEffect != nil {
		c.CharacterEffect.Status = sub(c.CharacterEffect.Status)
	}
	return c
}
