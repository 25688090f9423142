package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/consequence-engine/internal/applier"
	"github.com/jwebster45206/consequence-engine/internal/knowledge"
	"github.com/jwebster45206/consequence-engine/internal/metrics"
	"github.com/jwebster45206/consequence-engine/internal/services"
	"github.com/jwebster45206/consequence-engine/internal/services/events"
	"github.com/jwebster45206/consequence-engine/internal/store"
	"github.com/jwebster45206/consequence-engine/internal/templates"
	"github.com/jwebster45206/consequence-engine/pkg/scenario"
	"github.com/jwebster45206/consequence-engine/pkg/state"
)

var (
	ErrScenarioNotFound    = errors.New("scenario not found")
	ErrChoiceNotFound      = errors.New("choice not found")
	ErrChoiceNotMade       = errors.New("player has not made that choice")
	ErrScenarioResolved    = errors.New("scenario already resolved")
	ErrNoPlayers           = errors.New("generation request has no players")
	ErrGenerationExhausted = errors.New("no generator or template could produce a scenario")
	ErrPartyMismatch       = errors.New("scenario belongs to another party")
)

// Config tunes generation and housekeeping
type Config struct {
	AITimeout            time.Duration
	AIMaxAttempts        int
	AIBackoff            time.Duration
	CacheSize            int
	CleanupInterval      time.Duration
	CompletedScenarioTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		AITimeout:            30 * time.Second,
		AIMaxAttempts:        3,
		AIBackoff:            500 * time.Millisecond,
		CacheSize:            100,
		CleanupInterval:      5 * time.Minute,
		CompletedScenarioTTL: time.Hour,
	}
}

// defaultChoices pad scenarios that come back with too few options
var defaultChoices = []scenario.Choice{
	{ID: "observe", Text: "Wait and observe", Description: "Hold back and watch how things unfold.", Visibility: scenario.VisibilityAll},
	{ID: "press_on", Text: "Press on cautiously", Description: "Keep moving and stay alert.", Visibility: scenario.VisibilityAll},
	{ID: "withdraw", Text: "Withdraw for now", Description: "Leave before anything escalates.", Visibility: scenario.VisibilityAll},
}

// Orchestrator owns the registry of in-flight scenarios and drives them from
// generation through choices to resolution.
type Orchestrator struct {
	cfg       Config
	world     *store.WorldStore
	histories *store.HistoryStore
	catalog   *templates.Catalog
	knowledge *knowledge.Manager
	applier   *applier.Applier
	generator services.ScenarioGenerator
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	scenarios map[string]*activeScenario

	cacheMu    sync.Mutex
	cache      map[string]*scenario.ScenarioResponse
	cacheOrder []string

	statsMu sync.Mutex
	stats   generationStats
}

type generationStats struct {
	generated     int
	aiGenerated   int
	templateCount int
	aiFailures    int
	totalLatency  time.Duration
}

func New(stores *store.Stores, catalog *templates.Catalog, km *knowledge.Manager, ap *applier.Applier, cfg Config, logger *slog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.AIMaxAttempts <= 0 {
		cfg.AIMaxAttempts = def.AIMaxAttempts
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = def.AITimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.CompletedScenarioTTL <= 0 {
		cfg.CompletedScenarioTTL = def.CompletedScenarioTTL
	}

	return &Orchestrator{
		cfg:       cfg,
		world:     stores.World,
		histories: stores.Histories,
		catalog:   catalog,
		knowledge: km,
		applier:   ap,
		publisher: events.NoopBroadcaster{},
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		scenarios: make(map[string]*activeScenario),
		cache:     make(map[string]*scenario.ScenarioResponse),
	}
}

// SetGenerator enables AI generation. A nil generator means templates only.
func (o *Orchestrator) SetGenerator(g services.ScenarioGenerator) {
	o.generator = g
}

func (o *Orchestrator) SetPublisher(p events.Publisher) {
	if p == nil {
		p = events.NoopBroadcaster{}
	}
	o.publisher = p
}

func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// GenerateScenario produces a scenario for the request and registers it as active.
// AI failures are never returned; they fall back to the template catalog.
func (o *Orchestrator) GenerateScenario(ctx context.Context, req *scenario.GenerationRequest) (*scenario.ScenarioResponse, error) {
	if req == nil || len(req.PlayerIDs) == 0 {
		return nil, ErrNoPlayers
	}
	req.PlayerIDs = uniquePlayers(req.PlayerIDs)
	start := time.Now()

	resp := o.generateWithAI(ctx, req)
	if resp == nil {
		var err error
		resp, err = o.generateFromTemplate(req)
		if err != nil {
			return nil, err
		}
	}

	o.postProcess(resp, req)
	resp.AsymmetricInfo = o.knowledge.DistributeInformation(resp.ID, req.PlayerIDs, resp)
	for _, p := range req.PlayerIDs {
		if resp.AsymmetricInfo[p] == nil {
			resp.AsymmetricInfo[p] = scenario.NewAsymmetricInfo(p, resp.ID)
		}
	}

	o.mu.Lock()
	o.scenarios[resp.ID] = newActiveScenario(resp.Clone(), req.PartyCode, o.now())
	active := o.countActiveLocked()
	o.mu.Unlock()

	o.cachePut(resp)
	elapsed := time.Since(start)
	o.recordGeneration(resp.Source, elapsed)
	o.metrics.ObserveGeneration(resp.Source, elapsed)
	o.metrics.SetActiveScenarios(active)

	o.logger.Info("Scenario generated",
		"scenario_id", resp.ID,
		"party_code", req.PartyCode,
		"source", resp.Source,
		"template_id", resp.TemplateID,
		"players", len(req.PlayerIDs),
		"choices", len(resp.Choices),
		"duration_ms", elapsed.Milliseconds())
	return resp, nil
}

// generateWithAI returns nil when no generator is configured or every attempt failed
func (o *Orchestrator) generateWithAI(ctx context.Context, req *scenario.GenerationRequest) *scenario.ScenarioResponse {
	if o.generator == nil {
		return nil
	}

	gc := o.generationContext(req)
	var resp *scenario.ScenarioResponse
	err := services.Retry(ctx, o.cfg.AIMaxAttempts, o.cfg.AIBackoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.AITimeout)
		defer cancel()
		r, err := o.generator.GenerateScenario(callCtx, req, gc)
		if err != nil {
			o.logger.Debug("AI generation attempt failed", "provider", o.generator.Name(), "error", err)
			return err
		}
		resp = r
		return nil
	})
	if err == nil && resp != nil {
		return resp
	}

	reason := "error"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	case errors.Is(err, services.ErrMalformedResponse):
		reason = "malformed"
	case err == nil:
		reason = "empty"
	}
	o.statsMu.Lock()
	o.stats.aiFailures++
	o.statsMu.Unlock()
	o.metrics.GenerationFailed(reason)
	o.logger.Warn("AI generation failed, falling back to templates",
		"provider", o.generator.Name(),
		"party_code", req.PartyCode,
		"reason", reason,
		"error", err)
	return nil
}

func (o *Orchestrator) generateFromTemplate(req *scenario.GenerationRequest) (*scenario.ScenarioResponse, error) {
	tpl, err := o.catalog.SelectTemplate(req.Type, req)
	if errors.Is(err, templates.ErrNoTemplates) && req.Type != "" {
		o.logger.Warn("No templates for scenario type, using any template", "scenario_type", req.Type)
		tpl, err = o.catalog.SelectTemplate("", req)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationExhausted, err)
	}
	return o.catalog.Instantiate(tpl, req), nil
}

// generationContext summarizes the world and the requesting players for a prompt
func (o *Orchestrator) generationContext(req *scenario.GenerationRequest) *services.GenerationContext {
	gc := &services.GenerationContext{
		FactionPower: make(map[string]float64),
		ActiveEvents: []string{},
		Reputations:  make(map[string]map[string]int, len(req.PlayerIDs)),
	}
	o.world.View(func(ws *state.WorldState) {
		for f, p := range ws.FactionPower {
			gc.FactionPower[f] = p
		}
		for _, ev := range ws.ActiveEvents {
			gc.ActiveEvents = append(gc.ActiveEvents, ev.Name)
		}
	})
	for _, p := range req.PlayerIDs {
		h := o.histories.GetOrCreate(p)
		gc.Reputations[p] = h.FactionReputation
	}
	return gc
}

// postProcess enforces the invariants every registered scenario relies on
func (o *Orchestrator) postProcess(resp *scenario.ScenarioResponse, req *scenario.GenerationRequest) {
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	if resp.Type == "" {
		resp.Type = req.Type
	}
	if resp.Source == "" {
		resp.Source = scenario.SourceAI
	}
	if resp.GeneratedAt.IsZero() {
		resp.GeneratedAt = o.now()
	}
	if resp.Clues == nil {
		resp.Clues = []scenario.Clue{}
	}
	if resp.HiddenElements == nil {
		resp.HiddenElements = []scenario.HiddenElement{}
	}
	if resp.AsymmetricInfo == nil {
		resp.AsymmetricInfo = make(map[string]*scenario.AsymmetricInfo)
	}

	if len(resp.Choices) > scenario.MaxChoices {
		o.logger.Debug("Truncating choices", "scenario_id", resp.ID, "choices", len(resp.Choices))
		resp.Choices = resp.Choices[:scenario.MaxChoices]
	}
	for _, def := range defaultChoices {
		if len(resp.Choices) >= scenario.MinChoices {
			break
		}
		if _, exists := resp.Choice(def.ID); exists {
			continue
		}
		resp.Choices = append(resp.Choices, def)
	}

	for i := range resp.Choices {
		ch := &resp.Choices[i]
		if ch.Visibility == "" {
			ch.Visibility = scenario.VisibilityAll
		}
		for j := range ch.Consequences {
			c := &ch.Consequences[j]
			c.EnsureID()
			c.ScenarioID = resp.ID
			c.ChoiceID = ch.ID
		}
	}
}

func (o *Orchestrator) cachePut(resp *scenario.ScenarioResponse) {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	if _, exists := o.cache[resp.ID]; !exists {
		o.cacheOrder = append(o.cacheOrder, resp.ID)
	}
	o.cache[resp.ID] = resp.Clone()
	for len(o.cacheOrder) > o.cfg.CacheSize {
		oldest := o.cacheOrder[0]
		o.cacheOrder = o.cacheOrder[1:]
		delete(o.cache, oldest)
	}
}

// Cached returns a generated scenario from the bounded cache
func (o *Orchestrator) Cached(scenarioID string) (*scenario.ScenarioResponse, bool) {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	resp, ok := o.cache[scenarioID]
	if !ok {
		return nil, false
	}
	return resp.Clone(), true
}

func (o *Orchestrator) recordGeneration(source string, d time.Duration) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.generated++
	o.stats.totalLatency += d
	if source == scenario.SourceTemplate {
		o.stats.templateCount++
	} else {
		o.stats.aiGenerated++
	}
}

// Metrics returns rolling generation statistics
func (o *Orchestrator) Metrics() RollingMetrics {
	o.statsMu.Lock()
	s := o.stats
	o.statsMu.Unlock()

	m := RollingMetrics{
		Generated:         s.generated,
		AIGenerated:       s.aiGenerated,
		TemplateGenerated: s.templateCount,
		AIFailures:        s.aiFailures,
	}
	if s.generated > 0 {
		m.MeanLatency = s.totalLatency / time.Duration(s.generated)
	}
	if attempts := s.aiGenerated + s.aiFailures; attempts > 0 {
		m.FailureRate = float64(s.aiFailures) / float64(attempts)
	}

	o.cacheMu.Lock()
	m.CacheSize = len(o.cache)
	o.cacheMu.Unlock()

	o.mu.RLock()
	m.ActiveScenarios = o.countActiveLocked()
	o.mu.RUnlock()
	return m
}

// countActiveLocked counts scenarios that are not completed; the caller holds o.mu
func (o *Orchestrator) countActiveLocked() int {
	n := 0
	for _, a := range o.scenarios {
		a.mu.Lock()
		if !a.status.Completed {
			n++
		}
		a.mu.Unlock()
	}
	return n
}

func (o *Orchestrator) lookup(scenarioID string) (*activeScenario, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.scenarios[scenarioID]
	return a, ok
}

func uniquePlayers(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
