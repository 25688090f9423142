package knowledge

import (
	"log/slog"
	"maps"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/consequence-engine/internal/metrics"
	"github.com/jwebster45206/consequence-engine/internal/store"
	"github.com/jwebster45206/consequence-engine/pkg/condition"
	"github.com/jwebster45206/consequence-engine/pkg/scenario"
	"github.com/jwebster45206/consequence-engine/pkg/state"
)

// Tunable distribution constants. None of these are load-bearing.
const (
	RelatedClueChance  = 0.7
	BaseEligibleChance = 0.3
	ObservationChance  = 0.5
	MinShareRecipients = 1
	MaxShareRecipients = 3

	// MagicalReputation is the standing with any faction that makes a player eligible for magical clues
	MagicalReputation = 10
)

// Manager computes and caches each player's view of each scenario
type Manager struct {
	histories *store.HistoryStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.RWMutex
	views      map[string]map[string]*scenario.AsymmetricInfo // scenario -> player -> view
	scenarios  map[string]*scenario.ScenarioResponse
	clues      map[string]scenario.Clue
	deductions map[string][]scenario.Deduction

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewManager creates a manager. A nil rng is seeded from the clock.
func NewManager(histories *store.HistoryStore, rng *rand.Rand, logger *slog.Logger) *Manager {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Manager{
		histories:  histories,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		views:      make(map[string]map[string]*scenario.AsymmetricInfo),
		scenarios:  make(map[string]*scenario.ScenarioResponse),
		clues:      make(map[string]scenario.Clue),
		deductions: make(map[string][]scenario.Deduction),
		rng:        rng,
	}
}

func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

func (m *Manager) float() float64 {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.Float64()
}

func (m *Manager) intn(n int) int {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.Intn(n)
}

func (m *Manager) shuffle(n int, swap func(i, j int)) {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	m.rng.Shuffle(n, swap)
}

// DistributeInformation computes a view for every player, records granted clues
// in their histories, and caches the views for later lookups.
func (m *Manager) DistributeInformation(scenarioID string, playerIDs []string, sc *scenario.ScenarioResponse) map[string]*scenario.AsymmetricInfo {
	views := make(map[string]*scenario.AsymmetricInfo, len(playerIDs))
	for _, p := range playerIDs {
		views[p] = scenario.NewAsymmetricInfo(p, scenarioID)
	}

	// choice visibility
	for _, p := range playerIDs {
		m.histories.View(p, func(h *state.PlayerHistory) {
			for i := range sc.Choices {
				ch := &sc.Choices[i]
				if ch.VisibleTo(h) {
					views[p].VisibleChoices = append(views[p].VisibleChoices, ch.ID)
				} else {
					views[p].HiddenChoices = append(views[p].HiddenChoices, ch.ID)
				}
			}
		})
	}

	grants := m.assignClues(playerIDs, sc.Clues)
	for _, p := range playerIDs {
		for _, clueID := range grants[p] {
			m.histories.DiscoverClue(p, clueID)
			views[p].AddDiscovered(clueID)
		}
	}

	for _, p := range playerIDs {
		m.autoDiscover(p, sc.Clues, views[p])
		views[p].PotentialReveals = m.pendingReveals(p, sc.HiddenElements)

		m.mu.RLock()
		views[p].Deductions = slices.Clone(m.deductions[p])
		m.mu.RUnlock()
		if views[p].Deductions == nil {
			views[p].Deductions = []scenario.Deduction{}
		}
	}

	m.mu.Lock()
	cached := make(map[string]*scenario.AsymmetricInfo, len(views))
	for p, v := range views {
		cached[p] = v.Clone()
	}
	m.views[scenarioID] = cached
	m.scenarios[scenarioID] = sc.Clone()
	for _, c := range sc.Clues {
		m.clues[c.ID] = c
	}
	m.mu.Unlock()

	m.logger.Debug("Distributed scenario information",
		"scenario_id", scenarioID,
		"players", len(playerIDs),
		"clues", len(sc.Clues))
	return views
}

// assignClues decides which clues each player starts with
func (m *Manager) assignClues(playerIDs []string, clues []scenario.Clue) map[string][]string {
	grants := make(map[string][]string, len(playerIDs))
	if len(playerIDs) == 0 {
		return grants
	}

	var private []scenario.Clue
	for _, c := range clues {
		switch c.Shareability {
		case scenario.SharePublic:
			for _, p := range playerIDs {
				grants[p] = append(grants[p], c.ID)
			}
		case scenario.SharePrivate:
			private = append(private, c)
		default:
			for _, p := range m.shareableRecipients(c, playerIDs) {
				grants[p] = append(grants[p], c.ID)
			}
		}
	}

	// one private clue per player, for as many players as there are private clues
	m.shuffle(len(private), func(i, j int) { private[i], private[j] = private[j], private[i] })
	for i, c := range private {
		if i >= len(playerIDs) {
			break
		}
		grants[playerIDs[i]] = append(grants[playerIDs[i]], c.ID)
	}
	return grants
}

// shareableRecipients picks 1-3 eligible players for a shareable clue
func (m *Manager) shareableRecipients(c scenario.Clue, playerIDs []string) []string {
	var eligible []string
	for _, p := range playerIDs {
		ok := false
		m.histories.View(p, func(h *state.PlayerHistory) {
			ok = m.eligible(c.Category, h)
		})
		if ok {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		eligible = []string{playerIDs[m.intn(len(playerIDs))]}
	}

	m.shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })
	n := MinShareRecipients + m.intn(MaxShareRecipients-MinShareRecipients+1)
	return eligible[:min(n, len(eligible))]
}

// eligible weighs a player's history against a clue category, with some randomness
func (m *Manager) eligible(cat scenario.ClueCategory, h *state.PlayerHistory) bool {
	switch cat {
	case scenario.CategoryMagical:
		return h.MaxReputation() >= MagicalReputation || m.float() < BaseEligibleChance
	case scenario.CategoryPhysical:
		return true
	case scenario.CategoryTestimony:
		return h.TotalChoices > 0 || m.float() < BaseEligibleChance
	case scenario.CategoryDocument:
		return h.ClueCount() > 0 || m.float() < BaseEligibleChance
	case scenario.CategoryObservation:
		return m.float() < ObservationChance
	default:
		return m.float() < BaseEligibleChance
	}
}

// autoDiscover grants non-private clues whose unlock requirement holds,
// or that relate to a clue the player already has
func (m *Manager) autoDiscover(playerID string, clues []scenario.Clue, view *scenario.AsymmetricInfo) {
	for _, c := range clues {
		if c.Shareability == scenario.SharePrivate || slices.Contains(view.DiscoveredClues, c.ID) {
			continue
		}

		var held, requirementMet, related bool
		m.histories.View(playerID, func(h *state.PlayerHistory) {
			held = h.HasClue(c.ID)
			requirementMet = !c.UnlockRequirement.IsEmpty() && c.UnlockRequirement.Satisfied(h)
			for _, r := range c.RelatedClues {
				if h.HasClue(r) {
					related = true
					break
				}
			}
		})

		switch {
		case held, requirementMet:
		case related && m.float() < RelatedClueChance:
		default:
			continue
		}
		m.histories.DiscoverClue(playerID, c.ID)
		view.AddDiscovered(c.ID)
	}
}

// pendingReveals unlocks hidden elements whose condition already holds and
// returns the rest with a hint
func (m *Manager) pendingReveals(playerID string, elements []scenario.HiddenElement) []scenario.PotentialReveal {
	out := []scenario.PotentialReveal{}
	for i := range elements {
		e := &elements[i]
		key := e.Key()

		var unlocked, ready bool
		var hint string
		m.histories.View(playerID, func(h *state.PlayerHistory) {
			unlocked = h.HasUnlocked(key)
			ready = e.Condition.Satisfied(h)
			hint = e.Condition.Hint(h)
		})
		if unlocked {
			continue
		}
		if ready {
			m.histories.Unlock(playerID, key)
			continue
		}
		out = append(out, scenario.PotentialReveal{
			ElementID: e.ID,
			UnlockID:  key,
			Condition: e.Condition,
			Hint:      hint,
		})
	}
	return out
}

// PlayerKnowledge returns a copy of the player's view of a scenario
func (m *Manager) PlayerKnowledge(playerID, scenarioID string) (*scenario.AsymmetricInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[scenarioID][playerID]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// IsChoiceVisible reports whether the player can see the choice
func (m *Manager) IsChoiceVisible(scenarioID, playerID, choiceID string) bool {
	m.mu.RLock()
	v, hasView := m.views[scenarioID][playerID]
	sc, hasScenario := m.scenarios[scenarioID]
	var visible bool
	if hasView {
		visible = v.CanSee(choiceID)
	}
	m.mu.RUnlock()

	if hasView {
		return visible
	}
	if !hasScenario {
		return false
	}
	ch, ok := sc.Choice(choiceID)
	if !ok {
		return false
	}
	m.histories.View(playerID, func(h *state.PlayerHistory) {
		visible = ch.VisibleTo(h)
	})
	return visible
}

// ShareClue passes a clue from one player to another. It fails if the clue is
// private or unknown, or if the sender does not hold it. Repeating a successful
// share is a no-op that still returns true.
func (m *Manager) ShareClue(fromPlayer, toPlayer, clueID string) bool {
	if fromPlayer == toPlayer {
		return false
	}

	m.mu.RLock()
	clue, known := m.clues[clueID]
	m.mu.RUnlock()
	if !known || clue.Shareability == scenario.SharePrivate {
		return false
	}

	held := false
	m.histories.View(fromPlayer, func(h *state.PlayerHistory) {
		held = h.HasClue(clueID)
	})
	if !held {
		return false
	}

	added := m.histories.ReceiveSharedClue(fromPlayer, toPlayer, clueID)

	m.mu.Lock()
	for scenarioID, byPlayer := range m.views {
		sc := m.scenarios[scenarioID]
		if _, ok := sc.Clue(clueID); !ok {
			continue
		}
		if v, ok := byPlayer[toPlayer]; ok {
			v.AddShared(clueID)
		}
	}
	m.mu.Unlock()

	if added {
		unlocked := m.cascadeReveals(toPlayer)
		m.metrics.ClueShared()
		m.logger.Debug("Clue shared",
			"from_player", fromPlayer,
			"to_player", toPlayer,
			"clue_id", clueID,
			"unlocked", unlocked)
	}
	return true
}

// cascadeReveals unlocks any pending reveal the player now satisfies, then
// makes one further pass limited to reveals gated on the IDs just unlocked
func (m *Manager) cascadeReveals(playerID string) []string {
	first := m.revealPass(playerID, func(condition.Predicate) bool { return true })
	if len(first) == 0 {
		return first
	}
	second := m.revealPass(playerID, func(p condition.Predicate) bool {
		return p.Kind == condition.KindUnlocked && slices.Contains(first, p.ID)
	})
	return append(first, second...)
}

func (m *Manager) revealPass(playerID string, consider func(condition.Predicate) bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	// readiness is judged against the history as it stood before this pass
	h := m.histories.GetOrCreate(playerID)
	ready := make(map[string]bool)
	for _, byPlayer := range m.views {
		v, ok := byPlayer[playerID]
		if !ok {
			continue
		}
		for _, pr := range v.PotentialReveals {
			if consider(pr.Condition) && pr.Condition.Satisfied(h) {
				ready[pr.UnlockID] = true
			}
		}
	}
	if len(ready) == 0 {
		return nil
	}

	var unlocked []string
	for _, id := range slices.Sorted(maps.Keys(ready)) {
		if m.histories.Unlock(playerID, id) {
			unlocked = append(unlocked, id)
		}
	}
	for _, byPlayer := range m.views {
		if v, ok := byPlayer[playerID]; ok {
			v.PotentialReveals = slices.DeleteFunc(v.PotentialReveals, func(pr scenario.PotentialReveal) bool {
				return ready[pr.UnlockID]
			})
		}
	}
	return unlocked
}

// AddPlayerDeduction records a hypothesis for the player, clamping confidence to [0,1]
func (m *Manager) AddPlayerDeduction(playerID, hypothesis string, confidence float64, supportingClues []string) scenario.Deduction {
	d := scenario.Deduction{
		ID:              uuid.NewString(),
		Hypothesis:      hypothesis,
		Confidence:      min(max(confidence, 0), 1),
		SupportingClues: slices.Clone(supportingClues),
		Timestamp:       m.now(),
	}
	if d.SupportingClues == nil {
		d.SupportingClues = []string{}
	}

	m.mu.Lock()
	m.deductions[playerID] = append(m.deductions[playerID], d)
	for _, byPlayer := range m.views {
		if v, ok := byPlayer[playerID]; ok {
			v.Deductions = append(v.Deductions, d)
		}
	}
	m.mu.Unlock()

	return d
}

// Deductions returns every deduction the player has recorded
func (m *Manager) Deductions(playerID string) []scenario.Deduction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.deductions[playerID])
}

// Forget drops cached views for a scenario. Clue metadata is kept so old clues can still be shared.
func (m *Manager) Forget(scenarioID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, scenarioID)
	delete(m.scenarios, scenarioID)
}
