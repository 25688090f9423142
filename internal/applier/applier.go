package applier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jwebster45206/consequence-engine/internal/metrics"
	"github.com/jwebster45206/consequence-engine/internal/session"
	"github.com/jwebster45206/consequence-engine/internal/store"
	"github.com/jwebster45206/consequence-engine/pkg/consequence"
	"github.com/jwebster45206/consequence-engine/pkg/state"
)

var (
	ErrUnknownStat    = errors.New("unknown stat")
	ErrUnknownKind    = errors.New("unknown consequence kind")
	ErrUnknownPlayer  = errors.New("player not in session")
	ErrNoSession      = errors.New("no session provider configured")
	ErrMissingPlayer  = errors.New("consequence needs a player")
	ErrMissingParty   = errors.New("character effect needs a party code")
	ErrUnknownFaction = store.ErrUnknownFaction
)

// PowerPerReputation scales a reputation change into a faction power change
const PowerPerReputation = 0.1

// LevelUp controls how experience converts into levels
type LevelUp struct {
	XPPerLevel   int
	HPPerLevel   int
	ManaPerLevel int
}

func DefaultLevelUp() LevelUp {
	return LevelUp{XPPerLevel: 100, HPPerLevel: 10, ManaPerLevel: 5}
}

// Config tunes the applier
type Config struct {
	ScenarioLength time.Duration
	LevelUp        LevelUp
}

// Target identifies who a consequence lands on
type Target struct {
	PlayerID  string
	PartyCode string
}

// Applier turns consequences into mutations of world state, player history and session stats
type Applier struct {
	world     *store.WorldStore
	histories *store.HistoryStore
	registry  *store.ConsequenceRegistry
	sessions  session.Provider
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	sessionMu sync.Mutex // serializes read-modify-write of session stats
}

// New creates an applier. sessions may be nil, in which case character effects fail with ErrNoSession.
func New(stores *store.Stores, sessions session.Provider, cfg Config, logger *slog.Logger) *Applier {
	if cfg.ScenarioLength <= 0 {
		cfg.ScenarioLength = consequence.DefaultScenarioLength
	}
	if cfg.LevelUp.XPPerLevel <= 0 {
		cfg.LevelUp = DefaultLevelUp()
	}
	return &Applier{
		world:     stores.World,
		histories: stores.Histories,
		registry:  stores.Consequences,
		sessions:  sessions,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (a *Applier) SetClock(now func() time.Time) {
	a.now = now
}

// SetMetrics attaches Prometheus collectors
func (a *Applier) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// Apply applies one consequence on behalf of the acting player.
// World-scoped kinds apply at most once globally and player-scoped kinds at most once per player;
// a repeat returns an Outcome with Skipped set and no error.
func (a *Applier) Apply(ctx context.Context, c *consequence.Consequence, t Target) (Outcome, error) {
	out := Outcome{ConsequenceID: c.ID, PlayerEffects: []PlayerEffect{}, WorldEffects: []WorldEffect{}}

	if err := c.Validate(); err != nil {
		if !knownKind(c.Kind) {
			return out, fmt.Errorf("%w: %s", ErrUnknownKind, c.Kind)
		}
		return out, err
	}
	if t.PlayerID == "" && !c.IsWorldScoped() {
		return out, ErrMissingPlayer
	}

	// claim before mutating so concurrent callers cannot both apply
	var release func()
	if c.IsWorldScoped() {
		if !a.registry.Claim(c.ID) {
			out.Skipped = SkipAlreadyApplied
			a.metrics.ConsequenceSkipped(SkipAlreadyApplied)
			return out, nil
		}
		release = func() { a.registry.Release(c.ID) }
	} else {
		if !a.histories.ActivateConsequence(t.PlayerID, c.ID) {
			out.Skipped = SkipAlreadyApplied
			a.metrics.ConsequenceSkipped(SkipAlreadyApplied)
			return out, nil
		}
		release = func() { a.histories.ForgetConsequence(t.PlayerID, c.ID) }
	}

	var err error
	switch c.Kind {
	case consequence.KindReputation:
		err = a.applyReputation(c, t, &out)
	case consequence.KindWorldEvent:
		err = a.applyWorldEvent(c, t, &out)
	case consequence.KindFactionRelation:
		err = a.applyFactionRelation(c, t, &out)
	case consequence.KindHiddenReveal:
		err = a.applyReveal(c, t, &out)
	case consequence.KindCharacterEffect:
		err = a.applyCharacterEffect(ctx, c, t, &out)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownKind, c.Kind)
	}

	if err != nil || out.Skipped != "" {
		release()
		if err != nil {
			a.logger.Warn("Consequence skipped",
				"consequence_id", c.ID,
				"kind", c.Kind,
				"player_id", t.PlayerID,
				"error", err)
			a.metrics.ConsequenceSkipped("error")
		} else {
			a.metrics.ConsequenceSkipped(out.Skipped)
		}
		return out, err
	}

	if c.IsWorldScoped() && t.PlayerID != "" {
		a.histories.ActivateConsequence(t.PlayerID, c.ID)
	}
	reg := a.registry.Register(c, t.PlayerID, a.now(), a.cfg.ScenarioLength)
	if reg.Resolved && t.PlayerID != "" {
		// the window closed before this holder arrived; the expirer will not visit it again
		a.histories.ResolveConsequence(t.PlayerID, c.ID)
		out.Expired = true
	}
	out.Applied = true
	a.metrics.ConsequenceApplied(string(c.Kind))

	a.logger.Debug("Consequence applied",
		"consequence_id", c.ID,
		"kind", c.Kind,
		"player_id", t.PlayerID)
	return out, nil
}

// ApplyBatch applies every consequence and collects a combined result.
// Individual failures are recorded in Errors and never abort the batch.
func (a *Applier) ApplyBatch(ctx context.Context, cs []*consequence.Consequence, t Target) *ConsequenceApplicationResult {
	result := NewResult()
	for _, c := range cs {
		o, err := a.Apply(ctx, c, t)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("consequence %s: %v", c.ID, err))
			continue
		}
		result.Add(o)
	}
	return result
}

func (a *Applier) applyReputation(c *consequence.Consequence, t Target, out *Outcome) error {
	rep := c.Reputation
	faction := state.NormalizeFaction(rep.Faction)
	if _, ok := a.world.FactionPower(faction); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFaction, faction)
	}

	after := a.histories.AdjustReputation(t.PlayerID, faction, rep.Change)
	out.PlayerEffects = append(out.PlayerEffects, PlayerEffect{
		PlayerID:      t.PlayerID,
		ConsequenceID: c.ID,
		Kind:          c.Kind,
		Description:   c.Description,
		Faction:       faction,
		Before:        after - rep.Change,
		After:         after,
	})

	src := store.Source{ConsequenceID: c.ID, PlayerID: t.PlayerID}
	before, power, err := a.world.AdjustFactionPower(faction, float64(rep.Change)*PowerPerReputation, src)
	if err != nil {
		return err
	}
	out.WorldEffects = append(out.WorldEffects, WorldEffect{
		ConsequenceID: c.ID,
		Kind:          c.Kind,
		Description:   fmt.Sprintf("%s power shifted by %+.1f", faction, power-before),
		Target:        faction,
		Before:        before,
		After:         power,
	})
	return nil
}

func (a *Applier) applyWorldEvent(c *consequence.Consequence, t Target, out *Outcome) error {
	we := c.WorldEvent
	name := we.Name
	if name == "" {
		name = we.EventID
	}
	desc := we.Description
	if desc == "" {
		desc = c.Description
	}

	ev := state.WorldEvent{
		ID:            we.EventID,
		Name:          name,
		Description:   desc,
		Severity:      string(c.Severity),
		Regions:       slices.Clone(we.AffectedRegions),
		ConsequenceID: c.ID,
	}
	attached, missing := a.world.StartEvent(ev, c.Severity.IsMajor(), store.Source{ConsequenceID: c.ID, PlayerID: t.PlayerID})
	for _, region := range missing {
		a.logger.Warn("World event references unknown region",
			"consequence_id", c.ID,
			"event_id", we.EventID,
			"region", region)
		out.Warnings = append(out.Warnings, fmt.Sprintf("consequence %s: unknown region %s", c.ID, region))
	}

	out.WorldEffects = append(out.WorldEffects, WorldEffect{
		ConsequenceID: c.ID,
		Kind:          c.Kind,
		Description:   name,
		Target:        we.EventID,
		Before:        0,
		After:         1,
		Regions:       attached,
	})
	return nil
}

func (a *Applier) applyFactionRelation(c *consequence.Consequence, t Target, out *Outcome) error {
	fr := c.FactionRelation
	reason := fr.Reason
	if reason == "" {
		reason = c.Description
	}

	rel, err := a.world.ChangeRelation(fr.FactionA, fr.FactionB, fr.Change, reason, store.Source{ConsequenceID: c.ID, PlayerID: t.PlayerID})
	if err != nil {
		return err
	}
	before := rel.Value
	if n := len(rel.History); n > 0 {
		before = rel.Value - rel.History[n-1].Change
	}

	out.WorldEffects = append(out.WorldEffects, WorldEffect{
		ConsequenceID: c.ID,
		Kind:          c.Kind,
		Description:   reason,
		Target:        state.PairKey(rel.FactionA, rel.FactionB),
		Before:        float64(before),
		After:         float64(rel.Value),
		Status:        rel.Status,
	})
	return nil
}

func (a *Applier) applyReveal(c *consequence.Consequence, t Target, out *Outcome) error {
	rv := c.Reveal

	met := false
	a.histories.View(t.PlayerID, func(h *state.PlayerHistory) {
		met = rv.Condition.Satisfied(h)
	})
	if !met {
		out.Skipped = SkipConditionUnmet
		return nil
	}

	a.histories.Unlock(t.PlayerID, rv.RevealID)
	out.PlayerEffects = append(out.PlayerEffects, PlayerEffect{
		PlayerID:      t.PlayerID,
		ConsequenceID: c.ID,
		Kind:          c.Kind,
		Description:   rv.Content,
		Unlocked:      rv.RevealID,
	})
	return nil
}

func (a *Applier) applyCharacterEffect(ctx context.Context, c *consequence.Consequence, t Target, out *Outcome) error {
	if a.sessions == nil {
		return ErrNoSession
	}
	if t.PartyCode == "" {
		return ErrMissingParty
	}

	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	sess, err := a.sessions.GetSessionByPartyCode(ctx, t.PartyCode)
	if err != nil {
		return err
	}
	stats, ok := sess.Players[t.PlayerID]
	if !ok || stats == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, t.PlayerID)
	}

	ce := c.CharacterEffect
	change, err := ApplyStat(stats, ce.Stat, ce.Change, a.cfg.LevelUp)
	if err != nil {
		return err
	}
	if ce.Status != "" && !slices.Contains(stats.StatusEffects, ce.Status) {
		stats.StatusEffects = append(stats.StatusEffects, ce.Status)
	}

	if err := a.sessions.SaveSessionState(ctx, sess.ID, map[string]*session.PlayerStats{t.PlayerID: stats}); err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}

	out.PlayerEffects = append(out.PlayerEffects, PlayerEffect{
		PlayerID:      t.PlayerID,
		ConsequenceID: c.ID,
		Kind:          c.Kind,
		Description:   c.Description,
		Stat:          change.Stat,
		Before:        change.Before,
		After:         change.After,
		Status:        ce.Status,
		LeveledUp:     change.LeveledUp,
		Level:         stats.Level,
	})
	return nil
}

// StatChange describes a single stat mutation
type StatChange struct {
	Stat      string
	Before    int
	After     int
	LeveledUp bool
}

// ApplyStat mutates one stat on p. HP and mana are clamped to [0, max];
// gold and experience are floored at 0. Experience gains can level the player up.
// The stat "status" changes nothing numeric and exists for pure status effects.
func ApplyStat(p *session.PlayerStats, stat string, change int, lvl LevelUp) (StatChange, error) {
	sc := StatChange{Stat: normalizeStat(stat)}

	switch sc.Stat {
	case "hp":
		sc.Before = p.HP
		p.HP = clamp(p.HP+change, 0, p.MaxHP)
		sc.After = p.HP
	case "mana":
		sc.Before = p.Mana
		p.Mana = clamp(p.Mana+change, 0, p.MaxMana)
		sc.After = p.Mana
	case "gold":
		sc.Before = p.Gold
		p.Gold = max(0, p.Gold+change)
		sc.After = p.Gold
	case "xp":
		sc.Before = p.Experience
		p.Experience = max(0, p.Experience+change)
		sc.LeveledUp = levelUp(p, lvl)
		sc.After = p.Experience
	case "status":
	default:
		return sc, fmt.Errorf("%w: %q", ErrUnknownStat, stat)
	}
	return sc, nil
}

// levelUp converts experience into levels while the threshold is met
func levelUp(p *session.PlayerStats, lvl LevelUp) bool {
	if lvl.XPPerLevel <= 0 {
		return false
	}
	if p.Level < 1 {
		p.Level = 1
	}

	leveled := false
	for p.Experience >= p.Level*lvl.XPPerLevel {
		p.Experience -= p.Level * lvl.XPPerLevel
		p.Level++
		p.MaxHP += lvl.HPPerLevel
		p.HP = min(p.HP+lvl.HPPerLevel, p.MaxHP)
		p.MaxMana += lvl.ManaPerLevel
		p.Mana = min(p.Mana+lvl.ManaPerLevel, p.MaxMana)
		leveled = true
	}
	return leveled
}

func knownKind(k consequence.Kind) bool {
	switch k {
	case consequence.KindReputation, consequence.KindWorldEvent, consequence.KindFactionRelation,
		consequence.KindHiddenReveal, consequence.KindCharacterEffect:
		return true
	}
	return false
}

func normalizeStat(stat string) string {
	switch s := strings.ToLower(strings.TrimSpace(stat)); s {
	case "health":
		return "hp"
	case "experience", "exp":
		return "xp"
	default:
		return s
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return min(max(v, lo), hi)
}
