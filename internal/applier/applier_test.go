package applier

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/consequence-engine/internal/session"
	"github.com/jwebster45206/consequence-engine/internal/store"
	"github.com/jwebster45206/consequence-engine/pkg/condition"
	"github.com/jwebster45206/consequence-engine/pkg/consequence"
	"github.com/jwebster45206/consequence-engine/pkg/state"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	stores   *store.Stores
	sessions *session.MemoryStore
	applier  *Applier
	expirer  *Expirer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	clock := func() time.Time { return t0 }

	stores := store.NewStores(logger)
	stores.World.SetClock(clock)
	stores.Histories.SetClock(clock)

	sessions := session.NewMemoryStore()
	sessions.Put(&session.PartySession{
		ID:        "sess-1",
		PartyCode: "PARTY",
		Players: map[string]*session.PlayerStats{
			"p1": session.NewPlayerStats("Aria"),
			"p2": session.NewPlayerStats("Bram"),
		},
	})

	a := New(stores, sessions, Config{ScenarioLength: 30 * time.Minute}, logger)
	a.SetClock(clock)
	e := NewExpirer(stores, time.Minute, logger)

	return &fixture{stores: stores, sessions: sessions, applier: a, expirer: e}
}

func (f *fixture) stats(t *testing.T, playerID string) *session.PlayerStats {
	t.Helper()
	s, err := f.sessions.GetSessionByPartyCode(context.Background(), "PARTY")
	require.NoError(t, err)
	return s.Players[playerID]
}

func reputation(id, faction string, change int) *consequence.Consequence {
	return &consequence.Consequence{
		ID:         id,
		Kind:       consequence.KindReputation,
		Duration:   consequence.DurationShort,
		Severity:   consequence.SeverityMinor,
		Reputation: &consequence.ReputationChange{Faction: faction, Change: change},
	}
}

func effect(id, stat string, change int) *consequence.Consequence {
	return &consequence.Consequence{
		ID:              id,
		Kind:            consequence.KindCharacterEffect,
		Duration:        consequence.DurationImmediate,
		CharacterEffect: &consequence.CharacterEffect{Stat: stat, Change: change},
	}
}

func TestApply_ReputationNudgesPower(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.applier.Apply(ctx, reputation("rep-1", "KORVAN", 10), Target{PlayerID: "p1"})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	h := f.stores.Histories.GetOrCreate("p1")
	assert.Equal(t, 10, h.FactionReputation["KORVAN"])
	assert.True(t, h.ActiveConsequences["rep-1"])

	power, _ := f.stores.World.FactionPower("KORVAN")
	assert.InDelta(t, state.InitialPower+1.0, power, 1e-9)

	changes := f.stores.World.Changes(0)
	require.NotEmpty(t, changes)
	last := changes[len(changes)-1]
	assert.Equal(t, "faction_power", last.Kind)
	assert.Equal(t, "rep-1", last.ConsequenceID)

	require.Len(t, out.PlayerEffects, 1)
	assert.Equal(t, 0, out.PlayerEffects[0].Before)
	assert.Equal(t, 10, out.PlayerEffects[0].After)
}

func TestApply_AtMostOncePerPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := reputation("rep-1", "KORVAN", 10)

	_, err := f.applier.Apply(ctx, c, Target{PlayerID: "p1"})
	require.NoError(t, err)
	out, err := f.applier.Apply(ctx, c, Target{PlayerID: "p1"})
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, SkipAlreadyApplied, out.Skipped)

	assert.Equal(t, 10, f.stores.Histories.GetOrCreate("p1").FactionReputation["KORVAN"])
	power, _ := f.stores.World.FactionPower("KORVAN")
	assert.InDelta(t, 51.0, power, 1e-9)

	// a different player still receives it
	out, err = f.applier.Apply(ctx, c, Target{PlayerID: "p2"})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	reg, ok := f.stores.Consequences.Get("rep-1")
	require.True(t, ok)
	assert.Equal(t, []string{"p1", "p2"}, reg.AffectedPlayers)
}

func TestApply_ConcurrentSameConsequence(t *testing.T) {
	f := newFixture(t)
	c := reputation("rep-1", "SILVERMOON", 5)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.applier.Apply(context.Background(), c, Target{PlayerID: "p1"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, f.stores.Histories.GetOrCreate("p1").FactionReputation["SILVERMOON"])
	power, _ := f.stores.World.FactionPower("SILVERMOON")
	assert.InDelta(t, 50.5, power, 1e-9)
}

func TestApply_WorldEventOnceGlobally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := &consequence.Consequence{
		ID:       "we-1",
		Kind:     consequence.KindWorldEvent,
		Duration: consequence.DurationShort,
		Severity: consequence.SeverityMajor,
		WorldEvent: &consequence.WorldEvent{
			EventID:         "plague",
			Name:            "Marsh Plague",
			AffectedRegions: []string{"eastern_marshes", "nowhere"},
		},
	}

	res := f.applier.ApplyBatch(ctx, []*consequence.Consequence{c}, Target{PlayerID: "p1"})
	assert.True(t, res.Success)
	assert.Equal(t, []string{"we-1"}, res.AppliedConsequenceIDs)
	require.Len(t, res.Errors, 1, "unknown region is reported")
	assert.Contains(t, res.Errors[0], "nowhere")

	ws := f.stores.World.State()
	require.Len(t, ws.ActiveEvents, 1)
	assert.Equal(t, []string{"plague"}, ws.Regions["eastern_marshes"].ActiveEvents)
	require.NotNil(t, ws.LastMajorEvent)
	assert.Equal(t, "plague", ws.LastMajorEvent.EventID)

	out, err := f.applier.Apply(ctx, c, Target{PlayerID: "p2"})
	require.NoError(t, err)
	assert.Equal(t, SkipAlreadyApplied, out.Skipped)
	assert.Len(t, f.stores.World.State().ActiveEvents, 1)
}

func TestApply_FactionRelationClamped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, change := range []int{-70, -70} {
		c := &consequence.Consequence{
			ID:              []string{"fr-1", "fr-2"}[i],
			Kind:            consequence.KindFactionRelation,
			Duration:        consequence.DurationPermanent,
			FactionRelation: &consequence.FactionRelationChange{FactionA: "IRONHOLD", FactionB: "korvan", Change: change, Reason: "raid"},
		}
		_, err := f.applier.Apply(ctx, c, Target{PlayerID: "p1"})
		require.NoError(t, err)
	}

	rel, ok := f.stores.World.State().Relation("KORVAN", "IRONHOLD")
	require.True(t, ok)
	assert.Equal(t, state.MinRelation, rel.Value)
	assert.Equal(t, state.StatusHostile, rel.Status)
	require.Len(t, rel.History, 2)
	assert.Equal(t, -30, rel.History[1].Change, "history records the clamped delta")
}

func TestApply_HiddenRevealRequiresCondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := &consequence.Consequence{
		ID:       "rv-1",
		Kind:     consequence.KindHiddenReveal,
		Duration: consequence.DurationPermanent,
		Reveal: &consequence.HiddenReveal{
			RevealID:  "secret_passage",
			Condition: condition.HasClue("old_map"),
			Content:   "A draft comes from behind the bookcase.",
		},
	}

	out, err := f.applier.Apply(ctx, c, Target{PlayerID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, SkipConditionUnmet, out.Skipped)
	h := f.stores.Histories.GetOrCreate("p1")
	assert.False(t, h.UnlockedContent["secret_passage"])
	assert.False(t, h.ActiveConsequences["rv-1"], "unmet reveal must release its claim")

	f.stores.Histories.DiscoverClue("p1", "old_map")
	out, err = f.applier.Apply(ctx, c, Target{PlayerID: "p1"})
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.True(t, f.stores.Histories.GetOrCreate("p1").UnlockedContent["secret_passage"])
}

func TestApply_CharacterEffects(t *testing.T) {
	tests := []struct {
		name    string
		stat    string
		change  int
		check   func(t *testing.T, p *session.PlayerStats)
		wantErr error
	}{
		{
			name: "damage floors at zero", stat: "hp", change: -500,
			check: func(t *testing.T, p *session.PlayerStats) { assert.Equal(t, 0, p.HP) },
		},
		{
			name: "healing caps at max", stat: "health", change: 500,
			check: func(t *testing.T, p *session.PlayerStats) { assert.Equal(t, p.MaxHP, p.HP) },
		},
		{
			name: "mana drain", stat: "mana", change: -20,
			check: func(t *testing.T, p *session.PlayerStats) { assert.Equal(t, 30, p.Mana) },
		},
		{
			name: "gold has no upper bound", stat: "gold", change: 100000,
			check: func(t *testing.T, p *session.PlayerStats) { assert.Equal(t, 100000, p.Gold) },
		},
		{
			name: "gold floors at zero", stat: "gold", change: -5,
			check: func(t *testing.T, p *session.PlayerStats) { assert.Equal(t, 0, p.Gold) },
		},
		{
			name: "xp levels up", stat: "xp", change: 130,
			check: func(t *testing.T, p *session.PlayerStats) {
				assert.Equal(t, 2, p.Level)
				assert.Equal(t, 30, p.Experience)
				assert.Equal(t, 110, p.MaxHP)
				assert.Equal(t, 55, p.MaxMana)
			},
		},
		{
			name: "unknown stat", stat: "charisma", change: 3, wantErr: ErrUnknownStat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.applier.Apply(context.Background(), effect("ce-1", tt.stat, tt.change), Target{PlayerID: "p1", PartyCode: "PARTY"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, f.stores.Histories.GetOrCreate("p1").ActiveConsequences["ce-1"])
				return
			}
			require.NoError(t, err)
			tt.check(t, f.stats(t, "p1"))
		})
	}
}

func TestApplyStat_MultipleLevels(t *testing.T) {
	p := session.NewPlayerStats("x")
	sc, err := ApplyStat(p, "experience", 350, DefaultLevelUp())
	require.NoError(t, err)

	// 100 for level 1, 200 for level 2, 50 left over at level 3
	assert.True(t, sc.LeveledUp)
	assert.Equal(t, 3, p.Level)
	assert.Equal(t, 50, p.Experience)
	assert.Equal(t, 120, p.MaxHP)
}

func TestApplyBatch_PartialFailure(t *testing.T) {
	f := newFixture(t)
	batch := []*consequence.Consequence{
		effect("ce-bad", "charisma", 1),
		reputation("rep-1", "KORVAN", 10),
		effect("ce-gold", "gold", 25),
	}

	res := f.applier.ApplyBatch(context.Background(), batch, Target{PlayerID: "p1", PartyCode: "PARTY"})
	assert.True(t, res.Success)
	assert.Equal(t, []string{"rep-1", "ce-gold"}, res.AppliedConsequenceIDs)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "ce-bad")
	assert.Len(t, res.PerPlayerEffects["p1"], 2)
	assert.Len(t, res.WorldEffects, 1)
	assert.Equal(t, 25, f.stats(t, "p1").Gold)
}

func TestApplyBatch_NothingApplied(t *testing.T) {
	f := newFixture(t)
	res := f.applier.ApplyBatch(context.Background(), []*consequence.Consequence{
		effect("ce-1", "charisma", 1),
		reputation("rep-1", "NOBODY", 3),
	}, Target{PlayerID: "p1", PartyCode: "PARTY"})

	assert.False(t, res.Success)
	assert.Len(t, res.Errors, 2)
	assert.Empty(t, res.AppliedConsequenceIDs)
}

func TestApply_CharacterEffectErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.applier.Apply(ctx, effect("a", "hp", 1), Target{PlayerID: "p1"})
	assert.ErrorIs(t, err, ErrMissingParty)

	_, err = f.applier.Apply(ctx, effect("b", "hp", 1), Target{PlayerID: "ghost", PartyCode: "PARTY"})
	assert.ErrorIs(t, err, ErrUnknownPlayer)

	_, err = f.applier.Apply(ctx, effect("c", "hp", 1), Target{PlayerID: "p1", PartyCode: "NOPE"})
	assert.True(t, errors.Is(err, session.ErrSessionNotFound))

	noSessions := New(f.stores, nil, Config{}, f.applier.logger)
	_, err = noSessions.Apply(ctx, effect("d", "hp", 1), Target{PlayerID: "p1", PartyCode: "PARTY"})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestApply_UnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.applier.Apply(context.Background(), &consequence.Consequence{ID: "x", Kind: "weather"}, Target{PlayerID: "p1"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestExpirer_ShortConsequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := reputation("rep-short", "KORVAN", 10)

	for _, p := range []string{"p1", "p2"} {
		_, err := f.applier.Apply(ctx, c, Target{PlayerID: p})
		require.NoError(t, err)
	}

	// 59 minutes is inside 2 x 30 minutes
	assert.Empty(t, f.expirer.RunOnce(t0.Add(59*time.Minute)))

	expired := f.expirer.RunOnce(t0.Add(61 * time.Minute))
	assert.Equal(t, []string{"rep-short"}, expired)

	for _, p := range []string{"p1", "p2"} {
		h := f.stores.Histories.GetOrCreate(p)
		assert.False(t, h.ActiveConsequences["rep-short"], p)
		assert.True(t, h.ResolvedConsequences["rep-short"], p)
		// expiry never undoes the effect
		assert.Equal(t, 10, h.FactionReputation["KORVAN"], p)
	}

	reg, _ := f.stores.Consequences.Get("rep-short")
	assert.True(t, reg.Resolved)
	assert.Empty(t, f.expirer.RunOnce(t0.Add(2*time.Hour)))
}

func TestExpirer_PermanentNeverExpires(t *testing.T) {
	f := newFixture(t)
	c := reputation("rep-perm", "KORVAN", 1)
	c.Duration = consequence.DurationPermanent

	_, err := f.applier.Apply(context.Background(), c, Target{PlayerID: "p1"})
	require.NoError(t, err)
	assert.Empty(t, f.expirer.RunOnce(t0.Add(24*365*time.Hour)))
}

func TestExpirer_RetiresWorldEvent(t *testing.T) {
	f := newFixture(t)
	c := &consequence.Consequence{
		ID:         "we-1",
		Kind:       consequence.KindWorldEvent,
		Duration:   consequence.DurationImmediate,
		Severity:   consequence.SeverityMinor,
		WorldEvent: &consequence.WorldEvent{EventID: "fair", Name: "Harvest Fair", AffectedRegions: []string{"capital"}},
	}
	_, err := f.applier.Apply(context.Background(), c, Target{PlayerID: "p1"})
	require.NoError(t, err)

	f.expirer.RunOnce(t0.Add(2 * time.Minute))

	ws := f.stores.World.State()
	assert.Empty(t, ws.ActiveEvents)
	require.Len(t, ws.CompletedEvents, 1)
	assert.Equal(t, "fair", ws.CompletedEvents[0].ID)
	assert.Empty(t, ws.Regions["capital"].ActiveEvents)
	assert.True(t, f.stores.Histories.GetOrCreate("p1").ResolvedConsequences["we-1"])
}

func TestApply_LateHolderAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := reputation("rep-late", "KORVAN", 10)

	_, err := f.applier.Apply(ctx, c, Target{PlayerID: "p1"})
	require.NoError(t, err)
	require.Equal(t, []string{"rep-late"}, f.expirer.RunOnce(t0.Add(61*time.Minute)))

	f.applier.SetClock(func() time.Time { return t0.Add(90 * time.Minute) })
	out, err := f.applier.Apply(ctx, c, Target{PlayerID: "p2"})
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.True(t, out.Expired)

	h := f.stores.Histories.GetOrCreate("p2")
	assert.Equal(t, 10, h.FactionReputation["KORVAN"])
	assert.False(t, h.ActiveConsequences["rep-late"])
	assert.True(t, h.ResolvedConsequences["rep-late"])

	assert.Empty(t, f.expirer.RunOnce(t0.Add(24*365*time.Hour)))
	assert.Empty(t, f.stores.Histories.GetOrCreate("p2").ActiveConsequences)

	// still once per player
	out, err = f.applier.Apply(ctx, c, Target{PlayerID: "p2"})
	require.NoError(t, err)
	assert.Equal(t, SkipAlreadyApplied, out.Skipped)
}

func TestApply_HolderInsideWindowExpiresWithFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := reputation("rep-window", "KORVAN", 5)

	_, err := f.applier.Apply(ctx, c, Target{PlayerID: "p1"})
	require.NoError(t, err)

	f.applier.SetClock(func() time.Time { return t0.Add(30 * time.Minute) })
	out, err := f.applier.Apply(ctx, c, Target{PlayerID: "p2"})
	require.NoError(t, err)
	assert.False(t, out.Expired)
	assert.True(t, f.stores.Histories.GetOrCreate("p2").ActiveConsequences["rep-window"])

	assert.Equal(t, []string{"rep-window"}, f.expirer.RunOnce(t0.Add(61*time.Minute)))
	for _, p := range []string{"p1", "p2"} {
		h := f.stores.Histories.GetOrCreate(p)
		assert.False(t, h.ActiveConsequences["rep-window"], p)
		assert.True(t, h.ResolvedConsequences["rep-window"], p)
	}
}

func TestExpirer_SharedWorldEventStaysActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	archive := func(id string) *consequence.Consequence {
		return &consequence.Consequence{
			ID:         id,
			Kind:       consequence.KindWorldEvent,
			Duration:   consequence.DurationLong,
			Severity:   consequence.SeverityMinor,
			WorldEvent: &consequence.WorldEvent{EventID: "archive_opened", Name: "Archive Opened", AffectedRegions: []string{"capital"}},
		}
	}

	_, err := f.applier.Apply(ctx, archive("c-first"), Target{PlayerID: "p1"})
	require.NoError(t, err)
	f.applier.SetClock(func() time.Time { return t0.Add(7 * time.Hour) })
	_, err = f.applier.Apply(ctx, archive("c-second"), Target{PlayerID: "p2"})
	require.NoError(t, err)

	// long is 15 x 30 minutes
	assert.Equal(t, []string{"c-first"}, f.expirer.RunOnce(t0.Add(7*time.Hour+36*time.Minute)))

	ws := f.stores.World.State()
	require.Len(t, ws.ActiveEvents, 1)
	assert.Equal(t, "archive_opened", ws.ActiveEvents[0].ID)
	assert.Empty(t, ws.CompletedEvents)
	assert.Contains(t, ws.Regions["capital"].ActiveEvents, "archive_opened")
	second, _ := f.stores.Consequences.Get("c-second")
	assert.False(t, second.Resolved)

	assert.Equal(t, []string{"c-second"}, f.expirer.RunOnce(t0.Add(14*time.Hour+31*time.Minute)))
	ws = f.stores.World.State()
	assert.Empty(t, ws.ActiveEvents)
	require.Len(t, ws.CompletedEvents, 1)
	assert.Empty(t, ws.Regions["capital"].ActiveEvents)
}

func TestExpirer_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.expirer.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
