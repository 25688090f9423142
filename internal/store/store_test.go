package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/consequence-engine/pkg/condition"
	"github.com/jwebster45206/consequence-engine/pkg/consequence"
	"github.com/jwebster45206/consequence-engine/pkg/state"
	"github.com/jwebster45206/consequence-engine/pkg/storage"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStores() *Stores {
	logger := testLogger()
	clock := func() time.Time { return testNow }
	s := &Stores{
		World:        NewWorldStore(state.NewWorldState(state.DefaultFactions, state.DefaultRegions, testNow), logger),
		Histories:    NewHistoryStore(state.DefaultFactions, logger),
		Consequences: NewConsequenceRegistry(),
	}
	s.World.SetClock(clock)
	s.Histories.SetClock(clock)
	return s
}

func TestWorldStore_FreshWorld(t *testing.T) {
	s := newTestStores()
	ws := s.World.State()

	assert.Len(t, ws.FactionPower, len(state.DefaultFactions))
	for _, f := range state.DefaultFactions {
		assert.Equal(t, state.InitialPower, ws.FactionPower[f], "power of %s", f)
	}
	// every unordered pair is seeded neutral
	n := len(state.DefaultFactions)
	assert.Len(t, ws.FactionRelations, n*(n-1)/2)
	for key, rel := range ws.FactionRelations {
		assert.Equal(t, 0, rel.Value, key)
		assert.Equal(t, state.StatusNeutral, rel.Status, key)
	}
}

func TestWorldStore_ChangeRelationClamps(t *testing.T) {
	tests := []struct {
		name       string
		changes    []int
		wantValue  int
		wantStatus state.RelationStatus
	}{
		{name: "small positive", changes: []int{25}, wantValue: 25, wantStatus: state.StatusFriendly},
		{name: "clamped high", changes: []int{80, 80}, wantValue: 100, wantStatus: state.StatusAllied},
		{name: "clamped low", changes: []int{-150}, wantValue: -100, wantStatus: state.StatusHostile},
		{name: "tense", changes: []int{-30}, wantValue: -30, wantStatus: state.StatusTense},
		{name: "back to neutral", changes: []int{-50, 45}, wantValue: -5, wantStatus: state.StatusNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStores()
			var rel state.FactionRelation
			var err error
			for _, c := range tt.changes {
				rel, err = s.World.ChangeRelation("silvermoon", "KORVAN", c, "test", Source{})
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantValue, rel.Value)
			assert.Equal(t, tt.wantStatus, rel.Status)
			assert.Len(t, rel.History, len(tt.changes))
			assert.Equal(t, "KORVAN", rel.FactionA)
			assert.Equal(t, "SILVERMOON", rel.FactionB)

			live, ok := s.World.State().Relation("KORVAN", "SILVERMOON")
			require.True(t, ok)
			assert.Equal(t, tt.wantValue, live.Value)
		})
	}
}

func TestWorldStore_ChangeRelationErrors(t *testing.T) {
	s := newTestStores()

	_, err := s.World.ChangeRelation("KORVAN", "korvan", 5, "", Source{})
	assert.ErrorIs(t, err, ErrSameFaction)

	_, err = s.World.ChangeRelation("KORVAN", "NOBODY", 5, "", Source{})
	assert.ErrorIs(t, err, ErrUnknownFaction)

	_, _, err = s.World.AdjustFactionPower("NOBODY", 1, Source{})
	assert.ErrorIs(t, err, ErrUnknownFaction)
}

func TestWorldStore_Events(t *testing.T) {
	s := newTestStores()

	attached, missing := s.World.StartEvent(state.WorldEvent{
		ID:      "storm",
		Name:    "The Great Storm",
		Regions: []string{"capital", "atlantis"},
	}, true, Source{ConsequenceID: "c1"})

	assert.Equal(t, []string{"capital"}, attached)
	assert.Equal(t, []string{"atlantis"}, missing)

	ws := s.World.State()
	require.Len(t, ws.ActiveEvents, 1)
	assert.Equal(t, []string{"storm"}, ws.Regions["capital"].ActiveEvents)
	require.NotNil(t, ws.LastMajorEvent)
	assert.Equal(t, "storm", ws.LastMajorEvent.EventID)
	assert.Equal(t, testNow, ws.LastMajorEvent.Timestamp)

	// starting the same event again does not duplicate it
	s.World.StartEvent(state.WorldEvent{ID: "storm", Regions: []string{"capital"}}, false, Source{})
	assert.Len(t, s.World.State().ActiveEvents, 1)
	assert.Equal(t, []string{"storm"}, s.World.State().Regions["capital"].ActiveEvents)

	assert.True(t, s.World.CompleteEvent("storm"))
	assert.False(t, s.World.CompleteEvent("storm"))

	ws = s.World.State()
	assert.Empty(t, ws.ActiveEvents)
	require.Len(t, ws.CompletedEvents, 1)
	require.NotNil(t, ws.CompletedEvents[0].EndedAt)
	assert.Empty(t, ws.Regions["capital"].ActiveEvents)
}

func TestWorldStore_ChangeLogBounded(t *testing.T) {
	s := newTestStores()
	for i := 0; i < MaxChangeLog+25; i++ {
		s.World.SetFlag("counter", "x")
	}
	assert.Len(t, s.World.Changes(0), MaxChangeLog)
	assert.Len(t, s.World.Changes(10), 10)
}

func TestWorldStore_RecordChoiceRanksInfluence(t *testing.T) {
	s := newTestStores()
	ranking := make([]state.InfluenceEntry, 0, 12)
	for i := 0; i < 12; i++ {
		ranking = append(ranking, state.InfluenceEntry{PlayerID: string(rune('a' + i)), Score: float64(i)})
	}
	s.World.RecordChoice(ranking)

	ws := s.World.State()
	assert.Equal(t, 1, ws.TotalChoices)
	require.Len(t, ws.InfluentialPlayers, MaxInfluentialPlayers)
	assert.Equal(t, "l", ws.InfluentialPlayers[0].PlayerID)
	assert.Equal(t, 11.0, ws.InfluentialPlayers[0].Score)
}

func TestHistoryStore_LazyCreation(t *testing.T) {
	s := newTestStores()

	assert.False(t, s.Histories.Exists("p1"))
	h := s.Histories.GetOrCreate("p1")
	require.NotNil(t, h)
	assert.True(t, s.Histories.Exists("p1"))

	for _, f := range state.DefaultFactions {
		rep, ok := h.FactionReputation[f]
		assert.True(t, ok, "missing faction %s", f)
		assert.Equal(t, 0, rep)
	}

	// the returned copy is detached from the store
	h.FactionReputation["KORVAN"] = 99
	assert.Equal(t, 0, s.Histories.GetOrCreate("p1").FactionReputation["KORVAN"])
}

func TestHistoryStore_ActivateConsequenceOnce(t *testing.T) {
	s := newTestStores()

	assert.True(t, s.Histories.ActivateConsequence("p1", "c1"))
	assert.False(t, s.Histories.ActivateConsequence("p1", "c1"))
	assert.True(t, s.Histories.ActivateConsequence("p2", "c1"))

	touched := s.Histories.ResolveEverywhere("c1")
	assert.Equal(t, []string{"p1", "p2"}, touched)

	// once resolved the consequence cannot be reactivated
	assert.False(t, s.Histories.ActivateConsequence("p1", "c1"))

	h := s.Histories.GetOrCreate("p1")
	assert.False(t, h.ActiveConsequences["c1"])
	assert.True(t, h.ResolvedConsequences["c1"])
}

func TestHistoryStore_ConcurrentActivation(t *testing.T) {
	s := newTestStores()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Histories.ActivateConsequence("p1", "c1") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestHistoryStore_SharedClues(t *testing.T) {
	s := newTestStores()

	assert.True(t, s.Histories.ReceiveSharedClue("alice", "bob", "map"))
	assert.False(t, s.Histories.ReceiveSharedClue("alice", "bob", "map"))

	bob := s.Histories.GetOrCreate("bob")
	assert.True(t, bob.DiscoveredClues["map"])
	require.Len(t, bob.ReceivedShares, 1)
	assert.Equal(t, "alice", bob.ReceivedShares[0].FromPlayer)
	assert.Equal(t, testNow, bob.ReceivedShares[0].Timestamp)

	alice := s.Histories.GetOrCreate("alice")
	assert.True(t, alice.SharedClues["map"])
}

func TestHistoryStore_RecordChoiceAndReputation(t *testing.T) {
	s := newTestStores()

	assert.Equal(t, 10, s.Histories.AdjustReputation("p1", "korvan", 10))
	assert.Equal(t, -5, s.Histories.AdjustReputation("p1", "KORVAN", -15))

	score := s.Histories.RecordChoice("p1", state.ChoiceRecord{ScenarioID: "s1", ChoiceID: "c1"})
	// one choice plus |-5|/10
	assert.InDelta(t, 1.5, score, 0.0001)

	h := s.Histories.GetOrCreate("p1")
	assert.Equal(t, 1, h.TotalChoices)
	require.Len(t, h.Choices, 1)
	assert.Equal(t, testNow, h.Choices[0].Timestamp)
	assert.NotNil(t, h.Choices[0].ConsequenceIDs)
}

func TestConsequenceRegistry(t *testing.T) {
	r := NewConsequenceRegistry()
	c := &consequence.Consequence{
		ID:         "c1",
		Kind:       consequence.KindReputation,
		Duration:   consequence.DurationShort,
		Reputation: &consequence.ReputationChange{Faction: "KORVAN", Change: 10},
	}

	got := r.Register(c, "p1", testNow, 30*time.Minute)
	require.NotNil(t, got.AppliedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, testNow.Add(time.Hour), *got.ExpiresAt)
	assert.Nil(t, c.AppliedAt, "Register must not stamp the caller's value")

	// a second registration keeps the first stamp and adds the player
	got = r.Register(c, "p2", testNow.Add(time.Minute), 30*time.Minute)
	assert.Equal(t, testNow, *got.AppliedAt)
	assert.Equal(t, []string{"p1", "p2"}, got.AffectedPlayers)

	assert.Empty(t, r.Expired(testNow.Add(59*time.Minute)))
	assert.Len(t, r.Expired(testNow.Add(61*time.Minute)), 1)

	assert.True(t, r.Resolve("c1"))
	assert.False(t, r.Resolve("c1"))
	assert.Empty(t, r.Unresolved())
	assert.Empty(t, r.Expired(testNow.Add(61*time.Minute)))
}

func TestConsequenceRegistry_ClaimRelease(t *testing.T) {
	r := NewConsequenceRegistry()
	assert.True(t, r.Claim("w1"))
	assert.False(t, r.Claim("w1"))
	r.Release("w1")
	assert.True(t, r.Claim("w1"))
}

func TestHistoryStore_ResolveConsequence(t *testing.T) {
	s := newTestStores()
	require.True(t, s.Histories.ActivateConsequence("p1", "c1"))

	assert.True(t, s.Histories.ResolveConsequence("p1", "c1"))
	assert.False(t, s.Histories.ResolveConsequence("p1", "c1"))
	assert.False(t, s.Histories.ResolveConsequence("nobody", "c1"))

	h := s.Histories.GetOrCreate("p1")
	assert.False(t, h.ActiveConsequences["c1"])
	assert.True(t, h.ResolvedConsequences["c1"])
}

func TestConsequenceRegistry_HoldsEvent(t *testing.T) {
	r := NewConsequenceRegistry()
	event := func(id string) *consequence.Consequence {
		return &consequence.Consequence{
			ID:         id,
			Kind:       consequence.KindWorldEvent,
			Duration:   consequence.DurationLong,
			WorldEvent: &consequence.WorldEvent{EventID: "archive_opened", Name: "Archive Opened"},
		}
	}
	r.Register(event("we-a"), "", testNow, 30*time.Minute)
	assert.False(t, r.HoldsEvent("archive_opened", "we-a"))

	r.Register(event("we-b"), "", testNow, 30*time.Minute)
	assert.True(t, r.HoldsEvent("archive_opened", "we-a"))
	assert.False(t, r.HoldsEvent("other_event", "we-a"))

	require.True(t, r.Resolve("we-b"))
	assert.False(t, r.HoldsEvent("archive_opened", "we-a"))
}

func populate(t *testing.T, s *Stores) {
	t.Helper()

	_, err := s.World.ChangeRelation("KORVAN", "IRONHOLD", -35, "border skirmish", Source{ConsequenceID: "rel"})
	require.NoError(t, err)
	_, _, err = s.World.AdjustFactionPower("KORVAN", 1.0, Source{PlayerID: "p1"})
	require.NoError(t, err)
	s.World.StartEvent(state.WorldEvent{ID: "festival", Name: "Festival", Regions: []string{"capital"}}, false, Source{})
	s.World.SetFlag("gate_open", "true")

	s.Histories.AdjustReputation("p1", "KORVAN", 10)
	s.Histories.RecordChoice("p1", state.ChoiceRecord{ScenarioID: "s1", ChoiceID: "c1", ConsequenceIDs: []string{"rep"}})
	s.Histories.ActivateConsequence("p1", "rep")
	s.Histories.DiscoverClue("p1", "letter")
	s.Histories.ReceiveSharedClue("p1", "p2", "letter")
	s.Histories.Unlock("p2", "vault")

	s.Consequences.Register(&consequence.Consequence{
		ID:              "rep",
		Kind:            consequence.KindReputation,
		Duration:        consequence.DurationMedium,
		Severity:        consequence.SeverityMinor,
		RevealCondition: condition.Parse("min_choices_1"),
		Reputation:      &consequence.ReputationChange{Faction: "KORVAN", Change: 10},
	}, "p1", testNow, 30*time.Minute)
	s.Consequences.Register(&consequence.Consequence{
		ID:              "rel",
		Kind:            consequence.KindFactionRelation,
		Duration:        consequence.DurationPermanent,
		RevealCondition: condition.Parse(""),
		FactionRelation: &consequence.FactionRelationChange{FactionA: "KORVAN", FactionB: "IRONHOLD", Change: -35},
	}, "p1", testNow, 30*time.Minute)
}

func TestPersister_RoundTrip(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMockStorage()

	original := newTestStores()
	populate(t, original)
	p := NewPersister(original, medium, time.Hour, time.Hour, testLogger())
	require.NoError(t, p.Save(ctx))

	restored := newTestStores()
	p2 := NewPersister(restored, medium, time.Hour, time.Hour, testLogger())
	require.True(t, p2.Restore(ctx))

	before := original.Capture(testNow)
	after := restored.Capture(testNow)

	assert.Equal(t, before.World, after.World)
	assert.Equal(t, before.Histories, after.Histories)
	assert.Equal(t, before.Changes, after.Changes)

	wantC, err := json.Marshal(before.Consequences)
	require.NoError(t, err)
	gotC, err := json.Marshal(after.Consequences)
	require.NoError(t, err)
	assert.JSONEq(t, string(wantC), string(gotC))

	// restored world-scoped consequences are not re-claimable
	assert.False(t, restored.Consequences.Claim("rel"))
}

func TestPersister_SnapshotKeepsChangeTail(t *testing.T) {
	s := newTestStores()
	for i := 0; i < SnapshotChangeTail*2; i++ {
		s.World.SetFlag("k", "v")
	}
	snap := s.Capture(testNow)
	assert.Len(t, snap.Changes, SnapshotChangeTail)
}

func TestPersister_RestoreWithoutSnapshot(t *testing.T) {
	s := newTestStores()
	p := NewPersister(s, storage.NewMockStorage(), time.Hour, time.Hour, testLogger())

	_, err := p.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.False(t, p.Restore(context.Background()))
	assert.Equal(t, state.InitialPower, s.World.State().FactionPower["KORVAN"])
}

func TestPersister_RestoreCorruptSnapshot(t *testing.T) {
	medium := storage.NewMockStorage()
	require.NoError(t, medium.SaveSnapshot(context.Background(), []byte("{not json")))

	s := newTestStores()
	p := NewPersister(s, medium, time.Hour, time.Hour, testLogger())
	assert.False(t, p.Restore(context.Background()))
	assert.Len(t, s.World.State().FactionPower, len(state.DefaultFactions))
}

func TestPersister_SaveFailureIsReported(t *testing.T) {
	medium := storage.NewMockStorage()
	medium.SetSaveError(errors.New("disk full"))

	s := newTestStores()
	p := NewPersister(s, medium, time.Hour, time.Hour, testLogger())

	var reported error
	p.OnSave(func(err error) { reported = err })

	err := p.Save(context.Background())
	assert.Error(t, err)
	assert.Error(t, reported)

	// in-memory state is untouched
	assert.Equal(t, state.InitialPower, s.World.State().FactionPower["KORVAN"])
}

func TestPersister_DebouncedSave(t *testing.T) {
	medium := storage.NewMockStorage()
	s := newTestStores()
	p := NewPersister(s, medium, 20*time.Millisecond, time.Hour, testLogger())

	for i := 0; i < 10; i++ {
		s.World.SetFlag("k", "v")
	}
	assert.True(t, p.Pending())

	require.Eventually(t, func() bool { return medium.SaveCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, p.Pending())

	// mutations after the save schedule another one
	s.Histories.Unlock("p1", "x")
	require.Eventually(t, func() bool { return medium.SaveCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPersister_RunSavesOnShutdown(t *testing.T) {
	medium := storage.NewMockStorage()
	s := newTestStores()
	p := NewPersister(s, medium, time.Hour, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	s.World.SetFlag("k", "v")
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, 1, medium.SaveCount())
	assert.False(t, p.Pending())
}
