package knowledge

import (
	"log/slog"
	"math/rand"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/consequence-engine/internal/store"
	"github.com/jwebster45206/consequence-engine/pkg/condition"
	"github.com/jwebster45206/consequence-engine/pkg/scenario"
	"github.com/jwebster45206/consequence-engine/pkg/state"
)

func newTestManager(t *testing.T) (*Manager, *store.HistoryStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	histories := store.NewHistoryStore(state.DefaultFactions, logger)
	m := NewManager(histories, rand.New(rand.NewSource(42)), logger)
	m.SetClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) })
	return m, histories
}

func mysteryScenario() *scenario.ScenarioResponse {
	return &scenario.ScenarioResponse{
		ID:    "scn-1",
		Type:  scenario.TypeMystery,
		Title: "The Silent Bell",
		Choices: []scenario.Choice{
			{ID: "ask", Text: "Ask the keeper", Visibility: scenario.VisibilityAll},
			{ID: "secret", Text: "Use the hidden stair", Visibility: scenario.VisibilityHidden},
			{ID: "cipher", Text: "Read the cipher", Visibility: scenario.VisibilityConditional, VisibilityCondition: condition.HasClue("codebook")},
			{ID: "odd", Text: "Follow a hunch", Visibility: scenario.VisibilityConditional, VisibilityCondition: condition.Parse("moon_is_full")},
		},
		Clues: []scenario.Clue{
			{ID: "bell_rope", Title: "Cut rope", Category: scenario.CategoryPhysical, Shareability: scenario.SharePublic},
			{ID: "diary", Title: "Diary", Category: scenario.CategoryDocument, Shareability: scenario.SharePrivate},
			{ID: "whisper", Title: "Whisper", Category: scenario.CategoryTestimony, Shareability: scenario.SharePrivate},
			{ID: "footprints", Title: "Footprints", Category: scenario.CategoryPhysical, Shareability: scenario.ShareShareable},
		},
		HiddenElements: []scenario.HiddenElement{
			{ID: "tower", Description: "The tower key", Condition: condition.ReputationAbove("KORVAN", 15)},
		},
	}
}

func TestDistributeInformation_ChoiceVisibility(t *testing.T) {
	m, histories := newTestManager(t)
	histories.DiscoverClue("p1", "codebook")

	views := m.DistributeInformation("scn-1", []string{"p1", "p2"}, mysteryScenario())

	assert.ElementsMatch(t, []string{"ask", "cipher", "odd"}, views["p1"].VisibleChoices)
	assert.ElementsMatch(t, []string{"secret"}, views["p1"].HiddenChoices)

	// unknown condition strings default to visible
	assert.ElementsMatch(t, []string{"ask", "odd"}, views["p2"].VisibleChoices)
	assert.ElementsMatch(t, []string{"secret", "cipher"}, views["p2"].HiddenChoices)

	assert.True(t, m.IsChoiceVisible("scn-1", "p1", "cipher"))
	assert.False(t, m.IsChoiceVisible("scn-1", "p2", "cipher"))
	assert.False(t, m.IsChoiceVisible("scn-1", "p1", "secret"))
	assert.False(t, m.IsChoiceVisible("unknown", "p1", "ask"))
}

func TestDistributeInformation_ClueFiltering(t *testing.T) {
	m, histories := newTestManager(t)
	players := []string{"p1", "p2", "p3"}

	views := m.DistributeInformation("scn-1", players, mysteryScenario())
	require.Len(t, views, 3)

	privateHolders := 0
	shareableHolders := 0
	for _, p := range players {
		v := views[p]
		assert.Contains(t, v.DiscoveredClues, "bell_rope", "public clue for %s", p)
		assert.True(t, histories.GetOrCreate(p).HasClue("bell_rope"))

		n := 0
		for _, id := range []string{"diary", "whisper"} {
			if slices.Contains(v.DiscoveredClues, id) {
				n++
			}
		}
		assert.LessOrEqual(t, n, 1, "at most one private clue per player")
		privateHolders += n

		if slices.Contains(v.DiscoveredClues, "footprints") {
			shareableHolders++
		}
	}
	assert.Equal(t, 2, privateHolders, "each private clue goes to exactly one player")
	assert.GreaterOrEqual(t, shareableHolders, MinShareRecipients)
	assert.LessOrEqual(t, shareableHolders, MaxShareRecipients)
}

func TestDistributeInformation_MorePrivateCluesThanPlayers(t *testing.T) {
	m, _ := newTestManager(t)
	sc := mysteryScenario()

	views := m.DistributeInformation("scn-1", []string{"solo"}, sc)
	n := 0
	for _, id := range []string{"diary", "whisper"} {
		if slices.Contains(views["solo"].DiscoveredClues, id) {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestDistributeInformation_UnlockRequirementDiscovers(t *testing.T) {
	m, histories := newTestManager(t)
	histories.RecordChoice("veteran", state.ChoiceRecord{ScenarioID: "old", ChoiceID: "x"})

	sc := mysteryScenario()
	sc.Clues = append(sc.Clues, scenario.Clue{
		ID:                "ledger",
		Category:          scenario.CategoryObservation,
		Shareability:      scenario.ShareShareable,
		UnlockRequirement: condition.MinChoices(1),
	})

	views := m.DistributeInformation("scn-1", []string{"veteran", "rookie"}, sc)
	assert.Contains(t, views["veteran"].DiscoveredClues, "ledger")
	assert.True(t, histories.GetOrCreate("veteran").HasClue("ledger"))
}

func TestDistributeInformation_PotentialReveals(t *testing.T) {
	m, histories := newTestManager(t)
	histories.AdjustReputation("p1", "KORVAN", 5)
	histories.AdjustReputation("p2", "KORVAN", 20)

	views := m.DistributeInformation("scn-1", []string{"p1", "p2"}, mysteryScenario())

	require.Len(t, views["p1"].PotentialReveals, 1)
	pr := views["p1"].PotentialReveals[0]
	assert.Equal(t, "tower", pr.UnlockID)
	assert.Equal(t, "gain 11 more reputation with KORVAN", pr.Hint)

	// p2 already satisfies the condition, so it is unlocked rather than listed
	assert.Empty(t, views["p2"].PotentialReveals)
	assert.True(t, histories.GetOrCreate("p2").HasUnlocked("tower"))
}

func TestPlayerKnowledge_ReturnsCopy(t *testing.T) {
	m, _ := newTestManager(t)
	m.DistributeInformation("scn-1", []string{"p1"}, mysteryScenario())

	info, ok := m.PlayerKnowledge("p1", "scn-1")
	require.True(t, ok)
	info.VisibleChoices = nil

	again, _ := m.PlayerKnowledge("p1", "scn-1")
	assert.NotEmpty(t, again.VisibleChoices)

	_, ok = m.PlayerKnowledge("p9", "scn-1")
	assert.False(t, ok)
}

func TestShareClue(t *testing.T) {
	m, histories := newTestManager(t)
	m.DistributeInformation("scn-1", []string{"alice"}, mysteryScenario())
	m.DistributeInformation("scn-2", []string{"bob"}, &scenario.ScenarioResponse{ID: "scn-2"})

	alice := histories.GetOrCreate("alice")
	require.True(t, alice.HasClue("footprints"), "sole player receives the shareable clue")

	assert.True(t, m.ShareClue("alice", "bob", "footprints"))
	bob := histories.GetOrCreate("bob")
	assert.True(t, bob.HasClue("footprints"))
	require.Len(t, bob.ReceivedShares, 1)
	assert.Equal(t, "alice", bob.ReceivedShares[0].FromPlayer)
	assert.True(t, histories.GetOrCreate("alice").SharedClues["footprints"])

	// idempotent
	assert.True(t, m.ShareClue("alice", "bob", "footprints"))
	assert.Len(t, histories.GetOrCreate("bob").ReceivedShares, 1)
}

func TestShareClue_Rejections(t *testing.T) {
	m, histories := newTestManager(t)
	m.DistributeInformation("scn-1", []string{"alice", "bob"}, mysteryScenario())

	tests := []struct {
		name string
		from string
		to   string
		clue string
	}{
		{name: "private clue", from: "alice", to: "bob", clue: "diary"},
		{name: "unknown clue", from: "alice", to: "bob", clue: "nonexistent"},
		{name: "sender lacks clue", from: "carol", to: "bob", clue: "bell_rope"},
		{name: "self share", from: "alice", to: "alice", clue: "bell_rope"},
	}

	// make sure whoever holds the diary is the sender in the private case
	if !histories.GetOrCreate("alice").HasClue("diary") {
		tests[0].from, tests[0].to = "bob", "alice"
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := histories.GetOrCreate(tt.to)
			assert.False(t, m.ShareClue(tt.from, tt.to, tt.clue))
			after := histories.GetOrCreate(tt.to)
			assert.Equal(t, before.DiscoveredClues, after.DiscoveredClues)
			assert.Equal(t, len(before.ReceivedShares), len(after.ReceivedShares))
		})
	}
}

func TestShareClue_CascadeIsBounded(t *testing.T) {
	m, histories := newTestManager(t)

	m.DistributeInformation("scn-1", []string{"alice"}, mysteryScenario())
	require.True(t, histories.GetOrCreate("alice").HasClue("footprints"))

	vault := &scenario.ScenarioResponse{
		ID: "scn-vault",
		HiddenElements: []scenario.HiddenElement{
			{ID: "vault", Condition: condition.HasClue("footprints")},
			{ID: "inner", Condition: condition.Unlocked("vault")},
			{ID: "deepest", Condition: condition.Unlocked("inner")},
		},
	}
	views := m.DistributeInformation("scn-vault", []string{"bob"}, vault)
	require.Len(t, views["bob"].PotentialReveals, 3)

	require.True(t, m.ShareClue("alice", "bob", "footprints"))

	bob := histories.GetOrCreate("bob")
	assert.True(t, bob.HasUnlocked("vault"))
	assert.True(t, bob.HasUnlocked("inner"), "one cascade step follows the share")
	assert.False(t, bob.HasUnlocked("deepest"), "cascades stop after one extra step")

	info, _ := m.PlayerKnowledge("bob", "scn-vault")
	require.Len(t, info.PotentialReveals, 1)
	assert.Equal(t, "deepest", info.PotentialReveals[0].ElementID)
}

func TestAddPlayerDeduction(t *testing.T) {
	m, _ := newTestManager(t)
	m.DistributeInformation("scn-1", []string{"p1"}, mysteryScenario())

	tests := []struct {
		in   float64
		want float64
	}{
		{in: 0.4, want: 0.4},
		{in: 1.7, want: 1},
		{in: -0.2, want: 0},
	}
	for _, tt := range tests {
		d := m.AddPlayerDeduction("p1", "the keeper lied", tt.in, []string{"bell_rope"})
		assert.Equal(t, tt.want, d.Confidence)
		assert.NotEmpty(t, d.ID)
	}

	info, ok := m.PlayerKnowledge("p1", "scn-1")
	require.True(t, ok)
	assert.Len(t, info.Deductions, 3)
	assert.Len(t, m.Deductions("p1"), 3)

	// deductions carry into views of later scenarios
	views := m.DistributeInformation("scn-2", []string{"p1"}, &scenario.ScenarioResponse{ID: "scn-2"})
	assert.Len(t, views["p1"].Deductions, 3)
}

func TestForget(t *testing.T) {
	m, _ := newTestManager(t)
	m.DistributeInformation("scn-1", []string{"alice"}, mysteryScenario())
	m.Forget("scn-1")

	_, ok := m.PlayerKnowledge("alice", "scn-1")
	assert.False(t, ok)

	// clue metadata survives so held clues stay shareable
	assert.True(t, m.ShareClue("alice", "bob", "bell_rope"))
}
