package state

import (
	"testing"
	"time"
)

func TestNewWorldState(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ws := NewWorldState([]string{"korvan", "Silvermoon", "IRONHOLD"}, DefaultRegions, now)

	if len(ws.FactionPower) != 3 {
		t.Fatalf("expected 3 factions, got %d", len(ws.FactionPower))
	}
	for f, p := range ws.FactionPower {
		if p != InitialPower {
			t.Errorf("faction %s power = %v, want %v", f, p, InitialPower)
		}
	}

	if len(ws.FactionRelations) != 3 {
		t.Fatalf("expected 3 faction pairs, got %d", len(ws.FactionRelations))
	}
	for k, r := range ws.FactionRelations {
		if r.Value != 0 || r.Status != StatusNeutral {
			t.Errorf("pair %s = %d/%s, want 0/neutral", k, r.Value, r.Status)
		}
	}

	if _, ok := ws.Relation("SILVERMOON", "korvan"); !ok {
		t.Error("expected relation lookup to be order-insensitive")
	}
	if len(ws.Regions) != len(DefaultRegions) {
		t.Errorf("expected %d regions, got %d", len(DefaultRegions), len(ws.Regions))
	}
}

func TestStatusForValue(t *testing.T) {
	tests := []struct {
		value int
		want  RelationStatus
	}{
		{-100, StatusHostile},
		{-60, StatusHostile},
		{-59, StatusTense},
		{-20, StatusTense},
		{-19, StatusNeutral},
		{0, StatusNeutral},
		{19, StatusNeutral},
		{20, StatusFriendly},
		{59, StatusFriendly},
		{60, StatusAllied},
		{100, StatusAllied},
	}

	for _, tt := range tests {
		if got := StatusForValue(tt.value); got != tt.want {
			t.Errorf("StatusForValue(%d) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestClampRelation(t *testing.T) {
	if ClampRelation(150) != 100 || ClampRelation(-150) != -100 || ClampRelation(42) != 42 {
		t.Error("ClampRelation did not bound values to [-100,100]")
	}
}

func TestWorldState_CloneIsIndependent(t *testing.T) {
	ws := NewWorldState(DefaultFactions, DefaultRegions, time.Now().UTC())
	ws.ActiveEvents = append(ws.ActiveEvents, WorldEvent{ID: "ev", Regions: []string{"capital"}})

	cp := ws.Clone()
	cp.FactionPower["KORVAN"] = 99
	cp.Regions["capital"].ActiveEvents = append(cp.Regions["capital"].ActiveEvents, "ev")
	cp.ActiveEvents[0].Regions[0] = "elsewhere"
	rel, _ := cp.Relation("KORVAN", "IRONHOLD")
	rel.Value = 50

	if ws.FactionPower["KORVAN"] != InitialPower {
		t.Error("clone shares faction power map")
	}
	if len(ws.Regions["capital"].ActiveEvents) != 0 {
		t.Error("clone shares region events")
	}
	if ws.ActiveEvents[0].Regions[0] != "capital" {
		t.Error("clone shares event regions")
	}
	orig, _ := ws.Relation("KORVAN", "IRONHOLD")
	if orig.Value != 0 {
		t.Error("clone shares faction relations")
	}
}

func TestPlayerHistory(t *testing.T) {
	h := NewPlayerHistory("p1", DefaultFactions, time.Now().UTC())

	for _, f := range DefaultFactions {
		if v, ok := h.FactionReputation[f]; !ok || v != 0 {
			t.Errorf("faction %s reputation = %d (present %v), want 0", f, v, ok)
		}
	}

	h.FactionReputation["KORVAN"] = 30
	h.FactionReputation["IRONHOLD"] = -10
	h.TotalChoices = 2
	if got := h.ReputationWith("korvan"); got != 30 {
		t.Errorf("ReputationWith(korvan) = %d, want 30", got)
	}
	if got := h.InfluenceScore(); got != 6 {
		t.Errorf("InfluenceScore() = %v, want 6", got)
	}

	h.ActiveConsequences["c1"] = true
	cp := h.Clone()
	delete(cp.ActiveConsequences, "c1")
	if !h.TracksConsequence("c1") {
		t.Error("clone shares active consequence set")
	}
}
