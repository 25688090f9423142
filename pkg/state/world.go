package state

import (
	"maps"
	"slices"
	"sort"
	"time"
)

// RelationChange is one entry in a faction pair's change history
type RelationChange struct {
	Change        int       `json:"change"`
	Value         int       `json:"value"`
	Reason        string    `json:"reason"`
	ConsequenceID string    `json:"consequence_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// FactionRelation is the bounded affinity between two factions
type FactionRelation struct {
	FactionA string           `json:"faction_a"`
	FactionB string           `json:"faction_b"`
	Value    int              `json:"value"`
	Status   RelationStatus   `json:"status"`
	History  []RelationChange `json:"history"`
}

// Region is a named area of the world and the events currently touching it
type Region struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ActiveEvents []string `json:"active_events"`
}

// WorldEvent is an event running in (or finished in) the shared world
type WorldEvent struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Severity      string     `json:"severity"`
	Regions       []string   `json:"regions"`
	ConsequenceID string     `json:"consequence_id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// MajorEvent records the most recent major or critical world event
type MajorEvent struct {
	EventID   string    `json:"event_id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// InfluenceEntry ranks a player by how much they have shaped the world
type InfluenceEntry struct {
	PlayerID string  `json:"player_id"`
	Score    float64 `json:"score"`
}

// WorldState is the single shared record of the world.
type WorldState struct {
	FactionRelations   map[string]*FactionRelation `json:"faction_relations"` // keyed by PairKey
	FactionPower       map[string]float64          `json:"faction_power"`
	Regions            map[string]*Region          `json:"regions"`
	ActiveEvents       []WorldEvent                `json:"active_events"`
	CompletedEvents    []WorldEvent                `json:"completed_events"`
	Flags              map[string]string           `json:"flags"`
	TotalChoices       int                         `json:"total_choices"`
	LastMajorEvent     *MajorEvent                 `json:"last_major_event,omitempty"`
	InfluentialPlayers []InfluenceEntry            `json:"influential_players"`
	UpdatedAt          time.Time                   `json:"updated_at"`
}

// WorldStateChange is an audit record of one mutation to the world
type WorldStateChange struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"` // faction_power, faction_relation, world_event, flag
	Target        string    `json:"target"`
	Delta         float64   `json:"delta"`
	Description   string    `json:"description"`
	ConsequenceID string    `json:"consequence_id"`
	PlayerID      string    `json:"player_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewWorldState builds a fresh world with every faction pair neutral and every faction at initial power
func NewWorldState(factions []string, regions map[string]string, now time.Time) *WorldState {
	ws := &WorldState{
		FactionRelations:   make(map[string]*FactionRelation),
		FactionPower:       make(map[string]float64),
		Regions:            make(map[string]*Region),
		ActiveEvents:       []WorldEvent{},
		CompletedEvents:    []WorldEvent{},
		Flags:              make(map[string]string),
		InfluentialPlayers: []InfluenceEntry{},
		UpdatedAt:          now,
	}

	normalized := make([]string, 0, len(factions))
	for _, f := range factions {
		normalized = append(normalized, NormalizeFaction(f))
	}
	sort.Strings(normalized)

	for i, a := range normalized {
		ws.FactionPower[a] = InitialPower
		for _, b := range normalized[i+1:] {
			ws.FactionRelations[PairKey(a, b)] = &FactionRelation{
				FactionA: a,
				FactionB: b,
				Value:    0,
				Status:   StatusNeutral,
				History:  []RelationChange{},
			}
		}
	}

	for id, name := range regions {
		ws.Regions[id] = &Region{ID: id, Name: name, ActiveEvents: []string{}}
	}

	return ws
}

// Relation returns the relation for an unordered faction pair
func (ws *WorldState) Relation(a, b string) (*FactionRelation, bool) {
	r, ok := ws.FactionRelations[PairKey(a, b)]
	return r, ok
}

// HasFaction reports whether the faction is known to the world
func (ws *WorldState) HasFaction(f string) bool {
	_, ok := ws.FactionPower[NormalizeFaction(f)]
	return ok
}

// Factions returns the sorted faction names
func (ws *WorldState) Factions() []string {
	return slices.Sorted(maps.Keys(ws.FactionPower))
}

// ActiveEvent finds an active event by ID
func (ws *WorldState) ActiveEvent(id string) (int, bool) {
	for i, ev := range ws.ActiveEvents {
		if ev.ID == id {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy suitable for serializing off the hot path
func (ws *WorldState) Clone() *WorldState {
	if ws == nil {
		return nil
	}
	out := *ws

	if ws.FactionRelations != nil {
		out.FactionRelations = make(map[string]*FactionRelation, len(ws.FactionRelations))
		for k, r := range ws.FactionRelations {
			rc := *r
			rc.History = slices.Clone(r.History)
			out.FactionRelations[k] = &rc
		}
	}
	out.FactionPower = maps.Clone(ws.FactionPower)
	if ws.Regions != nil {
		out.Regions = make(map[string]*Region, len(ws.Regions))
		for k, r := range ws.Regions {
			rc := *r
			rc.ActiveEvents = slices.Clone(r.ActiveEvents)
			out.Regions[k] = &rc
		}
	}
	out.ActiveEvents = cloneEvents(ws.ActiveEvents)
	out.CompletedEvents = cloneEvents(ws.CompletedEvents)
	out.Flags = maps.Clone(ws.Flags)
	if ws.LastMajorEvent != nil {
		me := *ws.LastMajorEvent
		out.LastMajorEvent = &me
	}
	out.InfluentialPlayers = slices.Clone(ws.InfluentialPlayers)
	return &out
}

func cloneEvents(in []WorldEvent) []WorldEvent {
	if in == nil {
		return nil
	}
	out := make([]WorldEvent, len(in))
	for i, ev := range in {
		out[i] = ev
		out[i].Regions = slices.Clone(ev.Regions)
		if ev.EndedAt != nil {
			t := *ev.EndedAt
			out[i].EndedAt = &t
		}
	}
	return out
}
