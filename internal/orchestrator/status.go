package orchestrator

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jwebster45206/consequence-engine/internal/applier"
	"github.com/jwebster45206/consequence-engine/pkg/consequence"
	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

// RevealedConsequence is a consequence whose reveal condition held for a player
type RevealedConsequence struct {
	PlayerID      string           `json:"player_id"`
	ChoiceID      string           `json:"choice_id"`
	ConsequenceID string           `json:"consequence_id"`
	Kind          consequence.Kind `json:"kind"`
	Beneficial    bool             `json:"beneficial"`
	RevealedAt    time.Time        `json:"revealed_at"`
}

// DeferredConsequence waits for its reveal condition to hold
type DeferredConsequence struct {
	PlayerID      string    `json:"player_id"`
	ChoiceID      string    `json:"choice_id"`
	ConsequenceID string    `json:"consequence_id"`
	DeferredAt    time.Time `json:"deferred_at"`
}

// Resolution is what happened when one player's choice was resolved
type Resolution struct {
	PlayerID string                                `json:"player_id"`
	ChoiceID string                                `json:"choice_id"`
	Revealed []consequence.Consequence             `json:"revealed"`
	Deferred []string                              `json:"deferred"`
	Result   *applier.ConsequenceApplicationResult `json:"result"`
}

func (r *Resolution) clone() *Resolution {
	if r == nil {
		return nil
	}
	out := *r
	out.Revealed = make([]consequence.Consequence, len(r.Revealed))
	for i := range r.Revealed {
		out.Revealed[i] = *r.Revealed[i].Clone()
	}
	out.Deferred = slices.Clone(r.Deferred)
	if r.Result != nil {
		res := applier.NewResult()
		res.Merge(r.Result)
		out.Result = res
	}
	return &out
}

// ScenarioStatus is a point-in-time copy of an in-flight scenario
type ScenarioStatus struct {
	Scenario    *scenario.ScenarioResponse `json:"scenario"`
	PartyCode   string                     `json:"party_code"`
	Phase       scenario.Phase             `json:"phase"`
	Choices     map[string]string          `json:"choices"` // player -> choice
	Resolutions map[string]*Resolution     `json:"resolutions"`
	Revealed    []RevealedConsequence      `json:"revealed"`
	Deferred    []DeferredConsequence      `json:"deferred"`
	Outcome     scenario.Outcome           `json:"outcome,omitempty"`
	Completed   bool                       `json:"completed"`
	CreatedAt   time.Time                  `json:"created_at"`
	ResolvedAt  *time.Time                 `json:"resolved_at,omitempty"`
}

// ExpectedPlayers lists the players whose choices resolution waits for
func (s *ScenarioStatus) ExpectedPlayers() []string {
	return s.Scenario.PlayerIDs()
}

// activeScenario is the registry entry; every field below mu is guarded by it
type activeScenario struct {
	mu   sync.Mutex
	cond *sync.Cond

	status ScenarioStatus

	// choices registered but not yet resolved
	inflight int
	// set once party-wide resolution starts; no further choices are accepted
	closing bool
}

func newActiveScenario(resp *scenario.ScenarioResponse, partyCode string, now time.Time) *activeScenario {
	a := &activeScenario{
		status: ScenarioStatus{
			Scenario:    resp,
			PartyCode:   partyCode,
			Phase:       scenario.PhaseActive,
			Choices:     make(map[string]string),
			Resolutions: make(map[string]*Resolution),
			Revealed:    []RevealedConsequence{},
			Deferred:    []DeferredConsequence{},
			CreatedAt:   now,
		},
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// snapshotLocked copies the status; the caller holds a.mu
func (a *activeScenario) snapshotLocked() *ScenarioStatus {
	s := a.status
	s.Scenario = a.status.Scenario.Clone()
	s.Choices = maps.Clone(a.status.Choices)
	s.Resolutions = make(map[string]*Resolution, len(a.status.Resolutions))
	for p, r := range a.status.Resolutions {
		s.Resolutions[p] = r.clone()
	}
	s.Revealed = slices.Clone(a.status.Revealed)
	s.Deferred = slices.Clone(a.status.Deferred)
	if a.status.ResolvedAt != nil {
		t := *a.status.ResolvedAt
		s.ResolvedAt = &t
	}
	return &s
}

func (a *activeScenario) snapshot() *ScenarioStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// RollingMetrics summarizes generation since the orchestrator started
type RollingMetrics struct {
	Generated         int           `json:"generated"`
	AIGenerated       int           `json:"ai_generated"`
	TemplateGenerated int           `json:"template_generated"`
	AIFailures        int           `json:"ai_failures"`
	FailureRate       float64       `json:"failure_rate"` // AI failures over AI attempts
	MeanLatency       time.Duration `json:"mean_latency"`
	CacheSize         int           `json:"cache_size"`
	ActiveScenarios   int           `json:"active_scenarios"`
}
