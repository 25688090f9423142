package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jwebster45206/consequence-engine/internal/applier"
	"github.com/jwebster45206/consequence-engine/pkg/consequence"
	"github.com/jwebster45206/consequence-engine/pkg/scenario"
	"github.com/jwebster45206/consequence-engine/pkg/state"
)

// ValidateChoice reports whether the player may make the choice now. It has no side effects.
func (o *Orchestrator) ValidateChoice(scenarioID, choiceID, playerID string) bool {
	a, ok := o.lookup(scenarioID)
	if !ok {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return o.validateLocked(a, choiceID, playerID)
}

// validateLocked checks a choice against the scenario; the caller holds a.mu
func (o *Orchestrator) validateLocked(a *activeScenario, choiceID, playerID string) bool {
	s := &a.status
	if s.Completed || s.Phase == scenario.PhaseResolved || a.closing {
		return false
	}
	if _, participant := s.Scenario.AsymmetricInfo[playerID]; !participant {
		return false
	}
	if _, chosen := s.Choices[playerID]; chosen {
		return false
	}
	ch, ok := s.Scenario.Choice(choiceID)
	if !ok {
		return false
	}
	if !o.knowledge.IsChoiceVisible(s.Scenario.ID, playerID, choiceID) {
		return false
	}
	met := true
	o.histories.View(playerID, func(h *state.PlayerHistory) {
		met = ch.RequirementsMet(h)
	})
	return met
}

// RegisterChoice records the player's choice exactly once and resolves its
// consequences for that player. When every participant has chosen, the
// scenario is resolved for the whole party.
func (o *Orchestrator) RegisterChoice(ctx context.Context, scenarioID, choiceID, playerID string) bool {
	a, ok := o.lookup(scenarioID)
	if !ok {
		o.metrics.ChoiceRejected()
		return false
	}

	a.mu.Lock()
	if !o.validateLocked(a, choiceID, playerID) {
		a.mu.Unlock()
		o.metrics.ChoiceRejected()
		o.logger.Debug("Choice rejected",
			"scenario_id", scenarioID, "choice_id", choiceID, "player_id", playerID)
		return false
	}
	a.status.Choices[playerID] = choiceID
	a.inflight++
	allIn := len(a.status.Choices) == len(a.status.Scenario.AsymmetricInfo)
	ch, _ := a.status.Scenario.Choice(choiceID)
	consequenceIDs := make([]string, 0, len(ch.Consequences))
	for _, c := range ch.Consequences {
		consequenceIDs = append(consequenceIDs, c.ID)
	}
	a.mu.Unlock()

	o.metrics.ChoiceRegistered()
	o.histories.RecordChoice(playerID, state.ChoiceRecord{
		ScenarioID:     scenarioID,
		ChoiceID:       choiceID,
		ConsequenceIDs: consequenceIDs,
	})
	o.world.RecordChoice(o.histories.InfluenceRanking())

	if _, err := o.resolveChoice(ctx, a, choiceID, playerID); err != nil {
		o.logger.Error("Failed to resolve choice",
			"scenario_id", scenarioID, "choice_id", choiceID, "player_id", playerID, "error", err)
	}

	a.mu.Lock()
	a.inflight--
	a.cond.Broadcast()
	a.mu.Unlock()

	o.logger.Info("Choice registered",
		"scenario_id", scenarioID, "choice_id", choiceID, "player_id", playerID, "all_in", allIn)

	if allIn {
		if _, err := o.ResolveScenario(ctx, scenarioID); err != nil && !errors.Is(err, ErrScenarioResolved) {
			o.logger.Error("Failed to resolve scenario", "scenario_id", scenarioID, "error", err)
		}
	}
	return true
}

// ResolveConsequences applies the consequences of a player's registered choice
// whose reveal condition holds now. The rest are deferred and retried later.
// Resolving the same player twice returns the first resolution.
func (o *Orchestrator) ResolveConsequences(ctx context.Context, scenarioID, choiceID, playerID string) (*Resolution, error) {
	a, ok := o.lookup(scenarioID)
	if !ok {
		return nil, ErrScenarioNotFound
	}
	a.mu.Lock()
	chosen := a.status.Choices[playerID]
	a.mu.Unlock()
	if chosen != choiceID {
		return nil, ErrChoiceNotMade
	}
	return o.resolveChoice(ctx, a, choiceID, playerID)
}

// ApplyChoiceConsequences resolves a registered choice and returns only the application result.
// An empty partyCode accepts the scenario's own party.
func (o *Orchestrator) ApplyChoiceConsequences(ctx context.Context, scenarioID, choiceID, playerID, partyCode string) (*applier.ConsequenceApplicationResult, error) {
	if a, ok := o.lookup(scenarioID); ok && partyCode != "" {
		a.mu.Lock()
		owner := a.status.PartyCode
		a.mu.Unlock()
		if owner != partyCode {
			return nil, fmt.Errorf("%w: %s", ErrPartyMismatch, partyCode)
		}
	}
	res, err := o.ResolveConsequences(ctx, scenarioID, choiceID, playerID)
	if err != nil {
		return nil, err
	}
	return res.Result, nil
}

func (o *Orchestrator) resolveChoice(ctx context.Context, a *activeScenario, choiceID, playerID string) (*Resolution, error) {
	a.mu.Lock()
	if r, done := a.status.Resolutions[playerID]; done {
		out := r.clone()
		a.mu.Unlock()
		return out, nil
	}
	ch, ok := a.status.Scenario.Choice(choiceID)
	if !ok {
		a.mu.Unlock()
		return nil, ErrChoiceNotFound
	}
	candidates := make([]*consequence.Consequence, 0, len(ch.Consequences))
	for i := range ch.Consequences {
		candidates = append(candidates, ch.Consequences[i].Clone())
	}
	scenarioID, partyCode := a.status.Scenario.ID, a.status.PartyCode
	a.mu.Unlock()

	var ready, waiting []*consequence.Consequence
	o.histories.View(playerID, func(h *state.PlayerHistory) {
		for _, c := range candidates {
			if c.RevealCondition.Satisfied(h) {
				ready = append(ready, c)
			} else {
				waiting = append(waiting, c)
			}
		}
	})

	result := o.applier.ApplyBatch(ctx, ready, applier.Target{PlayerID: playerID, PartyCode: partyCode})
	now := o.now()

	res := &Resolution{
		PlayerID: playerID,
		ChoiceID: choiceID,
		Revealed: make([]consequence.Consequence, 0, len(ready)),
		Deferred: make([]string, 0, len(waiting)),
		Result:   result,
	}
	for _, c := range ready {
		res.Revealed = append(res.Revealed, *c)
	}
	for _, c := range waiting {
		res.Deferred = append(res.Deferred, c.ID)
	}

	a.mu.Lock()
	if r, done := a.status.Resolutions[playerID]; done {
		out := r.clone()
		a.mu.Unlock()
		return out, nil
	}
	a.status.Resolutions[playerID] = res
	for _, c := range ready {
		a.status.Revealed = append(a.status.Revealed, RevealedConsequence{
			PlayerID:      playerID,
			ChoiceID:      choiceID,
			ConsequenceID: c.ID,
			Kind:          c.Kind,
			Beneficial:    c.IsBeneficial(),
			RevealedAt:    now,
		})
	}
	for _, c := range waiting {
		a.status.Deferred = append(a.status.Deferred, DeferredConsequence{
			PlayerID:      playerID,
			ChoiceID:      choiceID,
			ConsequenceID: c.ID,
			DeferredAt:    now,
		})
	}
	out := res.clone()
	a.mu.Unlock()

	if len(waiting) > 0 {
		o.logger.Debug("Consequences deferred",
			"scenario_id", scenarioID, "player_id", playerID, "count", len(waiting))
	}
	o.broadcast(ctx, partyCode, scenarioID, playerID, choiceID, result)
	return out, nil
}

// ResolveScenario completes the scenario for the whole party and derives its
// outcome from every consequence revealed so far. Choices still being
// resolved are waited for; new choices are refused.
func (o *Orchestrator) ResolveScenario(ctx context.Context, scenarioID string) (*ScenarioStatus, error) {
	return o.finish(ctx, scenarioID, false)
}

// AbandonScenario ends the scenario without further consequences
func (o *Orchestrator) AbandonScenario(ctx context.Context, scenarioID string) (*ScenarioStatus, error) {
	return o.finish(ctx, scenarioID, true)
}

func (o *Orchestrator) finish(ctx context.Context, scenarioID string, abandon bool) (*ScenarioStatus, error) {
	a, ok := o.lookup(scenarioID)
	if !ok {
		return nil, ErrScenarioNotFound
	}

	a.mu.Lock()
	a.closing = true
	for a.inflight > 0 {
		a.cond.Wait()
	}
	if a.status.Completed {
		a.mu.Unlock()
		return nil, ErrScenarioResolved
	}

	outcome := scenario.OutcomeAbandoned
	if abandon {
		a.status.Deferred = []DeferredConsequence{}
	} else {
		outcome = deriveOutcome(a.status.Revealed)
	}
	now := o.now()
	a.status.Outcome = outcome
	a.status.Phase = scenario.PhaseResolved
	a.status.Completed = true
	a.status.ResolvedAt = &now
	snap := a.snapshotLocked()
	a.mu.Unlock()

	o.mu.RLock()
	active := o.countActiveLocked()
	o.mu.RUnlock()
	o.metrics.SetActiveScenarios(active)

	if snap.PartyCode != "" {
		data := map[string]any{
			"outcome":  outcome,
			"choices":  snap.Choices,
			"revealed": len(snap.Revealed),
			"deferred": len(snap.Deferred),
		}
		if err := o.publisher.PublishConsequencesApplied(ctx, snap.PartyCode, scenarioID, data); err != nil {
			o.logger.Warn("Failed to publish scenario outcome", "scenario_id", scenarioID, "error", err)
		}
	}

	o.logger.Info("Scenario resolved",
		"scenario_id", scenarioID,
		"outcome", outcome,
		"choices", len(snap.Choices),
		"revealed", len(snap.Revealed))
	return snap, nil
}

// deriveOutcome tags a scenario by whether its revealed consequences helped the party
func deriveOutcome(revealed []RevealedConsequence) scenario.Outcome {
	if len(revealed) == 0 {
		return scenario.OutcomePartial
	}
	good := 0
	for _, r := range revealed {
		if r.Beneficial {
			good++
		}
	}
	switch good {
	case len(revealed):
		return scenario.OutcomeSuccess
	case 0:
		return scenario.OutcomeFailure
	default:
		return scenario.OutcomePartial
	}
}

// RetryDeferred applies deferred consequences whose reveal condition now holds.
// It returns how many were revealed.
func (o *Orchestrator) RetryDeferred(ctx context.Context) int {
	o.mu.RLock()
	entries := make([]*activeScenario, 0, len(o.scenarios))
	for _, a := range o.scenarios {
		entries = append(entries, a)
	}
	o.mu.RUnlock()

	total := 0
	for _, a := range entries {
		total += o.retryScenario(ctx, a)
	}
	return total
}

func (o *Orchestrator) retryScenario(ctx context.Context, a *activeScenario) int {
	type pending struct {
		entry DeferredConsequence
		c     *consequence.Consequence
	}

	a.mu.Lock()
	if len(a.status.Deferred) == 0 {
		a.mu.Unlock()
		return 0
	}
	var candidates []pending
	for _, d := range a.status.Deferred {
		ch, ok := a.status.Scenario.Choice(d.ChoiceID)
		if !ok {
			continue
		}
		for i := range ch.Consequences {
			if ch.Consequences[i].ID == d.ConsequenceID {
				candidates = append(candidates, pending{entry: d, c: ch.Consequences[i].Clone()})
			}
		}
	}
	scenarioID, partyCode := a.status.Scenario.ID, a.status.PartyCode
	a.mu.Unlock()

	byPlayer := make(map[string][]pending)
	for _, p := range candidates {
		o.histories.View(p.entry.PlayerID, func(h *state.PlayerHistory) {
			if p.c.RevealCondition.Satisfied(h) {
				byPlayer[p.entry.PlayerID] = append(byPlayer[p.entry.PlayerID], p)
			}
		})
	}

	revealed := 0
	for playerID, ready := range byPlayer {
		batch := make([]*consequence.Consequence, 0, len(ready))
		for _, p := range ready {
			batch = append(batch, p.c)
		}
		result := o.applier.ApplyBatch(ctx, batch, applier.Target{PlayerID: playerID, PartyCode: partyCode})
		now := o.now()

		a.mu.Lock()
		for _, p := range ready {
			idx := slices.IndexFunc(a.status.Deferred, func(d DeferredConsequence) bool {
				return d.PlayerID == playerID && d.ConsequenceID == p.c.ID
			})
			if idx < 0 {
				continue
			}
			a.status.Deferred = slices.Delete(a.status.Deferred, idx, idx+1)
			a.status.Revealed = append(a.status.Revealed, RevealedConsequence{
				PlayerID:      playerID,
				ChoiceID:      p.entry.ChoiceID,
				ConsequenceID: p.c.ID,
				Kind:          p.c.Kind,
				Beneficial:    p.c.IsBeneficial(),
				RevealedAt:    now,
			})
			if r := a.status.Resolutions[playerID]; r != nil {
				r.Revealed = append(r.Revealed, *p.c)
				r.Deferred = slices.DeleteFunc(r.Deferred, func(id string) bool { return id == p.c.ID })
				if r.Result == nil {
					r.Result = applier.NewResult()
				}
				r.Result.Merge(result)
			}
			revealed++
		}
		choiceID := ready[0].entry.ChoiceID
		a.mu.Unlock()

		o.logger.Debug("Deferred consequences revealed",
			"scenario_id", scenarioID, "player_id", playerID, "count", len(ready))
		o.broadcast(ctx, partyCode, scenarioID, playerID, choiceID, result)
	}
	return revealed
}

func (o *Orchestrator) broadcast(ctx context.Context, partyCode, scenarioID, playerID, choiceID string, res *applier.ConsequenceApplicationResult) {
	if partyCode == "" || res == nil {
		return
	}
	data := map[string]any{
		"player_id":               playerID,
		"choice_id":               choiceID,
		"success":                 res.Success,
		"applied_consequence_ids": res.AppliedConsequenceIDs,
		"world_effects":           res.WorldEffects,
		"errors":                  res.Errors,
	}
	if err := o.publisher.PublishConsequencesApplied(ctx, partyCode, scenarioID, data); err != nil {
		o.logger.Warn("Failed to publish consequences", "scenario_id", scenarioID, "error", err)
	}
	for p, effects := range res.PerPlayerEffects {
		if err := o.publisher.PublishPlayerEffects(ctx, partyCode, p, effects); err != nil {
			o.logger.Warn("Failed to publish player effects", "player_id", p, "error", err)
		}
	}
}
