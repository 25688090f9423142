package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

// GetScenario returns a copy of a registered scenario's status
func (o *Orchestrator) GetScenario(scenarioID string) (*ScenarioStatus, bool) {
	a, ok := o.lookup(scenarioID)
	if !ok {
		return nil, false
	}
	return a.snapshot(), true
}

// ActiveScenarios lists scenarios that are not completed, oldest first
func (o *Orchestrator) ActiveScenarios() []*ScenarioStatus {
	o.mu.RLock()
	out := make([]*ScenarioStatus, 0, len(o.scenarios))
	for _, a := range o.scenarios {
		if s := a.snapshot(); !s.Completed {
			out = append(out, s)
		}
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Scenario.ID < out[j].Scenario.ID
	})
	return out
}

// Cleanup drops completed scenarios resolved more than CompletedScenarioTTL before now.
// Deferred consequences still pending on a dropped scenario are discarded with a warning.
func (o *Orchestrator) Cleanup(now time.Time) int {
	cutoff := now.Add(-o.cfg.CompletedScenarioTTL)

	o.mu.Lock()
	var removed []string
	for id, a := range o.scenarios {
		a.mu.Lock()
		stale := a.status.Completed && a.status.ResolvedAt != nil && a.status.ResolvedAt.Before(cutoff)
		var dropped []string
		if stale {
			for _, d := range a.status.Deferred {
				dropped = append(dropped, d.ConsequenceID)
			}
		}
		a.mu.Unlock()
		if stale {
			if len(dropped) > 0 {
				o.logger.Warn("Dropping deferred consequences with cleaned up scenario",
					"scenario_id", id,
					"count", len(dropped),
					"consequence_ids", dropped)
			}
			delete(o.scenarios, id)
			removed = append(removed, id)
		}
	}
	o.mu.Unlock()

	for _, id := range removed {
		o.knowledge.Forget(id)
	}
	if len(removed) > 0 {
		o.logger.Info("Completed scenarios cleaned up", "count", len(removed))
	}
	return len(removed)
}

// Run retries deferred consequences and cleans up old scenarios until ctx is done
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.RetryDeferred(ctx); n > 0 {
				o.logger.Debug("Deferred consequences applied", "count", n)
			}
			o.Cleanup(o.now())
		}
	}
}

// PlayerKnowledge returns the player's view of a scenario
func (o *Orchestrator) PlayerKnowledge(scenarioID, playerID string) (*scenario.AsymmetricInfo, bool) {
	return o.knowledge.PlayerKnowledge(playerID, scenarioID)
}

// ShareClue passes a clue between players
func (o *Orchestrator) ShareClue(fromPlayer, toPlayer, clueID string) bool {
	return o.knowledge.ShareClue(fromPlayer, toPlayer, clueID)
}

// AddDeduction records a player's hypothesis
func (o *Orchestrator) AddDeduction(playerID, hypothesis string, confidence float64, supportingClues []string) scenario.Deduction {
	return o.knowledge.AddPlayerDeduction(playerID, hypothesis, confidence, supportingClues)
}
