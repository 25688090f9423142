package applier

import (
	"context"
	"log/slog"
	"time"

	"github.com/jwebster45206/consequence-engine/internal/metrics"
	"github.com/jwebster45206/consequence-engine/internal/store"
	"github.com/jwebster45206/consequence-engine/pkg/consequence"
)

// DefaultExpirationInterval is how often the scheduler scans for expired consequences
const DefaultExpirationInterval = 60 * time.Second

// Expirer retires consequences whose expiration time has passed.
// Expiry moves a consequence from active to resolved; it never undoes the effect.
type Expirer struct {
	world     *store.WorldStore
	histories *store.HistoryStore
	registry  *store.ConsequenceRegistry
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewExpirer(stores *store.Stores, interval time.Duration, logger *slog.Logger) *Expirer {
	if interval <= 0 {
		interval = DefaultExpirationInterval
	}
	return &Expirer{
		world:     stores.World,
		histories: stores.Histories,
		registry:  stores.Consequences,
		interval:  interval,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Expirer) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Expirer) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// RunOnce resolves every consequence expired at now and returns their IDs
func (e *Expirer) RunOnce(now time.Time) []string {
	var expired []string
	for _, c := range e.registry.Expired(now) {
		if !e.registry.Resolve(c.ID) {
			continue
		}
		players := e.histories.ResolveEverywhere(c.ID)

		if c.Kind == consequence.KindWorldEvent && c.WorldEvent != nil {
			if e.registry.HoldsEvent(c.WorldEvent.EventID, c.ID) {
				e.logger.Debug("World event still held by another consequence",
					"consequence_id", c.ID,
					"event_id", c.WorldEvent.EventID)
			} else {
				e.world.CompleteEvent(c.WorldEvent.EventID)
			}
		}

		e.logger.Debug("Consequence expired",
			"consequence_id", c.ID,
			"kind", c.Kind,
			"players", len(players))
		expired = append(expired, c.ID)
	}

	if len(expired) > 0 {
		e.metrics.ConsequencesExpired(len(expired))
		e.logger.Info("Expired consequences", "count", len(expired))
	}
	return expired
}

// Run scans on a fixed interval until ctx is done
func (e *Expirer) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunOnce(e.now())
		}
	}
}
