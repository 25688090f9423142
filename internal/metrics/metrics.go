package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "consequence_engine"

// Metrics holds the engine's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	scenariosGenerated  *prometheus.CounterVec
	generationLatency   *prometheus.HistogramVec
	generationFailures  *prometheus.CounterVec
	choicesRegistered   prometheus.Counter
	choicesRejected     prometheus.Counter
	consequencesApplied *prometheus.CounterVec
	consequencesSkipped *prometheus.CounterVec
	consequencesExpired prometheus.Counter
	cluesShared         prometheus.Counter
	activeScenarios     prometheus.Gauge
	snapshotSaves       *prometheus.CounterVec
}

// New registers every collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		scenariosGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenarios_generated_total",
			Help:      "Scenarios generated, partitioned by source (ai or template).",
		}, []string{"source"}),
		generationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time to produce a scenario, partitioned by source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		generationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "AI generation attempts that fell back to templates, partitioned by reason.",
		}, []string{"reason"}),
		choicesRegistered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "choices_registered_total",
			Help:      "Player choices accepted.",
		}),
		choicesRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "choices_rejected_total",
			Help:      "Player choices that failed validation.",
		}),
		consequencesApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consequences_applied_total",
			Help:      "Consequences applied, partitioned by kind.",
		}, []string{"kind"}),
		consequencesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consequences_skipped_total",
			Help:      "Consequences not applied, partitioned by reason.",
		}, []string{"reason"}),
		consequencesExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consequences_expired_total",
			Help:      "Consequences retired by the expiration scheduler.",
		}),
		cluesShared: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clues_shared_total",
			Help:      "Successful clue shares between players.",
		}),
		activeScenarios: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_scenarios",
			Help:      "Scenarios currently held in the registry.",
		}),
		snapshotSaves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_saves_total",
			Help:      "Snapshot save attempts, partitioned by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveGeneration(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.scenariosGenerated.WithLabelValues(source).Inc()
	m.generationLatency.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) GenerationFailed(reason string) {
	if m == nil {
		return
	}
	m.generationFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ChoiceRegistered() {
	if m == nil {
		return
	}
	m.choicesRegistered.Inc()
}

func (m *Metrics) ChoiceRejected() {
	if m == nil {
		return
	}
	m.choicesRejected.Inc()
}

func (m *Metrics) ConsequenceApplied(kind string) {
	if m == nil {
		return
	}
	m.consequencesApplied.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConsequenceSkipped(reason string) {
	if m == nil {
		return
	}
	m.consequencesSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConsequencesExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.consequencesExpired.Add(float64(n))
}

func (m *Metrics) ClueShared() {
	if m == nil {
		return
	}
	m.cluesShared.Inc()
}

func (m *Metrics) SetActiveScenarios(n int) {
	if m == nil {
		return
	}
	m.activeScenarios.Set(float64(n))
}

// SnapshotSaved matches the Persister's OnSave callback
func (m *Metrics) SnapshotSaved(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.snapshotSaves.WithLabelValues(result).Inc()
}
