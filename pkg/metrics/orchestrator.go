package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OrchestratorMetrics records turn, pipeline and recovery outcomes.
// A nil *OrchestratorMetrics is valid and records nothing.
type OrchestratorMetrics struct {
	turnsTotal          *prometheus.CounterVec
	turnDuration        *prometheus.HistogramVec
	modeSwitches        *prometheus.CounterVec
	pipelineRuns        *prometheus.CounterVec
	pipelineDuration    *prometheus.HistogramVec
	recoveryActions     *prometheus.CounterVec
	activeConversations prometheus.Gauge
}

// NewOrchestratorMetrics registers the orchestrator metrics with reg.
// A nil reg uses the default registerer.
func NewOrchestratorMetrics(reg prometheus.Registerer) *OrchestratorMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &OrchestratorMetrics{
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_turns_total",
				Help: "Conversation turns by resulting mode, intent and outcome",
			},
			[]string{"mode", "intent", "outcome"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_turn_duration_seconds",
				Help:    "Wall time of a conversation turn",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"mode"},
		),
		modeSwitches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_mode_switches_total",
				Help: "Conversation mode transitions",
			},
			[]string{"from", "to", "reason"},
		),
		pipelineRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_pipeline_runs_total",
				Help: "Generation pipeline runs by status and the state a failure occurred in",
			},
			[]string{"status", "failed_state"},
		),
		pipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_pipeline_duration_seconds",
				Help:    "Wall time of a generation pipeline run",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"status"},
		),
		recoveryActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_recovery_actions_total",
				Help: "Recovery decisions by action",
			},
			[]string{"action"},
		),
		activeConversations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_active_conversations",
				Help: "Conversations currently held in memory",
			},
		),
	}
}

// ObserveTurn records a finished turn.
func (m *OrchestratorMetrics) ObserveTurn(mode, intent, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(mode, intent, outcome).Inc()
	m.turnDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// IncModeSwitch records a mode change.
func (m *OrchestratorMetrics) IncModeSwitch(from, to, reason string) {
	if m == nil {
		return
	}
	m.modeSwitches.WithLabelValues(from, to, reason).Inc()
}

// ObservePipeline records a pipeline run.
func (m *OrchestratorMetrics) ObservePipeline(status, failedState string, d time.Duration) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(status, failedState).Inc()
	m.pipelineDuration.WithLabelValues(status).Observe(d.Seconds())
}

// IncRecovery records a recovery decision such as "auto_fix" or "escalate".
func (m *OrchestratorMetrics) IncRecovery(action string) {
	if m == nil {
		return
	}
	m.recoveryActions.WithLabelValues(action).Inc()
}

// SetActiveConversations reports the registry size.
func (m *OrchestratorMetrics) SetActiveConversations(n int) {
	if m == nil {
		return
	}
	m.activeConversations.Set(float64(n))
}
