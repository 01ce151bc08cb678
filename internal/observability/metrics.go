package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the dispatch runtime.
type Metrics struct {
	// PromptsReceived counts inbound prompts by source.
	PromptsReceived *prometheus.CounterVec

	// TurnsStarted counts agent turns started.
	TurnsStarted prometheus.Counter

	// TurnsCompleted counts agent turns finished, by outcome
	// (ok, error, cancelled).
	TurnsCompleted *prometheus.CounterVec

	// QueueDepth tracks the number of turn units waiting in the queue.
	QueueDepth prometheus.Gauge

	// ActiveConversations tracks the number of registered scopes.
	ActiveConversations prometheus.Gauge

	// FallbackSwitches counts model fallback switch-overs.
	FallbackSwitches prometheus.Counter

	// SweepsTotal counts cleanup sweeper passes.
	SweepsTotal prometheus.Counter

	// SweptConversations counts scopes removed by the sweeper.
	SweptConversations prometheus.Counter

	// ApprovalsRequested counts blocking approval requests, by decision.
	ApprovalsRequested *prometheus.CounterVec

	// AutoApprovals counts whitelisted tool calls run without a decision.
	AutoApprovals prometheus.Counter
}

// NewMetrics creates and registers the runtime collectors with reg. Passing
// nil registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PromptsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "switchboard",
				Name:      "prompts_received_total",
				Help:      "Total inbound prompts by source",
			},
			[]string{"source"},
		),
		TurnsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "switchboard",
				Name:      "turns_started_total",
				Help:      "Total agent turns started",
			},
		),
		TurnsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "switchboard",
				Name:      "turns_completed_total",
				Help:      "Total agent turns completed by outcome",
			},
			[]string{"outcome"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "switchboard",
				Name:      "turn_queue_depth",
				Help:      "Turn units currently waiting in the queue",
			},
		),
		ActiveConversations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "switchboard",
				Name:      "active_conversations",
				Help:      "Conversation scopes currently registered",
			},
		),
		FallbackSwitches: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "switchboard",
				Name:      "fallback_switches_total",
				Help:      "Model fallback switch-overs",
			},
		),
		SweepsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "switchboard",
				Name:      "cleanup_sweeps_total",
				Help:      "Cleanup sweeper passes",
			},
		),
		SweptConversations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "switchboard",
				Name:      "swept_conversations_total",
				Help:      "Conversation scopes removed by the sweeper",
			},
		),
		ApprovalsRequested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "switchboard",
				Name:      "approvals_requested_total",
				Help:      "Blocking approval requests by decision",
			},
			[]string{"decision"},
		),
		AutoApprovals: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "switchboard",
				Name:      "auto_approvals_total",
				Help:      "Whitelisted tool calls run without a human decision",
			},
		),
	}
}
