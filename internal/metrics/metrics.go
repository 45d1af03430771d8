// Package metrics exposes Prometheus collectors for the components that
// previously reported through a hand-rolled counters module. Names mirror
// the concepts that module tracked: publish volume, echo latency, trigger
// firings, agent step latency, critical-action throttling, and analyzer
// activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQTTPublishTotal counts every message published to the broker.
	MQTTPublishTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_publish_total",
		Help: "Total number of messages published to the broker.",
	})

	// MQTTWaitMS records the latency of publish-and-wait round trips.
	MQTTWaitMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_wait_time_ms",
		Help:    "Latency in milliseconds between a command publish and its matching state echo.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	// TriggerFiringsTotal counts rule firings, labeled by rule ID and outcome.
	TriggerFiringsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_firings_total",
		Help: "Total number of times a rule fired its actions, by outcome.",
	}, []string{"rule_id", "outcome"})

	// AgentStepLatencyMS records supervisor plan-step execution latency.
	AgentStepLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agent_step_latency_ms",
		Help:    "Latency in milliseconds of a single supervisor plan step.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	// CriticalActionsTotal counts critical tool invocations, labeled by
	// outcome (allowed or rate_limited).
	CriticalActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "critical_actions_total",
		Help: "Total number of critical tool invocations by outcome.",
	}, []string{"outcome"})

	// AnalysisTicksTotal counts background analyzer scan cycles.
	AnalysisTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analysis_ticks_total",
		Help: "Total number of background analyzer scan cycles.",
	})

	// AnalysisInsightsTotal counts insights emitted by the background
	// analyzer, labeled by insight kind.
	AnalysisInsightsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analysis_insights_total",
		Help: "Total number of insights emitted by the background analyzer.",
	}, []string{"kind"})
)
