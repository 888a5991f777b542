package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_events_submitted_total",
		Help: "Total number of adverse-event reports accepted for triage.",
	})

	EventsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_events_completed_total",
		Help: "Total number of events that ran all stages successfully.",
	})

	EventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_events_failed_total",
		Help: "Total number of events whose pipeline terminated in failure.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_events_dropped_total",
		Help: "Total number of submissions rejected due to a full dispatch queue.",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triage_stage_duration_seconds",
		Help:    "Per-stage execution latency in seconds, labelled by stage.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triage_queue_utilization_ratio",
		Help: "Current dispatch queue utilization (0–1).",
	})

	KnowledgeSourcesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triage_knowledge_sources_loaded",
		Help: "Number of clinical trial source documents loaded at startup.",
	})
)
