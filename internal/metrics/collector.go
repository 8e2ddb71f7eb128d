// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the engine's Prometheus metrics. Construct one per
// registry; the audit recorder registers its own counters separately.
type Collector struct {
	registry *prometheus.Registry

	IncidentsCreated    *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	TransitionsRejected *prometheus.CounterVec
	Escalations         prometheus.Counter
	ActivitiesEvaluated prometheus.Counter
	RuleFires           *prometheus.CounterVec
	BOLMatches          *prometheus.CounterVec
	MatchConfidence     prometheus.Histogram
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// NewCollector creates and registers the engine metrics on the registry.
func NewCollector(registry *prometheus.Registry) *Collector {
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		IncidentsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlation_incidents_created_total",
				Help: "Incidents created, by type, priority and origin",
			},
			[]string{"type", "priority", "origin"},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlation_status_transitions_total",
				Help: "Applied status transitions, by entity and edge",
			},
			[]string{"entity_type", "from", "to"},
		),
		TransitionsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlation_status_transitions_rejected_total",
				Help: "Rejected status transitions, by entity and cause",
			},
			[]string{"entity_type", "cause"},
		),
		Escalations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "correlation_escalations_total",
				Help: "Incident escalations applied",
			},
		),
		ActivitiesEvaluated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "correlation_activities_evaluated_total",
				Help: "Activities run through the evaluation pipeline",
			},
		),
		RuleFires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlation_auto_rule_fires_total",
				Help: "Auto-creation rule fires, by rule id",
			},
			[]string{"rule_id"},
		),
		BOLMatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlation_bol_matches_total",
				Help: "BOL alert matches, by mode",
			},
			[]string{"mode"},
		),
		MatchConfidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "correlation_match_confidence",
				Help:    "Confidence scores of evaluated BOL matches",
				Buckets: prometheus.LinearBuckets(0.0, 0.1, 11),
			},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlation_http_requests_total",
				Help: "HTTP requests, by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "correlation_http_request_duration_seconds",
				Help:    "HTTP request latency, by route",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"route"},
		),
	}
}

// Registry returns the backing registry for the metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordIncidentCreated counts one created incident. Origin is "manual" for
// operator-created incidents and "auto" for rule-created ones.
func (c *Collector) RecordIncidentCreated(incidentType, priority, origin string) {
	c.IncidentsCreated.WithLabelValues(incidentType, priority, origin).Inc()
}

// RecordTransition counts one applied status transition.
func (c *Collector) RecordTransition(entityType, from, to string) {
	c.Transitions.WithLabelValues(entityType, from, to).Inc()
}

// RecordTransitionRejected counts one rejected status transition.
func (c *Collector) RecordTransitionRejected(entityType, cause string) {
	c.TransitionsRejected.WithLabelValues(entityType, cause).Inc()
}

// RecordEscalation counts one applied incident escalation.
func (c *Collector) RecordEscalation() {
	c.Escalations.Inc()
}

// RecordActivityEvaluated counts one activity run through the evaluation
// pipeline.
func (c *Collector) RecordActivityEvaluated() {
	c.ActivitiesEvaluated.Inc()
}

// RecordRuleFire counts one auto-creation rule fire.
func (c *Collector) RecordRuleFire(ruleID string) {
	c.RuleFires.WithLabelValues(ruleID).Inc()
}

// RecordMatchEvaluation observes one confidence evaluation and, when it
// cleared the threshold, counts the match under its mode.
func (c *Collector) RecordMatchEvaluation(confidence float64, matched bool, mode string) {
	c.MatchConfidence.Observe(confidence)
	if matched {
		c.BOLMatches.WithLabelValues(mode).Inc()
	}
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
