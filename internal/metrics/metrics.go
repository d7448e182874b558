package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracking metrics
	EventsTracked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lp_events_tracked_total",
		Help: "The total number of tracking beacon events processed.",
	}, []string{"type"})

	// Experiment metrics
	Assignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lp_experiment_assignments_total",
		Help: "The total number of variant assignments, including exclusions.",
	}, []string{"test", "outcome"})
	Interactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lp_experiment_interactions_total",
		Help: "The total number of recorded experiment interactions.",
	}, []string{"test", "action"})

	// Recommendation metrics
	Recommendations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lp_recommendations_total",
		Help: "The total number of CTA recommendations served.",
	}, []string{"cta_type"})

	// Nurture metrics
	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lp_nurture_emails_sent_total",
		Help: "The total number of nurture emails sent.",
	}, []string{"sequence"})
	EmailsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lp_nurture_emails_failed_total",
		Help: "The total number of nurture email sends that failed.",
	}, []string{"sequence"})
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lp_nurture_ticks_total",
		Help: "The total number of scheduler ticks processed.",
	})
)
