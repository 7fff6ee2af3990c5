// Package metrics holds the Prometheus collectors of the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts handled events by resulting state and outcome.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capylingo_events_total",
		Help: "Inbound events handled, by resulting state and outcome",
	}, []string{"state", "outcome"})

	// EventDuration tracks end-to-end HandleEvent latency.
	EventDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "capylingo_event_duration_seconds",
		Help:    "HandleEvent duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
	})

	// GenerationTotal counts content generation calls by kind and result.
	GenerationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capylingo_generation_total",
		Help: "Content generation calls by kind (exercise, game) and result",
	}, []string{"kind", "result"})

	// GenerationDuration tracks content generation latency.
	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capylingo_generation_duration_seconds",
		Help:    "Content generation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"kind"})

	// VerdictsTotal counts evaluator verdicts by age group.
	VerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capylingo_verdicts_total",
		Help: "Answer verdicts by age group and verdict",
	}, []string{"age_group", "verdict"})

	// EscalationsTotal counts semantic judge calls by result.
	EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capylingo_judge_escalations_total",
		Help: "Semantic judge escalations by result (ok, error)",
	}, []string{"result"})

	// LivesSpentTotal counts lives taken from non-premium accounts.
	LivesSpentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capylingo_lives_spent_total",
		Help: "Lives spent on missed answers",
	})

	// NoLivesTotal counts exercises refused because the account had no lives.
	NoLivesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capylingo_no_lives_total",
		Help: "Exercise requests refused for lack of lives",
	})

	// ReviewsServedTotal counts review items presented instead of fresh content.
	ReviewsServedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capylingo_reviews_served_total",
		Help: "Review items presented ahead of fresh content",
	})

	// SessionsActive tracks sessions held by the in-memory store.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capylingo_sessions_active",
		Help: "Sessions currently held in memory",
	})

	// SessionsEvictedTotal counts idle sessions removed by the sweeper.
	SessionsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capylingo_sessions_evicted_total",
		Help: "Idle sessions evicted by the sweeper",
	})

	// ChatConnections tracks open websocket chat connections.
	ChatConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capylingo_chat_connections",
		Help: "Open websocket chat connections",
	})
)
