// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package metrics provides Prometheus instrumentation for the sync engine:
// upstream API health, circuit breaker state, broker throughput, event store
// outcomes, and per-phase sync timings.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Circuit breaker metrics (one series per upstream).

	// CircuitBreakerState tracks state: 0 = closed, 1 = half-open, 2 = open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "channelsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"upstream"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"upstream", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_circuit_breaker_requests_total",
			Help: "Requests seen by the circuit breaker by outcome",
		},
		[]string{"upstream", "outcome"}, // "success", "failure", "rejected"
	)

	// Upstream API metrics.

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "channelsync_upstream_request_duration_seconds",
			Help:    "Duration of upstream API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"upstream", "endpoint"},
	)

	UpstreamRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_upstream_request_errors_total",
			Help: "Total upstream API request errors by class",
		},
		[]string{"upstream", "error_class"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_rate_limit_rejections_total",
			Help: "Outbound requests rejected by the local token bucket",
		},
		[]string{"upstream"},
	)

	// Event store / worker metrics.

	SyncEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_sync_events_total",
			Help: "Sync events by direction and terminal status",
		},
		[]string{"direction", "status"},
	)

	BrokerPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_broker_publishes_total",
			Help: "Broker publish attempts by outcome",
		},
		[]string{"outcome"}, // "success", "failure", "rejected"
	)

	DuplicateDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "channelsync_duplicate_deliveries_total",
			Help: "Broker deliveries skipped because the event was already done",
		},
	)

	DLQMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_dlq_messages_total",
			Help: "Messages routed to the dead-letter queue",
		},
		[]string{"queue", "reason"}, // "malformed", "exhausted"
	)

	EventRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_event_retries_total",
			Help: "Handler failures that resulted in a requeue",
		},
		[]string{"queue"},
	)

	// Orchestrator metrics.

	SyncPhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "channelsync_sync_phase_duration_seconds",
			Help:    "Duration of one sync phase in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"upstream", "phase"},
	)

	SyncPhaseEntities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_sync_phase_entities_total",
			Help: "Entities processed per phase by action",
		},
		[]string{"upstream", "phase", "action"},
	)

	// Admin API metrics.

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_api_requests_total",
			Help: "Admin API requests by method, route, and status code",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "channelsync_api_request_duration_seconds",
			Help:    "Duration of admin API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "channelsync_api_active_requests",
			Help: "Number of admin API requests currently in flight",
		},
	)

	ConflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_conflicts_total",
			Help: "Conflicts detected by entity type and resolution strategy",
		},
		[]string{"entity_type", "strategy"},
	)

	EntityMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_entity_matches_total",
			Help: "Entity matching outcomes by match type",
		},
		[]string{"match_type"}, // email, phone, name, new, unknown_guest
	)
)
