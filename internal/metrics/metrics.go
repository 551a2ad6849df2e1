// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package metrics provides Prometheus metrics collection for observability.
//
// Metrics are exposed at the /metrics endpoint in Prometheus text format
// and cover analytics query execution, the report scheduler, email
// delivery, the SMTP circuit breaker and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Analytics Query Metrics
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analytics_query_duration_seconds",
			Help:    "Duration of analytics queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"}, // "strict", "full"
	)

	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_queries_total",
			Help: "Total number of analytics queries executed",
		},
		[]string{"mode", "outcome"}, // outcome: "success", "failure"
	)

	FiltersRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_filters_rejected_total",
			Help: "Total number of filter values dropped by sanitization",
		},
		[]string{"filter"},
	)

	// Report Scheduler Metrics
	ReportsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_sent_total",
			Help: "Total number of report send occurrences by final status",
		},
		[]string{"status"}, // sending_successful, sending_failed, partly_sent, ...
	)

	ReportSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "report_send_duration_seconds",
			Help:    "Duration of one report send (render plus delivery) in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	CronMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "report_cron_misses_total",
			Help: "Total number of scheduled sends detected as never attempted",
		},
	)

	SchedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of scheduler tick evaluations",
		},
	)

	// Email Delivery Metrics
	EmailBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_batches_total",
			Help: "Total number of recipient batches by result status",
		},
		[]string{"status"},
	)

	EmailSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_sends_total",
			Help: "Total number of individual email send attempts",
		},
		[]string{"outcome"}, // "success", "domain_error", "address_error", "failure"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Share Link Metrics
	ShareLinkValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "share_link_validations_total",
			Help: "Total number of share link validation attempts",
		},
		[]string{"outcome"}, // "success", "expired", "revoked", "wrong_password", "invalid"
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordQuery records one analytics query execution.
func RecordQuery(mode string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	QueriesTotal.WithLabelValues(mode, outcome).Inc()
	QueryDuration.WithLabelValues(mode).Observe(duration.Seconds())
}
