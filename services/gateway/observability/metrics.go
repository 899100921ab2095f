// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the research gateway.
//
// # Description
//
// Every proxy endpoint records:
//   - Request counters by endpoint and outcome
//   - Upstream latency histograms by endpoint
//   - In-flight request gauges by endpoint
//
// # Integration
//
// Metrics are exposed via /metrics. Use with Prometheus + Grafana for
// dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "aleutian"
	gatewaySubsystem = "research_gateway"
)

// Endpoint labels a proxy endpoint.
type Endpoint string

const (
	EndpointListDocuments  Endpoint = "list_documents"
	EndpointUploadDocument Endpoint = "upload_document"
	EndpointDeleteDocument Endpoint = "delete_document"
	EndpointResearch       Endpoint = "research"
)

// Outcome labels how a proxied request ended.
type Outcome string

const (
	// OutcomeSuccess is a 2xx relayed from the backend.
	OutcomeSuccess Outcome = "success"

	// OutcomeUpstreamError is a non-2xx relayed from the backend.
	OutcomeUpstreamError Outcome = "upstream_error"

	// OutcomeTransportError is a backend that could not be reached or parsed.
	OutcomeTransportError Outcome = "transport_error"

	// OutcomeValidation is a 400 answered without a backend call.
	OutcomeValidation Outcome = "validation"

	// OutcomeUnauthorized is a 401 answered without a backend call.
	OutcomeUnauthorized Outcome = "unauthorized"
)

// ProxyMetrics holds the Prometheus metrics for proxied calls.
//
// # Fields
//
//   - RequestsTotal: Counter of requests by endpoint and outcome
//   - UpstreamDurationSeconds: Histogram of backend call latency
//   - InflightRequests: Gauge of requests currently being proxied
type ProxyMetrics struct {
	RequestsTotal           *prometheus.CounterVec
	UpstreamDurationSeconds *prometheus.HistogramVec
	InflightRequests        *prometheus.GaugeVec
}

// NewProxyMetrics creates and registers the metrics with reg.
//
// # Description
//
// Pass prometheus.DefaultRegisterer in production so promhttp.Handler()
// exposes them. Tests pass a fresh prometheus.NewRegistry() so repeated
// construction does not panic on duplicate registration.
func NewProxyMetrics(reg prometheus.Registerer) *ProxyMetrics {
	factory := promauto.With(reg)
	return &ProxyMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "proxy_requests_total",
				Help:      "Total proxied requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),

		UpstreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "upstream_duration_seconds",
				Help:      "Research backend call duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint"},
		),

		InflightRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "inflight_requests",
				Help:      "Requests currently waiting on the research backend",
			},
			[]string{"endpoint"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordOutcome counts a finished request. Safe on a nil receiver.
func (m *ProxyMetrics) RecordOutcome(endpoint Endpoint, outcome Outcome) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), string(outcome)).Inc()
}

// StartUpstream marks a backend call as in flight and returns a func that
// records its duration and clears the gauge. Safe on a nil receiver.
func (m *ProxyMetrics) StartUpstream(endpoint Endpoint) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.InflightRequests.WithLabelValues(string(endpoint)).Inc()
	return func() {
		m.InflightRequests.WithLabelValues(string(endpoint)).Dec()
		m.UpstreamDurationSeconds.WithLabelValues(string(endpoint)).Observe(time.Since(start).Seconds())
	}
}

// OutcomeForStatus maps a relayed backend status to an outcome.
func OutcomeForStatus(status int) Outcome {
	if status >= 200 && status <= 299 {
		return OutcomeSuccess
	}
	return OutcomeUpstreamError
}
