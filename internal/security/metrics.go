// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsNamespace prefixes every metric name.
const metricsNamespace = "sectoolkit"

// Metrics holds the toolkit's Prometheus counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	rateLimitDecisions *prometheus.CounterVec
	sessionTimeouts    prometheus.Counter
	tokenRefreshes     *prometheus.CounterVec
	csrfRejections     prometheus.Counter
	uploadRejections   *prometheus.CounterVec
	decryptFailures    prometheus.Counter
}

// NewMetrics registers the counters with reg. Registering twice with the same
// registerer panics, as with any promauto metric.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		rateLimitDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions by outcome.",
		}, []string{"decision"}),
		sessionTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_timeouts_total",
			Help:      "Idle sessions that reached their timeout.",
		}),
		tokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_refreshes_total",
			Help:      "Bearer token refresh attempts by result.",
		}, []string{"result"}),
		csrfRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "csrf_rejections_total",
			Help:      "CSRF token validations that failed.",
		}),
		uploadRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upload_rejections_total",
			Help:      "File uploads rejected by category.",
		}, []string{"category"}),
		decryptFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decryption_failures_total",
			Help:      "Payloads that failed to decrypt.",
		}),
	}
}

func (m *Metrics) rateLimitDecision(allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.rateLimitDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) sessionTimedOut() {
	if m == nil {
		return
	}
	m.sessionTimeouts.Inc()
}

func (m *Metrics) tokenRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.tokenRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) csrfRejected() {
	if m == nil {
		return
	}
	m.csrfRejections.Inc()
}

func (m *Metrics) uploadRejected(category string) {
	if m == nil {
		return
	}
	m.uploadRejections.WithLabelValues(category).Inc()
}

func (m *Metrics) decryptFailed() {
	if m == nil {
		return
	}
	m.decryptFailures.Inc()
}
