// Package telemetry exposes quotagate's Prometheus metrics.
//
// All metrics register against the default registry and are served by the
// HTTP server at the configured metrics path (default /metrics). HTTP metrics
// are labelled by chi route pattern, never the raw URL, so key ids in paths
// do not blow up label cardinality.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quotagate"

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed, by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request latencies, by method and route pattern.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
)

// Key validation outcomes. result is "success" or "failure"; reason is the
// internal failure cause (not_found, disabled, expired, invalid_secret,
// storage_error) or "none" on success. The reason never reaches the caller.
var KeyValidationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "key_validations_total",
		Help:      "Total number of API key validations, by result and reason.",
	},
	[]string{"result", "reason"},
)

// Admission outcomes from the atomic check-and-record path. window is the
// budget that refused the request, the key state ("disabled", "expired")
// that blocked it, or "none" when accepted.
var AdmissionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admissions_total",
		Help:      "Total number of quota admission decisions, by result and refusing window.",
	},
	[]string{"result", "window"},
)

// KeysGauge tracks key counts by state ("total", "enabled"). It is sampled
// by StartKeyCollector rather than updated inline.
var KeysGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "keys",
		Help:      "Current number of API keys, by state.",
	},
	[]string{"state"},
)

// Validation result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ReasonNone    = "none"
)

// RecordValidation counts one key validation.
func RecordValidation(reason string) {
	if reason == "" || reason == ReasonNone {
		KeyValidationsTotal.WithLabelValues(ResultSuccess, ReasonNone).Inc()
		return
	}
	KeyValidationsTotal.WithLabelValues(ResultFailure, reason).Inc()
}

// RecordAdmission counts one admission decision.
func RecordAdmission(accepted bool, window string) {
	if accepted {
		AdmissionsTotal.WithLabelValues("accepted", ReasonNone).Inc()
		return
	}
	AdmissionsTotal.WithLabelValues("rejected", window).Inc()
}

// KeyCounter reports total and enabled key counts.
type KeyCounter interface {
	CountAPIKeys(ctx context.Context) (total, enabled int64, err error)
}

// StartKeyCollector samples key counts into KeysGauge every interval until
// ctx is cancelled. One sample is taken immediately.
func StartKeyCollector(ctx context.Context, counter KeyCounter, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	sample := func() {
		total, enabled, err := counter.CountAPIKeys(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("key collector: count failed", "error", err)
			}
			return
		}
		KeysGauge.WithLabelValues("total").Set(float64(total))
		KeysGauge.WithLabelValues("enabled").Set(float64(enabled))
	}

	go func() {
		sample()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sample()
			}
		}
	}()
}
