// Package metrics exposes Prometheus collectors for the monitor service.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidmonitor_cycles_total",
			Help: "Total number of polling cycles, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bidmonitor_cycle_duration_seconds",
			Help:    "Histogram of end-to-end polling cycle durations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	captchaAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidmonitor_captcha_attempts_total",
			Help: "Total number of CAPTCHA attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidmonitor_records_total",
			Help: "Total number of records handled, labeled by result.",
		},
		[]string{"result"},
	)

	ledgerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidmonitor_ledger_errors_total",
			Help: "Total number of ledger store failures, labeled by operation.",
		},
		[]string{"op"},
	)

	ledgerEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bidmonitor_ledger_entries",
			Help: "Number of fingerprints in the ledger after the last save.",
		},
	)

	lastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bidmonitor_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that completed a search.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bidmonitor_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)
)

// Handler returns a router exposing /metrics.
func Handler() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// ObserveCycle records the outcome and duration of one polling cycle.
func ObserveCycle(outcome string, duration time.Duration) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveCaptchaAttempt counts one CAPTCHA attempt.
func ObserveCaptchaAttempt(outcome string) {
	captchaAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecord counts one record decision (new, seen, published, failed).
func ObserveRecord(result string) {
	recordsTotal.WithLabelValues(result).Inc()
}

// ObserveLedgerError counts a ledger store failure for the given operation.
func ObserveLedgerError(op string) {
	ledgerErrorsTotal.WithLabelValues(op).Inc()
}

// SetLedgerEntries records the ledger size.
func SetLedgerEntries(n int) {
	ledgerEntries.Set(float64(n))
}

// MarkSuccess stamps the last successful search time.
func MarkSuccess(at time.Time) {
	lastSuccessTimestamp.Set(float64(at.Unix()))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
