package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records credit ledger and metering activity.
type LedgerMetrics struct {
	entries             *prometheus.CounterVec
	rejections          *prometheus.CounterVec
	debitDuration       prometheus.Histogram
	preflightDenials    prometheus.Counter
	parseFailures       *prometheus.CounterVec
	invariantViolations prometheus.Counter
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entries_total",
		Help: "Ledger entries appended, by reason.",
	}, []string{"reason"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_rejections_total",
		Help: "Ledger operations rejected with a business outcome, by code.",
	}, []string{"code"})
	debitDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_debit_duration_seconds",
		Help:    "Duration of debit transactions in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	preflightDenials := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metering_preflight_denials_total",
		Help: "Requests stopped by the pre-flight balance gate.",
	})
	parseFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "usage_parse_failures_total",
		Help: "Vendor usage payloads that no parser recognized, by provider.",
	}, []string{"provider"})
	invariantViolations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_invariant_violations_total",
		Help: "Balance chain mismatches detected by the consistency checker.",
	})
	reg.MustRegister(entries, rejections, debitDuration, preflightDenials, parseFailures, invariantViolations)
	return &LedgerMetrics{
		entries:             entries,
		rejections:          rejections,
		debitDuration:       debitDuration,
		preflightDenials:    preflightDenials,
		parseFailures:       parseFailures,
		invariantViolations: invariantViolations,
	}
}

// IncEntry increments the appended-entry counter for the given reason.
func (m *LedgerMetrics) IncEntry(reason string) {
	if m == nil || m.entries == nil {
		return
	}
	m.entries.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncRejection increments the rejection counter for the given outcome code.
func (m *LedgerMetrics) IncRejection(code string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(code)).Inc()
}

// ObserveDebitDuration records how long a debit transaction took.
func (m *LedgerMetrics) ObserveDebitDuration(duration time.Duration) {
	if m == nil || m.debitDuration == nil {
		return
	}
	m.debitDuration.Observe(duration.Seconds())
}

// IncPreflightDenial counts a request stopped before any vendor call.
func (m *LedgerMetrics) IncPreflightDenial() {
	if m == nil || m.preflightDenials == nil {
		return
	}
	m.preflightDenials.Inc()
}

// IncParseFailure counts an unrecognized usage payload for the provider.
func (m *LedgerMetrics) IncParseFailure(provider string) {
	if m == nil || m.parseFailures == nil {
		return
	}
	m.parseFailures.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncInvariantViolation counts a detected balance chain mismatch.
func (m *LedgerMetrics) IncInvariantViolation() {
	if m == nil || m.invariantViolations == nil {
		return
	}
	m.invariantViolations.Inc()
}
