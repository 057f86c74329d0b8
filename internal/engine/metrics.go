package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: сколько квитанций выпущено
	IssuedTotal *prometheus.CounterVec

	// Errors: отказы выпуска по типам
	IssueErrorsTotal *prometheus.CounterVec

	// Validation: исходы проверок (valid / invalid / unverifiable)
	ValidationTotal *prometheus.CounterVec

	// Latency: длительность полной проверки одной квитанции
	ValidationDuration prometheus.Histogram

	// Audit: заполненность буфера леджера (backpressure)
	LedgerBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — если регистр не передан, используем локальный,
	// который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		IssuedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "poi_receipts_issued_total",
			Help: "Total number of issued receipts.",
		}, []string{"algorithm", "risk_context"}),

		IssueErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "poi_issue_errors_total",
			Help: "Total number of issuance failures by type.",
		}, []string{"type"}), // типы: invalid_field, canonicalization, key_unavailable, signing

		ValidationTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "poi_validations_total",
			Help: "Total number of receipt validations by outcome.",
		}, []string{"outcome"}),

		ValidationDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "poi_validation_duration_seconds",
			Help:    "Histogram of single receipt validation latencies.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),

		LedgerBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "poi_ledger_buffer_utilization",
			Help: "Current number of events in the ledger buffer.",
		}),
	}
}
