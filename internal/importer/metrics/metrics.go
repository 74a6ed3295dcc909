// Package metrics exposes prometheus counters for the import engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

type Metrics struct {
	batches   *prometheus.CounterVec
	rows      *prometheus.CounterVec
	reversals prometheus.Counter
	clamps    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		batches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "printmeter_import_batches_total",
			Help: "Import batches by terminal status.",
		}, []string{"status"}),
		rows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "printmeter_import_rows_total",
			Help: "Processed CSV rows by result.",
		}, []string{"result"}),
		reversals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "printmeter_import_reversals_total",
			Help: "Completed batch reversals.",
		}),
		clamps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "printmeter_aggregate_clamp_total",
			Help: "Reversal subtractions that clamped an aggregate at zero.",
		}),
	}
}

func (m *Metrics) BatchFinished(status string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(status).Inc()
}

func (m *Metrics) RowProcessed(result string) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(result).Inc()
}

func (m *Metrics) ReversalCompleted() {
	if m == nil {
		return
	}
	m.reversals.Inc()
}

func (m *Metrics) AggregateClamped() {
	if m == nil {
		return
	}
	m.clamps.Inc()
}

var Module = fx.Module("importer.metrics",
	fx.Provide(New),
)
