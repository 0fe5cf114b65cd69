// Package metrics exposes the bot's Prometheus collectors.
//
//   - splitbot_entries_total{code,slot}        buys confirmed
//   - splitbot_exits_total{code,reason}        sells confirmed, by exit reason
//   - splitbot_reconcile_total{outcome}        reconciliation outcomes
//   - splitbot_errors_total{kind}              tick errors by kind
//   - splitbot_budget                          last computed budget
//   - splitbot_utilization{code}               cost basis / allocation
//   - splitbot_realized_pnl                    cumulative realized P&L
//   - splitbot_pending_orders                  orders awaiting a fill
//   - splitbot_cycle_seconds                   tick duration
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the bot updates.
type Metrics struct {
	entries     *prometheus.CounterVec
	exits       *prometheus.CounterVec
	reconcile   *prometheus.CounterVec
	errors      *prometheus.CounterVec
	budget      prometheus.Gauge
	utilization *prometheus.GaugeVec
	realized    prometheus.Gauge
	pending     prometheus.Gauge
	cycle       prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "splitbot_entries_total", Help: "Confirmed tranche entries"},
			[]string{"code", "slot"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "splitbot_exits_total", Help: "Confirmed sells split by exit reason"},
			[]string{"code", "reason"},
		),
		reconcile: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "splitbot_reconcile_total", Help: "Reconciliation outcomes"},
			[]string{"outcome"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "splitbot_errors_total", Help: "Tick errors by kind"},
			[]string{"kind"},
		),
		budget: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "splitbot_budget",
			Help: "Budget computed by the allocator on the last tick",
		}),
		utilization: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "splitbot_utilization", Help: "Cost basis over allocation per instrument"},
			[]string{"code"},
		),
		realized: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "splitbot_realized_pnl",
			Help: "Cumulative realized profit and loss",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "splitbot_pending_orders",
			Help: "Orders submitted but not yet confirmed",
		}),
		cycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "splitbot_cycle_seconds",
			Help:    "Duration of one tick",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
	reg.MustRegister(m.entries, m.exits, m.reconcile, m.errors,
		m.budget, m.utilization, m.realized, m.pending, m.cycle)
	return m
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Entry(code string, slot int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(code, strconv.Itoa(slot)).Inc()
}

func (m *Metrics) Exit(code, reason string) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(code, reason).Inc()
}

func (m *Metrics) Reconciled(outcome string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetBudget(v float64) {
	if m == nil {
		return
	}
	m.budget.Set(v)
}

func (m *Metrics) SetUtilization(code string, v float64) {
	if m == nil {
		return
	}
	m.utilization.WithLabelValues(code).Set(v)
}

func (m *Metrics) SetRealizedPnL(v float64) {
	if m == nil {
		return
	}
	m.realized.Set(v)
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) ObserveCycle(seconds float64) {
	if m == nil {
		return
	}
	m.cycle.Observe(seconds)
}
