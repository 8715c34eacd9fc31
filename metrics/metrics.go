// Package metrics holds the engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	wagers          *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	paid            *prometheus.CounterVec
	outcomesCreated *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	refunds         *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		wagers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "round_wagers_placed_total",
			Help: "Wagers persisted, by game.",
		}, []string{"game"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "round_wagers_rejected_total",
			Help: "Wager attempts rejected, by game and reason.",
		}, []string{"game", "reason"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "round_settlements_total",
			Help: "Wagers settled, by game.",
		}, []string{"game"}),
		paid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "round_points_credited_total",
			Help: "Points credited at settlement, by game and kind (payout, cashback).",
		}, []string{"game", "kind"}),
		outcomesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "round_outcomes_created_total",
			Help: "Round results this process wrote first.",
		}, []string{"game"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "round_backend_rate_limited_total",
			Help: "Operations that hit backend throttling, by operation.",
		}, []string{"op"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "round_wager_refunds_total",
			Help: "Compensating credits after a failed wager write.",
		}, []string{"game"}),
	}
	reg.MustRegister(m.wagers, m.rejected, m.settlements, m.paid, m.outcomesCreated, m.rateLimited, m.refunds)
	return m
}

func (m *Metrics) WagerPlaced(game string) {
	if m == nil {
		return
	}
	m.wagers.WithLabelValues(game).Inc()
}

func (m *Metrics) WagerRejected(game, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(game, reason).Inc()
}

func (m *Metrics) Settled(game string, payout, cashback int64) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(game).Inc()
	// Counter.Add panics on negative input
	if payout > 0 {
		m.paid.WithLabelValues(game, "payout").Add(float64(payout))
	}
	if cashback > 0 {
		m.paid.WithLabelValues(game, "cashback").Add(float64(cashback))
	}
}

func (m *Metrics) OutcomeCreated(game string) {
	if m == nil {
		return
	}
	m.outcomesCreated.WithLabelValues(game).Inc()
}

func (m *Metrics) RateLimited(op string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(op).Inc()
}

func (m *Metrics) Refunded(game string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(game).Inc()
}
