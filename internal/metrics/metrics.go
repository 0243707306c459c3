package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the collectors of the betting server and the wallet freezer.
type Metrics struct {
	Connections       prometheus.Gauge
	ConnRejected      *prometheus.CounterVec
	OffersCreated     prometheus.Counter
	OffersRemoved     *prometheus.CounterVec
	PendingOffers     prometheus.Gauge
	AcceptAttempts    *prometheus.CounterVec
	SettlementFailure prometheus.Counter
	PublishErrors     *prometheus.CounterVec
	WalletFreezes     *prometheus.CounterVec
}

// New builds the collectors and registers them on reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pago_ws_connections", Help: "live websocket connections",
		}),
		ConnRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pago_ws_rejected_total", Help: "rejected websocket connections by reason",
		}, []string{"reason"}),
		OffersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pago_offers_created_total", Help: "PAGO offers stored in the ledger",
		}),
		OffersRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pago_offers_removed_total", Help: "offers removed from the ledger by reason",
		}, []string{"reason"}),
		PendingOffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pago_pending_offers", Help: "offers currently open in the ledger",
		}),
		AcceptAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pago_accept_attempts_total", Help: "accept attempts by outcome",
		}, []string{"outcome"}),
		SettlementFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pago_settlement_failures_total", Help: "claimed offers whose settlement transaction failed",
		}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pago_events_publish_errors_total", Help: "event bus publish failures by topic",
		}, []string{"topic"}),
		WalletFreezes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pago_wallet_freezes_total", Help: "wallet freeze attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Connections, m.ConnRejected, m.OffersCreated, m.OffersRemoved, m.PendingOffers,
			m.AcceptAttempts, m.SettlementFailure, m.PublishErrors, m.WalletFreezes,
		)
	}
	return m
}
