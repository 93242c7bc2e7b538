package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	OrderPlacements        *prometheus.CounterVec
	OrderPlacementLatency  *prometheus.HistogramVec
	OrderCancellations     *prometheus.CounterVec
	WalletTransfers        *prometheus.CounterVec
	BalanceLockAmount      *prometheus.HistogramVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrderPlacements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_placements_total",
				Help: "Total order placement attempts.",
			},
			[]string{"status"},
		),
		OrderPlacementLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "order_placement_latency_seconds",
				Help:    "Order placement latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		OrderCancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_cancellations_total",
				Help: "Total order cancellation attempts.",
			},
			[]string{"status"},
		),
		WalletTransfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_transfers_total",
				Help: "Total deposit and withdrawal attempts.",
			},
			[]string{"type", "status"},
		),
		BalanceLockAmount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "balance_lock_amount",
				Help:    "Amount locked per placed order, by asset.",
				Buckets: prometheus.ExponentialBuckets(0.001, 10, 9),
			},
			[]string{"asset"},
		),
	}

	registry.MustRegister(
		m.OrderPlacements,
		m.OrderPlacementLatency,
		m.OrderCancellations,
		m.WalletTransfers,
		m.BalanceLockAmount,
	)
	return m
}
