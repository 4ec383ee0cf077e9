package oracles

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	healthyOracles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of oracles in ok state after the last health round",
			Name:      "oracles_healthy",
			Namespace: "bridgehub",
		},
	)
	reconciledOrders = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of order groups reconciled and written",
			Name:      "orders_reconciled_total",
			Namespace: "bridgehub",
		},
	)
	reconcileFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of order groups dropped on mismatch or tie",
			Name:      "orders_reconcile_failures_total",
			Namespace: "bridgehub",
		},
	)
	signaturesStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of oracle signatures stored",
			Name:      "order_signatures_total",
			Namespace: "bridgehub",
		},
	)
)

func updHealthyOracles(n int) {
	healthyOracles.Set(float64(n))
}

func incReconciled() {
	reconciledOrders.Inc()
}

func incReconcileFailures() {
	reconcileFailures.Inc()
}

func addSignaturesStored(n int) {
	signaturesStored.Add(float64(n))
}

func init() {
	prometheus.MustRegister(
		healthyOracles,
		reconciledOrders,
		reconcileFailures,
		signaturesStored,
	)
}
