package solpoller

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	sweepRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of completed history sweep rounds",
			Name:      "solana_sweep_rounds_total",
			Namespace: "bridgehub",
		},
	)
	sweepFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of history sweep rounds that failed",
			Name:      "solana_sweep_failures_total",
			Namespace: "bridgehub",
		},
	)
	sweepPages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of history pages fetched",
			Name:      "solana_sweep_pages_total",
			Namespace: "bridgehub",
		},
	)
	storedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of chain events stored by the history sweep",
			Name:      "solana_sweep_events_total",
			Namespace: "bridgehub",
		},
	)
	backoffTier = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Current history sweep backoff tier",
			Name:      "solana_sweep_backoff_tier",
			Namespace: "bridgehub",
		},
	)
)

func incRounds() {
	sweepRounds.Inc()
}

func incRoundFailures() {
	sweepFailures.Inc()
}

func incPages() {
	sweepPages.Inc()
}

func incStoredEvents() {
	storedEvents.Inc()
}

func updBackoffTier(tier int) {
	backoffTier.Set(float64(tier))
}

func init() {
	prometheus.MustRegister(
		sweepRounds,
		sweepFailures,
		sweepPages,
		storedEvents,
		backoffTier,
	)
}
