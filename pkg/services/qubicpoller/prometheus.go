package qubicpoller

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	pollRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of completed qubic polling rounds",
			Name:      "qubic_poll_rounds_total",
			Namespace: "bridgehub",
		},
	)
	storedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of chain events stored from the qubic gateway",
			Name:      "qubic_events_total",
			Namespace: "bridgehub",
		},
	)
)

func incRounds() {
	pollRounds.Inc()
}

func incStoredEvents() {
	storedEvents.Inc()
}

func init() {
	prometheus.MustRegister(
		pollRounds,
		storedEvents,
	)
}
