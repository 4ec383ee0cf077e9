package sollistener

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	wsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Whether the log subscription is currently live",
			Name:      "solana_ws_connected",
			Namespace: "bridgehub",
		},
	)
	wsReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of websocket sessions that ended with an error",
			Name:      "solana_ws_reconnects_total",
			Namespace: "bridgehub",
		},
	)
	wsStoredEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of chain events stored from log notifications",
			Name:      "solana_ws_events_total",
			Namespace: "bridgehub",
		},
	)
)

func updConnected(up bool) {
	if up {
		wsConnected.Set(1)
		return
	}
	wsConnected.Set(0)
}

func incReconnects() {
	wsReconnects.Inc()
}

func incStoredEvents() {
	wsStoredEvents.Inc()
}

func init() {
	prometheus.MustRegister(
		wsConnected,
		wsReconnects,
		wsStoredEvents,
	)
}
