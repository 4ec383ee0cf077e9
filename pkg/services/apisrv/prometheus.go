package apisrv

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	reqCounter = map[string]prometheus.Counter{}
	reqTimes   = map[string]prometheus.Histogram{}
)

func addReqTimeMetric(name string, t time.Duration) {
	hist, ok := reqTimes[name]
	if ok {
		hist.Observe(t.Seconds())
	}
	ctr, ok := reqCounter[name]
	if ok {
		ctr.Inc()
	}
}

func regEndpoint(name string) {
	ctr := prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      fmt.Sprintf("Number of calls to the %s API endpoint", name),
			Name:      fmt.Sprintf("api_%s_called_total", name),
			Namespace: "bridgehub",
		},
	)
	prometheus.MustRegister(ctr)
	reqCounter[name] = ctr
	reqTimes[name] = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Help:      "Handling time of the " + name + " API endpoint",
			Name:      fmt.Sprintf("api_%s_time", name),
			Namespace: "bridgehub",
		},
	)
	prometheus.MustRegister(reqTimes[name])
}

func init() {
	for _, route := range apiHandlers {
		regEndpoint(route.name)
	}
}
