package metrics

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qsbridge/bridgehub/pkg/config"
)

// NewPrometheusService creates a new service for gathering prometheus metrics.
func NewPrometheusService(cfg config.BasicService, errChan chan<- error, log *zap.Logger) *Service {
	return newService("prometheus", cfg, promhttp.Handler(), errChan, log)
}
