package metrics

import (
	"net/http"
	"net/http/pprof"

	"go.uber.org/zap"

	"github.com/qsbridge/bridgehub/pkg/config"
)

// NewPprofService creates a new service for gathering pprof profiles,
// https://golang.org/pkg/net/http/pprof/.
func NewPprofService(cfg config.BasicService, errChan chan<- error, log *zap.Logger) *Service {
	handler := http.NewServeMux()
	handler.HandleFunc("/debug/pprof/", pprof.Index)
	handler.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	handler.HandleFunc("/debug/pprof/profile", pprof.Profile)
	handler.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	handler.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return newService("pprof", cfg, handler, errChan, log)
}
