// Package metrics provides the operational HTTP endpoints of the hub:
// Prometheus metrics and pprof profiling.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/qsbridge/bridgehub/pkg/config"
)

// Service serves one operational HTTP endpoint.
type Service struct {
	*http.Server
	name    string
	enabled bool
	log     *zap.Logger
	started atomic.Bool
	errChan chan<- error
}

func newService(name string, cfg config.BasicService, handler http.Handler, errChan chan<- error, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		Server: &http.Server{
			Addr:    cfg.BindAddress(),
			Handler: handler,
		},
		name:    name,
		enabled: cfg.Enabled,
		log:     log,
		errChan: errChan,
	}
}

// Name returns service name.
func (ms *Service) Name() string {
	return ms.name
}

// Start runs the service on the configured endpoint unless it is disabled.
// The service only starts once, subsequent calls to Start are no-op.
func (ms *Service) Start() {
	if !ms.enabled {
		ms.log.Info("service hasn't started since it's disabled", zap.String("service", ms.name))
		return
	}
	if !ms.started.CompareAndSwap(false, true) {
		ms.log.Info("service already started", zap.String("service", ms.name))
		return
	}
	ms.log.Info("service is running", zap.String("service", ms.name), zap.String("endpoint", ms.Addr))
	ln, err := net.Listen("tcp", ms.Addr)
	if err != nil {
		ms.errChan <- err
		return
	}
	ms.Addr = ln.Addr().String() // set Addr to the actual address
	go func() {
		err := ms.Serve(ln)
		if !errors.Is(err, http.ErrServerClosed) {
			ms.log.Error("failed to start service",
				zap.String("service", ms.name), zap.Error(err))
			ms.errChan <- err
		}
	}()
}

// ShutDown stops the service.
func (ms *Service) ShutDown() {
	if !ms.enabled || !ms.started.CompareAndSwap(true, false) {
		return
	}
	ms.log.Info("shutting down service", zap.String("service", ms.name), zap.String("endpoint", ms.Addr))
	err := ms.Shutdown(context.Background())
	if err != nil {
		ms.log.Error("can't shut service down", zap.String("service", ms.name), zap.Error(err))
	}
}
