/*
Package apisrv serves the operator HTTP API: bridge and oracle health,
the hub's public keys, order queries, relay-ready signature bundles, the
stored event feed and fee estimates.

The server is read-only with respect to bridge state, all mutations happen
in the ingestion services. Responses are JSON throughout, every non-2xx
response carries a {"message": ...} envelope and an optional global rate
limit guards the whole surface.
*/
package apisrv

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/qsbridge/bridgehub/pkg/fees"
	"github.com/qsbridge/bridgehub/pkg/keys"
	"github.com/qsbridge/bridgehub/pkg/repository"
	"github.com/qsbridge/bridgehub/pkg/services/oracles"
)

// Config parametrizes the API server.
type Config struct {
	// Address is the host:port the server listens on.
	Address string
	// Paused is the bridge pause flag reported by the health endpoint.
	// The hub does not relay transactions itself, so unless an operator
	// says otherwise the bridge reports itself paused.
	Paused bool
	// RateLimit caps the accepted request rate per second across all
	// endpoints. Zero disables limiting.
	RateLimit float64
	// Threshold is the signature threshold an order must reach to be
	// served as relayable, interpreted the way the oracle fleet does.
	Threshold float64
	// OracleCount is the vote base for the threshold.
	OracleCount int
}

// apiRoute ties an API route to its handler and metric name.
type apiRoute struct {
	name   string
	method string
	handle func(*Server, http.ResponseWriter, *http.Request)
}

// apiHandlers drives both mux registration and metric registration.
var apiHandlers = map[string]apiRoute{
	"/api/health/bridge":     {"health_bridge", http.MethodGet, (*Server).handleBridgeHealth},
	"/api/health/oracles":    {"health_oracles", http.MethodGet, (*Server).handleOraclesHealth},
	"/api/keys":              {"keys", http.MethodGet, (*Server).handleKeys},
	"/api/orders":            {"orders", http.MethodGet, (*Server).handleOrders},
	"/api/orders/signatures": {"orders_signatures", http.MethodGet, (*Server).handleOrderSignatures},
	"/api/orders/events":     {"orders_events", http.MethodGet, (*Server).handleOrderEvents},
	"/api/orders/trx-hash":   {"orders_trxhash", http.MethodGet, (*Server).handleOrderByTrxHash},
	"/api/orders/estimate":   {"orders_estimate", http.MethodPost, (*Server).handleEstimate},
}

// Server is the operator HTTP API server.
type Server struct {
	*http.Server

	cfg      Config
	log      *zap.Logger
	orders   *repository.Orders
	events   *repository.Events
	registry *oracles.Registry
	keys     *keys.Store
	fees     *fees.Estimator

	limiter *rate.Limiter
	started atomic.Bool
	errChan chan<- error
}

// New wires the API server from its dependencies. It does not listen until
// Start; runtime listener failures are pushed into errChan.
func New(cfg Config, orders *repository.Orders, events *repository.Events, registry *oracles.Registry,
	ks *keys.Store, est *fees.Estimator, errChan chan<- error, log *zap.Logger) (*Server, error) {
	switch {
	case cfg.Address == "":
		return nil, errors.New("listen address is not set")
	case cfg.OracleCount <= 0:
		return nil, errors.New("oracle count must be positive")
	case orders == nil || events == nil:
		return nil, errors.New("repositories are not set")
	case registry == nil:
		return nil, errors.New("oracle registry is not set")
	case ks == nil:
		return nil, errors.New("keys store is not set")
	case est == nil:
		return nil, errors.New("fee estimator is not set")
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		Server:   &http.Server{Addr: cfg.Address},
		cfg:      cfg,
		log:      log,
		orders:   orders,
		events:   events,
		registry: registry,
		keys:     ks,
		fees:     est,
		errChan:  errChan,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	mux := http.NewServeMux()
	for path, route := range apiHandlers {
		mux.HandleFunc(path, s.makeHandler(route))
	}
	mux.HandleFunc("/", s.handleNotFound)
	s.Handler = s.recoverer(s.throttle(mux))
	return s, nil
}

// Name returns service name.
func (s *Server) Name() string {
	return "api server"
}

// Start creates the listener on the configured address and serves the API.
// Runtime errors are returned via errChan passed to New. The server only
// starts once, subsequent calls to Start are no-op.
func (s *Server) Start() {
	if !s.started.CompareAndSwap(false, true) {
		s.log.Info("API server already started")
		return
	}
	s.log.Info("starting API server", zap.String("endpoint", s.Addr))
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.errChan <- err
		return
	}
	s.Addr = ln.Addr().String() // set Addr to the actual address
	go func() {
		err := s.Serve(ln)
		if !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("failed to start API server", zap.Error(err))
			s.errChan <- err
		}
	}()
}

// Shutdown stops the server, draining in-flight requests. It can only be
// called once, subsequent calls to Shutdown on the same instance are no-op.
func (s *Server) Shutdown() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	s.log.Info("shutting down API server", zap.String("endpoint", s.Addr))
	err := s.Server.Shutdown(context.Background())
	if err != nil {
		s.log.Warn("error during API server shutdown", zap.Error(err))
	}
}

// makeHandler guards the route's method, runs the handler and records the
// per-endpoint metrics.
func (s *Server) makeHandler(route apiRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != route.method {
			s.writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}
		start := time.Now()
		route.handle(s, w, r)
		addReqTimeMetric(route.name, time.Since(start))
	}
}

// throttle applies the global request rate limit when one is configured.
func (s *Server) throttle(h http.Handler) http.Handler {
	if s.limiter == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.writeError(w, http.StatusTooManyRequests, "Too Many Requests")
			return
		}
		h.ServeHTTP(w, r)
	})
}

// recoverer turns handler panics into opaque 500 responses.
func (s *Server) recoverer(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("panic in API handler",
					zap.String("path", r.URL.Path), zap.Any("panic", p))
				s.writeError(w, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		h.ServeHTTP(w, r)
	})
}
