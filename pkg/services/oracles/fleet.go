package oracles

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/qsbridge/bridgehub/pkg/bridge"
	"github.com/qsbridge/bridgehub/pkg/netclient"
	"github.com/qsbridge/bridgehub/pkg/repository"
	"github.com/qsbridge/bridgehub/pkg/scheduler"
	"github.com/qsbridge/bridgehub/pkg/signer"
)

// Default fleet polling parameters.
const (
	defaultInterval       = 15 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// Config parametrizes the oracle fleet.
type Config struct {
	// Servers is the configured oracle URL set.
	Servers []string
	// Threshold is the signature threshold: a ratio of the oracle count
	// when in (0, 1], an absolute count otherwise.
	Threshold float64
	// OracleCount overrides the vote base for the threshold. Zero means
	// len(Servers).
	OracleCount int
	// Interval between polling rounds, defaultInterval when zero.
	Interval time.Duration
	// RequestTimeout bounds every oracle request, defaultRequestTimeout
	// when zero.
	RequestTimeout time.Duration
	// Jitter randomizes round starts.
	Jitter time.Duration
	// Clock is the time source, real when nil.
	Clock scheduler.Clock
}

// Fleet is the oracle fleet service: one health poller feeding the
// registry and one orders poller reconciling reports into the repository.
type Fleet struct {
	cfg Config
	log *zap.Logger

	registry *Registry
	orders   *repository.Orders
	signer   *signer.Signer
	http     *netclient.Client

	health *scheduler.Poller[bridge.OracleHealth]
	orderp *scheduler.Poller[[]bridge.OrderWithSignatures]

	// isActive denotes whether the fleet runs or is shutting down.
	isActive atomic.Bool
}

// NewFleet wires the fleet from its dependencies. The registry is created
// here and shared through Registry().
func NewFleet(cfg Config, orders *repository.Orders, sgn *signer.Signer, http *netclient.Client, log *zap.Logger) (*Fleet, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no oracle servers configured")
	}
	if orders == nil || sgn == nil || http == nil {
		return nil, errors.New("orders repository, signer and http client are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	f := &Fleet{
		cfg:      cfg,
		log:      log,
		registry: NewRegistry(),
		orders:   orders,
		signer:   sgn,
		http:     http,
	}

	var err error
	f.health, err = scheduler.NewPoller(scheduler.Config[bridge.OracleHealth]{
		Name:           "oracle-health",
		Servers:        cfg.Servers,
		FetchOne:       f.fetchHealth,
		OnRound:        f.onHealthRound,
		Interval:       scheduler.StaticInterval(cfg.Interval),
		RequestTimeout: cfg.RequestTimeout,
		Jitter:         cfg.Jitter,
		Clock:          cfg.Clock,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("health poller: %w", err)
	}
	f.orderp, err = scheduler.NewPoller(scheduler.Config[[]bridge.OrderWithSignatures]{
		Name:           "oracle-orders",
		Servers:        cfg.Servers,
		FetchOne:       f.fetchOrders,
		OnRound:        f.onOrdersRound,
		Interval:       scheduler.StaticInterval(cfg.Interval),
		RequestTimeout: cfg.RequestTimeout,
		Jitter:         cfg.Jitter,
		Clock:          cfg.Clock,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("orders poller: %w", err)
	}
	return f, nil
}

// Registry returns the shared oracle health view.
func (f *Fleet) Registry() *Registry {
	return f.registry
}

// Name returns the service name.
func (f *Fleet) Name() string {
	return "oracle fleet"
}

// Start seeds the registry and launches both pollers.
func (f *Fleet) Start() error {
	if !f.isActive.CompareAndSwap(false, true) {
		return errors.New("oracle fleet already started")
	}
	f.registry.SetServers(f.cfg.Servers)
	f.log.Info("starting oracle fleet",
		zap.Int("oracles", len(f.cfg.Servers)),
		zap.Float64("threshold", f.cfg.Threshold),
		zap.Duration("interval", f.cfg.Interval))
	if err := f.health.Start(); err != nil {
		return err
	}
	if err := f.orderp.Start(); err != nil {
		f.health.Shutdown()
		return err
	}
	return nil
}

// Shutdown stops both pollers and waits for their loops to exit.
func (f *Fleet) Shutdown() {
	if !f.isActive.CompareAndSwap(true, false) {
		return
	}
	f.log.Info("oracle fleet shutting down")
	f.orderp.Shutdown()
	f.health.Shutdown()
}
