/*
Package qubicpoller polls the chain-Q event gateway and stores the bridge
events it reports.

Unlike the chain-S side there is no windowing: the gateway returns its
current event list and the poller persists whatever it has not seen yet,
keyed by transaction hash. Entries without a hash are unusable and entries
with an unknown type are refused loudly, everything else lands in the
events repository.
*/
package qubicpoller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/qsbridge/bridgehub/pkg/bridge"
	"github.com/qsbridge/bridgehub/pkg/netclient"
	"github.com/qsbridge/bridgehub/pkg/qubic"
	"github.com/qsbridge/bridgehub/pkg/repository"
	"github.com/qsbridge/bridgehub/pkg/scheduler"
)

// Default polling parameters.
const (
	defaultInterval       = 30 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// Config parametrizes the chain-Q poller.
type Config struct {
	// URL is the gateway events endpoint.
	URL string
	// Interval between polling rounds, defaultInterval when zero.
	Interval time.Duration
	// RequestTimeout bounds every gateway request, defaultRequestTimeout
	// when zero.
	RequestTimeout time.Duration
	// Clock is the time source, real when nil.
	Clock scheduler.Clock
}

// Service is the chain-Q event poller.
type Service struct {
	cfg    Config
	log    *zap.Logger
	client *qubic.Client
	events *repository.Events
	poller *scheduler.Poller[[]qubic.Event]

	// isActive denotes whether the service runs or is shutting down.
	isActive atomic.Bool
}

// New wires the poller from its dependencies.
func New(cfg Config, events *repository.Events, http *netclient.Client, log *zap.Logger) (*Service, error) {
	if cfg.URL == "" {
		return nil, errors.New("gateway URL is required")
	}
	if events == nil || http == nil {
		return nil, errors.New("events repository and http client are required")
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
	s := &Service{
		cfg:    cfg,
		log:    log,
		client: qubic.NewClient(http, cfg.URL),
		events: events,
	}
	var err error
	s.poller, err = scheduler.NewPoller(scheduler.Config[[]qubic.Event]{
		Name:           "qubic-events",
		Servers:        []string{cfg.URL},
		FetchOne:       s.fetch,
		OnRound:        s.onRound,
		Interval:       scheduler.StaticInterval(cfg.Interval),
		RequestTimeout: cfg.RequestTimeout,
		Clock:          cfg.Clock,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("events poller: %w", err)
	}
	return s, nil
}

// Name returns the service name.
func (s *Service) Name() string {
	return "qubic poller"
}

// Start launches the polling loop.
func (s *Service) Start() error {
	if !s.isActive.CompareAndSwap(false, true) {
		return errors.New("qubic poller already started")
	}
	s.log.Info("starting qubic poller",
		zap.String("url", s.cfg.URL),
		zap.Duration("interval", s.cfg.Interval))
	return s.poller.Start()
}

// Shutdown stops the polling loop and waits for the current round.
func (s *Service) Shutdown() {
	if !s.isActive.CompareAndSwap(true, false) {
		return
	}
	s.log.Info("qubic poller shutting down")
	s.poller.Shutdown()
}

// fetch GETs the gateway's current events. A payload of unexpected shape is
// dropped with its metadata logged; transport failures surface to the round
// boundary.
func (s *Service) fetch(ctx context.Context, _ string) ([]qubic.Event, error) {
	evs, err := s.client.FetchEvents(ctx)
	if err != nil {
		var se *netclient.SchemaError
		if errors.As(err, &se) {
			s.log.Warn("qubic events payload mismatch",
				zap.String("payloadType", se.PayloadType),
				zap.Strings("payloadKeys", se.PayloadKeys))
			return nil, nil
		}
		if !errors.Is(err, context.Canceled) {
			s.log.Warn("qubic events fetch failed", zap.Error(err))
		}
		return nil, err
	}
	return evs, nil
}

// onRound persists the round's survivors: events with a hash the repository
// has not seen and a type that belongs to chain Q.
func (s *Service) onRound(_ context.Context, results [][]qubic.Event) {
	incRounds()
	if len(results) == 0 || len(results[0]) == 0 {
		return
	}
	evs := results[0]

	sigs := make([]string, 0, len(evs))
	for _, ev := range evs {
		if ev.TrxHash != "" {
			sigs = append(sigs, ev.TrxHash)
		}
	}
	existing, err := s.events.FindExistingSignatures(sigs)
	if err != nil {
		s.log.Warn("failed to check stored signatures", zap.Error(err))
		return
	}

	for _, ev := range evs {
		if ev.TrxHash == "" {
			continue
		}
		if _, ok := existing[ev.TrxHash]; ok {
			continue
		}
		typ := bridge.EventType(ev.Type)
		if !typ.ValidFor(bridge.ChainQubic) {
			s.log.Warn("unknown qubic event type",
				zap.String("trxHash", ev.TrxHash),
				zap.String("type", ev.Type))
			continue
		}
		// The gateway tick plays the slot role.
		stored, err := s.events.Create(bridge.StoredEvent{
			Signature: ev.TrxHash,
			Slot:      ev.Tick,
			Chain:     bridge.ChainQubic,
			Type:      typ,
			Nonce:     ev.Nonce,
			Payload:   ev.Payload,
		})
		if err != nil {
			s.log.Warn("failed to store qubic event",
				zap.String("trxHash", ev.TrxHash),
				zap.Error(err))
			continue
		}
		if stored == nil {
			continue
		}
		incStoredEvents()
		s.log.Debug("stored chain event",
			zap.String("trxHash", ev.TrxHash),
			zap.String("type", ev.Type),
			zap.String("nonce", ev.Nonce))
	}
}
