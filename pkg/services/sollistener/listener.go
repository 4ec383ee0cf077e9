/*
Package sollistener streams Solana program logs over a websocket and stores
the bridge events they carry.

The listener keeps exactly one connection: it subscribes to finalized log
notifications of the bridge program, decodes every program-data line and
hands the events to a single consumer so their relative order survives. A
dropped connection is re-dialed with jittered exponential backoff, and after
enough consecutive primary failures the listener moves to the fallback
endpoint, probing the primary again on a fixed schedule.

Inbound transfers are deliberately left alone here: the history poller owns
them, and ingesting both paths would double-write finality decisions. The
events repository uniqueness is the backstop for everything else the two
ingestion paths see twice.
*/
package sollistener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/qsbridge/bridgehub/pkg/bridge"
	"github.com/qsbridge/bridgehub/pkg/repository"
	"github.com/qsbridge/bridgehub/pkg/scheduler"
	"github.com/qsbridge/bridgehub/pkg/solana"
)

// Default listener parameters.
const (
	defaultReconnectBase   = 1 * time.Second
	defaultReconnectMax    = 30 * time.Second
	defaultFallbackRetry   = 60 * time.Second
	defaultPrimaryFailures = 3
	defaultDialTimeout     = 10 * time.Second
	defaultQueueCap        = 256
)

// Config parametrizes the listener.
type Config struct {
	// URL is the primary websocket endpoint.
	URL string
	// FallbackURL is dialed after PrimaryFailures consecutive primary
	// failures. Empty disables the fallback.
	FallbackURL string
	// ProgramAddress is the bridge program whose logs are watched.
	ProgramAddress string
	// ReconnectBase and ReconnectMax bound the jittered exponential
	// backoff between connection attempts.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	// FallbackRetry is how long the listener stays on the fallback
	// before probing the primary again, defaultFallbackRetry when zero.
	FallbackRetry time.Duration
	// PrimaryFailures is how many consecutive primary failures trigger
	// the fallback switch, defaultPrimaryFailures when zero.
	PrimaryFailures int
	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration
	// QueueCap is the event queue capacity, defaultQueueCap when zero.
	QueueCap int
	// Clock is the time source, real when nil.
	Clock scheduler.Clock
}

// queuedEvent is one decoded event awaiting the consumer.
type queuedEvent struct {
	signature string
	slot      uint64
	ev        *solana.DecodedEvent
}

// outcome tells the reconnect loop how a session ended.
type outcome int

const (
	outcomeError outcome = iota
	outcomeQuit
	outcomeProbePrimary
)

// Service is the chain-S websocket listener.
type Service struct {
	cfg   Config
	log   *zap.Logger
	clock scheduler.Clock

	events *repository.Events

	queue        chan queuedEvent
	quit         chan struct{}
	done         chan struct{}
	consumerDone chan struct{}

	// isActive denotes whether the service runs or is shutting down.
	isActive atomic.Bool
}

// New wires the listener from its dependencies.
func New(cfg Config, events *repository.Events, log *zap.Logger) (*Service, error) {
	if cfg.URL == "" {
		return nil, errors.New("websocket URL is required")
	}
	if cfg.ProgramAddress == "" {
		return nil, errors.New("bridge program address is required")
	}
	if events == nil {
		return nil, errors.New("events repository is required")
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = cfg.ReconnectBase
	}
	if cfg.FallbackRetry <= 0 {
		cfg.FallbackRetry = defaultFallbackRetry
	}
	if cfg.PrimaryFailures <= 0 {
		cfg.PrimaryFailures = defaultPrimaryFailures
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = defaultQueueCap
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:          cfg,
		log:          log,
		clock:        cfg.Clock,
		events:       events,
		queue:        make(chan queuedEvent, cfg.QueueCap),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		consumerDone: make(chan struct{}),
	}, nil
}

// Name returns the service name.
func (s *Service) Name() string {
	return "solana listener"
}

// Start launches the consumer and the connection loop.
func (s *Service) Start() error {
	if !s.isActive.CompareAndSwap(false, true) {
		return errors.New("solana listener already started")
	}
	s.log.Info("starting solana listener",
		zap.String("url", s.cfg.URL),
		zap.String("program", s.cfg.ProgramAddress))
	go s.consume()
	go s.run()
	return nil
}

// Shutdown closes the connection, stops reconnecting and drains the event
// queue before returning.
func (s *Service) Shutdown() {
	if !s.isActive.CompareAndSwap(true, false) {
		return
	}
	s.log.Info("solana listener shutting down")
	close(s.quit)
	<-s.done
	close(s.queue)
	<-s.consumerDone
}

func (s *Service) closing() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// run owns the whole reconnect state machine. Exactly one wait is pending
// at any time, so a burst of connection errors cannot stack reconnects.
func (s *Service) run() {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.quit
		cancel()
	}()

	backoff := s.cfg.ReconnectBase
	var (
		primFailures  int
		usingFallback bool
		retryPrimary  time.Time
	)
	for {
		if s.closing() {
			return
		}

		target := s.cfg.URL
		probe := false
		probeAfter := time.Duration(0)
		if usingFallback {
			if d := retryPrimary.Sub(s.clock.Now()); d > 0 {
				target = s.cfg.FallbackURL
				probeAfter = d
			} else {
				probe = true
			}
		}

		oc, subscribed, err := s.runSession(ctx, target, probeAfter)
		if subscribed {
			backoff = s.cfg.ReconnectBase
			if target == s.cfg.URL {
				usingFallback = false
				primFailures = 0
			}
		}
		switch oc {
		case outcomeQuit:
			return
		case outcomeProbePrimary:
			// The fallback session was closed on purpose, probe the
			// primary right away.
			retryPrimary = s.clock.Now()
			continue
		}

		incReconnects()
		if !s.closing() {
			s.log.Warn("websocket session ended",
				zap.String("url", target),
				zap.Error(err))
		}
		if target == s.cfg.URL && !subscribed {
			primFailures++
		}
		switch {
		case probe && !subscribed:
			// The primary is still down, stay on the fallback.
			retryPrimary = s.clock.Now().Add(s.cfg.FallbackRetry)
		case !usingFallback && s.cfg.FallbackURL != "" && primFailures >= s.cfg.PrimaryFailures:
			usingFallback = true
			retryPrimary = s.clock.Now().Add(s.cfg.FallbackRetry)
			s.log.Info("switching to fallback websocket",
				zap.String("url", s.cfg.FallbackURL))
		}

		if err := scheduler.Sleep(ctx, s.clock, jittered(backoff)); err != nil {
			return
		}
		backoff = min(2*backoff, s.cfg.ReconnectMax)
	}
}

// runSession drives one connection from dial to teardown. probeAfter > 0
// arms a timer that deliberately ends a fallback session to retry the
// primary endpoint.
func (s *Service) runSession(ctx context.Context, url string, probeAfter time.Duration) (outcome, bool, error) {
	sess, err := s.dial(ctx, url)
	if err != nil {
		return outcomeError, false, err
	}
	defer sess.stop()

	subID, err := sess.subscribe(s.cfg.ProgramAddress)
	if err != nil {
		return outcomeError, false, err
	}
	s.log.Info("websocket subscribed",
		zap.String("url", url),
		zap.Int64("subscription", subID))
	updConnected(true)
	defer updConnected(false)

	var probeC <-chan time.Time
	if probeAfter > 0 {
		t := s.clock.NewTimer(probeAfter)
		defer t.Stop()
		probeC = t.Chan()
	}
	select {
	case <-s.quit:
		sess.unsubscribe(subID)
		return outcomeQuit, true, nil
	case <-sess.done:
		return outcomeError, true, errConnectionLost
	case <-probeC:
		s.log.Info("retrying primary websocket", zap.String("url", s.cfg.URL))
		sess.unsubscribe(subID)
		return outcomeProbePrimary, true, nil
	}
}

// handleNotification filters one logsNotification and queues its decoded
// events in declared order. Failed transactions and frames without an
// explicit null error are ignored.
func (s *Service) handleNotification(p *logsParams) {
	v := &p.Result.Value
	if v.Signature == "" || len(v.Logs) == 0 {
		return
	}
	if len(v.Err) == 0 || string(v.Err) != "null" {
		return
	}
	for _, line := range v.Logs {
		ev := solana.DecodeProgramData(line)
		if ev == nil {
			continue
		}
		if ev.Type == bridge.EventInbound {
			s.log.Debug("inbound event left to the poller",
				zap.String("signature", v.Signature))
			continue
		}
		select {
		case s.queue <- queuedEvent{signature: v.Signature, slot: p.Result.Context.Slot, ev: ev}:
		case <-s.quit:
			return
		}
	}
}

// consume is the single queue consumer: it keeps per-connection FIFO order
// and outlives handler failures.
func (s *Service) consume() {
	defer close(s.consumerDone)
	for item := range s.queue {
		if err := s.persist(item); err != nil {
			s.log.Warn("event handler failed",
				zap.String("signature", item.signature),
				zap.Error(err))
		}
	}
}

func (s *Service) persist(item queuedEvent) error {
	payload, err := json.Marshal(item.ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	slot := item.slot
	stored, err := s.events.Create(bridge.StoredEvent{
		Signature: item.signature,
		Slot:      &slot,
		Chain:     bridge.ChainSolana,
		Type:      item.ev.Type,
		Nonce:     item.ev.Nonce,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	if stored == nil {
		return nil
	}
	incStoredEvents()
	s.log.Debug("stored chain event",
		zap.String("signature", item.signature),
		zap.String("type", string(item.ev.Type)),
		zap.String("nonce", item.ev.Nonce))
	return nil
}

// jittered picks a uniform duration from [d/2, d].
func jittered(d time.Duration) time.Duration {
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int63n(half+1))
}
