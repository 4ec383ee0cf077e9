/*
Package solpoller sweeps the Solana transaction history of the bridge
program and turns its program-data logs into stored chain events.

Each round covers a closed blockTime window and pages through it until the
history endpoint stops returning a pagination token. Windows always reach
60 seconds (the lookback) behind the previous one, and a failed round arms
a degraded window anchored at the last successful sweep, so restarts and
outages never lose events: everything fetched twice is deduplicated against
the events repository before processing.
*/
package solpoller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qsbridge/bridgehub/pkg/bridge"
	"github.com/qsbridge/bridgehub/pkg/netclient"
	"github.com/qsbridge/bridgehub/pkg/repository"
	"github.com/qsbridge/bridgehub/pkg/scheduler"
	"github.com/qsbridge/bridgehub/pkg/solana"
)

// Default sweep parameters.
const (
	defaultInterval       = 30 * time.Second
	defaultLookback       = 60 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultRetryDelay     = 2 * time.Second
	defaultRoundTimeout   = 5 * time.Minute

	// pageRetries is how many extra attempts one history page gets.
	pageRetries = 2
	// seenCacheSize bounds the in-memory signature cache that spares the
	// repository a lookup for transactions refetched by window overlap.
	seenCacheSize = 4096
)

// backoffMultipliers stretch the base interval while the program is quiet.
var backoffMultipliers = [...]time.Duration{1, 2, 3}

// Config parametrizes the history poller.
type Config struct {
	// RPCURL is the enhanced transaction-history endpoint.
	RPCURL string
	// ProgramAddress is the bridge program whose history is swept.
	ProgramAddress string
	// Interval is the base time between rounds, defaultInterval when zero.
	// The effective interval is Interval times the current backoff
	// multiplier.
	Interval time.Duration
	// Lookback is how far every window reaches behind the previous one,
	// defaultLookback when zero.
	Lookback time.Duration
	// RequestTimeout bounds a single page request, defaultRequestTimeout
	// when zero.
	RequestTimeout time.Duration
	// RetryDelay is the base delay between page retries,
	// defaultRetryDelay when zero. The actual delay is uniform in
	// [0, 2*RetryDelay].
	RetryDelay time.Duration
	// RoundTimeout bounds one whole sweep, defaultRoundTimeout when zero.
	RoundTimeout time.Duration
	// Clock is the time source, real when nil.
	Clock scheduler.Clock
}

// roundResult is what one successful sweep hands to the tier logic.
type roundResult struct {
	txs       int
	windowEnd time.Time
}

// Service is the chain-S transaction poller.
type Service struct {
	cfg   Config
	log   *zap.Logger
	clock scheduler.Clock

	history *solana.HistoryClient
	events  *repository.Events
	poller  *scheduler.Poller[roundResult]

	// seen caches signatures already handled or found stored, so window
	// overlap does not hit the repository for every refetched transaction.
	seen *lru.Cache

	// mu guards the sweep state below.
	mu             sync.Mutex
	tier           int
	degraded       bool
	lastSuccessEnd time.Time

	// isActive denotes whether the service runs or is shutting down.
	isActive atomic.Bool
}

// New wires the poller from its dependencies.
func New(cfg Config, events *repository.Events, http *netclient.Client, log *zap.Logger) (*Service, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("history RPC URL is required")
	}
	if cfg.ProgramAddress == "" {
		return nil, errors.New("bridge program address is required")
	}
	if events == nil || http == nil {
		return nil, errors.New("events repository and http client are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = defaultRoundTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	seen, _ := lru.New(seenCacheSize) // Never errors for positive size.
	s := &Service{
		cfg:     cfg,
		log:     log,
		clock:   cfg.Clock,
		history: solana.NewHistoryClient(http, cfg.RPCURL, cfg.ProgramAddress),
		events:  events,
		seen:    seen,
	}
	var err error
	s.poller, err = scheduler.NewPoller(scheduler.Config[roundResult]{
		Name:           "solana-history",
		Servers:        []string{cfg.RPCURL},
		FetchOne:       s.sweep,
		OnRound:        s.onRound,
		Interval:       s.currentInterval,
		RequestTimeout: cfg.RoundTimeout,
		Clock:          cfg.Clock,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("history poller: %w", err)
	}
	return s, nil
}

// Name returns the service name.
func (s *Service) Name() string {
	return "solana poller"
}

// Start launches the sweep loop.
func (s *Service) Start() error {
	if !s.isActive.CompareAndSwap(false, true) {
		return errors.New("solana poller already started")
	}
	s.log.Info("starting solana poller",
		zap.String("program", s.cfg.ProgramAddress),
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("lookback", s.cfg.Lookback))
	return s.poller.Start()
}

// Shutdown stops the sweep loop and waits for the current round to settle.
func (s *Service) Shutdown() {
	if !s.isActive.CompareAndSwap(true, false) {
		return
	}
	s.log.Info("solana poller shutting down")
	s.poller.Shutdown()
}

// currentInterval yields the effective round interval for the tier.
func (s *Service) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervalLocked()
}

func (s *Service) intervalLocked() time.Duration {
	return s.cfg.Interval * backoffMultipliers[s.tier]
}

// nextWindow computes the blockTime range of the upcoming sweep. Degraded
// mode re-covers everything since the last successful window instead of
// trusting the interval arithmetic.
func (s *Service) nextWindow() solana.Window {
	now := s.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded && !s.lastSuccessEnd.IsZero() {
		return solana.Window{Start: s.lastSuccessEnd.Add(-s.cfg.Lookback), End: now}
	}
	return solana.Window{Start: now.Add(-(s.intervalLocked() + s.cfg.Lookback)), End: now}
}

// sweep runs one full windowed sweep: pages are fetched sequentially while
// their transactions are deduplicated and processed concurrently, and all
// page work is awaited before the round settles either way.
func (s *Service) sweep(ctx context.Context, _ string) (roundResult, error) {
	window := s.nextWindow()

	var (
		g        errgroup.Group
		mtx      sync.Mutex
		handled  int
		fetchErr error
	)
	token := ""
	for {
		page, err := s.fetchPage(ctx, window, token)
		if err != nil {
			fetchErr = err
			break
		}
		incPages()
		txs := page.Data
		g.Go(func() error {
			n, err := s.processPage(txs)
			mtx.Lock()
			handled += n
			mtx.Unlock()
			return err
		})
		if page.PaginationToken == "" {
			break
		}
		token = page.PaginationToken
	}
	procErr := g.Wait()

	err := fetchErr
	if err == nil {
		err = procErr
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Warn("history sweep failed",
				zap.Time("windowStart", window.Start),
				zap.Time("windowEnd", window.End),
				zap.Error(err))
		}
		return roundResult{}, err
	}
	return roundResult{txs: handled, windowEnd: window.End}, nil
}

// fetchPage requests one history page, giving a failed request pageRetries
// extra attempts separated by randomized cancellable delays.
func (s *Service) fetchPage(ctx context.Context, w solana.Window, token string) (*solana.Page, error) {
	var lastErr error
	for attempt := 0; attempt <= pageRetries; attempt++ {
		if attempt > 0 {
			d := time.Duration(2 * rand.Float64() * float64(s.cfg.RetryDelay))
			if err := scheduler.Sleep(ctx, s.clock, d); err != nil {
				return nil, err
			}
		}
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		page, err := s.history.FetchPage(rctx, w, token)
		cancel()
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Debug("history page fetch failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// processPage drops transactions already stored or recently handled and
// runs the survivors through the decoder. It returns how many survivors
// were handled; a repository failure aborts the round.
func (s *Service) processPage(txs []solana.Transaction) (int, error) {
	fresh := make([]solana.Transaction, 0, len(txs))
	sigs := make([]string, 0, len(txs))
	for _, tx := range txs {
		if s.seen.Contains(tx.Signature) {
			continue
		}
		fresh = append(fresh, tx)
		sigs = append(sigs, tx.Signature)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	existing, err := s.events.FindExistingSignatures(sigs)
	if err != nil {
		return 0, fmt.Errorf("failed to check stored signatures: %w", err)
	}
	var handled int
	for _, tx := range fresh {
		if _, ok := existing[tx.Signature]; ok {
			s.seen.Add(tx.Signature, struct{}{})
			continue
		}
		if err := s.handleTransaction(tx); err != nil {
			return handled, err
		}
		s.seen.Add(tx.Signature, struct{}{})
		handled++
	}
	return handled, nil
}

// handleTransaction stores every bridge event found in the program logs of
// one transaction. Failed transactions and transactions without logs carry
// no events and are skipped.
func (s *Service) handleTransaction(tx solana.Transaction) error {
	if tx.Meta.Failed() || len(tx.Meta.LogMessages) == 0 {
		return nil
	}
	slot := tx.Slot
	for _, line := range tx.Meta.LogMessages {
		ev := solana.DecodeProgramData(line)
		if ev == nil {
			continue
		}
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}
		stored, err := s.events.Create(bridge.StoredEvent{
			Signature: tx.Signature,
			Slot:      &slot,
			Chain:     bridge.ChainSolana,
			Type:      ev.Type,
			Nonce:     ev.Nonce,
			Payload:   payload,
		})
		if err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}
		if stored == nil {
			continue
		}
		incStoredEvents()
		s.log.Debug("stored chain event",
			zap.String("signature", tx.Signature),
			zap.String("type", string(ev.Type)),
			zap.String("nonce", ev.Nonce))
	}
	return nil
}

// onRound advances the backoff tier. A failed sweep resets the tier and
// arms the degraded window so that the next round re-covers the gap.
func (s *Service) onRound(_ context.Context, results []roundResult) {
	incRounds()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(results) == 0 {
		incRoundFailures()
		s.degraded = true
		s.tier = 0
		updBackoffTier(s.tier)
		return
	}
	r := results[0]
	s.degraded = false
	s.lastSuccessEnd = r.windowEnd
	if r.txs > 0 {
		s.tier = 0
	} else if s.tier < len(backoffMultipliers)-1 {
		s.tier++
	}
	updBackoffTier(s.tier)
	s.log.Debug("history sweep complete",
		zap.Int("transactions", r.txs),
		zap.Int("tier", s.tier))
}
