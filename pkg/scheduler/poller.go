package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Poller repeatedly fans a fetch out to a fixed set of servers and hands
// every round's successful results to a single callback. Failures of
// individual servers never fail a round; they are the fetch callback's
// business to observe.
type Poller[T any] struct {
	cfg   Config[T]
	clock Clock
	log   *zap.Logger

	// isActive denotes whether the poller runs or is shutting down.
	isActive atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

// Config parametrizes a Poller.
type Config[T any] struct {
	// Name tags log lines of this poller.
	Name string
	// Servers is the ordered set of targets, must not be empty.
	Servers []string
	// FetchOne queries a single server. The context carries the
	// per-request timeout; errors are logged at debug and dropped.
	FetchOne func(ctx context.Context, server string) (T, error)
	// OnRound receives the successful results of one round, called
	// exactly once per completed round (skipped when the poller was
	// stopped mid-round). Result order follows completion, not Servers.
	OnRound func(ctx context.Context, results []T)
	// Interval yields the wait target for the current round, letting
	// callers back off dynamically. See StaticInterval.
	Interval func() time.Duration
	// RequestTimeout bounds every FetchOne call.
	RequestTimeout time.Duration
	// Jitter delays each round by a uniform random duration in
	// [0, Jitter]. Zero disables jitter.
	Jitter time.Duration
	// Clock is the time source, real when nil.
	Clock Clock
	// Logger is the poller logger, no-op when nil.
	Logger *zap.Logger
}

// StaticInterval wraps a constant round interval.
func StaticInterval(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

// NewPoller validates cfg and creates a stopped poller.
func NewPoller[T any](cfg Config[T]) (*Poller[T], error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no servers to poll")
	}
	if cfg.FetchOne == nil || cfg.OnRound == nil {
		return nil, errors.New("both FetchOne and OnRound are required")
	}
	if cfg.Interval == nil {
		return nil, errors.New("an interval source is required")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, errors.New("request timeout must be positive")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Name != "" {
		log = log.With(zap.String("poller", cfg.Name))
	}
	return &Poller[T]{
		cfg:   cfg,
		clock: clock,
		log:   log,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}, nil
}

// Name returns the poller name.
func (p *Poller[T]) Name() string {
	return p.cfg.Name
}

// Start launches the polling loop. Starting twice is refused.
func (p *Poller[T]) Start() error {
	if !p.isActive.CompareAndSwap(false, true) {
		return errors.New("poller already started")
	}
	go p.loop()
	return nil
}

// Shutdown stops the loop, cancels in-flight requests and waits for the
// loop to exit. It is idempotent and a no-op before Start.
func (p *Poller[T]) Shutdown() {
	if !p.isActive.Load() {
		return
	}
	p.quitOnce.Do(func() {
		close(p.quit)
	})
	<-p.done
}

func (p *Poller[T]) loop() {
	defer close(p.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.quit
		cancel()
	}()

	for {
		select {
		case <-p.quit:
			return
		default:
		}
		started := p.clock.Now()
		if p.cfg.Jitter > 0 {
			d := time.Duration(rand.Int63n(int64(p.cfg.Jitter) + 1))
			if Sleep(ctx, p.clock, d) != nil {
				return
			}
		}
		results := p.round(ctx)
		if ctx.Err() != nil {
			return
		}
		p.cfg.OnRound(ctx, results)

		wait := p.cfg.Interval() - p.clock.Since(started)
		if Sleep(ctx, p.clock, wait) != nil {
			return
		}
	}
}

// round fans FetchOne out to every server and collects the successes.
func (p *Poller[T]) round(ctx context.Context) []T {
	var (
		mtx     sync.Mutex
		wg      sync.WaitGroup
		results = make([]T, 0, len(p.cfg.Servers))
	)
	for _, srv := range p.cfg.Servers {
		wg.Add(1)
		go func(srv string) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
			defer cancel()
			res, err := p.cfg.FetchOne(rctx, srv)
			if err != nil {
				p.log.Debug("fetch failed", zap.String("server", srv), zap.Error(err))
				return
			}
			mtx.Lock()
			results = append(results, res)
			mtx.Unlock()
		}(srv)
	}
	wg.Wait()
	return results
}
