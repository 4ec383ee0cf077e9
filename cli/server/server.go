// Package server implements the `bridgehub server` command.
package server

import (
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qsbridge/bridgehub/cli/cmdargs"
	"github.com/qsbridge/bridgehub/cli/options"
	"github.com/qsbridge/bridgehub/pkg/bridge"
	"github.com/qsbridge/bridgehub/pkg/config"
	"github.com/qsbridge/bridgehub/pkg/fees"
	"github.com/qsbridge/bridgehub/pkg/keys"
	"github.com/qsbridge/bridgehub/pkg/netclient"
	"github.com/qsbridge/bridgehub/pkg/qubic"
	"github.com/qsbridge/bridgehub/pkg/repository"
	"github.com/qsbridge/bridgehub/pkg/services/apisrv"
	"github.com/qsbridge/bridgehub/pkg/services/metrics"
	"github.com/qsbridge/bridgehub/pkg/services/oracles"
	"github.com/qsbridge/bridgehub/pkg/services/qubicpoller"
	"github.com/qsbridge/bridgehub/pkg/services/sollistener"
	"github.com/qsbridge/bridgehub/pkg/services/solpoller"
	"github.com/qsbridge/bridgehub/pkg/signer"
	"github.com/qsbridge/bridgehub/pkg/solana"
	"github.com/qsbridge/bridgehub/pkg/storage"
)

// NewCommands returns 'server' command.
func NewCommands() []cli.Command {
	return []cli.Command{
		{
			Name:   "server",
			Usage:  "start the bridge hub",
			Action: startServer,
			Flags:  []cli.Flag{options.ConfigFile, options.EnvFile, options.Debug},
		},
	}
}

// hub is the fully wired process: storage, repositories and every service,
// kept together so start and shutdown can walk them in dependency order.
type hub struct {
	log *zap.Logger

	store storage.Store
	http  *netclient.Client
	keys  *keys.Store

	fleet  *oracles.Fleet
	solp   *solpoller.Service
	soll   *sollistener.Service
	qubicp *qubicpoller.Service
	api    *apisrv.Server
	prom   *metrics.Service
	pprof  *metrics.Service
}

// newHub builds the whole service stack from the configuration. Chain
// services stay nil when disabled. Runtime service failures go to errChan.
func newHub(cfg config.Config, errChan chan<- error, log *zap.Logger) (h *hub, err error) {
	a := cfg.ApplicationConfiguration

	store, err := storage.NewStore(a.DBConfiguration)
	if err != nil {
		return nil, fmt.Errorf("could not initialize storage: %w", err)
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()
	if err = repository.Init(store); err != nil {
		return nil, fmt.Errorf("could not initialize storage schema: %w", err)
	}

	ks, err := keys.NewStore(a.Keys.File, log)
	if err != nil {
		return nil, fmt.Errorf("could not load hub keys: %w", err)
	}

	h = &hub{
		log:   log,
		store: store,
		http:  netclient.New(netclient.Config{}),
		keys:  ks,
	}

	orders := repository.NewOrders(store)
	events := repository.NewEvents(store)

	h.fleet, err = oracles.NewFleet(oracles.Config{
		Servers:        a.OracleFleet.URLs,
		Threshold:      a.OracleFleet.SignatureThreshold,
		OracleCount:    a.OracleFleet.OracleCount,
		Interval:       a.OracleFleet.Interval,
		RequestTimeout: a.OracleFleet.RequestTimeout,
		Jitter:         a.OracleFleet.Jitter,
	}, orders, signer.New(ks), h.http, log)
	if err != nil {
		return nil, fmt.Errorf("could not create oracle fleet: %w", err)
	}

	if a.SolanaPoller.Enabled {
		h.solp, err = solpoller.New(solpoller.Config{
			RPCURL:         a.SolanaPoller.RPCURL,
			ProgramAddress: a.TokenMint,
			Interval:       a.SolanaPoller.Interval,
			Lookback:       a.SolanaPoller.Lookback,
			RequestTimeout: a.SolanaPoller.RequestTimeout,
			RetryDelay:     a.SolanaPoller.RetryDelay,
		}, events, h.http, log)
		if err != nil {
			return nil, fmt.Errorf("could not create solana poller: %w", err)
		}
	}
	if a.SolanaListener.Enabled {
		h.soll, err = sollistener.New(sollistener.Config{
			URL:            a.SolanaListener.WSURL,
			FallbackURL:    a.SolanaListener.FallbackWSURL,
			ProgramAddress: a.TokenMint,
			ReconnectBase:  a.SolanaListener.ReconnectBase,
			ReconnectMax:   a.SolanaListener.ReconnectMax,
			FallbackRetry:  a.SolanaListener.FallbackRetry,
		}, events, log)
		if err != nil {
			return nil, fmt.Errorf("could not create solana listener: %w", err)
		}
	}
	if a.QubicPoller.Enabled {
		h.qubicp, err = qubicpoller.New(qubicpoller.Config{
			URL:            a.QubicPoller.RPCURL,
			Interval:       a.QubicPoller.Interval,
			RequestTimeout: a.QubicPoller.RequestTimeout,
		}, events, h.http, log)
		if err != nil {
			return nil, fmt.Errorf("could not create qubic poller: %w", err)
		}
	}

	estimator, err := newEstimator(a, h.fleet.Registry(), h.http, log)
	if err != nil {
		return nil, err
	}

	oracleCount := a.OracleFleet.OracleCount
	if oracleCount <= 0 {
		oracleCount = len(a.OracleFleet.URLs)
	}
	h.api, err = apisrv.New(apisrv.Config{
		Address:     a.RelayerAPI.BindAddress(),
		Paused:      a.RelayerAPI.Paused,
		RateLimit:   a.RelayerAPI.RateLimitMax,
		Threshold:   a.OracleFleet.SignatureThreshold,
		OracleCount: oracleCount,
	}, orders, events, h.fleet.Registry(), ks, estimator, errChan, log)
	if err != nil {
		return nil, fmt.Errorf("could not create API server: %w", err)
	}

	h.prom = metrics.NewPrometheusService(a.Prometheus, errChan, log)
	h.pprof = metrics.NewPprofService(a.Pprof, errChan, log)
	return h, nil
}

// newEstimator wires the fee estimator: a chain-S cost estimator when the
// RPC endpoint is configured and a flat chain-Q fee from the configuration.
func newEstimator(a config.ApplicationConfiguration, reg *oracles.Registry, http *netclient.Client, log *zap.Logger) (*fees.Estimator, error) {
	costs := make(map[bridge.Chain]fees.NetworkCostEstimator)
	if a.SolanaPoller.RPCURL != "" && a.TokenMint != "" {
		costs[bridge.ChainSolana] = solana.NewCostEstimator(http, a.SolanaPoller.RPCURL, a.TokenMint)
	}
	var qubicFee *big.Int
	if a.Fees.QubicNetworkFee != "" {
		fee, err := bridge.ParseAmount(a.Fees.QubicNetworkFee)
		if err != nil {
			return nil, fmt.Errorf("bad qubic network fee: %w", err)
		}
		qubicFee = fee
	}
	costs[bridge.ChainQubic] = qubic.NewCostEstimator(qubicFee)
	return fees.New(fees.Config{
		BpsFee:              a.Fees.BpsFee,
		ProtocolFeeBpsOfBps: a.Fees.ProtocolFeeBpsOfBps,
		MinHealthyOracles:   a.Fees.MinHealthyOracles,
	}, reg, costs, log), nil
}

// start launches the services: metrics first so the process is observable
// while the rest comes up, ingestion next, the API surface last.
func (h *hub) start() error {
	h.prom.Start()
	h.pprof.Start()
	if err := h.fleet.Start(); err != nil {
		return err
	}
	if h.solp != nil {
		if err := h.solp.Start(); err != nil {
			return err
		}
	}
	if h.soll != nil {
		if err := h.soll.Start(); err != nil {
			return err
		}
	}
	if h.qubicp != nil {
		if err := h.qubicp.Start(); err != nil {
			return err
		}
	}
	h.api.Start()
	return nil
}

// shutdown stops everything: pollers, the websocket listener (which
// unsubscribes before closing), the HTTP surface, metrics, client pools and
// finally storage. Safe to call on a hub that never started.
func (h *hub) shutdown() {
	h.fleet.Shutdown()
	if h.solp != nil {
		h.solp.Shutdown()
	}
	if h.qubicp != nil {
		h.qubicp.Shutdown()
	}
	if h.soll != nil {
		h.soll.Shutdown()
	}
	h.api.Shutdown()
	h.prom.ShutDown()
	h.pprof.ShutDown()
	h.http.Close()
	if err := h.store.Close(); err != nil {
		h.log.Error("failed to close storage", zap.Error(err))
	}
}

func startServer(ctx *cli.Context) error {
	if err := cmdargs.EnsureNone(ctx); err != nil {
		return err
	}
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	var logDebug = ctx.Bool("debug")
	log, logLevel, logCloser, err := options.HandleLoggingParams(logDebug, cfg.ApplicationConfiguration)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer func() {
		if logCloser != nil {
			_ = logCloser()
		}
	}()

	a := cfg.ApplicationConfiguration
	if a.SolanaPoller.Enabled && a.SolanaListener.Enabled {
		log.Warn("both the solana history poller and the websocket listener are enabled, " +
			"duplicate ingest is absorbed by event uniqueness")
	}

	errChan := make(chan error)
	h, err := newHub(cfg, errChan, log)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if err := h.start(); err != nil {
		h.shutdown()
		return cli.NewExitError(err, 1)
	}
	log.Info("bridge hub started",
		zap.String("userAgent", cfg.GenerateUserAgent()),
		zap.String("api", h.api.Addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var shutdownErr error
Main:
	for {
		select {
		case err := <-errChan:
			shutdownErr = fmt.Errorf("server error: %w", err)
			break Main
		case sig := <-sigCh:
			log.Info("signal received", zap.Stringer("name", sig))
			switch sig {
			case syscall.SIGHUP:
				if err := h.keys.Reload(); err != nil {
					log.Warn("hub keys reload failed", zap.Error(err))
				}
				cfgnew, err := options.GetConfigFromContext(ctx)
				if err != nil {
					log.Warn("configuration reload failed", zap.Error(err))
					break
				}
				newLevel, err := zapcore.ParseLevel(cfgnew.ApplicationConfiguration.LogLevel)
				if err != nil {
					log.Warn("configuration reload failed", zap.Error(err))
				} else if !logDebug && newLevel != logLevel.Level() {
					logLevel.SetLevel(newLevel)
					log.Warn("using new logging level", zap.Stringer("level", newLevel))
				}
			default:
				break Main
			}
		}
	}
	signal.Stop(sigCh)

	h.shutdown()
	_ = log.Sync()

	if shutdownErr != nil {
		return cli.NewExitError(shutdownErr, 1)
	}
	return nil
}
