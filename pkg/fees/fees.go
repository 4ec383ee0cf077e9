/*
Package fees computes the user-facing fee breakdown of a transfer: the
bridge's own basis-point fee, the relayer fee as a median over healthy
oracle quotes and the network cost of the source chain. All monetary values
travel as decimal strings and all arithmetic stays in big integers.
*/
package fees

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/qsbridge/bridgehub/pkg/bridge"
)

// Estimator defaults, basis points are relative to 10000.
const (
	// DefaultBpsFee is the bridge fee taken from the amount.
	DefaultBpsFee = 100
	// DefaultProtocolFeeBpsOfBps is the protocol's share of the bridge fee.
	DefaultProtocolFeeBpsOfBps = 1000
	// DefaultMinHealthyOracles is how many healthy oracles a relayer fee
	// median needs to be trustworthy.
	DefaultMinHealthyOracles = 4

	bpsDenominator = 10_000
)

// ErrEstimateUnavailable means too few healthy oracles to quote a relayer
// fee. The condition is temporary, callers should retry.
var ErrEstimateUnavailable = errors.New("fee estimate unavailable: not enough healthy oracles")

// HealthSource yields the current healthy oracle set.
type HealthSource interface {
	Healthy() []bridge.OracleHealth
}

// NetworkCostEstimator quotes the network fee a user pays on one chain.
type NetworkCostEstimator interface {
	EstimateUserNetworkFee(ctx context.Context) (*big.Int, error)
}

// Config tunes the estimator. Zero values fall back to the defaults.
type Config struct {
	BpsFee              int64
	ProtocolFeeBpsOfBps int64
	MinHealthyOracles   int
}

// Input is one estimate request.
type Input struct {
	NetworkIn   bridge.Chain
	NetworkOut  bridge.Chain
	FromAddress string
	ToAddress   string
	Amount      *big.Int
}

// BridgeFee is the bridge's own fee split.
type BridgeFee struct {
	OracleFee   string `json:"oracleFee"`
	ProtocolFee string `json:"protocolFee"`
	Total       string `json:"total"`
}

// Estimate is the full fee breakdown for one transfer.
type Estimate struct {
	BridgeFee    BridgeFee `json:"bridgeFee"`
	RelayerFee   string    `json:"relayerFee"`
	NetworkFee   string    `json:"networkFee"`
	UserReceives string    `json:"userReceives"`
}

// Estimator combines oracle quotes with per-chain cost estimators.
type Estimator struct {
	cfg     Config
	oracles HealthSource
	costs   map[bridge.Chain]NetworkCostEstimator
	log     *zap.Logger
}

// New returns an Estimator. Cost estimators are keyed by source chain.
func New(cfg Config, oracles HealthSource, costs map[bridge.Chain]NetworkCostEstimator, log *zap.Logger) *Estimator {
	if cfg.BpsFee <= 0 {
		cfg.BpsFee = DefaultBpsFee
	}
	if cfg.ProtocolFeeBpsOfBps <= 0 {
		cfg.ProtocolFeeBpsOfBps = DefaultProtocolFeeBpsOfBps
	}
	if cfg.MinHealthyOracles <= 0 {
		cfg.MinHealthyOracles = DefaultMinHealthyOracles
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Estimator{cfg: cfg, oracles: oracles, costs: costs, log: log}
}

// Estimate computes the fee breakdown for in. The relayer fee is the median
// quote of healthy oracles for the destination chain; the network fee comes
// from the source chain's cost estimator.
func (e *Estimator) Estimate(ctx context.Context, in Input) (*Estimate, error) {
	if !in.NetworkIn.Valid() || !in.NetworkOut.Valid() {
		return nil, fmt.Errorf("unknown network pair %q -> %q", in.NetworkIn, in.NetworkOut)
	}
	if in.NetworkIn == in.NetworkOut {
		return nil, bridge.ErrSameChain
	}
	if in.Amount == nil || in.Amount.Sign() < 0 {
		return nil, errors.New("amount must be a non-negative integer")
	}

	oracleFee := bridge.MulDivFloor(in.Amount, e.cfg.BpsFee, bpsDenominator)
	protocolFee := bridge.MulDivFloor(oracleFee, e.cfg.ProtocolFeeBpsOfBps, bpsDenominator)
	totalBridgeFee := new(big.Int).Add(oracleFee, protocolFee)

	relayerFee, err := e.relayerFee(in.NetworkOut)
	if err != nil {
		return nil, err
	}

	cost, ok := e.costs[in.NetworkIn]
	if !ok {
		return nil, fmt.Errorf("no cost estimator for chain %q", in.NetworkIn)
	}
	networkFee, err := cost.EstimateUserNetworkFee(ctx)
	if err != nil {
		return nil, fmt.Errorf("network fee estimation failed: %w", err)
	}

	userReceives := new(big.Int).Sub(in.Amount, totalBridgeFee)
	userReceives.Sub(userReceives, relayerFee)

	return &Estimate{
		BridgeFee: BridgeFee{
			OracleFee:   bridge.FormatAmount(oracleFee),
			ProtocolFee: bridge.FormatAmount(protocolFee),
			Total:       bridge.FormatAmount(totalBridgeFee),
		},
		RelayerFee:   bridge.FormatAmount(relayerFee),
		NetworkFee:   bridge.FormatAmount(networkFee),
		UserReceives: bridge.FormatAmount(userReceives),
	}, nil
}

// relayerFee medians the destination-chain quotes of healthy oracles.
func (e *Estimator) relayerFee(dest bridge.Chain) (*big.Int, error) {
	healthy := e.oracles.Healthy()
	if len(healthy) < e.cfg.MinHealthyOracles {
		e.log.Warn("fee estimate refused",
			zap.Int("healthy", len(healthy)),
			zap.Int("required", e.cfg.MinHealthyOracles))
		return nil, ErrEstimateUnavailable
	}
	quotes := make([]*big.Int, 0, len(healthy))
	for _, h := range healthy {
		q, err := bridge.ParseAmount(h.RelayerFeeFor(dest))
		if err != nil {
			// Registry normalizes quotes at ingest, a bad one here
			// is a bug worth hearing about.
			e.log.Warn("skipping malformed relayer fee quote",
				zap.String("url", h.URL), zap.Error(err))
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) < e.cfg.MinHealthyOracles {
		return nil, ErrEstimateUnavailable
	}
	return bridge.Median(quotes), nil
}
