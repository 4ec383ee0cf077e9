package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/qsbridge/bridgehub/pkg/netclient"
)

// Cost model of one outbound order on chain S, in base units.
const (
	// baseFee is the flat per-signature fee.
	baseFee = 5000
	// outboundCU is the compute budget an outbound order consumes.
	outboundCU = 30_000
	// outboundOrderRent is the rent-exempt balance of the order account.
	outboundOrderRent = 2_185_440
)

// CostEstimator computes the network fee a user pays for an outbound order
// from the current recommended priority fee.
type CostEstimator struct {
	http      *netclient.Client
	url       string
	tokenMint string
}

// NewCostEstimator returns a chain-S cost estimator querying the given RPC
// URL with the bridge token mint as the fee market account.
func NewCostEstimator(http *netclient.Client, url, tokenMint string) *CostEstimator {
	return &CostEstimator{http: http, url: url, tokenMint: tokenMint}
}

type priorityFeeRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      int               `json:"id"`
	Method  string            `json:"method"`
	Params  []priorityFeeArgs `json:"params"`
}

type priorityFeeArgs struct {
	AccountKeys []string           `json:"accountKeys"`
	Options     priorityFeeOptions `json:"options"`
}

type priorityFeeOptions struct {
	Recommended bool `json:"recommended"`
}

type priorityFeeResponse struct {
	Result struct {
		PriorityFeeEstimate float64 `json:"priorityFeeEstimate"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// EstimateUserNetworkFee returns base fee + priority portion + order rent.
// The priority portion is the recommended micro-units/CU price scaled to
// the outbound compute budget, rounded up.
func (e *CostEstimator) EstimateUserNetworkFee(ctx context.Context) (*big.Int, error) {
	body, err := json.Marshal(priorityFeeRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getPriorityFeeEstimate",
		Params: []priorityFeeArgs{{
			AccountKeys: []string{e.tokenMint},
			Options:     priorityFeeOptions{Recommended: true},
		}},
	})
	if err != nil {
		return nil, err
	}
	var resp priorityFeeResponse
	if err := e.http.PostJSON(ctx, e.url, body, nil, &resp); err != nil {
		return nil, fmt.Errorf("priority fee request failed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("priority fee request failed: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	micro := resp.Result.PriorityFeeEstimate
	if micro < 0 || math.IsNaN(micro) || math.IsInf(micro, 0) {
		return nil, fmt.Errorf("invalid priority fee estimate %v", micro)
	}
	priority := uint64(math.Ceil(micro * outboundCU / 1e6))
	total := new(big.Int).SetUint64(baseFee + outboundOrderRent)
	return total.Add(total, new(big.Int).SetUint64(priority)), nil
}
