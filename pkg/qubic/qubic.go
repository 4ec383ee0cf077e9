/*
Package qubic talks to the chain-Q side of the bridge through an event
gateway: one endpoint reporting bridge events, plus a flat network-fee
estimator until the chain exposes a fee market.
*/
package qubic

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/qsbridge/bridgehub/pkg/netclient"
)

// Event is one bridge event as reported by the chain-Q gateway. Entries
// without a transaction hash are unusable and get skipped by the poller.
type Event struct {
	TrxHash string          `json:"trxHash"`
	Type    string          `json:"type"`
	Nonce   string          `json:"nonce"`
	Tick    *uint64         `json:"tick,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client fetches bridge events from the chain-Q gateway.
type Client struct {
	http *netclient.Client
	url  string
}

// NewClient returns a gateway client for the given events URL.
func NewClient(http *netclient.Client, url string) *Client {
	return &Client{http: http, url: url}
}

// FetchEvents returns the gateway's current event list. The payload may be
// a bare array or wrapped in a data object.
func (c *Client) FetchEvents(ctx context.Context) ([]Event, error) {
	var raw json.RawMessage
	if err := c.http.GetJSON(ctx, c.url, nil, &raw); err != nil {
		return nil, fmt.Errorf("events request failed: %w", err)
	}
	return netclient.DecodeList[Event](raw)
}

// CostEstimator reports a configured flat network fee for chain-Q orders.
type CostEstimator struct {
	fee *big.Int
}

// NewCostEstimator returns an estimator always reporting fee (zero when
// nil).
func NewCostEstimator(fee *big.Int) *CostEstimator {
	if fee == nil {
		fee = new(big.Int)
	}
	return &CostEstimator{fee: fee}
}

// EstimateUserNetworkFee implements the network cost estimator contract.
func (e *CostEstimator) EstimateUserNetworkFee(context.Context) (*big.Int, error) {
	return new(big.Int).Set(e.fee), nil
}
