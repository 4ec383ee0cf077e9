package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Order is a single cross-chain transfer request as reconciled from oracle
// reports. Monetary fields are non-negative integers carried as decimal
// strings, never floats.
type Order struct {
	ID                  string `json:"id"`
	Source              Chain  `json:"source"`
	Dest                Chain  `json:"dest"`
	From                string `json:"from"`
	To                  string `json:"to"`
	Amount              string `json:"amount"`
	RelayerFee          string `json:"relayerFee"`
	OriginTrxHash       string `json:"origin_trx_hash"`
	DestinationTrxHash  string `json:"destination_trx_hash,omitempty"`
	SourceNonce         string `json:"source_nonce"`
	SourcePayload       string `json:"source_payload"`
	FailureReasonPublic string `json:"failure_reason_public,omitempty"`
	OracleAcceptToRelay bool   `json:"oracle_accept_to_relay"`
	Status              Status `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderWithSignatures is an order joined with its accumulated oracle
// signatures.
type OrderWithSignatures struct {
	Order
	Signatures []string `json:"signatures"`
}

// ErrSameChain is returned when an order's source and destination match.
var ErrSameChain = errors.New("source and destination chains must differ")

// Normalize fills derivable defaults: empty relayer fee becomes zero and
// an empty status becomes pending. It does not touch the id, repositories
// assign fresh ones on create.
func (o *Order) Normalize() {
	if o.RelayerFee == "" {
		o.RelayerFee = "0"
	}
	if o.Status == "" {
		o.Status = StatusPending
	}
}

// Validate checks the order invariants: a UUID-shaped id, known and
// distinct chains, decimal-string monetary fields and a known status.
func (o *Order) Validate() error {
	if _, err := uuid.Parse(o.ID); err != nil {
		return fmt.Errorf("invalid order id %q: %w", o.ID, err)
	}
	if !o.Source.Valid() {
		return fmt.Errorf("invalid source chain %q", string(o.Source))
	}
	if !o.Dest.Valid() {
		return fmt.Errorf("invalid destination chain %q", string(o.Dest))
	}
	if o.Source == o.Dest {
		return ErrSameChain
	}
	if _, err := ParseAmount(o.Amount); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	if _, err := ParseAmount(o.RelayerFee); err != nil {
		return fmt.Errorf("invalid relayer fee: %w", err)
	}
	if !o.Status.Valid() {
		return fmt.Errorf("invalid status %q", string(o.Status))
	}
	return nil
}
