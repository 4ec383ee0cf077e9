package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/qsbridge/bridgehub/pkg/netclient"
)

// defaultPageLimit is how many transactions one history page requests.
const defaultPageLimit = 100

// TxMeta carries the status and program logs of one transaction.
type TxMeta struct {
	Err         json.RawMessage `json:"err"`
	LogMessages []string        `json:"logMessages"`
}

// Failed reports whether the transaction errored on chain.
func (m TxMeta) Failed() bool {
	return len(m.Err) > 0 && string(m.Err) != "null"
}

// Transaction is one transaction-history entry.
type Transaction struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	BlockTime int64  `json:"blockTime"`
	Meta      TxMeta `json:"meta"`
}

// Page is one slice of transaction history. An empty PaginationToken means
// the window is exhausted.
type Page struct {
	Data            []Transaction `json:"data"`
	PaginationToken string        `json:"paginationToken,omitempty"`
}

// Window is a closed blockTime range, both bounds in seconds.
type Window struct {
	Start time.Time
	End   time.Time
}

type historyQuery struct {
	Address   string `json:"address"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

type historyOptions struct {
	Limit           int    `json:"limit"`
	PaginationToken string `json:"paginationToken,omitempty"`
}

type historyRequest struct {
	Query   historyQuery   `json:"query"`
	Options historyOptions `json:"options"`
}

// HistoryClient pages the transaction history of the bridge program
// address over the enhanced-history endpoint.
type HistoryClient struct {
	http    *netclient.Client
	url     string
	program string
	limit   int
}

// NewHistoryClient returns a history client for the given RPC URL and
// program address.
func NewHistoryClient(http *netclient.Client, url, program string) *HistoryClient {
	return &HistoryClient{http: http, url: url, program: program, limit: defaultPageLimit}
}

// FetchPage requests one page of transactions with blockTime inside w.
// Pass the previous page's PaginationToken to continue, empty to start.
func (c *HistoryClient) FetchPage(ctx context.Context, w Window, token string) (*Page, error) {
	body, err := json.Marshal(historyRequest{
		Query: historyQuery{
			Address:   c.program,
			StartTime: w.Start.Unix(),
			EndTime:   w.End.Unix(),
		},
		Options: historyOptions{
			Limit:           c.limit,
			PaginationToken: token,
		},
	})
	if err != nil {
		return nil, err
	}
	var page Page
	if err := c.http.PostJSON(ctx, c.url, body, nil, &page); err != nil {
		return nil, fmt.Errorf("history page request failed: %w", err)
	}
	return &page, nil
}
