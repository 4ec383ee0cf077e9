package oracles

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qsbridge/bridgehub/pkg/bridge"
)

// healthResponse is the oracle /api/health payload. Everything but status
// is optional and individually recoverable.
type healthResponse struct {
	Status           string          `json:"status"`
	Timestamp        string          `json:"timestamp"`
	RelayerFeeSolana json.RawMessage `json:"relayerFeeSolana"`
	RelayerFeeQubic  json.RawMessage `json:"relayerFeeQubic"`
}

// fetchHealth GETs one oracle's health with signed headers. It never fails
// the round: unreachable or misbehaving oracles yield a synthetic down
// record so the registry always reflects the whole fleet.
func (f *Fleet) fetchHealth(ctx context.Context, server string) (bridge.OracleHealth, error) {
	down := bridge.OracleHealth{
		URL:              server,
		Status:           bridge.HealthDown,
		Timestamp:        time.Now().UTC(),
		RelayerFeeSolana: "0",
		RelayerFeeQubic:  "0",
	}
	url := strings.TrimRight(server, "/") + "/api/health"
	header, err := f.signer.Sign(http.MethodGet, url, nil)
	if err != nil {
		f.log.Error("health request signing failed", zap.String("oracle", server), zap.Error(err))
		return down, nil
	}
	var resp healthResponse
	if err := f.http.GetJSON(ctx, url, header, &resp); err != nil {
		f.log.Warn("oracle health fetch failed", zap.String("oracle", server), zap.Error(err))
		return down, nil
	}
	h := bridge.OracleHealth{
		URL:              server,
		Status:           bridge.HealthDown,
		Timestamp:        parseHealthTimestamp(resp.Timestamp),
		RelayerFeeSolana: normalizeFee(resp.RelayerFeeSolana),
		RelayerFeeQubic:  normalizeFee(resp.RelayerFeeQubic),
	}
	if resp.Status == string(bridge.HealthOK) {
		h.Status = bridge.HealthOK
	}
	return h, nil
}

// onHealthRound publishes the round's records into the registry.
func (f *Fleet) onHealthRound(_ context.Context, results []bridge.OracleHealth) {
	healthy := 0
	for _, h := range results {
		f.registry.Update(h)
		if h.Status == bridge.HealthOK {
			healthy++
		}
	}
	updHealthyOracles(healthy)
}

// parseHealthTimestamp accepts an RFC3339 oracle timestamp and falls back
// to the local clock for anything else. Timestamps are advisory.
func parseHealthTimestamp(s string) time.Time {
	if s != "" {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}

// normalizeFee turns a reported fee quote into a canonical non-negative
// decimal string. Oracles report either JSON strings or bare integers;
// anything else counts as zero.
func normalizeFee(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "0"
	}
	text := string(raw)
	if text[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return "0"
		}
	}
	if _, err := bridge.ParseAmount(text); err != nil {
		return "0"
	}
	return text
}
