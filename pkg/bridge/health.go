package bridge

import "time"

// HealthStatus is an oracle's reachability state as seen by the hub.
type HealthStatus string

// Oracle health states.
const (
	HealthOK   HealthStatus = "ok"
	HealthDown HealthStatus = "down"
)

// OracleHealth is the in-memory health record kept per oracle URL. Fee
// quotes are canonical decimal strings, malformed upstream values are
// normalized to "0" at ingest.
type OracleHealth struct {
	URL              string       `json:"url"`
	Status           HealthStatus `json:"status"`
	Timestamp        time.Time    `json:"timestamp"`
	RelayerFeeSolana string       `json:"relayerFeeSolana"`
	RelayerFeeQubic  string       `json:"relayerFeeQubic"`
}

// RelayerFeeFor returns the oracle's fee quote for the given chain.
func (h OracleHealth) RelayerFeeFor(c Chain) string {
	if c == ChainSolana {
		return h.RelayerFeeSolana
	}
	return h.RelayerFeeQubic
}
