package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/qsbridge/bridgehub/pkg/storage/dbconfig"
)

// ApplicationConfiguration config specific to the hub.
type ApplicationConfiguration struct {
	DBConfiguration dbconfig.DBConfiguration `yaml:"DBConfiguration"`
	LogLevel        string                   `yaml:"LogLevel"`
	LogPath         string                   `yaml:"LogPath"`
	Pprof           BasicService             `yaml:"Pprof"`
	Prometheus      BasicService             `yaml:"Prometheus"`

	// TokenMint is the chain-S account whose activity the hub watches,
	// shared by the history poller, the websocket listener and the cost
	// estimator.
	TokenMint string `yaml:"TokenMint"`

	RelayerAPI     RelayerAPI     `yaml:"RelayerAPI"`
	Keys           Keys           `yaml:"Keys"`
	OracleFleet    OracleFleet    `yaml:"OracleFleet"`
	SolanaPoller   SolanaPoller   `yaml:"SolanaPoller"`
	SolanaListener SolanaListener `yaml:"SolanaListener"`
	QubicPoller    QubicPoller    `yaml:"QubicPoller"`
	Fees           Fees           `yaml:"Fees"`
}

// RelayerAPI configures the operator HTTP API.
type RelayerAPI struct {
	Host string `yaml:"Host"`
	Port uint16 `yaml:"Port"`
	// RateLimitMax caps accepted requests per second, zero is unlimited.
	RateLimitMax float64 `yaml:"RateLimitMax"`
	// Paused is what /api/health/bridge reports.
	Paused bool `yaml:"Paused"`
}

// BindAddress returns the host:port pair the API binds to.
func (r RelayerAPI) BindAddress() string {
	return net.JoinHostPort(r.Host, strconv.FormatUint(uint64(r.Port), 10))
}

// Keys configures the hub signing key material.
type Keys struct {
	// File is the path of the hub keys JSON file.
	File string `yaml:"File"`
}

// OracleFleet configures the oracle health and orders pollers.
type OracleFleet struct {
	URLs []string `yaml:"URLs"`
	// SignatureThreshold is a ratio of OracleCount when in (0, 1], an
	// absolute signature count otherwise.
	SignatureThreshold float64 `yaml:"SignatureThreshold"`
	// OracleCount overrides the vote base for the threshold. Zero means
	// len(URLs).
	OracleCount    int           `yaml:"OracleCount"`
	Interval       time.Duration `yaml:"Interval"`
	RequestTimeout time.Duration `yaml:"RequestTimeout"`
	Jitter         time.Duration `yaml:"Jitter"`
}

// SolanaPoller configures the chain-S transaction history poller.
type SolanaPoller struct {
	Enabled        bool          `yaml:"Enabled"`
	RPCURL         string        `yaml:"RPCURL"`
	Interval       time.Duration `yaml:"Interval"`
	Lookback       time.Duration `yaml:"Lookback"`
	RequestTimeout time.Duration `yaml:"RequestTimeout"`
	RetryDelay     time.Duration `yaml:"RetryDelay"`
}

// SolanaListener configures the chain-S websocket listener.
type SolanaListener struct {
	Enabled       bool          `yaml:"Enabled"`
	WSURL         string        `yaml:"WSURL"`
	FallbackWSURL string        `yaml:"FallbackWSURL"`
	ReconnectBase time.Duration `yaml:"ReconnectBase"`
	ReconnectMax  time.Duration `yaml:"ReconnectMax"`
	FallbackRetry time.Duration `yaml:"FallbackRetry"`
}

// QubicPoller configures the chain-Q event poller.
type QubicPoller struct {
	Enabled        bool          `yaml:"Enabled"`
	RPCURL         string        `yaml:"RPCURL"`
	Interval       time.Duration `yaml:"Interval"`
	RequestTimeout time.Duration `yaml:"RequestTimeout"`
}

// Fees configures the estimator. Zero values fall back to the estimator
// defaults.
type Fees struct {
	BpsFee              int64 `yaml:"BpsFee"`
	ProtocolFeeBpsOfBps int64 `yaml:"ProtocolFeeBpsOfBps"`
	MinHealthyOracles   int   `yaml:"MinHealthyOracles"`
	// QubicNetworkFee is the flat chain-Q network fee as a decimal
	// string, "0" when empty.
	QubicNetworkFee string `yaml:"QubicNetworkFee"`
}

// Validate checks the configuration for completeness: key material and
// oracles must be configured, enabled chain services need their endpoints.
func (a *ApplicationConfiguration) Validate() error {
	if a.Keys.File == "" {
		return errors.New("hub keys file is not configured")
	}
	if len(a.OracleFleet.URLs) == 0 {
		return errors.New("no oracle URLs configured")
	}
	if a.OracleFleet.SignatureThreshold < 0 {
		return errors.New("oracle signature threshold must not be negative")
	}
	if a.OracleFleet.OracleCount < 0 {
		return errors.New("oracle count must not be negative")
	}
	if a.SolanaPoller.Enabled {
		if a.SolanaPoller.RPCURL == "" {
			return errors.New("solana poller is enabled but has no RPC URL")
		}
		if a.TokenMint == "" {
			return errors.New("solana poller is enabled but no token mint is configured")
		}
	}
	if a.SolanaListener.Enabled {
		if a.SolanaListener.WSURL == "" {
			return errors.New("solana listener is enabled but has no websocket URL")
		}
		if a.TokenMint == "" {
			return errors.New("solana listener is enabled but no token mint is configured")
		}
	}
	if a.QubicPoller.Enabled && a.QubicPoller.RPCURL == "" {
		return errors.New("qubic poller is enabled but has no RPC URL")
	}
	switch a.DBConfiguration.Type {
	case dbconfig.BoltDB, dbconfig.LevelDB, dbconfig.BadgerDB, dbconfig.InMemoryDB:
	default:
		return fmt.Errorf("unknown storage type %q", a.DBConfiguration.Type)
	}
	return nil
}
