package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfiguration() ApplicationConfiguration {
	a := Default().ApplicationConfiguration
	a.Keys.File = "./keys.json"
	a.OracleFleet.URLs = []string{"http://oracle-1:3000"}
	return a
}

func TestApplicationConfigurationValidate(t *testing.T) {
	valid := validConfiguration()
	require.NoError(t, valid.Validate())

	for name, tc := range map[string]struct {
		mangle func(*ApplicationConfiguration)
		msg    string
	}{
		"no keys file": {
			mangle: func(a *ApplicationConfiguration) { a.Keys.File = "" },
			msg:    "keys file",
		},
		"no oracles": {
			mangle: func(a *ApplicationConfiguration) { a.OracleFleet.URLs = nil },
			msg:    "no oracle URLs",
		},
		"negative threshold": {
			mangle: func(a *ApplicationConfiguration) { a.OracleFleet.SignatureThreshold = -1 },
			msg:    "threshold",
		},
		"negative count": {
			mangle: func(a *ApplicationConfiguration) { a.OracleFleet.OracleCount = -1 },
			msg:    "oracle count",
		},
		"solana poller without URL": {
			mangle: func(a *ApplicationConfiguration) {
				a.SolanaPoller.Enabled = true
				a.TokenMint = "So11111111111111111111111111111111111111112"
			},
			msg: "no RPC URL",
		},
		"solana poller without mint": {
			mangle: func(a *ApplicationConfiguration) {
				a.SolanaPoller.Enabled = true
				a.SolanaPoller.RPCURL = "https://rpc.example"
			},
			msg: "token mint",
		},
		"listener without URL": {
			mangle: func(a *ApplicationConfiguration) {
				a.SolanaListener.Enabled = true
				a.TokenMint = "So11111111111111111111111111111111111111112"
			},
			msg: "websocket URL",
		},
		"listener without mint": {
			mangle: func(a *ApplicationConfiguration) {
				a.SolanaListener.Enabled = true
				a.SolanaListener.WSURL = "wss://ws.example"
			},
			msg: "token mint",
		},
		"qubic poller without URL": {
			mangle: func(a *ApplicationConfiguration) { a.QubicPoller.Enabled = true },
			msg:    "qubic poller",
		},
		"unknown storage": {
			mangle: func(a *ApplicationConfiguration) { a.DBConfiguration.Type = "postgres" },
			msg:    "unknown storage type",
		},
	} {
		t.Run(name, func(t *testing.T) {
			a := validConfiguration()
			tc.mangle(&a)
			require.ErrorContains(t, a.Validate(), tc.msg)
		})
	}
}

func TestRelayerAPIBindAddress(t *testing.T) {
	for expected, tc := range map[string]RelayerAPI{
		"localhost:8080": {Host: "localhost", Port: 8080},
		"127.0.0.1:0":    {Host: "127.0.0.1"},
		":0":             {},
	} {
		t.Run(expected, func(t *testing.T) {
			require.Equal(t, expected, tc.BindAddress())
		})
	}
}
