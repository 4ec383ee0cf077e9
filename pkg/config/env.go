package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/qsbridge/bridgehub/pkg/storage/dbconfig"
)

// envReader pulls typed values out of the process environment keeping the
// first conversion error. Unset variables leave the destination untouched.
type envReader struct {
	err error
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s: %w", key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func (e *envReader) strs(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = b
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = i
}

func (e *envReader) u16(key string, dst *uint16) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	u, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = uint16(u)
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = f
}

func (e *envReader) duration(key string, unit time.Duration, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = time.Duration(n) * unit
}

func (e *envReader) millis(key string, dst *time.Duration) {
	e.duration(key, time.Millisecond, dst)
}

func (e *envReader) seconds(key string, dst *time.Duration) {
	e.duration(key, time.Second, dst)
}

func (e *envReader) storageURI(key string, dst *dbconfig.DBConfiguration) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	db, err := storageFromURI(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = db
}

// storageFromURI maps a storage URI onto a DB configuration. A bare path
// selects the single-file BoltDB backend, a scheme prefix (boltdb://,
// leveldb://, badgerdb://, inmemory://) names the backend explicitly.
func storageFromURI(uri string) (dbconfig.DBConfiguration, error) {
	scheme, path, found := strings.Cut(uri, "://")
	if !found {
		scheme, path = dbconfig.BoltDB, uri
	}
	switch scheme {
	case dbconfig.BoltDB:
		return dbconfig.DBConfiguration{
			Type:          dbconfig.BoltDB,
			BoltDBOptions: dbconfig.BoltDBOptions{FilePath: path},
		}, nil
	case dbconfig.LevelDB:
		return dbconfig.DBConfiguration{
			Type:           dbconfig.LevelDB,
			LevelDBOptions: dbconfig.LevelDBOptions{DataDirectoryPath: path},
		}, nil
	case dbconfig.BadgerDB:
		return dbconfig.DBConfiguration{
			Type:            dbconfig.BadgerDB,
			BadgerDBOptions: dbconfig.BadgerDBOptions{Dir: path},
		}, nil
	case dbconfig.InMemoryDB:
		return dbconfig.DBConfiguration{Type: dbconfig.InMemoryDB}, nil
	default:
		return dbconfig.DBConfiguration{}, fmt.Errorf("unknown storage scheme %q", scheme)
	}
}

// ApplyEnvironment overlays the recognized environment variables over the
// configuration, returning the first malformed value encountered.
func (a *ApplicationConfiguration) ApplyEnvironment() error {
	var e envReader

	e.str("HOST", &a.RelayerAPI.Host)
	e.u16("PORT", &a.RelayerAPI.Port)
	e.float("RATE_LIMIT_MAX", &a.RelayerAPI.RateLimitMax)

	e.storageURI("SQLITE_DB_FILE", &a.DBConfiguration)

	e.strs("ORACLE_URLS", &a.OracleFleet.URLs)
	e.float("ORACLE_SIGNATURE_THRESHOLD", &a.OracleFleet.SignatureThreshold)
	e.integer("ORACLE_COUNT", &a.OracleFleet.OracleCount)
	e.millis("POLLER_INTERVAL_MS", &a.OracleFleet.Interval)
	e.millis("POLLER_REQUEST_TIMEOUT_MS", &a.OracleFleet.RequestTimeout)
	e.millis("POLLER_JITTER_MS", &a.OracleFleet.Jitter)

	e.str("HUB_KEYS_FILE", &a.Keys.File)
	e.str("TOKEN_MINT", &a.TokenMint)

	e.boolean("HELIUS_POLLER_ENABLED", &a.SolanaPoller.Enabled)
	e.str("HELIUS_RPC_URL", &a.SolanaPoller.RPCURL)
	e.millis("HELIUS_POLLER_INTERVAL_MS", &a.SolanaPoller.Interval)
	e.seconds("HELIUS_POLLER_LOOKBACK_SECONDS", &a.SolanaPoller.Lookback)
	e.millis("HELIUS_POLLER_TIMEOUT_MS", &a.SolanaPoller.RequestTimeout)
	e.millis("HELIUS_POLLER_RETRY_DELAY_MS", &a.SolanaPoller.RetryDelay)

	e.boolean("SOLANA_LISTENER_ENABLED", &a.SolanaListener.Enabled)
	e.str("SOLANA_WS_URL", &a.SolanaListener.WSURL)
	e.str("SOLANA_FALLBACK_WS_URL", &a.SolanaListener.FallbackWSURL)
	e.millis("SOLANA_WS_RECONNECT_BASE_MS", &a.SolanaListener.ReconnectBase)
	e.millis("SOLANA_WS_RECONNECT_MAX_MS", &a.SolanaListener.ReconnectMax)
	e.millis("SOLANA_WS_FALLBACK_RETRY_MS", &a.SolanaListener.FallbackRetry)

	e.boolean("QUBIC_POLLER_ENABLED", &a.QubicPoller.Enabled)
	e.str("QUBIC_RPC_URL", &a.QubicPoller.RPCURL)
	e.millis("QUBIC_POLLER_INTERVAL_MS", &a.QubicPoller.Interval)
	e.millis("QUBIC_POLLER_TIMEOUT_MS", &a.QubicPoller.RequestTimeout)

	return e.err
}
