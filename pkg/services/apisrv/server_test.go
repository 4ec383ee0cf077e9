package apisrv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qsbridge/bridgehub/pkg/bridge"
	"github.com/qsbridge/bridgehub/pkg/fees"
	"github.com/qsbridge/bridgehub/pkg/keys"
	"github.com/qsbridge/bridgehub/pkg/repository"
	"github.com/qsbridge/bridgehub/pkg/services/oracles"
	"github.com/qsbridge/bridgehub/pkg/storage"
)

type staticCost struct {
	fee int64
}

func (c staticCost) EstimateUserNetworkFee(context.Context) (*big.Int, error) {
	return big.NewInt(c.fee), nil
}

type panicCost struct{}

func (panicCost) EstimateUserNetworkFee(context.Context) (*big.Int, error) {
	panic("cost estimator exploded")
}

type testEnv struct {
	srv      *Server
	orders   *repository.Orders
	events   *repository.Events
	registry *oracles.Registry
	ts       *httptest.Server
}

func newTestKeys(t *testing.T) *keys.Store {
	body, err := keys.Generate("hub-test", "2026-01")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, body, 0o600))
	ks, err := keys.NewStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	return ks
}

func newTestEnvCosts(t *testing.T, cfg Config, costs map[bridge.Chain]fees.NetworkCostEstimator) *testEnv {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 2
	}
	if cfg.OracleCount == 0 {
		cfg.OracleCount = 3
	}
	env := &testEnv{
		orders:   repository.NewOrders(storage.NewMemoryStore()),
		events:   repository.NewEvents(storage.NewMemoryStore()),
		registry: oracles.NewRegistry(),
	}
	est := fees.New(fees.Config{BpsFee: 100, ProtocolFeeBpsOfBps: 1000, MinHealthyOracles: 1},
		env.registry, costs, zaptest.NewLogger(t))
	srv, err := New(cfg, env.orders, env.events, env.registry, newTestKeys(t), est,
		make(chan error, 1), zaptest.NewLogger(t))
	require.NoError(t, err)
	env.srv = srv
	env.ts = httptest.NewServer(srv.Handler)
	t.Cleanup(env.ts.Close)
	return env
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	return newTestEnvCosts(t, cfg, map[bridge.Chain]fees.NetworkCostEstimator{
		bridge.ChainSolana: staticCost{fee: 5000},
		bridge.ChainQubic:  staticCost{fee: 1000},
	})
}

func (e *testEnv) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out), "body: %s", body)
	}
	return resp.StatusCode
}

func (e *testEnv) post(t *testing.T, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(e.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out), "body: %s", data)
	}
	return resp.StatusCode
}

func (e *testEnv) createOrder(t *testing.T, o bridge.Order) bridge.Order {
	t.Helper()
	if o.Source == "" {
		o.Source = bridge.ChainSolana
	}
	if o.Dest == "" {
		o.Dest = o.Source.Other()
	}
	if o.Amount == "" {
		o.Amount = "100"
	}
	if o.OriginTrxHash == "" {
		o.OriginTrxHash = "trx-" + uuid.NewString()
	}
	created, err := e.orders.Create(o)
	require.NoError(t, err)
	return *created
}

func (e *testEnv) seedHealthy(qubicFees ...string) {
	for i, fee := range qubicFees {
		e.registry.Update(bridge.OracleHealth{
			URL:              fmt.Sprintf("http://oracle-%d.example", i),
			Status:           bridge.HealthOK,
			Timestamp:        time.Now().UTC(),
			RelayerFeeSolana: "7000",
			RelayerFeeQubic:  fee,
		})
	}
}

func TestNewValidation(t *testing.T) {
	var (
		orders = repository.NewOrders(storage.NewMemoryStore())
		events = repository.NewEvents(storage.NewMemoryStore())
		reg    = oracles.NewRegistry()
		ks     = newTestKeys(t)
		est    = fees.New(fees.Config{}, reg, nil, nil)
		errCh  = make(chan error, 1)
		good   = Config{Address: "127.0.0.1:0", Threshold: 2, OracleCount: 3}
	)
	_, err := New(Config{Threshold: 2, OracleCount: 3}, orders, events, reg, ks, est, errCh, nil)
	require.Error(t, err)
	_, err = New(Config{Address: "127.0.0.1:0", Threshold: 2}, orders, events, reg, ks, est, errCh, nil)
	require.Error(t, err)
	_, err = New(good, nil, events, reg, ks, est, errCh, nil)
	require.Error(t, err)
	_, err = New(good, orders, nil, reg, ks, est, errCh, nil)
	require.Error(t, err)
	_, err = New(good, orders, events, nil, ks, est, errCh, nil)
	require.Error(t, err)
	_, err = New(good, orders, events, reg, nil, est, errCh, nil)
	require.Error(t, err)
	_, err = New(good, orders, events, reg, ks, nil, errCh, nil)
	require.Error(t, err)
	srv, err := New(good, orders, events, reg, ks, est, errCh, nil)
	require.NoError(t, err)
	require.Equal(t, "api server", srv.Name())
}

func TestBridgeHealth(t *testing.T) {
	env := newTestEnv(t, Config{Paused: true})

	var got bridgeHealth
	require.Equal(t, http.StatusOK, env.get(t, "/api/health/bridge", &got))
	require.True(t, got.Paused)

	resp, err := http.Post(env.ts.URL+"/api/health/bridge", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	unpaused := newTestEnv(t, Config{})
	require.Equal(t, http.StatusOK, unpaused.get(t, "/api/health/bridge", &got))
	require.False(t, got.Paused)
}

func TestOraclesHealth(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.registry.SetServers([]string{"http://b.example", "http://a.example"})
	env.registry.Update(bridge.OracleHealth{
		URL:              "http://a.example",
		Status:           bridge.HealthOK,
		Timestamp:        time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		RelayerFeeSolana: "7000",
		RelayerFeeQubic:  "2000000",
	})

	var got oraclesHealth
	require.Equal(t, http.StatusOK, env.get(t, "/api/health/oracles", &got))
	require.Len(t, got.Oracles, 2)
	require.Equal(t, "http://a.example", got.Oracles[0].URL)
	require.Equal(t, bridge.HealthOK, got.Oracles[0].Status)
	require.Equal(t, "7000", got.Oracles[0].RelayerFeeSolana)
	require.Equal(t, "2000000", got.Oracles[0].RelayerFeeQubic)
	require.Equal(t, "http://b.example", got.Oracles[1].URL)
	require.Equal(t, bridge.HealthDown, got.Oracles[1].Status)
}

func TestKeysView(t *testing.T) {
	env := newTestEnv(t, Config{})

	var got keys.PublicView
	require.Equal(t, http.StatusOK, env.get(t, "/api/keys", &got))
	require.Equal(t, "hub-test", got.HubID)
	require.Equal(t, "2026-01", got.Current.Kid)
	require.Contains(t, got.Current.PublicKeyPem, "BEGIN PUBLIC KEY")
	require.Len(t, got.Current.Fingerprint, 64)
	require.Equal(t, keys.KeyPair{PublicKeyPEM: got.Current.PublicKeyPem}.Fingerprint(),
		got.Current.Fingerprint)
	require.Nil(t, got.Next)
}

func TestOrdersListing(t *testing.T) {
	env := newTestEnv(t, Config{})
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	oldest := env.createOrder(t, bridge.Order{Amount: "100", From: "alice", CreatedAt: base})
	middle := env.createOrder(t, bridge.Order{
		Source:    bridge.ChainQubic,
		Amount:    "200",
		Status:    bridge.StatusRelayed,
		CreatedAt: base.Add(time.Hour),
	})
	newest := env.createOrder(t, bridge.Order{
		Amount:    "300",
		Status:    bridge.StatusFailed,
		CreatedAt: base.Add(2 * time.Hour),
	})

	var got ordersPage
	require.Equal(t, http.StatusOK, env.get(t, "/api/orders", &got))
	require.Equal(t, pageInfo{Page: 1, Limit: 20, Total: 3}, got.Pagination)
	require.Len(t, got.Data, 3)
	require.Equal(t, newest.ID, got.Data[0].ID)
	require.Equal(t, oldest.ID, got.Data[2].ID)

	require.Equal(t, http.StatusOK, env.get(t, "/api/orders?page=2&limit=1&order=asc", &got))
	require.Equal(t, pageInfo{Page: 2, Limit: 1, Total: 3}, got.Pagination)
	require.Len(t, got.Data, 1)
	require.Equal(t, middle.ID, got.Data[0].ID)

	require.Equal(t, http.StatusOK, env.get(t, "/api/orders?status=pending,failed", &got))
	require.Equal(t, 2, got.Pagination.Total)

	require.Equal(t, http.StatusOK, env.get(t, "/api/orders?source=qubic", &got))
	require.Len(t, got.Data, 1)
	require.Equal(t, middle.ID, got.Data[0].ID)

	require.Equal(t, http.StatusOK, env.get(t, "/api/orders?amount_min=150&amount_max=250", &got))
	require.Len(t, got.Data, 1)
	require.Equal(t, middle.ID, got.Data[0].ID)

	require.Equal(t, http.StatusOK, env.get(t, "/api/orders?from=alice", &got))
	require.Len(t, got.Data, 1)
	require.Equal(t, oldest.ID, got.Data[0].ID)

	require.Equal(t, http.StatusOK,
		env.get(t, "/api/orders?created_after=2026-01-02T04:30:00Z", &got))
	require.Len(t, got.Data, 1)
	require.Equal(t, newest.ID, got.Data[0].ID)

	require.Equal(t, http.StatusOK, env.get(t, "/api/orders?id="+middle.ID, &got))
	require.Len(t, got.Data, 1)
	require.Equal(t, middle.ID, got.Data[0].ID)

	var fail errorResponse
	require.Equal(t, http.StatusBadRequest, env.get(t, "/api/orders?page=abc", &fail))
	require.Contains(t, fail.Message, "invalid page")
	require.Equal(t, http.StatusBadRequest, env.get(t, "/api/orders?status=weird", &fail))
	require.Contains(t, fail.Message, "unknown status")
	require.Equal(t, http.StatusBadRequest, env.get(t, "/api/orders?source=bitcoin", &fail))
	require.Equal(t, http.StatusBadRequest, env.get(t, "/api/orders?order=sideways", &fail))
	require.Equal(t, http.StatusBadRequest, env.get(t, "/api/orders?created_after=yesterday", &fail))
	require.Equal(t, http.StatusBadRequest, env.get(t, "/api/orders?amount_min=-5", &fail))
}

func TestOrderSignatures(t *testing.T) {
	env := newTestEnv(t, Config{Threshold: 2, OracleCount: 3})

	ready := env.createOrder(t, bridge.Order{Status: bridge.StatusReadyForRelay})
	short := env.createOrder(t, bridge.Order{Status: bridge.StatusReadyForRelay})
	pending := env.createOrder(t, bridge.Order{Status: bridge.StatusPending})

	_, err := env.orders.AddSignatures(ready.ID, []string{"sig-a", "sig-b"})
	require.NoError(t, err)
	_, err = env.orders.AddSignatures(short.ID, []string{"sig-c"})
	require.NoError(t, err)
	_, err = env.orders.AddSignatures(pending.ID, []string{"sig-d", "sig-e", "sig-f"})
	require.NoError(t, err)

	var got struct {
		Data []orderSignatures `json:"data"`
	}
	require.Equal(t, http.StatusOK, env.get(t, "/api/orders/signatures", &got))
	require.Len(t, got.Data, 1)
	require.Equal(t, ready.ID, got.Data[0].OrderID)
	require.ElementsMatch(t, []string{"sig-a", "sig-b"}, got.Data[0].Signatures)
}

func TestOrderEvents(t *testing.T) {
	env := newTestEnv(t, Config{})
	base := time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := env.events.Create(bridge.StoredEvent{
			Signature: fmt.Sprintf("sig-%d", i),
			Chain:     bridge.ChainSolana,
			Type:      bridge.EventOutbound,
			Nonce:     fmt.Sprintf("%064d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	var got eventsPage
	require.Equal(t, http.StatusOK, env.get(t, "/api/orders/events", &got))
	require.Len(t, got.Data, 3)
	require.Equal(t, "sig-0", got.Data[0].Signature)
	require.Equal(t, eventCursor{CreatedAt: base.Add(2 * time.Second), ID: got.Data[2].ID}, got.Cursor)

	next := fmt.Sprintf("/api/orders/events?created_after=%s&after_id=%d",
		got.Cursor.CreatedAt.Format(time.RFC3339), got.Cursor.ID)
	prev := got.Cursor
	require.Equal(t, http.StatusOK, env.get(t, next, &got))
	require.Empty(t, got.Data)
	require.Equal(t, prev, got.Cursor)

	require.Equal(t, http.StatusOK, env.get(t, "/api/orders/events?limit=2", &got))
	require.Len(t, got.Data, 2)
	require.Equal(t, "sig-1", got.Data[1].Signature)
	require.Equal(t, got.Data[1].ID, got.Cursor.ID)

	var fail errorResponse
	require.Equal(t, http.StatusBadRequest, env.get(t, "/api/orders/events?after_id=x", &fail))
	require.Equal(t, http.StatusBadRequest, env.get(t, "/api/orders/events?created_after=x", &fail))
}

func TestOrderByTrxHash(t *testing.T) {
	env := newTestEnv(t, Config{})
	o := env.createOrder(t, bridge.Order{OriginTrxHash: "origin-hash-1"})

	var got struct {
		Data bridge.Order `json:"data"`
	}
	require.Equal(t, http.StatusOK, env.get(t, "/api/orders/trx-hash?hash=origin-hash-1", &got))
	require.Equal(t, o.ID, got.Data.ID)
	require.Equal(t, "origin-hash-1", got.Data.OriginTrxHash)

	var fail errorResponse
	require.Equal(t, http.StatusNotFound, env.get(t, "/api/orders/trx-hash?hash=nope", &fail))
	require.Equal(t, "Not Found", fail.Message)
	require.Equal(t, http.StatusBadRequest, env.get(t, "/api/orders/trx-hash", &fail))
}

func TestEstimate(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedHealthy("2000000", "4000000", "3000000")

	var got struct {
		Data fees.Estimate `json:"data"`
	}
	body := `{"networkIn":"solana","networkOut":"qubic","fromAddress":"a","toAddress":"b","amount":"10000000000"}`
	require.Equal(t, http.StatusOK, env.post(t, "/api/orders/estimate", body, &got))
	require.Equal(t, "100000000", got.Data.BridgeFee.OracleFee)
	require.Equal(t, "10000000", got.Data.BridgeFee.ProtocolFee)
	require.Equal(t, "110000000", got.Data.BridgeFee.Total)
	require.Equal(t, "3000000", got.Data.RelayerFee)
	require.Equal(t, "5000", got.Data.NetworkFee)
	require.Equal(t, "9887000000", got.Data.UserReceives)

	var fail errorResponse
	require.Equal(t, http.StatusBadRequest,
		env.post(t, "/api/orders/estimate", `{"networkIn":"dogecoin"}`, &fail))
	require.Equal(t, http.StatusBadRequest,
		env.post(t, "/api/orders/estimate",
			`{"networkIn":"solana","networkOut":"solana","amount":"10"}`, &fail))
	require.Equal(t, http.StatusBadRequest,
		env.post(t, "/api/orders/estimate",
			`{"networkIn":"solana","networkOut":"qubic","amount":"ten"}`, &fail))
	require.Equal(t, http.StatusBadRequest, env.post(t, "/api/orders/estimate", "{", &fail))

	resp, err := http.Get(env.ts.URL + "/api/orders/estimate")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEstimateUnavailable(t *testing.T) {
	env := newTestEnv(t, Config{})

	var fail errorResponse
	body := `{"networkIn":"solana","networkOut":"qubic","amount":"1000"}`
	require.Equal(t, http.StatusServiceUnavailable, env.post(t, "/api/orders/estimate", body, &fail))
	require.Contains(t, fail.Message, "fee estimate unavailable")
}

func TestPanicRecovery(t *testing.T) {
	env := newTestEnvCosts(t, Config{}, map[bridge.Chain]fees.NetworkCostEstimator{
		bridge.ChainSolana: panicCost{},
	})
	env.seedHealthy("2000000")

	var fail errorResponse
	body := `{"networkIn":"solana","networkOut":"qubic","amount":"1000"}`
	require.Equal(t, http.StatusInternalServerError, env.post(t, "/api/orders/estimate", body, &fail))
	require.Equal(t, "Internal Server Error", fail.Message)
}

func TestNotFoundRoute(t *testing.T) {
	env := newTestEnv(t, Config{})

	var fail errorResponse
	require.Equal(t, http.StatusNotFound, env.get(t, "/api/nope", &fail))
	require.Equal(t, "Not Found", fail.Message)

	resp, err := http.Get(env.ts.URL + "/api/health/bridge")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: 1})

	require.Equal(t, http.StatusOK, env.get(t, "/api/health/bridge", nil))
	var fail errorResponse
	require.Equal(t, http.StatusTooManyRequests, env.get(t, "/api/health/bridge", &fail))
	require.Equal(t, "Too Many Requests", fail.Message)
}

func TestServerLifecycle(t *testing.T) {
	var (
		orders = repository.NewOrders(storage.NewMemoryStore())
		events = repository.NewEvents(storage.NewMemoryStore())
		reg    = oracles.NewRegistry()
		est    = fees.New(fees.Config{}, reg, nil, nil)
		errCh  = make(chan error, 1)
	)
	srv, err := New(Config{Address: "127.0.0.1:0", Threshold: 2, OracleCount: 3},
		orders, events, reg, newTestKeys(t), est, errCh, zaptest.NewLogger(t))
	require.NoError(t, err)

	srv.Start()
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr + "/api/health/bridge")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	srv.Start() // no-op

	srv.Shutdown()
	srv.Shutdown() // no-op
	_, err = http.Get("http://" + srv.Addr + "/api/health/bridge")
	require.Error(t, err)

	select {
	case err := <-errCh:
		t.Fatalf("unexpected server error: %v", err)
	default:
	}
}
