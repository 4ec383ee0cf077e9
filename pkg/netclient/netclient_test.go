package netclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "secret", r.Header.Get("X-Hub-Id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := New(Config{})
	defer c.Close()

	var out struct {
		Status string `json:"status"`
	}
	h := http.Header{}
	h.Set("X-Hub-Id", "secret")
	require.NoError(t, c.GetJSON(context.Background(), srv.URL+"/api/health", h, &out))
	require.Equal(t, "ok", out.Status)
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]int{"echo": in["v"]})
	}))
	defer srv.Close()

	c := New(Config{})
	defer c.Close()

	var out struct {
		Echo int `json:"echo"`
	}
	require.NoError(t, c.PostJSON(context.Background(), srv.URL, []byte(`{"v":7}`), nil, &out))
	require.Equal(t, 7, out.Echo)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{})
	defer c.Close()

	err := c.GetJSON(context.Background(), srv.URL, nil, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusServiceUnavailable, se.Code)
	require.Contains(t, se.Error(), "503")
}

func TestContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.GetJSON(ctx, srv.URL, nil, nil)
	require.Error(t, err)
	require.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestPerOriginLimit(t *testing.T) {
	var (
		mtx     sync.Mutex
		current int
		peak    int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mtx.Lock()
		current++
		if current > peak {
			peak = current
		}
		mtx.Unlock()
		time.Sleep(20 * time.Millisecond)
		mtx.Lock()
		current--
		mtx.Unlock()
	}))
	defer srv.Close()

	c := New(Config{PerOriginLimit: 2})
	defer c.Close()

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, c.GetJSON(context.Background(), srv.URL, nil, nil))
		}()
	}
	wg.Wait()

	mtx.Lock()
	defer mtx.Unlock()
	require.LessOrEqual(t, peak, 2)
}

func TestBadURL(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	require.Error(t, c.GetJSON(context.Background(), "not a url", nil, nil))
	require.Error(t, c.GetJSON(context.Background(), "/relative/only", nil, nil))
}

func TestClosedClient(t *testing.T) {
	c := New(Config{})
	c.Close()
	c.Close() // idempotent
	err := c.GetJSON(context.Background(), "http://localhost:1/x", nil, nil)
	require.ErrorContains(t, err, "closed")
}
