package metrics

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qsbridge/bridgehub/pkg/config"
)

func fetchOK(t *testing.T, addr, path string) string {
	t.Helper()
	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + path)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		body = string(data)
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return body
}

func TestPrometheusService(t *testing.T) {
	errCh := make(chan error, 1)
	svc := NewPrometheusService(config.BasicService{Enabled: true, Address: "127.0.0.1"},
		errCh, zaptest.NewLogger(t))
	require.Equal(t, "prometheus", svc.Name())

	svc.Start()
	defer svc.ShutDown()

	body := fetchOK(t, svc.Addr, "/metrics")
	require.Contains(t, body, "go_goroutines")

	select {
	case err := <-errCh:
		t.Fatalf("unexpected service error: %v", err)
	default:
	}
}

func TestPprofService(t *testing.T) {
	errCh := make(chan error, 1)
	svc := NewPprofService(config.BasicService{Enabled: true, Address: "127.0.0.1"},
		errCh, zaptest.NewLogger(t))
	require.Equal(t, "pprof", svc.Name())

	svc.Start()
	defer svc.ShutDown()

	body := fetchOK(t, svc.Addr, "/debug/pprof/")
	require.Contains(t, body, "goroutine")
}

func TestDisabledService(t *testing.T) {
	errCh := make(chan error, 1)
	svc := NewPrometheusService(config.BasicService{Enabled: false, Address: "127.0.0.1", Port: 1},
		errCh, zaptest.NewLogger(t))

	svc.Start() // no-op, port 1 would fail to bind otherwise
	svc.ShutDown()

	select {
	case err := <-errCh:
		t.Fatalf("unexpected service error: %v", err)
	default:
	}
}
