/*
Package oracles runs the oracle fleet: a health poller keeping an in-memory
registry of per-oracle status and fee quotes, and an orders poller that
reconciles oracle order reports into canonical rows, accumulates relay
signatures and advances order status once enough of them agree.
*/
package oracles

import (
	"sort"
	"sync"
	"time"

	"github.com/qsbridge/bridgehub/pkg/bridge"
)

// Registry is the shared oracle health view: one writer (the health
// poller), snapshot readers everywhere else.
type Registry struct {
	mtx sync.RWMutex
	m   map[string]bridge.OracleHealth
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]bridge.OracleHealth)}
}

// SetServers seeds the registry with the configured oracle set, all down
// until the first health round says otherwise. Unknown previous entries
// are dropped.
func (r *Registry) SetServers(urls []string) {
	m := make(map[string]bridge.OracleHealth, len(urls))
	now := time.Now().UTC()
	for _, u := range urls {
		m[u] = bridge.OracleHealth{
			URL:              u,
			Status:           bridge.HealthDown,
			Timestamp:        now,
			RelayerFeeSolana: "0",
			RelayerFeeQubic:  "0",
		}
	}
	r.mtx.Lock()
	r.m = m
	r.mtx.Unlock()
}

// Update overwrites the record of one oracle.
func (r *Registry) Update(h bridge.OracleHealth) {
	r.mtx.Lock()
	r.m[h.URL] = h
	r.mtx.Unlock()
}

// Get returns the record of one oracle.
func (r *Registry) Get(url string) (bridge.OracleHealth, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	h, ok := r.m[url]
	return h, ok
}

// List returns a URL-sorted snapshot of all records.
func (r *Registry) List() []bridge.OracleHealth {
	r.mtx.RLock()
	out := make([]bridge.OracleHealth, 0, len(r.m))
	for _, h := range r.m {
		out = append(out, h)
	}
	r.mtx.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Healthy returns the snapshot filtered to oracles in ok state.
func (r *Registry) Healthy() []bridge.OracleHealth {
	all := r.List()
	out := all[:0]
	for _, h := range all {
		if h.Status == bridge.HealthOK {
			out = append(out, h)
		}
	}
	return out
}
