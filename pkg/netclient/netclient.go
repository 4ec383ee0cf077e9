/*
Package netclient is the outbound HTTP layer of the hub. Connections are
pooled per origin and the number of in-flight requests to any single origin
is bounded, so one slow oracle cannot starve the rest of the fleet.
*/
package netclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultPerOriginLimit bounds concurrent requests to one origin.
const DefaultPerOriginLimit = 16

// errorBodyLimit caps how much of a non-2xx response body is read for the
// error message.
const errorBodyLimit = 512

// Config holds client settings.
type Config struct {
	// PerOriginLimit is the number of concurrent in-flight requests
	// allowed per origin, DefaultPerOriginLimit when non-positive.
	PerOriginLimit int64
	// IdleTimeout is how long idle connections are kept in the pool,
	// 90s when zero.
	IdleTimeout time.Duration
}

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP status %d", e.Code)
	}
	return fmt.Sprintf("HTTP status %d: %s", e.Code, e.Body)
}

type pool struct {
	client *http.Client
	sem    *semaphore.Weighted
}

// Client performs JSON requests with per-origin connection pooling and
// concurrency bounds. The zero value is not usable, use New.
type Client struct {
	limit int64
	idle  time.Duration

	mtx    sync.Mutex
	pools  map[string]*pool
	closed bool
}

// New creates a Client with the given configuration.
func New(cfg Config) *Client {
	limit := cfg.PerOriginLimit
	if limit <= 0 {
		limit = DefaultPerOriginLimit
	}
	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = 90 * time.Second
	}
	return &Client{
		limit: limit,
		idle:  idle,
		pools: make(map[string]*pool),
	}
}

// GetJSON performs a GET request and decodes the JSON response into out
// (skipped when out is nil). Extra headers are attached as-is.
func (c *Client) GetJSON(ctx context.Context, rawURL string, header http.Header, out any) error {
	return c.do(ctx, http.MethodGet, rawURL, nil, header, out)
}

// PostJSON performs a POST request with a JSON body and decodes the
// response into out (skipped when out is nil).
func (c *Client) PostJSON(ctx context.Context, rawURL string, body []byte, header http.Header, out any) error {
	return c.do(ctx, http.MethodPost, rawURL, body, header, out)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, header http.Header, out any) error {
	p, err := c.poolFor(rawURL)
	if err != nil {
		return err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// poolFor returns the pool for the URL's origin, creating it on first use.
func (c *Client) poolFor(rawURL string) (*pool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("URL %q has no origin", rawURL)
	}
	origin := u.Scheme + "://" + u.Host

	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	if p, ok := c.pools[origin]; ok {
		return p, nil
	}
	p := &pool{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: int(c.limit),
				IdleConnTimeout:     c.idle,
			},
		},
		sem: semaphore.NewWeighted(c.limit),
	}
	c.pools[origin] = p
	return p, nil
}

// Close drops idle connections of every pool and rejects further requests.
func (c *Client) Close() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, p := range c.pools {
		p.client.CloseIdleConnections()
	}
}
