// Package client provides a client for the meteod HTTP API.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xtxerr/meteo/internal/storage/types"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrClientClosed = errors.New("client is closed")
	ErrAuthFailed   = errors.New("authentication failed")
	ErrNotFound     = errors.New("not found")
	ErrTimeout      = errors.New("request timeout")
)

// APIError is a non-2xx response. Detail is the server's explanation.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

// Unwrap lets errors.Is match ErrAuthFailed and ErrNotFound.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// =============================================================================
// Client
// =============================================================================

// Client talks to a meteod server.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client

	closed atomic.Bool
}

// Config holds client configuration.
type Config struct {
	// Addr is the server base URL, e.g. http://localhost:8000.
	// A bare host:port is taken as http.
	Addr           string
	Token          string
	TLSSkipVerify  bool
	RequestTimeout time.Duration
}

// DefaultConfig returns default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           "http://localhost:8000",
		RequestTimeout: 30 * time.Second,
	}
}

// New creates a new client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	addr := cfg.Addr
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", cfg.Addr, err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("address %q has no host", cfg.Addr)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().RequestTimeout
	}

	return &Client{
		base:  base,
		token: cfg.Token,
		http:  &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

// Addr returns the server base URL.
func (c *Client) Addr() string {
	return c.base.String()
}

// Close releases idle connections. Further calls fail with ErrClientClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.http.CloseIdleConnections()
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// Range restricts a query by receipt time. Zero bounds are open.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) apply(q url.Values) {
	if !r.Start.IsZero() {
		q.Set("start_time", r.Start.UTC().Format(time.RFC3339Nano))
	}
	if !r.End.IsZero() {
		q.Set("end_time", r.End.UTC().Format(time.RFC3339Nano))
	}
}

// Info is the service description served at /.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// Info returns the service description.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.getJSON(ctx, "/", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Health returns connectivity and store fill level.
func (c *Client) Health(ctx context.Context) (*types.Health, error) {
	var h types.Health
	if err := c.getJSON(ctx, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Latest returns the newest sample. Returns ErrNotFound when the store is empty.
func (c *Client) Latest(ctx context.Context) (*types.Sample, error) {
	var s types.Sample
	if err := c.getJSON(ctx, "/readings/latest", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Readings returns samples in r, or the newest limit when r is open.
// A non-positive limit uses the server default.
func (c *Client) Readings(ctx context.Context, limit int, r Range) ([]types.Sample, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	r.apply(q)

	var samples []types.Sample
	if err := c.getJSON(ctx, "/readings", q, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// Recent returns the samples received within window of now.
func (c *Client) Recent(ctx context.Context, window time.Duration) ([]types.Sample, error) {
	q := url.Values{}
	if window > 0 {
		q.Set("window", window.String())
	}

	var samples []types.Sample
	if err := c.getJSON(ctx, "/readings/recent", q, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// Count returns the number of stored samples.
func (c *Client) Count(ctx context.Context) (int, error) {
	var resp struct {
		TotalReadings int `json:"total_readings"`
	}
	if err := c.getJSON(ctx, "/readings/count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.TotalReadings, nil
}

// Stats returns aggregate statistics over r.
func (c *Client) Stats(ctx context.Context, r Range) (*types.Statistics, error) {
	q := url.Values{}
	r.apply(q)

	var stats types.Statistics
	if err := c.getJSON(ctx, "/stats", q, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Buckets returns per-bucket statistics over r.
func (c *Client) Buckets(ctx context.Context, width time.Duration, r Range) ([]types.BucketStatistics, error) {
	q := url.Values{}
	if width > 0 {
		q.Set("width", width.String())
	}
	r.apply(q)

	var resp struct {
		Buckets []types.BucketStatistics `json:"buckets"`
	}
	if err := c.getJSON(ctx, "/stats/buckets", q, &resp); err != nil {
		return nil, err
	}
	return resp.Buckets, nil
}

// Export streams a download in format (json, parquet or protodelim) to w
// and returns the number of bytes written.
func (c *Client) Export(ctx context.Context, format string, r Range, w io.Writer) (int64, error) {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	r.apply(q)

	resp, err := c.do(ctx, http.MethodGet, "/readings/export", q)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download export: %w", err)
	}
	return n, nil
}

// Clear deletes every stored sample. The server must allow it.
func (c *Client) Clear(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/readings", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// =============================================================================
// Transport
// =============================================================================

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do sends a request and returns the response when it is 2xx. Any other
// status is turned into an *APIError and the body is closed.
func (c *Client) do(ctx context.Context, method, path string, q url.Values) (*http.Response, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	u := c.base.JoinPath(path)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Detail = body.Detail
	}
	return nil, apiErr
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
