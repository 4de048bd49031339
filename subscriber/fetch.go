package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBodySize = 8 << 20 // 8MB

// connection pooling limits; a fetcher talks to a single livestore host
const (
	defaultMaxIdleConns        = 10
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second

	// DefaultFetchTimeout bounds each request made by a [Fetcher].
	DefaultFetchTimeout = 10 * time.Second
)

// Response holds the result of an HTTP request made by [Fetcher].
type Response struct {
	// Body contains the HTTP response body, limited to 8MB.
	Body []byte

	// StatusCode is the HTTP status code. Zero if the request failed before
	// receiving a response.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration

	// Error contains any error that occurred during the request.
	// nil indicates the request completed (though status may indicate an error).
	Error error
}

// Fetcher is an HTTP client for a livestore server's REST routes.
//
// Subscribers use it to re-fetch the full state after a reconnect, since
// events missed while disconnected are not replayed. Timeouts are applied
// per request via context, and response bodies are size-limited.
type Fetcher struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewFetcher creates a [Fetcher] for the server at baseURL, e.g.
// "http://localhost:3001". A non-positive timeout uses [DefaultFetchTimeout].
func NewFetcher(baseURL string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		httpClient: &http.Client{
			// no default timeout - we use per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
}

// Fetch performs a request against path and returns a structured [Response].
//
// If method is empty, GET is used. A non-nil body is sent as JSON.
// Fetch always returns a Response; errors are captured in the Error field.
func (f *Fetcher) Fetch(ctx context.Context, method, path string, body io.Reader) Response {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()

	// default to GET if method is empty
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, body)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	// read body with size limit
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return Response{
		Body:       data,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}
}

// Snapshot fetches GET /db and returns each resource's records as raw JSON.
func (f *Fetcher) Snapshot(ctx context.Context) (map[string][]json.RawMessage, error) {
	resp := f.Fetch(ctx, http.MethodGet, "/db", nil)
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request returned status %d", resp.StatusCode)
	}

	var snap map[string][]json.RawMessage
	if err := json.Unmarshal(resp.Body, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// Close closes all idle connections in the fetcher's connection pool.
// Safe to call multiple times; the fetcher remains usable afterwards.
func (f *Fetcher) Close() {
	if f == nil || f.httpClient == nil {
		return
	}
	if transport, ok := f.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
