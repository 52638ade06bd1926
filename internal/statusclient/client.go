package statusclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jpalmerr/tandem"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits; both racing clients usually hit different hosts
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second // conservative: matches common ALB defaults
)

// DefaultRetryAfter is used when a backend asks for a retry without a
// usable Retry-After header.
const DefaultRetryAfter = time.Second

// statusBody is the JSON document a backend returns with 200 OK.
type statusBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Client is an HTTP [tandem.StatusClient].
//
// Client requests GET {baseURL}/applications/{id}/status and maps the reply:
//   - 200 with a JSON body {"id": ..., "status": ...}: [tandem.SuccessResponse]
//   - 429 or 503: [tandem.RetryResponse] using the Retry-After header
//   - any other status: [tandem.FailureResponse]
//
// Transport errors, unreadable bodies and malformed JSON are returned as
// errors. Client has no timeout of its own; the caller's context bounds
// every request. Response bodies are limited to 1MB.
type Client struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	now        func() time.Time
}

// New creates a [Client] for the backend at baseURL.
//
// The client is configured with connection pooling limits:
//   - MaxIdleConns: 100 total idle connections
//   - MaxIdleConnsPerHost: 10 idle connections per host
//   - MaxConnsPerHost: 10 concurrent connections per host
//   - IdleConnTimeout: 60 seconds before closing idle connections
//
// Returns an error if baseURL is not an absolute http or https URL.
func New(baseURL string, headers map[string]string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("base url must have a host")
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: copyMap(headers),
		httpClient: &http.Client{
			// no default timeout - the poller's deadline travels in the context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
				DisableKeepAlives:   false,
			},
		},
		now: time.Now,
	}, nil
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetStatus implements [tandem.StatusClient].
func (c *Client) GetStatus(ctx context.Context, id string) (tandem.Response, error) {
	target := c.baseURL + "/applications/" + url.PathEscape(id) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var sb statusBody
		if err := json.Unmarshal(body, &sb); err != nil {
			return nil, fmt.Errorf("failed to decode status body: %w", err)
		}
		if sb.ID == "" {
			sb.ID = id
		}
		return tandem.SuccessResponse{ID: sb.ID, Status: sb.Status}, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		return tandem.RetryResponse{Delay: parseRetryAfter(resp.Header.Get("Retry-After"), c.now())}, nil
	default:
		return tandem.FailureResponse{}, nil
	}
}

// Close closes all idle connections in the client's connection pool.
// Safe to call multiple times; the client stays usable afterwards.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// parseRetryAfter reads a Retry-After value given either as delay seconds
// or as an HTTP date. Missing, malformed or past values yield
// [DefaultRetryAfter]; an explicit "0" yields zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return DefaultRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return DefaultRetryAfter
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
