// Package api is the REST client for the home security backend. It
// feeds the shared rate-limit store from response headers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/ratelimit"
)

// ErrRateLimited is wrapped by the StatusError of a 429 response
var ErrRateLimited = errors.New("api: rate limited")

// Rate-limit response headers
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// StatusError is a non-2xx response
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes ErrRateLimited for 429 responses
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return nil
}

// IsNotFound reports whether err is a 404 response
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Options configure a Client
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	// RateLimits receives the state reported by response headers. May be
	// nil.
	RateLimits *ratelimit.Store
	Clock      clock.Clock
	Logger     hclog.Logger
}

// Stats counts requests made by a Client
type Stats struct {
	TotalRequests  int64         `json:"total_requests"`
	FailedRequests int64         `json:"failed_requests"`
	RateLimited    int64         `json:"rate_limited"`
	AverageLatency time.Duration `json:"average_latency"`
	LastRequestAt  time.Time     `json:"last_request_at"`
	LastError      string        `json:"last_error,omitempty"`
}

// Client talks to the backend REST API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimits *ratelimit.Store
	clock      clock.Clock
	logger     hclog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Client
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: opts.HTTPClient,
		rateLimits: opts.RateLimits,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
}

// BaseURL returns the configured backend URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Stats returns a copy of the request counters
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// URL joins path and query onto the base URL
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends a JSON request and decodes a JSON response into out when out
// is not nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path, query), body)
	if err != nil {
		return fmt.Errorf("api: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(start, err, false)
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.observeRateLimit(resp)
	c.logger.Debug("api response", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := c.statusError(resp)
		c.record(start, err, resp.StatusCode == http.StatusTooManyRequests)
		return err
	}
	c.record(start, nil, false)

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s response: %w", path, err)
	}
	return nil
}

// statusError reads an error body. FastAPI style {"detail": "..."} and
// {"error": {"message": "..."}} bodies are understood; anything else is
// used verbatim.
func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	se := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var wire struct {
		Detail any `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &wire) == nil {
		switch d := wire.Detail.(type) {
		case string:
			se.Message = d
		default:
			if wire.Error.Message != "" {
				se.Message = wire.Error.Message
			}
		}
	}
	if se.Message == "" {
		se.Message = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		se.RetryAfter = parseRetryAfter(resp.Header.Get(HeaderRetryAfter), c.clock.Now())
	}
	return se
}

func (c *Client) record(start time.Time, err error, limited bool) {
	latency := c.clock.Now().Sub(start)
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.stats
	s.TotalRequests++
	s.LastRequestAt = start
	s.AverageLatency += (latency - s.AverageLatency) / time.Duration(s.TotalRequests)
	if limited {
		s.RateLimited++
	}
	if err != nil {
		s.FailedRequests++
		s.LastError = err.Error()
	}
}

// observeRateLimit updates the shared store. The store only holds a
// state while requests are throttled; a response that reports remaining
// quota clears it.
func (c *Client) observeRateLimit(resp *http.Response) {
	if c.rateLimits == nil {
		return
	}
	now := c.clock.Now()

	info, ok := parseRateLimit(resp.Header, now)
	if resp.StatusCode == http.StatusTooManyRequests {
		if retry := parseRetryAfter(resp.Header.Get(HeaderRetryAfter), now); retry > 0 {
			info.ResetAt = now.Add(retry)
		}
		if info.ResetAt.IsZero() {
			info.ResetAt = now.Add(time.Minute)
		}
		info.Remaining = 0
		c.rateLimits.Update(info)
		return
	}
	if !ok {
		return
	}
	if info.Remaining <= 0 {
		c.rateLimits.Update(info)
		return
	}
	if _, set := c.rateLimits.Current(); set {
		c.rateLimits.Clear()
	}
}

func parseRateLimit(h http.Header, now time.Time) (ratelimit.Info, bool) {
	remaining := h.Get(HeaderRemaining)
	if remaining == "" {
		return ratelimit.Info{}, false
	}
	var info ratelimit.Info
	var err error
	if info.Remaining, err = strconv.Atoi(remaining); err != nil {
		return ratelimit.Info{}, false
	}
	info.Limit, _ = strconv.Atoi(h.Get(HeaderLimit))
	if reset, err := strconv.ParseInt(h.Get(HeaderReset), 10, 64); err == nil {
		// Large values are epoch seconds, small ones seconds from now.
		if reset > 1_000_000_000 {
			info.ResetAt = time.Unix(reset, 0).UTC()
		} else {
			info.ResetAt = now.Add(time.Duration(reset) * time.Second)
		}
	}
	return info, true
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
