// Package apiclient implements the paginated, rate-aware REST client shared
// by both platform connectors. It knows nothing about either platform's
// payload shapes: connectors hand it endpoint paths and decode the raw JSON
// it returns.
package apiclient

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
	"time"

	"go.uber.org/zap"

	"repoferry/internal/platform"
)

const (
	defaultPageSize       = 100
	defaultMaxRetries     = 3
	defaultBackoffBase    = 2 * time.Second
	defaultRequestTimeout = 30 * time.Second

	// errorBodyPreviewLimit bounds how much of an error response body is
	// carried into classified error messages.
	errorBodyPreviewLimit = 512
)

// Client performs the generic request/response cycle against one REST API:
// pagination, retry with exponential backoff, and adaptive pacing driven by
// the per-connector RateLimitState. It performs no caching of response
// bodies and no side effects beyond network I/O and rate state updates.
type Client struct {
	name           string
	base           *url.URL
	http           *http.Client
	limits         *RateLimitState
	logger         *zap.Logger
	pageSize       int
	maxRetries     int
	backoffBase    time.Duration
	requestTimeout time.Duration

	// sleep is a test seam; it must honor context cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option adjusts client construction.
type Option func(*Client)

// WithPageSize overrides the pagination page size (default 100).
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRequestTimeout bounds each individual HTTP call.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithRetryPolicy overrides the transient-failure retry bound and the
// exponential backoff base.
func WithRetryPolicy(maxRetries int, backoffBase time.Duration) Option {
	return func(c *Client) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if backoffBase > 0 {
			c.backoffBase = backoffBase
		}
	}
}

// New builds a client for one platform API. The credential is expected to
// be injected through httpClient's transport (oauth2 token source, custom
// header round-tripper) so this package never sees it.
func New(name, baseURL string, httpClient *http.Client, logger *zap.Logger, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("apiclient: invalid base URL %q: %w", baseURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("apiclient: base URL %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		name:           name,
		base:           parsed,
		http:           httpClient,
		limits:         NewRateLimitState(),
		logger:         logger,
		pageSize:       defaultPageSize,
		maxRetries:     defaultMaxRetries,
		backoffBase:    defaultBackoffBase,
		requestTimeout: defaultRequestTimeout,
		sleep:          sleepContext,
	}
	for _, apply := range opts {
		if apply != nil {
			apply(c)
		}
	}
	return c, nil
}

// Limits exposes the connector's rate limit state for status display.
func (c *Client) Limits() *RateLimitState { return c.limits }

// FetchOne retrieves a single object.
func (c *Client) FetchOne(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

// Mutate issues a write (POST/PUT/PATCH/DELETE) with an optional JSON body.
// DELETE endpoints commonly return no body; callers get nil in that case.
func (c *Client) Mutate(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	return c.do(ctx, method, path, nil, body)
}

// FetchAll retrieves every page of a list endpoint, in source order.
//
// Pages are requested with the configured page size; iteration stops when a
// page returns fewer items than the page size, not merely when it is empty.
// A page of exactly pageSize items triggers one further request. The client
// imposes no page-count upper bound.
func (c *Client) FetchAll(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage

	for page := 1; ; page++ {
		pageQuery := url.Values{}
		for key, values := range query {
			pageQuery[key] = values
		}
		pageQuery.Set("page", strconv.Itoa(page))
		pageQuery.Set("per_page", strconv.Itoa(c.pageSize))

		raw, err := c.do(ctx, http.MethodGet, path, pageQuery, nil)
		if err != nil {
			return nil, err
		}

		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, &platform.Error{
				Kind:    platform.KindInvalidRequest,
				Op:      c.op(path),
				Message: fmt.Sprintf("expected a JSON array from list endpoint: %v", err),
			}
		}

		all = append(all, items...)
		if len(items) < c.pageSize {
			return all, nil
		}
	}
}

// do runs one logical request: pace per rate state, issue the call, update
// rate state from the response, and apply the retry policy.
//
// Transient network failures and 5xx responses are retried up to the
// configured bound with exponential backoff. 429 responses (and anything
// carrying Retry-After) wait until the advertised reset without consuming a
// retry attempt. Other 4xx responses are classified and surfaced
// immediately.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	op := c.op(path)

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request body: %w", op, err)
		}
	}

	attempts := 0
	rateWaits := 0
	for {
		if err := c.pace(ctx); err != nil {
			return nil, err
		}

		raw, status, retryAfter, err := c.roundTrip(ctx, method, path, query, encoded)

		switch {
		case err == nil && status < 400:
			return raw, nil

		case err == nil && (status == http.StatusTooManyRequests || retryAfter):
			// Mandatory wait until the advertised reset; does not count
			// against the retry bound. Bail out if the platform keeps
			// rate-limiting us without ever advertising a usable reset.
			rateWaits++
			if rateWaits > c.maxRetries*2 {
				return nil, &platform.Error{
					Kind:    platform.KindRateLimited,
					Op:      op,
					Status:  status,
					Message: "rate limit wait budget exhausted",
				}
			}
			if waitErr := c.waitForReset(ctx); waitErr != nil {
				return nil, waitErr
			}
			continue

		case err == nil && status >= 500:
			attempts++
			if attempts >= c.maxRetries {
				return nil, &platform.Error{
					Kind:    platform.KindTransient,
					Op:      op,
					Status:  status,
					Message: previewBody(raw),
				}
			}
			if backoffErr := c.backoff(ctx, attempts); backoffErr != nil {
				return nil, backoffErr
			}
			continue

		case err == nil:
			// Remaining 4xx: not retried, surfaced with a classification.
			return nil, &platform.Error{
				Kind:    platform.ClassifyStatus(status),
				Op:      op,
				Status:  status,
				Message: previewBody(raw),
			}

		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			attempts++
			if attempts >= c.maxRetries {
				return nil, &platform.Error{Kind: platform.KindTransient, Op: op, Err: err}
			}
			if backoffErr := c.backoff(ctx, attempts); backoffErr != nil {
				return nil, backoffErr
			}
			continue
		}
	}
}

// roundTrip performs exactly one HTTP exchange and feeds the rate state.
// retryAfter reports whether the response carried a Retry-After header on a
// non-success status (GitHub signals secondary rate limits as 403 with
// Retry-After).
func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body []byte) (raw json.RawMessage, status int, retryAfter bool, err error) {
	// Build the URL textually: connector paths may carry pre-encoded
	// segments (GitLab addresses projects as group%2Fname) that assigning
	// url.URL.Path would re-escape.
	target := c.base.String() + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		return nil, 0, false, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		c.logger.Debug("api call failed",
			zap.String("platform", c.name),
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.Error(err))
		// Classify request timeouts as transient so they go through retry.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, 0, false, fmt.Errorf("request timed out after %s: %w", c.requestTimeout, err)
		}
		return nil, 0, false, err
	}
	defer resp.Body.Close()

	c.limits.UpdateFromResponse(resp, latency)

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, 0, false, readErr
	}

	c.logger.Debug("api call",
		zap.String("platform", c.name),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", latency),
		zap.Int("rate_remaining", c.limits.Snapshot().Remaining))

	retryAfter = resp.StatusCode >= 400 && resp.Header.Get("Retry-After") != ""
	return data, resp.StatusCode, retryAfter, nil
}

// pace applies the pre-request delay the rate state asks for.
func (c *Client) pace(ctx context.Context) error {
	delay := c.limits.NextDelay(c.pageSize)
	if delay <= 0 {
		return nil
	}
	c.logger.Debug("rate pacing",
		zap.String("platform", c.name),
		zap.Duration("delay", delay),
		zap.Int("remaining", c.limits.Snapshot().Remaining))
	return c.sleep(ctx, delay)
}

// waitForReset blocks until the advertised reset or cooldown deadline.
func (c *Client) waitForReset(ctx context.Context) error {
	snap := c.limits.Snapshot()
	var until time.Time
	if deadline, ok := c.limits.CooldownUntil(); ok {
		until = deadline
	} else if snap.Reset.After(time.Now()) {
		until = snap.Reset
	} else {
		// No usable deadline advertised; fall back to the backoff base.
		return c.sleep(ctx, c.backoffBase)
	}

	wait := time.Until(until)
	c.logger.Warn("rate limited; waiting for reset",
		zap.String("platform", c.name),
		zap.Time("reset", until),
		zap.Duration("wait", wait))
	return c.sleep(ctx, wait)
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	d := c.backoffBase << (attempt - 1)
	return c.sleep(ctx, d)
}

func (c *Client) op(path string) string {
	return c.name + " " + strings.TrimLeft(path, "/")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func previewBody(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > errorBodyPreviewLimit {
		s = s[:errorBodyPreviewLimit] + "..."
	}
	return s
}
