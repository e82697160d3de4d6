// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package channel implements the resilient per-upstream API client: one
// Client instance per channel manager, composing credential refresh, a local
// token bucket, a circuit breaker, absolute per-call timeouts, and structured
// error classification. Concrete upstreams (see beds24.go) build their REST
// surface on top of Client.Request and expose the Upstream capability
// interface consumed by the sync orchestrator.
package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/stayward/channelsync/internal/logging"
	"github.com/stayward/channelsync/internal/metrics"
	"github.com/stayward/channelsync/internal/ratelimit"
)

// Config holds the resilience settings for one upstream client.
type Config struct {
	// Name identifies the upstream in logs, metrics, and mappings.
	Name string

	// BaseURL is the upstream API root, without trailing slash.
	BaseURL string

	// Timeout is the absolute per-call timeout.
	Timeout time.Duration

	// RateLimitPerSec and RateBurst configure the local token bucket.
	RateLimitPerSec float64
	RateBurst       int

	// FailureThreshold consecutive failures trip the circuit from closed to
	// open. ResetTimeout is the open-to-half-open wait. HalfOpenMaxRequests
	// consecutive probe successes close the circuit again.
	FailureThreshold    uint32
	ResetTimeout        time.Duration
	HalfOpenMaxRequests uint32

	// TokenRefreshBuffer refreshes the access token proactively when it is
	// within this duration of expiry.
	TokenRefreshBuffer time.Duration

	// RateHeaders optionally names the upstream's rate-limit response headers.
	RateHeaders RateHeaderNames
}

// RateHeaderNames maps the upstream's rate-limit signal headers.
type RateHeaderNames struct {
	Limit     string
	Remaining string
	ResetsIn  string
	Cost      string
}

// RateLimitInfo is the upstream's last reported rate-limit state.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetsIn  time.Duration
	Cost      int
}

// RequestOptions describes one upstream call.
type RequestOptions struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}

	// Endpoint is the metrics label; defaults to Path.
	Endpoint string

	// IdempotencyKey is forwarded as an Idempotency-Key header on writes so
	// retried calls are safe upstream-side where supported.
	IdempotencyKey string

	// Authenticated attaches the short-lived access token.
	Authenticated bool
}

// httpResult is the raw outcome of one HTTP exchange.
type httpResult struct {
	status int
	header http.Header
	body   []byte
}

// Client is the single point of contact for one upstream. One instance exists
// per upstream; its rate limiter and circuit breaker state are owned here and
// must not be shared with other clients.
type Client struct {
	name    string
	baseURL string
	timeout time.Duration

	httpClient *http.Client
	bucket     *ratelimit.Bucket
	cb         *gobreaker.CircuitBreaker[*httpResult]
	tokens     *tokenSource

	rateHeaders RateHeaderNames

	mu           sync.Mutex
	lastRateInfo RateLimitInfo
}

// NewClient builds a resilient client from cfg. fetchToken may be nil for
// upstreams authenticating with a static key; otherwise it is invoked through
// the token source with proactive refresh.
func NewClient(cfg Config, fetchToken fetchTokenFunc) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = time.Minute
	}
	if cfg.HalfOpenMaxRequests == 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}

	c := &Client{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		bucket:      ratelimit.NewBucket(cfg.RateLimitPerSec, cfg.RateBurst),
		rateHeaders: cfg.RateHeaders,
	}

	if fetchToken != nil {
		c.tokens = newTokenSource(fetchToken, cfg.TokenRefreshBuffer)
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	c.cb = gobreaker.NewCircuitBreaker[*httpResult](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.ResetTimeout,

		// Trip on consecutive failures; counts reset on any success while closed.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},

		// Only upstream-side failures (5xx, 429, network) open the circuit.
		// Client errors and caller cancellation count as successes.
		IsSuccessful: func(err error) bool {
			return !circuitFailure(err)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("upstream", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return c
}

// Name returns the upstream name this client talks to.
func (c *Client) Name() string { return c.name }

// State returns the current circuit breaker state.
func (c *Client) State() gobreaker.State { return c.cb.State() }

// LastRateLimit returns the upstream's last reported rate-limit state.
func (c *Client) LastRateLimit() RateLimitInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRateInfo
}

// Request performs one upstream call and returns the normalized payload.
//
// Pre-checks run in order: circuit breaker gate (CircuitOpenError), local
// token bucket (RateLimitedError with retry-after estimate). The call itself
// carries an absolute timeout; errors are classified into the package's typed
// taxonomy and the circuit records exactly one success or failure per
// completed attempt.
func (c *Client) Request(ctx context.Context, opts RequestOptions) (json.RawMessage, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = opts.Path
	}

	// Fail fast while open, before burning a rate-limit token.
	if c.cb.State() == gobreaker.StateOpen {
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "rejected").Inc()
		return nil, &CircuitOpenError{Upstream: c.name}
	}

	reservation, ok := c.bucket.TryReserve()
	if !ok {
		metrics.RateLimitRejections.WithLabelValues(c.name).Inc()
		return nil, &RateLimitedError{
			Upstream:   c.name,
			RetryAfter: c.bucket.TimeUntilNextToken(),
		}
	}

	var token string
	if opts.Authenticated && c.tokens != nil {
		var err error
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	res, err := c.cb.Execute(func() (*httpResult, error) {
		return c.do(ctx, opts, token)
	})
	metrics.UpstreamRequestDuration.WithLabelValues(c.name, endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// The breaker rejected before any traffic was sent; the token
			// held for this attempt goes back to the bucket.
			reservation.Cancel()
			metrics.CircuitBreakerRequests.WithLabelValues(c.name, "rejected").Inc()
			return nil, &CircuitOpenError{Upstream: c.name}
		}
		outcome := "failure"
		if !circuitFailure(err) {
			outcome = "success"
		}
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, outcome).Inc()
		metrics.UpstreamRequestErrors.WithLabelValues(c.name, errorClass(err)).Inc()
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(c.name, "success").Inc()
	return normalizePayload(c.name, res)
}

// do performs the HTTP exchange and maps any non-success outcome into the
// typed error taxonomy. The returned error drives the circuit breaker's
// success/failure classification via circuitFailure.
func (c *Client) do(ctx context.Context, opts RequestOptions, token string) (*httpResult, error) {
	reqURL := c.baseURL + opts.Path
	if len(opts.Query) > 0 {
		reqURL += "?" + opts.Query.Encode()
	}

	var bodyReader io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request body: %w", c.name, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, opts.Method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.name, err)
	}

	req.Header.Set("Accept", "application/json")
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("token", token)
	}
	if opts.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", opts.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Caller-initiated cancellation is not an upstream failure.
			return nil, &canceledError{cause: err}
		}
		return nil, &NetworkError{Upstream: c.name, Op: opts.Method + " " + opts.Path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Upstream: c.name, Op: "read response", Err: err}
	}

	res := &httpResult{status: resp.StatusCode, header: resp.Header, body: body}
	c.recordRateHeaders(resp.Header)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return res, nil
	}

	return res, c.mapStatusError(res)
}

// mapStatusError converts a non-2xx response into a typed error.
func (c *Client) mapStatusError(res *httpResult) error {
	message := upstreamErrorMessage(res.body)

	switch {
	case res.status == http.StatusUnauthorized || res.status == http.StatusForbidden:
		if c.tokens != nil {
			c.tokens.Invalidate()
		}
		return &AuthenticationError{Upstream: c.name, Message: message}
	case res.status == http.StatusTooManyRequests:
		return &RateLimitedError{Upstream: c.name, RetryAfter: c.retryAfter(res.header)}
	case res.status == http.StatusBadRequest || res.status == http.StatusUnprocessableEntity:
		return &ValidationError{Upstream: c.name, Status: res.status, Message: message}
	default:
		return &APIError{Upstream: c.name, Status: res.status, Code: upstreamErrorCode(res.body), Message: message}
	}
}

// retryAfter derives the upstream-suggested wait from Retry-After or the
// configured resets-in header, falling back to one minute.
func (c *Client) retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if c.rateHeaders.ResetsIn != "" {
		if v := h.Get(c.rateHeaders.ResetsIn); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return time.Minute
}

// recordRateHeaders captures the upstream's explicit rate-limit signal.
func (c *Client) recordRateHeaders(h http.Header) {
	if c.rateHeaders.Limit == "" {
		return
	}

	info := RateLimitInfo{}
	if v, err := strconv.Atoi(h.Get(c.rateHeaders.Limit)); err == nil {
		info.Limit = v
	}
	if c.rateHeaders.Remaining != "" {
		if v, err := strconv.Atoi(h.Get(c.rateHeaders.Remaining)); err == nil {
			info.Remaining = v
		}
	}
	if c.rateHeaders.ResetsIn != "" {
		if v, err := strconv.Atoi(h.Get(c.rateHeaders.ResetsIn)); err == nil {
			info.ResetsIn = time.Duration(v) * time.Second
		}
	}
	if c.rateHeaders.Cost != "" {
		if v, err := strconv.Atoi(h.Get(c.rateHeaders.Cost)); err == nil {
			info.Cost = v
		}
	}

	c.mu.Lock()
	c.lastRateInfo = info
	c.mu.Unlock()
}

// canceledError marks a caller-initiated cancellation so the circuit breaker
// does not count it as an upstream failure.
type canceledError struct {
	cause error
}

func (e *canceledError) Error() string { return "request canceled: " + e.cause.Error() }
func (e *canceledError) Unwrap() error { return e.cause }

// circuitFailure classifies an error for the circuit breaker: network
// failures, 5xx, and 429 count; client errors and cancellation do not.
func circuitFailure(err error) bool {
	if err == nil {
		return false
	}

	var ce *canceledError
	if errors.As(err, &ce) {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return circuitAffecting(ae.Status)
	}
	// AuthenticationError, ValidationError, marshal errors: not upstream-down.
	return false
}

// errorClass labels an error for metrics.
func errorClass(err error) string {
	var ae *AuthenticationError
	var rl *RateLimitedError
	var co *CircuitOpenError
	var ne *NetworkError
	var ve *ValidationError
	switch {
	case errors.As(err, &ae):
		return "authentication"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &co):
		return "circuit_open"
	case errors.As(err, &ne):
		return "network"
	case errors.As(err, &ve):
		return "validation"
	default:
		return "api"
	}
}

// envelope is the wrapped response shape some upstreams return.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *envelopeError  `json:"error"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// normalizePayload unwraps the upstream response envelope into the caller's
// canonical payload. Upstreams either wrap the payload in a data field with a
// success flag, or return it bare; downstream code never branches on shape.
func normalizePayload(upstream string, res *httpResult) (json.RawMessage, error) {
	if len(res.body) == 0 {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(res.body, &env); err == nil {
		if env.Success != nil {
			if !*env.Success {
				code, message := "", "upstream reported failure"
				if env.Error != nil {
					code, message = env.Error.Code, env.Error.Message
				}
				return nil, &APIError{Upstream: upstream, Status: res.status, Code: code, Message: message}
			}
			return env.Data, nil
		}
		// Wrapped without a success flag: still unwrap the data field.
		if env.Data != nil {
			return env.Data, nil
		}
	}

	return res.body, nil
}

// upstreamErrorMessage extracts a human-readable message from an error body.
func upstreamErrorMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	var plain struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &plain); err == nil {
		if plain.Message != "" {
			return plain.Message
		}
		if plain.Error != "" {
			return plain.Error
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

// upstreamErrorCode extracts the machine-readable code, if any.
func upstreamErrorCode(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		return env.Error.Code
	}
	return ""
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
