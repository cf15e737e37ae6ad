// Package client implements the listing and image transport over HTTP,
// with optional Redis-backed response caching and rate-limit gating.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/lazywall/pkg/cache"
	"github.com/Sternrassler/lazywall/pkg/ratelimit"
	"github.com/Sternrassler/lazywall/pkg/resource"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for transport operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lazywall_requests_total",
		Help: "Total outbound requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lazywall_request_duration_seconds",
		Help:    "Outbound request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	transportErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lazywall_transport_errors_total",
		Help: "Total transport errors by class",
	}, []string{"class"})
)

// Listing endpoints relative to the base URL.
const (
	EndpointImages = "/images"
	EndpointCount  = "/images/count"

	// endpointResource labels image loads in metrics.
	endpointResource = "resource"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the listing API (REQUIRED)
	BaseURL string

	// User-Agent header (REQUIRED)
	UserAgent string

	// Redis enables the listing cache and the shared rate-limit budget.
	// Optional.
	Redis *redis.Client

	// Timeout bounds every HTTP request
	Timeout time.Duration

	// ThrottleDelay is the pause applied when the budget runs low
	ThrottleDelay time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:       baseURL,
		UserAgent:     userAgent,
		Timeout:       30 * time.Second,
		ThrottleDelay: ratelimit.DefaultThrottleDelay,
	}
}

// Client fetches listing pages, total counts and image bytes. It
// implements pagination.Source and resource.Fetcher and is safe for
// concurrent use.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	logger      zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "client").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		config:  cfg,
		logger:  logger,
	}

	if cfg.Redis != nil {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, logger)
		if cfg.ThrottleDelay > 0 {
			c.rateLimiter.SetThrottleDelay(cfg.ThrottleDelay)
		}
		c.cache, err = cache.NewManager(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("cache manager: %w", err)
		}
	}

	return c, nil
}

// FetchPage fetches one listing page.
func (c *Client) FetchPage(ctx context.Context, page, size int) ([]resource.Descriptor, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(size))

	body, err := c.getListing(ctx, EndpointImages, query)
	if err != nil {
		return nil, err
	}

	var descs []resource.Descriptor
	if err := json.Unmarshal(body, &descs); err != nil {
		return nil, c.decodeError(EndpointImages, err)
	}

	for i := range descs {
		descs[i].URL = c.resolve(descs[i].URL)
	}
	return descs, nil
}

// FetchTotalCount fetches the total number of listed images.
func (c *Client) FetchTotalCount(ctx context.Context) (int, error) {
	body, err := c.getListing(ctx, EndpointCount, nil)
	if err != nil {
		return 0, err
	}

	var payload struct {
		Total *int `json:"total"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, c.decodeError(EndpointCount, err)
	}
	if payload.Total == nil {
		return 0, c.decodeError(EndpointCount, errors.New(`missing "total" field`))
	}
	if *payload.Total < 0 {
		return 0, c.decodeError(EndpointCount, fmt.Errorf("negative total %d", *payload.Total))
	}
	return *payload.Total, nil
}

// LoadResource downloads the image at rawURL and discards the bytes.
// Any 2xx answer counts as loaded.
func (c *Client) LoadResource(ctx context.Context, rawURL string) error {
	if err := c.gate(ctx, endpointResource, rawURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &TransportError{ErrorClass: ErrorClassClient, URL: rawURL, Message: "invalid resource url", Err: err}
	}
	req.Header.Set("Accept", "image/*")

	resp, err := c.do(req, endpointResource)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp, endpointResource)
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		transportErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return &TransportError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			URL:        rawURL,
			Message:    "read body",
			Err:        err,
		}
	}
	return nil
}

// getListing performs a GET against a listing endpoint, revalidating a
// cached copy when one exists.
func (c *Client) getListing(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	u := c.baseURL.JoinPath(endpoint)
	u.RawQuery = query.Encode()
	target := u.String()

	if err := c.gate(ctx, endpoint, target); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	key := cache.Key{Endpoint: endpoint, Query: query, Source: c.baseURL.Host}
	var cached *cache.Entry
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			cached = entry
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}

		if cached.HasValidator() {
			cached.Revalidate(req)
			cache.ConditionalRequestsSent.Inc()
			c.logger.Debug().
				Str("endpoint", endpoint).
				Str("etag", cached.ETag).
				Msg("Making conditional request")
		} else if cached != nil {
			return cached.Data, nil
		}
	}

	resp, err := c.do(req, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if cached == nil {
			transportErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
			return nil, &TransportError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassServer,
				URL:        target,
				Message:    resp.Status,
				Err:        ErrUnexpectedNotModified,
			}
		}

		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified, using cache")
		cache.NotModifiedResponses.Inc()
		if newExpires, ok := cache.RefreshedExpiry(resp.Header, time.Now()); ok {
			if err := c.cache.UpdateTTL(ctx, key, newExpires); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
			}
		}
		return cached.Data, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp, endpoint)
	}

	if c.cache == nil {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &TransportError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, URL: target, Message: "read body", Err: err}
		}
		return body, nil
	}

	entry, err := cache.ReadEntry(resp)
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, URL: target, Message: "read body", Err: err}
	}
	if cache.Storable(resp, entry) {
		if err := c.cache.Set(ctx, key, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Dur("ttl", entry.TTL()).
				Msg("Cached response")
		}
	}
	return entry.Data, nil
}

// gate consults the shared rate-limit budget.
func (c *Client) gate(ctx context.Context, endpoint, target string) error {
	if c.rateLimiter == nil {
		return nil
	}
	err := c.rateLimiter.Wait(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ratelimit.ErrBlocked):
		requestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		transportErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
		return &TransportError{ErrorClass: ErrorClassRateLimit, URL: target, Message: "request blocked", Err: err}
	case ctx.Err() != nil:
		return &TransportError{ErrorClass: ErrorClassNetwork, URL: target, Message: "cancelled while throttled", Err: err}
	default:
		// A Redis outage must not stop image loading.
		c.logger.Warn().Err(err).Msg("Rate limit check failed, allowing request")
		return nil
	}
}

// do executes req, recording metrics and the reported budget.
func (c *Client) do(req *http.Request, endpoint string) (*http.Response, error) {
	req.Header.Set("User-Agent", c.config.UserAgent)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", req.URL.String()).
		Msg("Executing request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errClass := c.classifyError(nil, err)
		transportErrorsTotal.WithLabelValues(string(errClass)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("HTTP request failed")
		return nil, &TransportError{ErrorClass: errClass, URL: req.URL.String(), Message: "request failed", Err: err}
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.UpdateFromHeaders(req.Context(), resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}
	return resp, nil
}

// statusError builds the error for a non-2xx answer and drains its body.
func (c *Client) statusError(resp *http.Response, endpoint string) error {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	errClass := c.classifyError(resp, nil)
	transportErrorsTotal.WithLabelValues(string(errClass)).Inc()

	c.logger.Warn().
		Str("endpoint", endpoint).
		Str("url", resp.Request.URL.String()).
		Int("status", resp.StatusCode).
		Str("error_class", string(errClass)).
		Msg("Request error")

	return &TransportError{
		StatusCode: resp.StatusCode,
		ErrorClass: errClass,
		URL:        resp.Request.URL.String(),
		Message:    resp.Status,
	}
}

func (c *Client) decodeError(endpoint string, err error) error {
	transportErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
	return &TransportError{
		ErrorClass: ErrorClassDecode,
		URL:        c.baseURL.JoinPath(endpoint).String(),
		Message:    "decode response",
		Err:        err,
	}
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}
	return ClassifyStatus(resp.StatusCode)
}

// resolve makes a listing URL absolute against the base URL.
func (c *Client) resolve(raw string) string {
	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return raw
	}
	return c.baseURL.ResolveReference(ref).String()
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
