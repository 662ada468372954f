package osm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/citymap/pkg/core"
	"github.com/NERVsystems/citymap/pkg/tracing"
)

const (
	// OverpassBaseURL is the public Overpass interpreter endpoint
	OverpassBaseURL = "https://overpass-api.de/api/interpreter"

	// DefaultUserAgent is sent with every request
	DefaultUserAgent = "citymap/0.1.0"

	// DefaultCacheSize is the number of raw responses kept
	DefaultCacheSize = 32

	// DefaultCacheTTL bounds how long a raw response is reused
	DefaultCacheTTL = 10 * time.Minute

	// DefaultMaxResponseBytes caps a single response body
	DefaultMaxResponseBytes = 256 << 20
)

// Config configures a Client. Zero values fall back to the defaults above.
type Config struct {
	BaseURL    string
	UserAgent  string
	RPS        float64
	Burst      int
	CacheSize  int
	CacheTTL   time.Duration
	HTTPClient *http.Client
	Retry      *core.RetryOptions
	Logger     *slog.Logger

	// MaxResponseBytes rejects larger bodies instead of truncating them
	MaxResponseBytes int64
}

// Client fetches raw Overpass results. Responses are cached by query,
// identical concurrent queries share one request and all requests pass
// through a token bucket limiter.
type Client struct {
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	cache      *expirable.LRU[string, []byte]
	group      singleflight.Group
	httpClient *http.Client
	retry      core.RetryOptions
	maxBytes   int64
	logger     *slog.Logger
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OverpassBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = core.DefaultClient
	}
	retry := core.DefaultRetryOptions
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		cache:      expirable.NewLRU[string, []byte](cfg.CacheSize, nil, cfg.CacheTTL),
		httpClient: cfg.HTTPClient,
		retry:      retry,
		maxBytes:   cfg.MaxResponseBytes,
		logger:     cfg.Logger.With("component", "overpass_client"),
	}
}

// Fetch runs query against the Overpass interpreter and returns the raw
// response body. On failure no bytes are returned.
func (c *Client) Fetch(ctx context.Context, query string) ([]byte, error) {
	key := cacheKey(query)

	ctx, span := tracing.StartFetch(ctx, c.baseURL)
	defer span.End()

	if data, ok := c.cache.Get(key); ok {
		hookCache(tracing.ServiceOverpass, true)
		span.SetAttributes(tracing.CacheAttributes(tracing.CacheTypeOverpass, true, key)...)
		c.logger.Debug("overpass cache hit", "key", key, "size", humanize.Bytes(uint64(len(data))))
		return data, nil
	}
	hookCache(tracing.ServiceOverpass, false)
	span.SetAttributes(tracing.CacheAttributes(tracing.CacheTypeOverpass, false, key)...)

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		return c.fetch(ctx, query)
	})
	if err != nil {
		tracing.Fail(span, err, "")
		return nil, err
	}

	data := v.([]byte)
	c.cache.Add(key, data)
	span.SetAttributes(
		attribute.Int(tracing.AttrIngestBytes, len(data)),
		attribute.Bool("overpass.shared", shared),
	)
	tracing.Succeed(span)
	return data, nil
}

func (c *Client) fetch(ctx context.Context, query string) ([]byte, error) {
	const operation = "interpreter"
	service := tracing.ServiceOverpass

	hookRequest(service, operation)

	if err := c.waitForRateLimit(ctx); err != nil {
		hookError(service, "rate_limit_wait_error")
		return nil, core.NewError(core.ErrRateLimit, fmt.Sprintf("rate limit wait aborted: %v", err))
	}

	body := "data=" + url.QueryEscape(query)
	factory := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.baseURL, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", c.userAgent)
		return req, nil
	}

	start := time.Now()
	resp, err := core.WithRetryFactory(ctx, factory, c.httpClient, c.retry)
	if err != nil {
		hookResponse(service, operation, time.Since(start), false)
		hookError(service, "request_error")
		return nil, err
	}
	defer resp.Body.Close()

	// one byte past the limit tells an oversized body from one that fits exactly
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	duration := time.Since(start)
	if err != nil {
		hookResponse(service, operation, duration, false)
		hookError(service, "read_error")
		return nil, core.NewError(core.ErrNetworkError, fmt.Sprintf("failed to read overpass response: %v", err))
	}
	if int64(len(data)) > c.maxBytes {
		hookResponse(service, operation, duration, false)
		hookError(service, "response_too_large")
		return nil, core.NewError(core.ErrResponseTooLarge,
			fmt.Sprintf("overpass response exceeds %s", humanize.Bytes(uint64(c.maxBytes)))).
			WithGuidance("Reduce the bounding box or split it into smaller areas.")
	}
	hookResponse(service, operation, duration, true)

	c.logger.Info("overpass query complete",
		"size", humanize.Bytes(uint64(len(data))),
		"duration", duration,
	)
	return data, nil
}

// waitForRateLimit blocks until the limiter admits one request.
func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.limiter.Allow() {
		return nil
	}

	start := time.Now()
	tracing.AddEvent(ctx, "rate_limit_wait",
		trace.WithAttributes(
			attribute.String(tracing.AttrRateLimitService, tracing.ServiceOverpass),
		),
	)

	err := c.limiter.Wait(ctx)

	wait := time.Since(start)
	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrRateLimitService, tracing.ServiceOverpass),
		attribute.Int64(tracing.AttrRateLimitWaitMs, wait.Milliseconds()),
	)
	hookRateLimit(tracing.ServiceOverpass, wait)
	return err
}

// CachedQueries returns the number of responses currently cached.
func (c *Client) CachedQueries() int {
	return c.cache.Len()
}

func cacheKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:8])
}
