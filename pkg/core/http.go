package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/citymap/pkg/tracing"
)

// RetryOptions configures retry behavior for HTTP requests
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions provides sensible defaults for retries
var DefaultRetryOptions = RetryOptions{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2.0,
}

// DefaultClient provides a pre-configured HTTP client
var DefaultClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// RequestFactory creates a fresh request for every attempt so that requests
// with bodies can be retried.
type RequestFactory func() (*http.Request, error)

// WithRetryFactory performs HTTP requests created by a factory with
// exponential backoff. Only a 200 response is returned; the caller owns its
// body.
func WithRetryFactory(ctx context.Context, factory RequestFactory, client *http.Client, options RetryOptions) (*http.Response, error) {
	ctx, span := tracing.StartRetry(ctx, options.MaxAttempts)
	defer span.End()

	if client == nil {
		client = DefaultClient
	}
	if options.MaxAttempts < 1 {
		options.MaxAttempts = 1
	}

	var lastErr error
	delay := options.InitialDelay
	logger := slog.Default()

	for attempt := 0; attempt < options.MaxAttempts; attempt++ {
		if attempt > 0 {
			tracing.AddEvent(ctx, "retry_attempt",
				trace.WithAttributes(
					attribute.Int("attempt", attempt+1),
					attribute.Int64("delay_ms", delay.Milliseconds()),
					attribute.String("error", fmt.Sprintf("%v", lastErr)),
				),
			)

			logger.Info("retrying request",
				"attempt", attempt+1,
				"max_attempts", options.MaxAttempts,
				"delay", delay,
				"last_error", lastErr,
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				tracing.Fail(span, ctx.Err(), "request cancelled")
				return nil, ctx.Err()
			}

			delay = time.Duration(float64(delay) * options.Multiplier)
			if delay > options.MaxDelay {
				delay = options.MaxDelay
			}
		}

		req, err := factory()
		if err != nil {
			// A factory failure will not fix itself on retry.
			tracing.Fail(span, err, "request creation failed")
			return nil, NewError(ErrInternalError, fmt.Sprintf("failed to create request: %v", err))
		}
		req = req.WithContext(ctx)

		resp, err := client.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			span.SetAttributes(
				attribute.String(tracing.AttrHTTPMethod, req.Method),
				attribute.String("http.host", req.URL.Host),
				attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode),
				attribute.Int("http.retry.attempts", attempt+1),
			)
			tracing.Succeed(span)

			logger.Debug("request successful",
				"status", resp.StatusCode,
				"content_length", resp.ContentLength,
				"url", req.URL.String(),
			)
			return resp, nil
		}

		if err != nil {
			lastErr = err
			logger.Error("request failed",
				"error", err,
				"attempt", attempt+1,
				"url", req.URL.String(),
			)
			continue
		}

		lastErr = ServiceError(req.URL.Host, resp.StatusCode, fmt.Sprintf("HTTP status %d", resp.StatusCode))
		logger.Error("request returned error status",
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"url", req.URL.String(),
		)
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", "error", err)
		}
		if resp.StatusCode == http.StatusBadRequest {
			// A rejected query stays rejected.
			break
		}
	}

	tracing.Fail(span, lastErr, "max retries exceeded")
	span.SetAttributes(
		attribute.String("http.retry.final_error", fmt.Sprintf("%v", lastErr)),
	)

	if mcpErr, ok := AsMCPError(lastErr); ok {
		return nil, mcpErr
	}
	return nil, NewError(ErrNetworkError, fmt.Sprintf("request failed: %v", lastErr)).
		WithGuidance("The request failed after multiple attempts. Please try again later")
}
