package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/osmedit/osmedit/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
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

// DefaultClient provides a pre-configured HTTP client with secure defaults
var DefaultClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// RequestFactory is a function that creates a new HTTP request.
// Requests with bodies cannot be replayed, so retries rebuild them.
type RequestFactory func() (*http.Request, error)

// retryable reports whether a status is worth another attempt. Client
// errors are final: the object-limit condition (400/509) is handled by
// the fetch coordinator's shrink policy, not by blind retry, and auth
// failures never fix themselves.
func retryable(statusCode int) bool {
	if IsObjectLimit(statusCode) {
		return false
	}
	return statusCode >= 500
}

// WithRetryFactory performs HTTP requests created by a factory with
// exponential backoff on transport failures and retryable server errors.
func WithRetryFactory(ctx context.Context, factory RequestFactory, client *http.Client, options RetryOptions) (*http.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "http.request",
		trace.WithAttributes(
			attribute.Int("http.retry.max_attempts", options.MaxAttempts),
		),
	)
	defer span.End()

	logger := slog.Default()
	if client == nil {
		client = DefaultClient
	}

	var lastErr error
	delay := options.InitialDelay

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
				span.SetStatus(codes.Error, "request cancelled")
				return nil, ctx.Err()
			}

			delay = time.Duration(float64(delay) * options.Multiplier)
			if delay > options.MaxDelay {
				delay = options.MaxDelay
			}
		}

		req, err := factory()
		if err != nil {
			span.SetStatus(codes.Error, "request construction failed")
			// Factories fail for reasons callers branch on, like a
			// missing access token. Keep the chain intact.
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req = req.WithContext(ctx)

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			logger.Error("request failed",
				"error", err,
				"attempt", attempt+1,
				"url", req.URL.String(),
			)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			span.SetAttributes(
				attribute.String(tracing.AttrHTTPMethod, req.Method),
				attribute.String("http.url", req.URL.String()),
				attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode),
				attribute.Int("http.retry.attempts", attempt+1),
			)
			span.SetStatus(codes.Ok, "")

			logger.Debug("request successful",
				"status", resp.StatusCode,
				"content_length", resp.ContentLength,
				"url", req.URL.String(),
			)
			return resp, nil
		}

		body := readBodyText(resp)
		lastErr = ServerError(fmt.Sprintf("%s %s", req.Method, req.URL.Path), resp.StatusCode, body)
		logger.Error("request returned error status",
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"url", req.URL.String(),
		)

		if !retryable(resp.StatusCode) {
			span.RecordError(lastErr)
			span.SetStatus(codes.Error, "non-retryable status")
			span.SetAttributes(attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode))
			return nil, lastErr
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "max retries exceeded")
	span.SetAttributes(
		attribute.Int("http.retry.attempts", options.MaxAttempts),
		attribute.String("http.retry.final_error", fmt.Sprintf("%v", lastErr)),
	)

	if coreErr, ok := lastErr.(*Error); ok {
		return nil, coreErr
	}
	return nil, NewError(ErrNetworkError, fmt.Sprintf("max retries reached: %v", lastErr)).
		WithGuidance("The request failed after multiple attempts. Please try again later")
}

// DoWithRetry performs a bodyless HTTP request with default retry options.
func DoWithRetry(ctx context.Context, req *http.Request, client *http.Client) (*http.Response, error) {
	return WithRetryFactory(ctx, func() (*http.Request, error) {
		return req.Clone(req.Context()), nil
	}, client, DefaultRetryOptions)
}

// readBodyText drains and closes a response body, returning its text.
// The server's explanation travels verbatim in error values.
func readBodyText(resp *http.Response) string {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return ""
	}
	return string(data)
}
