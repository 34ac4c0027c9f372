// Package client provides the enterprise session API client: the
// authenticated HTTP primitive the shipper's "enterprise" target
// dispatches through. The client owns its own retry, backoff, and
// auth for the enterprise dispatch path.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client is the session-scoped API client used for enterprise-target
// dispatch.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
	logger     *slog.Logger
	limiter    *rate.Limiter
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
	Logger     *slog.Logger

	// RequestsPerMinute caps the sustained POST rate this client will
	// issue, smoothing out bursts (e.g. several ticks' worth of queued
	// batches after a long GC pause). Default: 120/min.
	RequestsPerMinute int
}

// New creates a session API client.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 120
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		authToken:  cfg.AuthToken,
		logger:     cfg.Logger.With("component", "session_api_client"),
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

// retryBackoff returns the delay before the given retry attempt
// (0-indexed), exponential with a 5s ceiling.
func retryBackoff(attempt int) time.Duration {
	d := 100 * time.Millisecond * time.Duration(1<<uint(attempt))
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}

// Post delivers body to path, making up to maxAttempts attempts in
// total when retry is true (a single attempt otherwise). description is
// a human-readable label used only for log breadcrumbs.
func (c *Client) Post(ctx context.Context, path string, body any, retry bool, maxAttempts int, description string) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if !retry {
		maxAttempts = 1
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request for %s: %w", description, err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff(attempt - 1)):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait for %s: %w", description, err)
		}

		lastErr = c.post(ctx, path, data)
		if lastErr == nil {
			return nil
		}

		c.logger.Debug("session API post failed",
			"description", description,
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
			"error", lastErr)
	}

	return fmt.Errorf("%s: giving up after %d attempts: %w", description, maxAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, path string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	io.Copy(io.Discard, resp.Body)
	return nil
}
