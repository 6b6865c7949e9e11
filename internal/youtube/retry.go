package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"
)

type retryConfig struct {
	maxRetries  int
	initialWait time.Duration
	maxWait     time.Duration
	multiplier  float64
}

var defaultRetry = retryConfig{
	maxRetries:  3,
	initialWait: 500 * time.Millisecond,
	maxWait:     10 * time.Second,
	multiplier:  2.0,
}

// statusError marks an HTTP status worth mapping to the retry taxonomy.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d %s", e.code, http.StatusText(e.code))
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return retryableStatus(se.code)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// fetch runs one rate-limited, retried page request and returns the body,
// capped at maxBody. Non-retryable statuses come back as *statusError so
// callers can map 404/410/429 to domain outcomes.
func (c *Client) fetch(ctx context.Context, req func() (*http.Request, error)) ([]byte, error) {
	const maxBody = 4 << 20

	var lastErr error
	for attempt := 0; attempt <= c.retry.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.doOnce(ctx, req, maxBody)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		if attempt < c.retry.maxRetries {
			wait := time.Duration(float64(c.retry.initialWait) * math.Pow(c.retry.multiplier, float64(attempt)))
			if wait > c.retry.maxWait {
				wait = c.retry.maxWait
			}
			slog.Debug("youtube: retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("wait", wait),
				slog.Any("error", err))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, req func() (*http.Request, error), maxBody int64) ([]byte, error) {
	r, err := req()
	if err != nil {
		return nil, err
	}
	r = r.WithContext(ctx)
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", userAgent)
	}
	if r.Header.Get("Accept-Language") == "" {
		r.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}

	resp, err := c.http.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &statusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// httpStatus unwraps the status code carried by err, or zero.
func httpStatus(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}
