package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultFetchAttempts = 5
	defaultFetchDelay    = 500 * time.Millisecond
	defaultFetchTimeout  = 20 * time.Second

	// Upstream pacing; feeds are polled, not hammered.
	fetchRatePerSec = 10

	jitterMax = 200 * time.Millisecond
)

// HTTPError is a non-success upstream status. Anything below 500 is a
// contract problem on our side and must not be retried.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func (e *HTTPError) Retryable() bool {
	return e.Status >= 500
}

// FetchClient wraps outbound feed and provider calls with a hard
// per-attempt timeout, bounded retries with exponential backoff and
// jitter, and rate limiting.
type FetchClient struct {
	http        *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
}

func NewFetchClient() *FetchClient {
	return NewFetchClientWith(defaultFetchAttempts, defaultFetchDelay, defaultFetchTimeout)
}

func NewFetchClientWith(maxAttempts int, baseDelay, timeout time.Duration) *FetchClient {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &FetchClient{
		http:        &http.Client{},
		limiter:     rate.NewLimiter(fetchRatePerSec, 5),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		timeout:     timeout,
	}
}

// FetchJSON GETs url and returns the raw JSON body.
func (c *FetchClient) FetchJSON(ctx context.Context, url string) (json.RawMessage, error) {
	return c.doWithRetry(ctx, func(attemptCtx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
}

// PostJSON POSTs body as JSON and returns the raw JSON response.
func (c *FetchClient) PostJSON(ctx context.Context, url string, body any) (json.RawMessage, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return c.doWithRetry(ctx, func(attemptCtx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
}

// doWithRetry runs attempts until success, a terminal error, or
// exhaustion. Each attempt is bounded by the client's timeout; between
// attempts the delay doubles from baseDelay plus a random jitter so
// concurrent schedulers don't retry in lockstep.
func (c *FetchClient) doWithRetry(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, err := c.doOnce(ctx, build)
		if err == nil {
			return body, nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retryable() {
			return nil, err
		}

		lastErr = err
		if attempt < c.maxAttempts-1 {
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *FetchClient) doOnce(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := build(attemptCtx)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Message: string(body)}
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("upstream returned invalid JSON")
	}
	return body, nil
}

func (c *FetchClient) sleep(ctx context.Context, attempt int) error {
	backoff := c.baseDelay << attempt
	jitter := time.Duration(rand.Int63n(int64(jitterMax)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff + jitter):
		return nil
	}
}
