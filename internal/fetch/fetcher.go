package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Kind classifies the outcome of a single request attempt.
type Kind int

const (
	// KindRateLimited is an HTTP 429; retried, honoring Retry-After.
	KindRateLimited Kind = iota
	// KindServerError is an HTTP 5xx; retried with backoff.
	KindServerError
	// KindTimeout covers request timeouts and transport failures; retried.
	KindTimeout
	// KindClientError is a 4xx other than 429; never retried.
	KindClientError
	// KindMalformed is a response body that could not be read.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindTimeout:
		return "timeout"
	case KindClientError:
		return "client_error"
	case KindMalformed:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Error is a classified fetch failure. Status is zero when no HTTP response
// was received.
type Error struct {
	Kind    Kind
	Status  int
	URL     string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (HTTP %d)", e.URL, e.Kind, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Wrapped)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindTimeout:
		return true
	}
	return false
}

// Config controls retry, backoff and pacing behavior.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration

	// RequestsPerSecond paces outgoing requests; zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	// Transport allows injecting a stub transport in tests.
	Transport http.RoundTripper
}

// DefaultConfig returns the pacing and retry defaults used against public
// Jira instances.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		BaseDelay:         time.Second,
		MaxDelay:          5 * time.Minute,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 0.28,
		Burst:             1,
	}
}

// Fetcher issues single GET requests with bounded retry and backoff. It is
// stateless across calls apart from the shared rate limiter.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	cfg     Config
	logger  *zap.Logger

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher from config.
func NewFetcher(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Fetch performs a GET against rawURL with params appended to the query
// string, retrying transient failures. It returns the response body and
// status on success, or a classified *Error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, params url.Values) ([]byte, int, error) {
	reqURL := rawURL
	if len(params) > 0 {
		sep := "?"
		if u, err := url.Parse(rawURL); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		reqURL = rawURL + sep + params.Encode()
	}

	var lastErr *Error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, 0, err
			}
		}

		body, status, ferr := f.doOnce(ctx, reqURL)
		if ferr == nil {
			return body, status, nil
		}
		lastErr = ferr

		if !ferr.Retryable() {
			return nil, ferr.Status, ferr
		}
		if attempt == f.cfg.MaxAttempts {
			break
		}

		delay := f.backoff(attempt, ferr)
		f.logger.Warn("retrying request",
			zap.String("url", reqURL),
			zap.String("kind", ferr.Kind.String()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, 0, err
		}
	}

	return nil, lastErr.Status, fmt.Errorf("retries exhausted after %d attempts: %w", f.cfg.MaxAttempts, lastErr)
}

// doOnce executes one attempt and classifies the outcome.
func (f *Fetcher) doOnce(ctx context.Context, reqURL string) ([]byte, int, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, &Error{Kind: KindClientError, URL: reqURL, Wrapped: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, &Error{Kind: classifyTransport(err), URL: reqURL, Wrapped: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &Error{Kind: KindMalformed, Status: resp.StatusCode, URL: reqURL, Wrapped: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		ferr := &Error{Kind: KindRateLimited, Status: resp.StatusCode, URL: reqURL}
		if ra, ok := retryAfter(resp.Header); ok {
			ferr.Wrapped = &retryAfterHint{delay: ra}
		}
		return nil, resp.StatusCode, ferr
	case resp.StatusCode >= 500:
		return nil, resp.StatusCode, &Error{Kind: KindServerError, Status: resp.StatusCode, URL: reqURL}
	case resp.StatusCode >= 400:
		return nil, resp.StatusCode, &Error{Kind: KindClientError, Status: resp.StatusCode, URL: reqURL}
	}

	return body, resp.StatusCode, nil
}

// backoff returns the delay before the next attempt, the server-provided
// Retry-After when present and min(maxDelay, base*2^(attempt-1)) otherwise.
func (f *Fetcher) backoff(attempt int, ferr *Error) time.Duration {
	// A server-mandated Retry-After is honored as-is, even past maxDelay.
	var hint *retryAfterHint
	if errors.As(ferr.Wrapped, &hint) {
		return hint.delay
	}

	delay := f.cfg.BaseDelay << uint(attempt-1)
	if delay > f.cfg.MaxDelay || delay <= 0 {
		delay = f.cfg.MaxDelay
	}
	return delay
}

// retryAfterHint carries a server-mandated delay through the error chain.
type retryAfterHint struct {
	delay time.Duration
}

func (h *retryAfterHint) Error() string {
	return fmt.Sprintf("retry after %s", h.delay)
}

// retryAfter parses a Retry-After header as delay-seconds or an HTTP
// date. A present "0" (or a date already past) means retry immediately.
func retryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return KindTimeout
	}
	var nerr interface{ Timeout() bool }
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTimeout
	}
	// Connection resets and refused connections retry the same way.
	return KindTimeout
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
