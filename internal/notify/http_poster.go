package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Error bodies are truncated so a misbehaving endpoint cannot flood logs.
const httpErrorBodyLimit = 1024

type timingConfig struct {
	timeout           time.Duration
	rateInterval      time.Duration
	rateBurst         int
	backoffMaxElapsed time.Duration
	backoffMax        time.Duration
	backoffInitial    time.Duration
}

var defaultTiming = timingConfig{
	timeout:           10 * time.Second,
	rateInterval:      1 * time.Second,
	rateBurst:         1,
	backoffMaxElapsed: 30 * time.Second,
	backoffMax:        10 * time.Second,
	backoffInitial:    1 * time.Second,
}

// httpPoster delivers notification payloads to a webhook endpoint. Retries
// are driven here rather than inside retryablehttp so that Retry-After
// hints and the backoff budget stay under one roof.
type httpPoster struct {
	logger      zerolog.Logger
	serviceName string
	webhookURL  string
	contentType string
	client      *retryablehttp.Client
	timing      timingConfig
	limiterMu   sync.Mutex
	limiters    map[string]*rate.Limiter
}

func newHTTPPoster(logger zerolog.Logger, serviceName, webhookURL, contentType string, timing timingConfig) *httpPoster {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.timeout}

	return &httpPoster{
		logger:      logger,
		serviceName: serviceName,
		webhookURL:  webhookURL,
		contentType: contentType,
		client:      client,
		timing:      timing,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// waitForRateLimit blocks until the named limiter grants a slot. Each key
// gets its own limiter so slack and webhook deliveries never starve each
// other.
func (n *httpPoster) waitForRateLimit(ctx context.Context, key string) error {
	n.limiterMu.Lock()
	limiter, ok := n.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(n.timing.rateInterval), n.timing.rateBurst)
		n.limiters[key] = limiter
	}
	n.limiterMu.Unlock()

	return limiter.Wait(ctx)
}

// postWithRetry delivers payload, retrying transient failures until the
// backoff budget is spent. Endpoint Retry-After hints override the
// computed backoff delay.
func (n *httpPoster) postWithRetry(ctx context.Context, payload []byte) error {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = n.timing.backoffInitial
	schedule.MaxInterval = n.timing.backoffMax
	schedule.MaxElapsedTime = n.timing.backoffMaxElapsed
	schedule.Reset()

	for attempt := 1; ; attempt++ {
		err := n.post(ctx, payload)
		if err == nil {
			return nil
		}

		wait, retryable := n.retryDelay(err, schedule)
		if !retryable {
			return err
		}
		n.logger.Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("wait", wait).
			Str("service", n.serviceName).
			Msg("delivery failed; will retry")
		if !sleepWithContext(ctx, wait) {
			return ctx.Err()
		}
	}
}

// retryDelay classifies err and picks the next wait. The second return is
// false when the error is permanent or the backoff budget is exhausted.
func (n *httpPoster) retryDelay(err error, schedule backoff.BackOff) (time.Duration, bool) {
	var hinted *retryAfterError
	if errors.As(err, &hinted) {
		return hinted.Duration, true
	}
	var transient *retryableError
	if !errors.As(err, &transient) {
		return 0, false
	}
	wait := schedule.NextBackOff()
	if wait == backoff.Stop {
		return 0, false
	}
	return wait, true
}

func (n *httpPoster) post(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, n.timing.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", n.serviceName, err)
	}
	req.Header.Set("Content-Type", n.contentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("%s request failed: %w", n.serviceName, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return n.classifyStatus(resp)
}

// classifyStatus maps a non-2xx response to the retry taxonomy: 429 with a
// Retry-After hint waits exactly that long, 429 without one and 5xx back
// off, anything else is permanent.
func (n *httpPoster) classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		cause := fmt.Errorf("%s rate limited: %s", n.serviceName, resp.Status)
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return &retryAfterError{Duration: wait, err: cause}
		}
		return &retryableError{err: cause}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &retryableError{err: fmt.Errorf("%s server error: %s", n.serviceName, resp.Status)}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, httpErrorBodyLimit))
	if bodyText := strings.TrimSpace(string(body)); bodyText != "" {
		return fmt.Errorf("%s request failed: %s (%s)", n.serviceName, resp.Status, bodyText)
	}
	return fmt.Errorf("%s request failed: %s", n.serviceName, resp.Status)
}

// parseRetryAfter accepts both delay-seconds and HTTP-date forms.
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	wait := time.Until(when)
	if wait <= 0 {
		return 0, false
	}
	return wait, true
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// retryableError marks a delivery failure worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// retryAfterError carries an explicit wait requested by the endpoint.
type retryAfterError struct {
	Duration time.Duration
	err      error
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("rate limited; retry after %s", e.Duration)
}

func (e *retryAfterError) Unwrap() error {
	return e.err
}
