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
	"github.com/nholik/safety-companion/internal/transition"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	errorBodyLimit = 1024
	userAgent      = "safety-companion-notifier"
)

type timingConfig struct {
	timeout           time.Duration
	rateInterval      time.Duration
	rateBurst         int
	backoffInitial    time.Duration
	backoffMax        time.Duration
	backoffMaxElapsed time.Duration
}

var defaultTiming = timingConfig{
	timeout:           10 * time.Second,
	rateInterval:      15 * time.Second,
	rateBurst:         1,
	backoffInitial:    time.Second,
	backoffMax:        10 * time.Second,
	backoffMaxElapsed: 30 * time.Second,
}

// throttleKey scopes rate limiting to one backend endpoint and one kind of
// transition. A backend flapping between the same states is throttled while
// the first recovery after an outage still goes out immediately.
type throttleKey struct {
	endpoint string
	kind     Kind
}

// channel delivers rendered alerts to a single incoming webhook.
type channel struct {
	logger      zerolog.Logger
	name        string
	url         string
	contentType string
	client      *retryablehttp.Client
	timing      timingConfig

	mu       sync.Mutex
	limiters map[throttleKey]*rate.Limiter
}

func newChannel(logger zerolog.Logger, name, url string, timing timingConfig) *channel {
	// send owns retries; the client makes exactly one attempt.
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.timeout}

	return &channel{
		logger:      logger.With().Str("channel", name).Logger(),
		name:        name,
		url:         url,
		contentType: "application/json",
		client:      client,
		timing:      timing,
		limiters:    make(map[throttleKey]*rate.Limiter),
	}
}

// deliver sends every payload of one alert in order. The alert waits for the
// throttle of its endpoint and transition kind once, then each payload is
// retried independently.
func (c *channel) deliver(ctx context.Context, change transition.Change, payloads ...[]byte) error {
	key := throttleKey{endpoint: change.Endpoint, kind: KindOf(change)}
	if err := c.limiter(key).Wait(ctx); err != nil {
		return fmt.Errorf("%s throttled %s alert: %w", c.name, key.kind, err)
	}

	for i, payload := range payloads {
		if err := c.send(ctx, payload); err != nil {
			if len(payloads) > 1 {
				return fmt.Errorf("%s part %d/%d: %w", c.name, i+1, len(payloads), err)
			}
			return err
		}
	}
	return nil
}

func (c *channel) limiter(key throttleKey) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, ok := c.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(c.timing.rateInterval), c.timing.rateBurst)
		c.limiters[key] = limiter
	}
	return limiter
}

func (c *channel) send(ctx context.Context, payload []byte) error {
	policy := newRetryAfterBackOff(c.timing)

	operation := func() error {
		err := c.postOnce(ctx, payload)
		if err == nil {
			return nil
		}
		var hinted *retryAfterError
		if errors.As(err, &hinted) {
			policy.hint = hinted.Duration
			return err
		}
		var retryable *retryableError
		if errors.As(err, &retryable) {
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		c.logger.Debug().Err(err).Dur("wait", wait).Msg("retrying notification")
	})
}

func (c *channel) postOnce(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timing.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", c.contentType)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("%s request failed: %w", c.name, err)}
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		limited := fmt.Errorf("%s rate limited: %s", c.name, resp.Status)
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return &retryAfterError{Duration: wait, err: limited}
		}
		return &retryableError{err: limited}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &retryableError{err: fmt.Errorf("%s server error: %s", c.name, resp.Status)}
	}

	if text := strings.TrimSpace(string(excerpt)); text != "" {
		return fmt.Errorf("%s rejected alert: %s (%s)", c.name, resp.Status, text)
	}
	return fmt.Errorf("%s rejected alert: %s", c.name, resp.Status)
}

// retryAfterBackOff is an exponential policy that yields to a server's
// Retry-After hint for the next wait, within the same elapsed budget.
type retryAfterBackOff struct {
	*backoff.ExponentialBackOff
	hint time.Duration
}

func newRetryAfterBackOff(timing timingConfig) *retryAfterBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = timing.backoffInitial
	exp.MaxInterval = timing.backoffMax
	exp.MaxElapsedTime = timing.backoffMaxElapsed
	exp.Reset()
	return &retryAfterBackOff{ExponentialBackOff: exp}
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	if b.hint <= 0 {
		return b.ExponentialBackOff.NextBackOff()
	}
	wait := b.hint
	b.hint = 0
	if budget := b.MaxElapsedTime; budget > 0 && b.GetElapsedTime()+wait > budget {
		return backoff.Stop
	}
	return wait
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if wait := time.Until(when); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

type retryAfterError struct {
	Duration time.Duration
	err      error
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("%v; retry after %s", e.err, e.Duration)
}

func (e *retryAfterError) Unwrap() error {
	return e.err
}
