package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nholik/safety-companion/internal/transition"
	"github.com/rs/zerolog"
)

func testTiming() timingConfig {
	return timingConfig{
		timeout:           time.Second,
		rateInterval:      time.Hour,
		rateBurst:         1,
		backoffInitial:    time.Millisecond,
		backoffMax:        2 * time.Millisecond,
		backoffMaxElapsed: 50 * time.Millisecond,
	}
}

func TestChannelThrottlesPerTransitionKind(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	ch := newChannel(zerolog.Nop(), "webhook", server.URL, testTiming())
	endpoint := "http://localhost:8000/api/v1/jha/health"
	failure := transition.Change{Endpoint: endpoint, PreviousPhase: "success", CurrentPhase: "failure"}
	recovery := transition.Change{Endpoint: endpoint, PreviousPhase: "failure", CurrentPhase: "success"}

	if err := ch.deliver(context.Background(), failure, []byte(`{}`)); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if err := ch.deliver(context.Background(), recovery, []byte(`{}`)); err != nil {
		t.Fatalf("recovery should not share the failure throttle: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := ch.deliver(ctx, failure, []byte(`{}`)); err == nil {
		t.Fatalf("expected repeated failure alert to be throttled")
	}

	other := failure
	other.Endpoint = "http://backup:8000/api/v1/jha/health"
	if err := ch.deliver(context.Background(), other, []byte(`{}`)); err != nil {
		t.Fatalf("other endpoint should have its own throttle: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 deliveries, got %d", got)
	}
}

func TestChannelHonorsRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
	}))
	defer server.Close()

	timing := testTiming()
	timing.backoffMaxElapsed = 5 * time.Second
	ch := newChannel(zerolog.Nop(), "slack", server.URL, timing)

	start := time.Now()
	if err := ch.send(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("expected Retry-After wait, retried after %s", elapsed)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestRetryAfterBackOff(t *testing.T) {
	timing := testTiming()
	timing.backoffMaxElapsed = time.Second
	policy := newRetryAfterBackOff(timing)

	policy.hint = 200 * time.Millisecond
	if got := policy.NextBackOff(); got != 200*time.Millisecond {
		t.Fatalf("expected hint to be used, got %s", got)
	}
	if got := policy.NextBackOff(); got == backoff.Stop || got > timing.backoffMax {
		t.Fatalf("expected exponential wait after hint, got %s", got)
	}

	policy.hint = time.Minute
	if got := policy.NextBackOff(); got != backoff.Stop {
		t.Fatalf("expected hint beyond budget to stop, got %s", got)
	}
}

func TestKindOfAndSummary(t *testing.T) {
	cases := []struct {
		change  transition.Change
		kind    Kind
		summary string
	}{
		{change: transition.Change{CurrentPhase: "failure"}, kind: KindFailure, summary: "JHA backend unreachable"},
		{change: transition.Change{PreviousPhase: "failure", CurrentPhase: "success"}, kind: KindRecovery, summary: "JHA backend recovered"},
		{change: transition.Change{PreviousPhase: "success", CurrentPhase: "success", CurrentStatus: "degraded"}, kind: KindStatus, summary: "JHA backend status degraded"},
	}

	for _, tc := range cases {
		if got := KindOf(tc.change); got != tc.kind {
			t.Fatalf("KindOf(%+v) = %s, want %s", tc.change, got, tc.kind)
		}
		if got := Summary(tc.change); got != tc.summary {
			t.Fatalf("Summary(%+v) = %q, want %q", tc.change, got, tc.summary)
		}
	}
}

func TestWebhookDefaultPayloadFields(t *testing.T) {
	notifier, err := NewWebhookNotifier(zerolog.Nop(), "http://example.com/hook", "")
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}
	notifier.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	body, err := notifier.render(failureChange())
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var payload struct {
		Kind        string            `json:"kind"`
		Summary     string            `json:"summary"`
		Endpoint    string            `json:"endpoint"`
		GeneratedAt time.Time         `json:"generated_at"`
		Change      transition.Change `json:"change"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("default payload is not JSON: %v\n%s", err, body)
	}
	if payload.Kind != "failure" || payload.Summary != "JHA backend unreachable" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Endpoint != failureChange().Endpoint || payload.Change.Error != failureChange().Error {
		t.Fatalf("unexpected change in payload: %+v", payload)
	}
	if !payload.GeneratedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected generated_at: %s", payload.GeneratedAt)
	}
}
