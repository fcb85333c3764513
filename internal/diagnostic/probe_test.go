package diagnostic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nholik/safety-companion/internal/apiclient"
	"github.com/rs/zerolog"
)

type reply struct {
	result apiclient.HealthCheckResult
	err    error
}

// fakeChecker blocks each call until a reply is pushed for it, in call order.
type fakeChecker struct {
	mu      sync.Mutex
	calls   int
	replies []chan reply
	started chan int
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{started: make(chan int, 16)}
}

func (f *fakeChecker) CheckJHAHealth(ctx context.Context) (apiclient.HealthCheckResult, error) {
	f.mu.Lock()
	ch := make(chan reply, 1)
	f.replies = append(f.replies, ch)
	f.calls++
	index := f.calls - 1
	f.mu.Unlock()
	f.started <- index

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		return apiclient.HealthCheckResult{}, ctx.Err()
	}
}

func (f *fakeChecker) resolve(t *testing.T, index int, r reply) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if index >= len(f.replies) {
		t.Fatalf("call %d not started", index)
	}
	f.replies[index] <- r
}

func (f *fakeChecker) waitStarted(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.started:
		case <-time.After(time.Second):
			t.Fatalf("expected %d calls to start", n)
		}
	}
}

func healthy() apiclient.HealthCheckResult {
	return apiclient.HealthCheckResult{
		Status:  "healthy",
		Service: "jha",
		Version: "1.0.0",
		Agents:  map[string]string{"hazard": "ready"},
	}
}

func waitToken(t *testing.T, p *Probe, token uint64) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := p.Wait(ctx, token)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return state
}

func TestProbe_StartsIdle(t *testing.T) {
	p := NewProbe(zerolog.Nop(), newFakeChecker())
	state := p.Snapshot()
	if state.Phase != PhaseIdle || state.Token != 0 {
		t.Fatalf("unexpected initial state: %+v", state)
	}
	if state.CORSStatus() != corsTesting {
		t.Fatalf("unexpected cors status: %s", state.CORSStatus())
	}
}

func TestProbe_Success(t *testing.T) {
	checker := newFakeChecker()
	p := NewProbe(zerolog.Nop(), checker)
	defer p.Close()

	token := p.Trigger()
	checker.waitStarted(t, 1)

	if state := p.Snapshot(); !state.Loading() || state.Token != token {
		t.Fatalf("expected loading state, got %+v", state)
	}

	checker.resolve(t, 0, reply{result: healthy()})
	state := waitToken(t, p, token)

	if state.Phase != PhaseSuccess {
		t.Fatalf("expected success, got %s", state.Phase)
	}
	if state.Result == nil || state.Result.Status != "healthy" {
		t.Fatalf("unexpected result: %+v", state.Result)
	}
	if state.Error != "" {
		t.Fatalf("expected no error alongside result, got %q", state.Error)
	}
	if state.CORSStatus() != corsConfigured {
		t.Fatalf("unexpected cors status: %s", state.CORSStatus())
	}
}

func TestProbe_FailureLabels(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantLabel string
		wantCORS  string
	}{
		{
			name:      "generic",
			err:       &apiclient.NetworkOrServerError{Message: "API error: 500 Internal Server Error"},
			wantLabel: labelConnectionFailed,
			wantCORS:  corsTesting,
		},
		{
			name:      "cors",
			err:       &apiclient.NetworkOrServerError{Message: "CORS policy: no Access-Control-Allow-Origin header"},
			wantLabel: labelCORSBlocked,
			wantCORS:  corsBlocked,
		},
		{
			name:      "lowercase cors is generic",
			err:       errors.New("cors misconfigured"),
			wantLabel: labelConnectionFailed,
			wantCORS:  corsTesting,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			checker := newFakeChecker()
			p := NewProbe(zerolog.Nop(), checker)
			defer p.Close()

			token := p.Trigger()
			checker.waitStarted(t, 1)
			checker.resolve(t, 0, reply{err: tc.err})
			state := waitToken(t, p, token)

			if state.Phase != PhaseFailure {
				t.Fatalf("expected failure, got %s", state.Phase)
			}
			if state.Error != tc.err.Error() {
				t.Fatalf("expected message %q, got %q", tc.err.Error(), state.Error)
			}
			if state.Result != nil {
				t.Fatalf("expected no result alongside error")
			}
			if state.FailureLabel() != tc.wantLabel {
				t.Fatalf("label = %q, want %q", state.FailureLabel(), tc.wantLabel)
			}
			if state.CORSStatus() != tc.wantCORS {
				t.Fatalf("cors = %q, want %q", state.CORSStatus(), tc.wantCORS)
			}
		})
	}
}

func TestProbe_SupersededResultIsDiscarded(t *testing.T) {
	checker := newFakeChecker()

	var mu sync.Mutex
	var superseded []uint64
	observer := ObserverFunc(func(state State, wasSuperseded bool) {
		if wasSuperseded {
			mu.Lock()
			superseded = append(superseded, state.Token)
			mu.Unlock()
		}
	})

	p := NewProbe(zerolog.Nop(), checker, WithObserver(observer))
	defer p.Close()

	first := p.Trigger()
	checker.waitStarted(t, 1)
	second := p.Trigger()
	checker.waitStarted(t, 1)

	if second <= first {
		t.Fatalf("expected increasing tokens, got %d then %d", first, second)
	}

	checker.resolve(t, 1, reply{err: errors.New("backend down")})
	state := waitToken(t, p, second)
	if state.Phase != PhaseFailure || state.Token != second {
		t.Fatalf("expected failure for second token, got %+v", state)
	}

	// The first call was canceled; even a late success must not overwrite.
	time.Sleep(20 * time.Millisecond)
	state = p.Snapshot()
	if state.Token != second || state.Phase != PhaseFailure {
		t.Fatalf("superseded call overwrote state: %+v", state)
	}

	p.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(superseded) != 1 || superseded[0] != first {
		t.Fatalf("expected token %d reported superseded, got %v", first, superseded)
	}
}

func TestProbe_TriggerIfIdleJoinsOutstandingCall(t *testing.T) {
	checker := newFakeChecker()
	p := NewProbe(zerolog.Nop(), checker)
	defer p.Close()

	token, started := p.TriggerIfIdle()
	if !started {
		t.Fatalf("expected first call to start")
	}
	checker.waitStarted(t, 1)

	joined, started := p.TriggerIfIdle()
	if started || joined != token {
		t.Fatalf("expected to join token %d, got %d started=%v", token, joined, started)
	}

	checker.resolve(t, 0, reply{result: healthy()})
	waitToken(t, p, token)

	next, started := p.TriggerIfIdle()
	if !started || next != token+1 {
		t.Fatalf("expected new call after settle, got %d started=%v", next, started)
	}
}

func TestProbe_RetriggerClearsPreviousOutcome(t *testing.T) {
	checker := newFakeChecker()
	p := NewProbe(zerolog.Nop(), checker)
	defer p.Close()

	token := p.Trigger()
	checker.waitStarted(t, 1)
	checker.resolve(t, 0, reply{result: healthy()})
	waitToken(t, p, token)

	p.Trigger()
	checker.waitStarted(t, 1)
	state := p.Snapshot()
	if !state.Loading() || state.Result != nil || state.Error != "" {
		t.Fatalf("expected clean loading state, got %+v", state)
	}
}

func TestProbe_CloseDropsOutstandingResult(t *testing.T) {
	checker := newFakeChecker()
	var applied int
	observer := ObserverFunc(func(_ State, superseded bool) {
		if !superseded {
			applied++
		}
	})
	p := NewProbe(zerolog.Nop(), checker, WithObserver(observer))

	token := p.Trigger()
	checker.waitStarted(t, 1)

	p.Close()

	if applied != 0 {
		t.Fatalf("expected no applied resolutions after close, got %d", applied)
	}
	if _, err := p.Wait(context.Background(), token); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if again := p.Trigger(); again != token {
		t.Fatalf("expected trigger after close to be a no-op, got token %d", again)
	}
}

func TestProbe_ObserverSeesAppliedState(t *testing.T) {
	checker := newFakeChecker()
	got := make(chan State, 1)
	p := NewProbe(zerolog.Nop(), checker, WithObserver(ObserverFunc(func(state State, superseded bool) {
		if !superseded {
			got <- state
		}
	})))
	defer p.Close()

	p.Trigger()
	checker.waitStarted(t, 1)
	checker.resolve(t, 0, reply{result: healthy()})

	select {
	case state := <-got:
		if state.Phase != PhaseSuccess || state.Result.Service != "jha" {
			t.Fatalf("unexpected observed state: %+v", state)
		}
	case <-time.After(time.Second):
		t.Fatal("observer not called")
	}
}

func TestProbe_ShutdownCancellationIsNotAFailure(t *testing.T) {
	checker := newFakeChecker()
	base, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		observed []bool
	)
	p := NewProbe(zerolog.Nop(), checker,
		WithBaseContext(base),
		WithObserver(ObserverFunc(func(_ State, superseded bool) {
			mu.Lock()
			observed = append(observed, superseded)
			mu.Unlock()
		})),
	)

	token := p.Trigger()
	checker.waitStarted(t, 1)

	cancel()
	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(observed)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("canceled call was never resolved")
		case <-time.After(time.Millisecond):
		}
	}
	p.Close()

	state := p.Snapshot()
	if state.Phase != PhaseLoading || state.Token != token {
		t.Fatalf("expected cycle %d to stay loading, got %+v", token, state)
	}
	if state.Error != "" || state.Result != nil {
		t.Fatalf("expected no failure recorded, got %q", state.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 || !observed[0] {
		t.Fatalf("expected one discarded resolution, got %v", observed)
	}
	if _, err := p.Wait(context.Background(), token); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after teardown, got %v", err)
	}
}
