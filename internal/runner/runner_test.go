package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped bool
	mu      sync.Mutex
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeProber struct {
	mu      sync.Mutex
	token   uint64
	loading bool
	calls   int
}

func (p *fakeProber) TriggerIfIdle() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.loading {
		return p.token, false
	}
	p.token++
	return p.token, true
}

func TestRunner_Run_TriggersRunOnceOnTicks(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 2)}
	runCalls := make(chan struct{}, 3)

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
		WithRunOnce(func(context.Context) error {
			runCalls <- struct{}{}
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()

	// One immediate run plus one per tick.
	if !waitForCalls(runCalls, 3, time.Second) {
		t.Fatalf("expected three run calls")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	if !ticker.Stopped() {
		t.Fatalf("expected ticker to be stopped")
	}
}

func TestRunner_Run_RejectsZeroPollInterval(t *testing.T) {
	r := New(zerolog.Nop(), 0)

	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected error for zero poll interval")
	}
}

func TestRunner_DefaultRunOnceTriggersProber(t *testing.T) {
	prober := &fakeProber{}
	r := New(zerolog.Nop(), time.Second, WithProber(prober))

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prober.token != 1 {
		t.Fatalf("expected one triggered check, got token %d", prober.token)
	}

	prober.loading = true
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prober.token != 1 || prober.calls != 2 {
		t.Fatalf("expected outstanding check to be joined, got token %d calls %d", prober.token, prober.calls)
	}
}

func TestRunner_DefaultRunOnceErrors(t *testing.T) {
	r := New(zerolog.Nop(), time.Second)
	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error without prober")
	}

	r = New(zerolog.Nop(), time.Second, WithProber(&fakeProber{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.RunOnce(ctx); err == nil {
		t.Fatalf("expected error for canceled context")
	}
}

func waitForCalls(ch <-chan struct{}, count int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < count; i++ {
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
	return true
}
