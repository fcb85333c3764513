package diagnostic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nholik/safety-companion/internal/apiclient"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Wait once the probe has been closed.
var ErrClosed = errors.New("diagnostic probe closed")

// Checker is the outbound health-check call.
type Checker interface {
	CheckJHAHealth(ctx context.Context) (apiclient.HealthCheckResult, error)
}

// Observer is told about every resolution. Superseded resolutions are
// reported with superseded=true and were not applied to the view state.
type Observer interface {
	Observe(state State, superseded bool)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(state State, superseded bool)

// Observe implements Observer.
func (f ObserverFunc) Observe(state State, superseded bool) {
	f(state, superseded)
}

// Probe owns the diagnostic view state. Each trigger gets a new token and
// cancels the call it supersedes, so only the latest trigger can resolve
// into the state.
type Probe struct {
	logger    zerolog.Logger
	checker   Checker
	base      context.Context
	now       func() time.Time
	observers []Observer

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	settled chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

// Option customizes a Probe.
type Option func(*Probe)

// WithObserver registers an observer for resolutions.
func WithObserver(observer Observer) Option {
	return func(p *Probe) {
		if observer != nil {
			p.observers = append(p.observers, observer)
		}
	}
}

// WithBaseContext sets the parent context for outbound calls.
func WithBaseContext(ctx context.Context) Option {
	return func(p *Probe) {
		if ctx != nil {
			p.base = ctx
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Probe) {
		p.now = now
	}
}

// NewProbe constructs an idle Probe.
func NewProbe(logger zerolog.Logger, checker Checker, opts ...Option) *Probe {
	p := &Probe{
		logger:  logger,
		checker: checker,
		base:    context.Background(),
		now:     time.Now,
		state:   State{Phase: PhaseIdle},
		settled: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Trigger starts a new call and returns its token. An outstanding call is
// canceled and its result discarded. After Close it returns the last token
// without starting anything.
func (p *Probe) Trigger() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.triggerLocked()
}

// TriggerIfIdle starts a call unless one is already loading, in which case
// the outstanding token is returned and started is false.
func (p *Probe) TriggerIfIdle() (token uint64, started bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.state.Phase == PhaseLoading {
		return p.state.Token, false
	}
	return p.triggerLocked(), true
}

func (p *Probe) triggerLocked() uint64 {
	if p.closed {
		return p.state.Token
	}

	if p.state.Phase == PhaseLoading {
		p.logger.Debug().Uint64("token", p.state.Token).Msg("superseding outstanding health check")
		p.cancel()
		close(p.settled)
		p.settled = make(chan struct{})
	} else if p.state.Settled() {
		p.settled = make(chan struct{})
	}

	token := p.state.Token + 1
	ctx, cancel := context.WithCancel(p.base)
	p.cancel = cancel
	p.state = State{
		Phase:     PhaseLoading,
		Token:     token,
		StartedAt: p.now().UTC(),
	}

	p.wg.Add(1)
	go p.run(ctx, cancel, token)

	return token
}

func (p *Probe) run(ctx context.Context, cancel context.CancelFunc, token uint64) {
	defer p.wg.Done()
	defer cancel()

	result, err := p.checker.CheckJHAHealth(ctx)
	finished := p.now().UTC()

	p.mu.Lock()
	if p.closed || token != p.state.Token {
		p.mu.Unlock()
		p.logger.Debug().Uint64("token", token).Msg("discarding superseded health check result")
		p.notify(State{Phase: phaseFor(err), Token: token, FinishedAt: finished}, true)
		return
	}
	// The call's own context was canceled (shutdown or Close racing the
	// result). That says nothing about the backend, so the cycle stays
	// loading and Close reports it through Wait.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		p.mu.Unlock()
		p.logger.Debug().Uint64("token", token).Msg("discarding health check canceled by teardown")
		p.notify(State{Phase: PhaseLoading, Token: token, FinishedAt: finished}, true)
		return
	}

	next := State{
		Token:      token,
		StartedAt:  p.state.StartedAt,
		FinishedAt: finished,
		Duration:   finished.Sub(p.state.StartedAt),
	}
	if err != nil {
		next.Phase = PhaseFailure
		next.Error = err.Error()
	} else {
		res := result
		next.Phase = PhaseSuccess
		next.Result = &res
	}
	p.state = next
	close(p.settled)
	p.mu.Unlock()

	var event *zerolog.Event
	if err != nil {
		event = p.logger.Warn().Str("error", next.Error)
		if errors.Is(err, context.Canceled) {
			event = event.Bool("canceled", true)
		}
	} else {
		event = p.logger.Info().Str("status", result.Status).Int("agents", len(result.Agents))
	}
	event.Uint64("token", token).
		Str("phase", string(next.Phase)).
		Dur("duration", next.Duration).
		Msg("health check resolved")

	p.notify(next, false)
}

func (p *Probe) notify(state State, superseded bool) {
	for _, observer := range p.observers {
		observer.Observe(state, superseded)
	}
}

// Snapshot returns a copy of the current state.
func (p *Probe) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Settled returns a channel closed when the current cycle resolves or is superseded.
func (p *Probe) Settled() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled
}

// Wait blocks until the cycle identified by token is no longer loading.
func (p *Probe) Wait(ctx context.Context, token uint64) (State, error) {
	for {
		p.mu.Lock()
		state := p.state
		settled := p.settled
		closed := p.closed
		p.mu.Unlock()

		if closed && state.Phase == PhaseLoading {
			return state, ErrClosed
		}
		if state.Token != token || state.Phase != PhaseLoading {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-settled:
		}
	}
}

// Close cancels any outstanding call and waits for it to return. Results
// arriving afterwards are dropped and Trigger becomes a no-op.
func (p *Probe) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.state.Phase == PhaseLoading {
		p.cancel()
		close(p.settled)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func phaseFor(err error) Phase {
	if err != nil {
		return PhaseFailure
	}
	return PhaseSuccess
}
