package runner

import (
	"context"
	"time"

	"github.com/nholik/safety-companion/internal/diagnostic"
	"github.com/nholik/safety-companion/internal/healthcheck"
	"github.com/nholik/safety-companion/internal/metrics"
	"github.com/nholik/safety-companion/internal/notify"
	"github.com/nholik/safety-companion/internal/state"
	"github.com/nholik/safety-companion/internal/transition"
	"github.com/rs/zerolog"
)

const defaultNotifyTimeout = 30 * time.Second

// OutcomeStore persists the last outcome per endpoint.
type OutcomeStore interface {
	Update(ctx context.Context, key string, fn func(prev *state.Outcome) state.Outcome) (*state.Outcome, error)
}

// Recorder observes probe resolutions and fans them out to metrics, the
// liveness tracker, the outcome store and notifiers.
type Recorder struct {
	logger        zerolog.Logger
	endpoint      string
	base          context.Context
	metrics       *metrics.Metrics
	tracker       *healthcheck.Tracker
	store         OutcomeStore
	notifier      notify.Notifier
	notifyTimeout time.Duration
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithMetrics records check outcomes in Prometheus.
func WithMetrics(m *metrics.Metrics) RecorderOption {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithTracker feeds the console's own /healthz and /readyz.
func WithTracker(tracker *healthcheck.Tracker) RecorderOption {
	return func(r *Recorder) {
		r.tracker = tracker
	}
}

// WithStateStore enables outcome persistence and change detection.
func WithStateStore(store OutcomeStore) RecorderOption {
	return func(r *Recorder) {
		r.store = store
	}
}

// WithNotifier delivers detected changes. Requires a state store.
func WithNotifier(notifier notify.Notifier) RecorderOption {
	return func(r *Recorder) {
		r.notifier = notifier
	}
}

// WithBaseContext bounds persistence and notification work.
func WithBaseContext(ctx context.Context) RecorderOption {
	return func(r *Recorder) {
		if ctx != nil {
			r.base = ctx
		}
	}
}

// NewRecorder constructs a Recorder for the given health endpoint.
func NewRecorder(logger zerolog.Logger, endpoint string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		logger:        logger,
		endpoint:      endpoint,
		base:          context.Background(),
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe implements diagnostic.Observer.
func (r *Recorder) Observe(st diagnostic.State, superseded bool) {
	if superseded {
		r.metrics.IncSupersededChecks()
		return
	}

	r.metrics.ObserveCheck(string(st.Phase), st.Duration)
	if st.Phase == diagnostic.PhaseSuccess {
		r.metrics.SetLastSuccessfulCheckTimestamp(st.FinishedAt)
	}
	r.tracker.RecordCheck(st.Duration, string(st.Phase))

	if r.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.base, r.notifyTimeout)
	defer cancel()

	if err := r.persistAndNotify(ctx, st); err != nil {
		r.logger.Error().Err(err).Uint64("token", st.Token).Msg("failed to record health check outcome")
	}
}

func (r *Recorder) persistAndNotify(ctx context.Context, st diagnostic.State) error {
	current := OutcomeFromState(st)

	var (
		change   transition.Change
		detected bool
	)
	_, err := r.store.Update(ctx, r.endpoint, func(prev *state.Outcome) state.Outcome {
		change, detected = transition.Detect(r.endpoint, prev, current)
		next := current
		switch {
		case detected:
			next.LastNotifiedPhase = current.Phase
		case prev != nil:
			next.LastNotifiedPhase = prev.LastNotifiedPhase
		}
		return next
	})
	if err != nil {
		return err
	}

	if !detected {
		return nil
	}

	level := zerolog.InfoLevel
	if change.Failed() {
		level = zerolog.WarnLevel
	}
	event := r.logger.WithLevel(level)
	event.Str("endpoint", change.Endpoint).
		Str("previous_phase", change.PreviousPhase).
		Str("current_phase", change.CurrentPhase).
		Str("previous_status", change.PreviousStatus).
		Str("current_status", change.CurrentStatus).
		Int("agent_changes", len(change.Agents)).
		Msg("backend health transition detected")

	if r.notifier == nil {
		return nil
	}
	if err := r.notifier.Notify(ctx, change); err != nil {
		r.metrics.IncNotifications("failed")
		return err
	}
	r.metrics.IncNotifications("sent")
	return nil
}

// OutcomeFromState converts an applied view state into its persisted form.
func OutcomeFromState(st diagnostic.State) state.Outcome {
	outcome := state.Outcome{
		Phase:     string(st.Phase),
		Error:     st.Error,
		CheckedAt: st.FinishedAt,
	}
	if st.Result != nil {
		outcome.Status = st.Result.Status
		outcome.Service = st.Result.Service
		outcome.Version = st.Result.Version
		if len(st.Result.Agents) > 0 {
			outcome.Agents = make(map[string]string, len(st.Result.Agents))
			for name, status := range st.Result.Agents {
				outcome.Agents[name] = status
			}
		}
	}
	return outcome
}
