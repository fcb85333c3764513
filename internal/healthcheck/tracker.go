package healthcheck

import (
	"sync"
	"time"
)

// Snapshot describes the latest backend check as seen by the console.
type Snapshot struct {
	LastCheckTime   *time.Time `json:"last_check_time"`
	CheckDurationMS int64      `json:"check_duration_ms"`
	LastPhase       string     `json:"last_phase,omitempty"`
	ChecksApplied   int        `json:"checks_applied"`
}

// Tracker records applied check timing for the console's own health endpoints.
type Tracker struct {
	mu            sync.RWMutex
	lastCheck     time.Time
	checkDuration time.Duration
	lastPhase     string
	checksApplied int
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordCheck updates check timing and readiness.
func (t *Tracker) RecordCheck(duration time.Duration, phase string) {
	if t == nil {
		return
	}
	now := time.Now().UTC()
	t.mu.Lock()
	t.lastCheck = now
	t.checkDuration = duration
	t.lastPhase = phase
	t.checksApplied++
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastCheck.IsZero() {
		value := t.lastCheck
		last = &value
	}
	return Snapshot{
		LastCheckTime:   last,
		CheckDurationMS: int64(t.checkDuration / time.Millisecond),
		LastPhase:       t.lastPhase,
		ChecksApplied:   t.checksApplied,
	}
}

// Ready reports whether at least one check has resolved, successfully or not.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checksApplied > 0
}

// Healthy reports whether the console is ready and, when background polling
// is enabled, the last check resolved within 2x the poll interval.
func (t *Tracker) Healthy(now time.Time, pollInterval time.Duration) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastCheck.IsZero() {
		return false
	}
	if pollInterval <= 0 {
		return true
	}
	return now.Sub(t.lastCheck) <= 2*pollInterval
}
