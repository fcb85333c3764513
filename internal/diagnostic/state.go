package diagnostic

import (
	"strings"
	"time"

	"github.com/nholik/safety-companion/internal/apiclient"
)

// Phase is the display state of the diagnostic view.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseSuccess Phase = "success"
	PhaseFailure Phase = "failure"
)

const (
	labelConnectionFailed = "Connection Failed"
	labelCORSBlocked      = "CORS Blocked"

	corsBlocked    = "❌ Blocked"
	corsConfigured = "✅ Configured"
	corsTesting    = "⏳ Testing..."
)

// State is a point-in-time copy of the view state.
// Result is set only in PhaseSuccess and Error only in PhaseFailure.
type State struct {
	Phase      Phase                        `json:"phase"`
	Token      uint64                       `json:"token"`
	Result     *apiclient.HealthCheckResult `json:"result,omitempty"`
	Error      string                       `json:"error,omitempty"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
	Duration   time.Duration                `json:"duration_ns,omitempty"`
}

// Loading reports whether a call is outstanding.
func (s State) Loading() bool {
	return s.Phase == PhaseLoading
}

// Settled reports whether the current cycle has resolved.
func (s State) Settled() bool {
	return s.Phase == PhaseSuccess || s.Phase == PhaseFailure
}

// IsCORS reports whether the failure message mentions CORS.
func (s State) IsCORS() bool {
	return s.Phase == PhaseFailure && strings.Contains(s.Error, "CORS")
}

// FailureLabel returns the heading for the failure branch.
func (s State) FailureLabel() string {
	if s.IsCORS() {
		return labelCORSBlocked
	}
	return labelConnectionFailed
}

// CORSStatus returns the CORS row of the test details panel. Only a CORS
// failure or a success is conclusive; anything else still reads as testing.
func (s State) CORSStatus() string {
	switch {
	case s.IsCORS():
		return corsBlocked
	case s.Phase == PhaseSuccess:
		return corsConfigured
	default:
		return corsTesting
	}
}
