package state

import (
	"context"
	"time"
)

// Outcome captures the persisted result of the last applied health check.
type Outcome struct {
	Phase     string            `json:"phase"`
	Status    string            `json:"status,omitempty"`
	Service   string            `json:"service,omitempty"`
	Version   string            `json:"version,omitempty"`
	Agents    map[string]string `json:"agents,omitempty"`
	Error     string            `json:"error,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
	// LastNotifiedPhase is the phase most recently delivered to notifiers.
	LastNotifiedPhase string `json:"last_notified_phase,omitempty"`
}

// State stores outcomes keyed by health endpoint URL.
type State struct {
	Endpoints map[string]Outcome `json:"endpoints"`
}

// Store defines the interface for persisting state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}
