package transition

import (
	"sort"
	"time"

	"github.com/nholik/safety-companion/internal/state"
)

const (
	phaseSuccess = "success"
	phaseFailure = "failure"
)

// AgentChange captures one agent whose reported status moved.
// Previous is empty for new agents, Current is empty for removed ones.
type AgentChange struct {
	Name     string `json:"name"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// Change captures a backend health transition between two checks.
type Change struct {
	Endpoint       string        `json:"endpoint"`
	PreviousPhase  string        `json:"previous_phase"`
	CurrentPhase   string        `json:"current_phase"`
	PreviousStatus string        `json:"previous_status"`
	CurrentStatus  string        `json:"current_status"`
	Service        string        `json:"service,omitempty"`
	Version        string        `json:"version,omitempty"`
	Error          string        `json:"error,omitempty"`
	Agents         []AgentChange `json:"agents,omitempty"`
	CheckedAt      time.Time     `json:"checked_at"`
}

// Recovered reports whether the backend went from failing to reachable.
func (c Change) Recovered() bool {
	return c.PreviousPhase == phaseFailure && c.CurrentPhase == phaseSuccess
}

// Failed reports whether the current check failed.
func (c Change) Failed() bool {
	return c.CurrentPhase == phaseFailure
}

// Detect compares the previously persisted outcome with the current one.
// On the first observation only failures are reported.
func Detect(endpoint string, prev *state.Outcome, current state.Outcome) (Change, bool) {
	change := Change{
		Endpoint:      endpoint,
		CurrentPhase:  current.Phase,
		CurrentStatus: current.Status,
		Service:       current.Service,
		Version:       current.Version,
		Error:         current.Error,
		CheckedAt:     current.CheckedAt,
	}

	if prev == nil {
		return change, current.Phase == phaseFailure
	}

	prevPhase := prev.Phase
	if prev.LastNotifiedPhase != "" {
		prevPhase = prev.LastNotifiedPhase
	}
	change.PreviousPhase = prevPhase
	change.PreviousStatus = prev.Status

	if prevPhase != current.Phase {
		if current.Phase == phaseSuccess {
			change.Agents = diffAgents(prev.Agents, current.Agents)
		}
		return change, true
	}
	if current.Phase != phaseSuccess {
		return change, false
	}

	change.Agents = diffAgents(prev.Agents, current.Agents)
	if prev.Status != current.Status || len(change.Agents) > 0 {
		return change, true
	}
	return change, false
}

func diffAgents(prev, current map[string]string) []AgentChange {
	changes := make([]AgentChange, 0)
	for name, status := range current {
		if before, ok := prev[name]; !ok || before != status {
			changes = append(changes, AgentChange{Name: name, Previous: prev[name], Current: status})
		}
	}
	for name, status := range prev {
		if _, ok := current[name]; !ok {
			changes = append(changes, AgentChange{Name: name, Previous: status})
		}
	}

	// Sort by agent name for deterministic output
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Name < changes[j].Name
	})
	return changes
}
