package apiclient

import (
	"encoding/json"
	"fmt"
	"sort"
)

// HealthCheckResult is the payload returned by the JHA health endpoint.
// Only the observed fields are lifted out; everything else stays in Raw.
type HealthCheckResult struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version"`
	Agents  map[string]string `json:"agents"`
	Raw     map[string]any    `json:"-"`
}

// Agent is a single named sub-component status.
type Agent struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// UnmarshalJSON accepts any JSON object and renders the observed fields as strings.
func (r *HealthCheckResult) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("health payload is not a JSON object")
	}

	result := HealthCheckResult{
		Status:  render(raw["status"]),
		Service: render(raw["service"]),
		Version: render(raw["version"]),
		Raw:     raw,
	}
	if agents, ok := raw["agents"].(map[string]any); ok {
		result.Agents = make(map[string]string, len(agents))
		for name, value := range agents {
			result.Agents[name] = render(value)
		}
	}

	*r = result
	return nil
}

// AgentList returns agents sorted by name.
func (r HealthCheckResult) AgentList() []Agent {
	agents := make([]Agent, 0, len(r.Agents))
	for name, status := range r.Agents {
		agents = append(agents, Agent{Name: name, Status: status})
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].Name < agents[j].Name
	})
	return agents
}

// render mirrors string coercion: strings verbatim, absent values empty, anything else as JSON text.
func render(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}
