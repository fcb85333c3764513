package notify

import (
	"fmt"

	"github.com/nholik/safety-companion/internal/transition"
)

// Kind classifies a transition for throttling and payload routing.
type Kind string

const (
	KindFailure  Kind = "failure"
	KindRecovery Kind = "recovery"
	KindStatus   Kind = "status"
)

// KindOf returns the kind of a detected transition.
func KindOf(change transition.Change) Kind {
	switch {
	case change.Failed():
		return KindFailure
	case change.Recovered():
		return KindRecovery
	default:
		return KindStatus
	}
}

// Summary is the one-line headline shared by every channel.
func Summary(change transition.Change) string {
	switch KindOf(change) {
	case KindFailure:
		return "JHA backend unreachable"
	case KindRecovery:
		return "JHA backend recovered"
	default:
		return fmt.Sprintf("JHA backend status %s", label(change.CurrentStatus))
	}
}

func label(value string) string {
	if value == "" {
		return "UNKNOWN"
	}
	return value
}
