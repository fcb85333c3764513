package notify

import (
	"context"

	"github.com/nholik/safety-companion/internal/transition"
	"github.com/rs/zerolog"
)

// DryRunNotifier logs changes without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, change transition.Change) error {
	n.logger.Info().
		Str("endpoint", change.Endpoint).
		Str("previous_phase", change.PreviousPhase).
		Str("current_phase", change.CurrentPhase).
		Str("previous_status", change.PreviousStatus).
		Str("current_status", change.CurrentStatus).
		Int("agent_changes", len(change.Agents)).
		Msg("[DRY-RUN] Would notify")
	return nil
}
