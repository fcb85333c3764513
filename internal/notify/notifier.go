package notify

import (
	"context"

	"github.com/nholik/safety-companion/internal/transition"
)

// Notifier delivers backend health changes to external systems.
type Notifier interface {
	Notify(ctx context.Context, change transition.Change) error
}
