package notify

import (
	"context"

	"github.com/nholik/deploy-shepherd/internal/transition"
)

// Notifier delivers phase-transition events to external systems.
type Notifier interface {
	Notify(ctx context.Context, events []transition.Event) error
}
