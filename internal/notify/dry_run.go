package notify

import (
	"context"

	"github.com/nholik/deploy-shepherd/internal/transition"
	"github.com/rs/zerolog"
)

// DryRunNotifier logs transitions without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, events []transition.Event) error {
	for _, event := range events {
		n.logger.Info().
			Str("deployment", event.Deployment).
			Str("previous_phase", string(event.PreviousPhase)).
			Str("current_phase", string(event.CurrentPhase)).
			Int64("generation", event.Generation).
			Strs("reasons", event.Reasons).
			Msg("[DRY-RUN] Would notify")
	}
	return nil
}
