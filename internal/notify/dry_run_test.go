package notify

import (
	"context"
	"testing"

	"github.com/nholik/deploy-shepherd/internal/state"
	"github.com/nholik/deploy-shepherd/internal/transition"
	"github.com/rs/zerolog"
)

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) Notify(context.Context, []transition.Event) error {
	n.calls++
	return nil
}

func TestDryRunNotifierSuppressesDelivery(t *testing.T) {
	inner := &countingNotifier{}
	dryRun := NewDryRunNotifier(zerolog.Nop(), inner)

	events := []transition.Event{
		{Deployment: "api", CurrentPhase: state.PhaseDegraded},
	}

	if err := dryRun.Notify(context.Background(), events); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if inner.calls != 0 {
		t.Fatalf("expected no notifier calls, got %d", inner.calls)
	}
}

func TestMultiNotifierFansOut(t *testing.T) {
	first := &countingNotifier{}
	second := &countingNotifier{}
	multi := NewMultiNotifier(first, nil, second)

	events := []transition.Event{
		{Deployment: "api", CurrentPhase: state.PhaseConverged},
	}

	if err := multi.Notify(context.Background(), events); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("expected both notifiers called once, got %d and %d", first.calls, second.calls)
	}
}
