package transition

import (
	"testing"

	"github.com/nholik/deploy-shepherd/internal/state"
)

func TestDetect_FirstRun(t *testing.T) {
	current := state.State{
		Deployments: map[string]state.DeploymentSnapshot{
			"ok": {
				Phase:         state.PhaseConverged,
				ReadyReplicas: 2,
				TotalReplicas: 2,
			},
			"bad": {
				Phase:         state.PhaseDegraded,
				Generation:    3,
				ReadyReplicas: 0,
				TotalReplicas: 2,
				Reasons:       []string{"replica shortfall 2"},
			},
		},
	}

	events := Detect(nil, current)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Deployment != "bad" {
		t.Fatalf("expected event for bad, got %s", events[0].Deployment)
	}
	if events[0].CurrentPhase != state.PhaseDegraded {
		t.Fatalf("expected degraded phase, got %s", events[0].CurrentPhase)
	}
	if events[0].Generation != 3 {
		t.Fatalf("expected generation 3, got %d", events[0].Generation)
	}
	if events[0].ReplicaChange == nil || events[0].ReplicaChange.CurrentTotal != 2 {
		t.Fatalf("expected replica change details, got %+v", events[0].ReplicaChange)
	}
}

func TestDetect_NoOp(t *testing.T) {
	prev := &state.State{
		Deployments: map[string]state.DeploymentSnapshot{
			"api": {Phase: state.PhaseDegraded},
		},
	}
	current := state.State{
		Deployments: map[string]state.DeploymentSnapshot{
			"api": {Phase: state.PhaseDegraded},
		},
	}

	events := Detect(prev, current)
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestDetect_Mixed(t *testing.T) {
	prev := &state.State{
		Deployments: map[string]state.DeploymentSnapshot{
			"web": {
				Phase:         state.PhaseConverged,
				ReadyReplicas: 2,
				TotalReplicas: 2,
			},
			"api": {
				Phase:         state.PhaseDegraded,
				ReadyReplicas: 0,
				TotalReplicas: 2,
			},
			"cache": {
				Phase: state.PhaseConverging,
			},
		},
	}
	current := state.State{
		Deployments: map[string]state.DeploymentSnapshot{
			"web": {
				Phase:         state.PhaseConverging,
				ReadyReplicas: 1,
				TotalReplicas: 2,
				Reasons:       []string{"replica shortfall 1"},
			},
			"api": {
				Phase:         state.PhaseDegraded,
				ReadyReplicas: 0,
				TotalReplicas: 2,
			},
			"cache": {
				Phase:         state.PhaseConverged,
				ReadyReplicas: 1,
				TotalReplicas: 1,
			},
			"worker": {
				Phase:   state.PhaseDegraded,
				Reasons: []string{"convergence stalled"},
			},
		},
	}

	events := Detect(prev, current)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	found := map[string]Event{}
	for _, event := range events {
		found[event.Deployment] = event
	}

	web := found["web"]
	if web.CurrentPhase != state.PhaseConverging || web.PreviousPhase != state.PhaseConverged {
		t.Fatalf("unexpected web event: %+v", web)
	}
	if web.ReplicaChange == nil || web.ReplicaChange.ReadyDelta != -1 {
		t.Fatalf("expected replica delta, got %+v", web.ReplicaChange)
	}

	cache := found["cache"]
	if cache.CurrentPhase != state.PhaseConverged || cache.PreviousPhase != state.PhaseConverging {
		t.Fatalf("unexpected cache event: %+v", cache)
	}

	worker := found["worker"]
	if worker.CurrentPhase != state.PhaseDegraded || worker.PreviousPhase != "" {
		t.Fatalf("unexpected worker event: %+v", worker)
	}
	if len(worker.Reasons) != 1 || worker.Reasons[0] != "convergence stalled" {
		t.Fatalf("expected reasons, got %+v", worker.Reasons)
	}
}

func TestDetect_SortedByName(t *testing.T) {
	current := state.State{
		Deployments: map[string]state.DeploymentSnapshot{
			"zeta":  {Phase: state.PhaseDegraded},
			"alpha": {Phase: state.PhaseDegraded},
			"mid":   {Phase: state.PhaseConverging},
		},
	}

	events := Detect(nil, current)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Deployment != "alpha" || events[1].Deployment != "mid" || events[2].Deployment != "zeta" {
		t.Fatalf("expected sorted events, got %+v", events)
	}
}
