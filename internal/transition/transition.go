package transition

import (
	"sort"

	"github.com/nholik/deploy-shepherd/internal/state"
)

// ReplicaChange captures ready-replica movement between snapshots.
type ReplicaChange struct {
	PreviousReady int
	CurrentReady  int
	PreviousTotal int
	CurrentTotal  int
	ReadyDelta    int
}

// Event captures a phase transition for one deployment.
type Event struct {
	Deployment    string
	PreviousPhase state.Phase
	CurrentPhase  state.Phase
	Generation    int64
	Reasons       []string
	ReplicaChange *ReplicaChange
}

// Detect compares a previous state with the current one and emits phase
// transitions worth notifying about. On first run only non-converged
// deployments produce events, so a fresh daemon does not announce every
// healthy deployment it finds.
func Detect(prev *state.State, current state.State) []Event {
	prevDeployments := map[string]state.DeploymentSnapshot{}
	if prev != nil && prev.Deployments != nil {
		prevDeployments = prev.Deployments
	}
	firstRun := prev == nil || len(prevDeployments) == 0

	events := make([]Event, 0)
	for name, snap := range current.Deployments {
		prevSnap, hadPrev := prevDeployments[name]

		if firstRun || !hadPrev {
			if snap.Phase == state.PhaseConverged {
				continue
			}
		} else if prevSnap.Phase == snap.Phase {
			continue
		}

		events = append(events, Event{
			Deployment:    name,
			PreviousPhase: prevSnap.Phase,
			CurrentPhase:  snap.Phase,
			Generation:    snap.Generation,
			Reasons:       append([]string(nil), snap.Reasons...),
			ReplicaChange: buildReplicaChange(prevSnap, snap, hadPrev),
		})
	}

	// Sort by deployment name for deterministic output
	sort.Slice(events, func(i, j int) bool {
		return events[i].Deployment < events[j].Deployment
	})

	return events
}

func buildReplicaChange(prev state.DeploymentSnapshot, current state.DeploymentSnapshot, hadPrev bool) *ReplicaChange {
	// Skip if a new deployment has no replica info yet
	if !hadPrev && current.ReadyReplicas == 0 && current.TotalReplicas == 0 {
		return nil
	}
	return &ReplicaChange{
		PreviousReady: prev.ReadyReplicas,
		CurrentReady:  current.ReadyReplicas,
		PreviousTotal: prev.TotalReplicas,
		CurrentTotal:  current.TotalReplicas,
		ReadyDelta:    current.ReadyReplicas - prev.ReadyReplicas,
	}
}
