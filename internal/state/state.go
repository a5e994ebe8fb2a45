package state

import (
	"context"
	"time"
)

// Phase is the lifecycle phase of a managed deployment.
type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseConverging  Phase = "converging"
	PhaseConverged   Phase = "converged"
	PhaseDegraded    Phase = "degraded"
	PhaseTerminating Phase = "terminating"
	PhaseTerminated  Phase = "terminated"
)

// validNext enumerates the allowed phase transitions.
var validNext = map[Phase][]Phase{
	PhasePending:     {PhaseConverging, PhaseTerminating},
	PhaseConverging:  {PhaseConverged, PhaseDegraded, PhaseTerminating},
	PhaseConverged:   {PhaseConverging, PhaseTerminating},
	PhaseDegraded:    {PhaseConverging, PhaseTerminating},
	PhaseTerminating: {PhaseTerminated},
	PhaseTerminated:  {},
}

// CanTransition reports whether moving from one phase to another is allowed.
// Staying in the same phase is always allowed.
func CanTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseTerminated
}

// DeploymentSnapshot captures the persisted reconciliation state for one deployment.
type DeploymentSnapshot struct {
	Phase              Phase     `json:"phase"`
	Generation         int64     `json:"generation"`
	DesiredFingerprint string    `json:"desired_fingerprint"`
	LastOutcome        string    `json:"last_outcome"`
	ReadyReplicas      int       `json:"ready_replicas"`
	TotalReplicas      int       `json:"total_replicas"`
	Reasons            []string  `json:"reasons,omitempty"`
	EvaluatedAt        time.Time `json:"evaluated_at"`
}

// State stores snapshots for all managed deployments.
type State struct {
	Deployments map[string]DeploymentSnapshot `json:"deployments"`
}

// Store defines the interface for persisting state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}
