package orchestrator

import (
	"context"

	"github.com/nholik/deploy-shepherd/internal/descriptor"
	"github.com/nholik/deploy-shepherd/internal/observe"
)

// ApplyResult reports what an Apply call did on the cluster side.
type ApplyResult struct {
	Created bool // deployment did not exist and was created
	Updated bool // existing deployment was changed
}

// Client defines the capability set the reconciler needs from an
// orchestrator. Apply is idempotent: re-applying the same generation must
// succeed and "already exists" from the cluster is success, not an error.
// This interface enables mocking in tests.
type Client interface {
	// Ping validates connectivity to the orchestrator.
	Ping(ctx context.Context) error

	// Apply drives the cluster toward the given desired state.
	Apply(ctx context.Context, desired descriptor.DesiredState) (ApplyResult, error)

	// Status retrieves the observed state of a deployment. It never blocks
	// past the client's bounded timeout.
	Status(ctx context.Context, name string) (*observe.ObservedState, error)

	// Delete removes a deployment. Deleting an absent deployment is success.
	Delete(ctx context.Context, name string) error

	// Close releases resources associated with the client.
	Close() error
}
