package diff

import (
	"fmt"

	"github.com/nholik/deploy-shepherd/internal/descriptor"
	"github.com/nholik/deploy-shepherd/internal/observe"
)

// Action is one corrective step toward desired state.
type Action string

const (
	// ActionUpdateImage rolls instances to the desired image. Ordered
	// before scaling so a scale-up never clones stale instances.
	ActionUpdateImage Action = "update-image"
	// ActionUpdatePort republishes instances on the desired port.
	ActionUpdatePort Action = "update-port"
	// ActionScale adjusts the replica count.
	ActionScale Action = "scale"
)

// Diff is the difference between desired and observed state.
type Diff struct {
	ImageMismatch bool
	PortMismatch  bool
	ReplicaDelta  int // desired minus ready; positive means scale up

	desiredImage  string
	observedImage string
	desiredPort   int
	observedPort  int
	desiredCount  int
	readyCount    int
}

// Compute compares a desired state with the orchestrator-reported observed
// state. Image and port are only compared when the orchestrator reports any
// instances; an absent deployment is purely a replica delta.
func Compute(desired descriptor.DesiredState, observed *observe.ObservedState) Diff {
	d := Diff{
		desiredImage: observe.NormalizeImage(desired.Descriptor.Image),
		desiredPort:  desired.Descriptor.ContainerPort,
		desiredCount: desired.Descriptor.Replicas,
	}

	if observed != nil {
		d.observedImage = observe.NormalizeImage(observed.Image)
		d.observedPort = observed.ContainerPort
		d.readyCount = observed.ReadyReplicas
	}

	if !observed.Empty() {
		if d.observedImage != "" && d.observedImage != d.desiredImage {
			d.ImageMismatch = true
		}
		if d.observedPort != 0 && d.observedPort != d.desiredPort {
			d.PortMismatch = true
		}
	}
	d.ReplicaDelta = d.desiredCount - d.readyCount

	return d
}

// Empty reports whether observed state already matches desired state.
func (d Diff) Empty() bool {
	return !d.ImageMismatch && !d.PortMismatch && d.ReplicaDelta == 0
}

// Size measures how far observed is from desired; a tick that does not
// shrink this number made no progress.
func (d Diff) Size() int {
	size := d.ReplicaDelta
	if size < 0 {
		size = -size
	}
	if d.ImageMismatch {
		size++
	}
	if d.PortMismatch {
		size++
	}
	return size
}

// Plan returns the ordered corrective actions: configuration changes
// (image, port) strictly before replica adjustment.
func (d Diff) Plan() []Action {
	if d.Empty() {
		return nil
	}
	actions := make([]Action, 0, 3)
	if d.ImageMismatch {
		actions = append(actions, ActionUpdateImage)
	}
	if d.PortMismatch {
		actions = append(actions, ActionUpdatePort)
	}
	if d.ReplicaDelta != 0 {
		actions = append(actions, ActionScale)
	}
	return actions
}

// Reasons renders human-readable findings for logs and status output.
func (d Diff) Reasons() []string {
	if d.Empty() {
		return nil
	}
	reasons := make([]string, 0, 3)
	if d.ImageMismatch {
		reasons = append(reasons, fmt.Sprintf("image mismatch: want %s got %s", d.desiredImage, d.observedImage))
	}
	if d.PortMismatch {
		reasons = append(reasons, fmt.Sprintf("port mismatch: want %d got %d", d.desiredPort, d.observedPort))
	}
	if d.ReplicaDelta != 0 {
		reasons = append(reasons, fmt.Sprintf("replicas ready %d/%d", d.readyCount, d.desiredCount))
	}
	return reasons
}
