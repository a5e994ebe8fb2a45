package observe

import (
	"strings"
	"time"
)

// Instance describes one running replica as reported by the orchestrator.
type Instance struct {
	ID       string // orchestrator-assigned instance identifier
	Image    string // image reference (may include @sha256:... digest)
	Port     int    // published container port
	Endpoint string // base URL for health probes, e.g. http://10.0.0.3:8080
	Running  bool
}

// InstanceHealth is the health aggregator's view of one instance.
type InstanceHealth struct {
	LastCheck           time.Time
	Healthy             bool
	ConsecutiveFailures int
}

// ObservedState is the orchestrator-reported runtime state of one deployment.
//
// ReadyReplicas counts running instances; TotalReplicas counts every instance
// the orchestrator knows about, running or not. PerInstanceHealth is filled in
// by the health aggregator, never by the orchestrator client, and is advisory:
// the reconciler diffs against replica counts and images only.
type ObservedState struct {
	Name              string
	Image             string
	ContainerPort     int
	ReadyReplicas     int
	TotalReplicas     int
	Instances         []Instance
	PerInstanceHealth map[string]InstanceHealth
}

// Empty reports whether the orchestrator knows nothing about the deployment.
func (o *ObservedState) Empty() bool {
	return o == nil || o.TotalReplicas == 0
}

// NormalizeImage strips the @sha256:... digest suffix from an image reference.
// Orchestrators append the resolved digest after pulling, which would cause
// false mismatches when comparing desired vs observed images.
//
// Examples:
//   - "nginx:1.23@sha256:abc123..." → "nginx:1.23"
//   - "nginx:1.23" → "nginx:1.23" (unchanged)
//   - "nginx@sha256:abc123..." → "nginx" (digest-only reference)
func NormalizeImage(image string) string {
	if idx := strings.Index(image, "@sha256:"); idx != -1 {
		return image[:idx]
	}
	return image
}
