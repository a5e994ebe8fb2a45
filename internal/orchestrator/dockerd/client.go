package dockerd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/nholik/deploy-shepherd/internal/descriptor"
	"github.com/nholik/deploy-shepherd/internal/observe"
	"github.com/nholik/deploy-shepherd/internal/orchestrator"
)

const (
	defaultAPITimeout = 5 * time.Second

	// Labels scoping containers to a managed deployment.
	labelDeployment = "shepherd.deployment"
	labelReplica    = "shepherd.replica"
	labelGeneration = "shepherd.generation"
)

// dockerAPI defines the subset of Docker client operations used by Client.
// This interface enables unit testing without a real Docker daemon.
type dockerAPI interface {
	Ping(ctx context.Context) (dockertypes.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]dockertypes.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// Ensure the official Docker client satisfies our interface at compile time.
var _ dockerAPI = (*client.Client)(nil)

// Client reconciles one labeled container per desired replica against a
// plain Docker host, for single-host use without a cluster orchestrator.
type Client struct {
	api     dockerAPI
	timeout time.Duration
}

// New initializes a Docker-backed orchestrator client for the given API host.
func New(host string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	httpClient := &http.Client{Timeout: timeout}

	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
		client.WithHTTPClient(httpClient),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}

	return &Client{api: api, timeout: timeout}, nil
}

// NewFromAPI wraps an existing API implementation; used in tests.
func NewFromAPI(api dockerAPI, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	return &Client{api: api, timeout: timeout}
}

var _ orchestrator.Client = (*Client)(nil)

// Ping validates connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errors.New("docker client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.api.Ping(ctx)
	return classify("ping", err)
}

// Apply converges the host's containers to the desired state: wrong-image
// or wrong-port containers are replaced, then the replica count is adjusted
// by creating or removing labeled containers.
func (c *Client) Apply(ctx context.Context, desired descriptor.DesiredState) (orchestrator.ApplyResult, error) {
	var result orchestrator.ApplyResult
	err := orchestrator.RetryTransient(ctx, func(ctx context.Context) error {
		applied, err := c.applyOnce(ctx, desired)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	if err != nil {
		return orchestrator.ApplyResult{}, err
	}
	return result, nil
}

func (c *Client) applyOnce(ctx context.Context, desired descriptor.DesiredState) (orchestrator.ApplyResult, error) {
	d := desired.Descriptor

	if err := c.pullImage(ctx, d.Image); err != nil {
		return orchestrator.ApplyResult{}, err
	}

	existing, err := c.listDeployment(ctx, d.Name)
	if err != nil {
		return orchestrator.ApplyResult{}, err
	}

	// Replace stale containers first so a later scale-up never clones them.
	keep := make([]dockertypes.Container, 0, len(existing))
	changed := false
	for _, ctr := range existing {
		if observe.NormalizeImage(ctr.Image) == observe.NormalizeImage(d.Image) && hasPrivatePort(ctr, d.ContainerPort) {
			keep = append(keep, ctr)
			continue
		}
		if err := c.removeContainer(ctx, ctr.ID); err != nil {
			return orchestrator.ApplyResult{}, err
		}
		changed = true
	}

	for len(keep) > d.Replicas {
		last := keep[len(keep)-1]
		if err := c.removeContainer(ctx, last.ID); err != nil {
			return orchestrator.ApplyResult{}, err
		}
		keep = keep[:len(keep)-1]
		changed = true
	}

	resources, err := hostResources(d.Resources)
	if err != nil {
		return orchestrator.ApplyResult{}, &orchestrator.RejectedError{Op: "apply", Reason: err.Error(), Err: err}
	}

	used := usedReplicaIndexes(keep)
	for replica := 0; len(keep) < d.Replicas; replica++ {
		if used[replica] {
			continue
		}
		used[replica] = true
		created, err := c.createContainer(ctx, desired, replica, resources)
		if err != nil {
			return orchestrator.ApplyResult{}, err
		}
		keep = append(keep, created)
		changed = true
	}

	if !changed {
		return orchestrator.ApplyResult{}, nil
	}
	if len(existing) == 0 {
		return orchestrator.ApplyResult{Created: true}, nil
	}
	return orchestrator.ApplyResult{Updated: true}, nil
}

// Status lists deployment-labeled containers and summarizes them.
func (c *Client) Status(ctx context.Context, name string) (*observe.ObservedState, error) {
	var state *observe.ObservedState
	err := orchestrator.RetryTransient(ctx, func(ctx context.Context) error {
		containers, err := c.listDeployment(ctx, name)
		if err != nil {
			return err
		}

		state = &observe.ObservedState{Name: name}
		for _, ctr := range containers {
			running := ctr.State == "running"
			port, endpoint := publishedEndpoint(ctr)
			state.TotalReplicas++
			if running {
				state.ReadyReplicas++
			}
			if state.Image == "" {
				state.Image = ctr.Image
			}
			if state.ContainerPort == 0 {
				state.ContainerPort = port
			}
			state.Instances = append(state.Instances, observe.Instance{
				ID:       containerName(ctr),
				Image:    ctr.Image,
				Port:     port,
				Endpoint: endpoint,
				Running:  running,
			})
		}
		sort.Slice(state.Instances, func(i, j int) bool {
			return state.Instances[i].ID < state.Instances[j].ID
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Delete force-removes every container belonging to the deployment.
func (c *Client) Delete(ctx context.Context, name string) error {
	return orchestrator.RetryTransient(ctx, func(ctx context.Context) error {
		containers, err := c.listDeployment(ctx, name)
		if err != nil {
			return err
		}
		for _, ctr := range containers {
			if err := c.removeContainer(ctx, ctr.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases resources associated with the client.
func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}

func (c *Client) pullImage(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pull, err := c.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) || errdefs.IsInvalidParameter(err) {
			return &orchestrator.RejectedError{Op: "apply", Reason: fmt.Sprintf("image %q not pullable", ref), Err: err}
		}
		return classify("apply", err)
	}
	_, _ = io.Copy(io.Discard, pull)
	_ = pull.Close()
	return nil
}

func (c *Client) listDeployment(ctx context.Context, name string) ([]dockertypes.Container, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := filters.NewArgs()
	query.Add("label", labelDeployment+"="+name)

	containers, err := c.api.ContainerList(ctx, container.ListOptions{All: true, Filters: query})
	if err != nil {
		return nil, classify("status", err)
	}
	return containers, nil
}

func (c *Client) createContainer(ctx context.Context, desired descriptor.DesiredState, replica int, resources container.Resources) (dockertypes.Container, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	d := desired.Descriptor
	containerPort := nat.Port(fmt.Sprintf("%d/tcp", d.ContainerPort))

	cfg := &container.Config{
		Image: d.Image,
		Labels: map[string]string{
			labelDeployment: d.Name,
			labelReplica:    strconv.Itoa(replica),
			labelGeneration: strconv.FormatInt(desired.Generation, 10),
		},
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		// Empty HostPort publishes on an ephemeral port; health probes
		// discover it from the container list.
		PortBindings:  nat.PortMap{containerPort: []nat.PortBinding{{}}},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyAlways},
		Resources:     resources,
	}

	name := fmt.Sprintf("%s-%d", d.Name, replica)
	created, err := c.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return dockertypes.Container{}, classify("apply", err)
	}
	if err := c.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return dockertypes.Container{}, classify("apply", err)
	}

	return dockertypes.Container{
		ID:     created.ID,
		Names:  []string{"/" + name},
		Image:  d.Image,
		State:  "running",
		Labels: cfg.Labels,
	}, nil
}

func (c *Client) removeContainer(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return classify("delete", err)
	}
	return nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &orchestrator.TimeoutError{Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errdefs.IsInvalidParameter(err) || errdefs.IsConflict(err) {
		return &orchestrator.RejectedError{Op: op, Err: err}
	}
	return &orchestrator.UnavailableError{Op: op, Err: err}
}

func hasPrivatePort(ctr dockertypes.Container, port int) bool {
	for _, p := range ctr.Ports {
		if int(p.PrivatePort) == port {
			return true
		}
	}
	// Freshly created containers may not report ports yet; trust labels.
	return len(ctr.Ports) == 0
}

func publishedEndpoint(ctr dockertypes.Container) (int, string) {
	for _, p := range ctr.Ports {
		if p.PublicPort == 0 {
			continue
		}
		host := p.IP
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		return int(p.PrivatePort), fmt.Sprintf("http://%s:%d", host, p.PublicPort)
	}
	for _, p := range ctr.Ports {
		return int(p.PrivatePort), ""
	}
	return 0, ""
}

func containerName(ctr dockertypes.Container) string {
	if len(ctr.Names) > 0 {
		return strings.TrimPrefix(ctr.Names[0], "/")
	}
	return ctr.ID
}

func usedReplicaIndexes(containers []dockertypes.Container) map[int]bool {
	used := make(map[int]bool, len(containers))
	for _, ctr := range containers {
		if raw, ok := ctr.Labels[labelReplica]; ok {
			if idx, err := strconv.Atoi(raw); err == nil {
				used[idx] = true
			}
		}
	}
	return used
}

// hostResources translates descriptor resource strings into Docker host
// limits. CPU accepts millicore ("500m") or core ("1.5") notation; memory
// accepts byte quantities with binary or decimal suffixes ("256Mi", "1g").
func hostResources(res descriptor.Resources) (container.Resources, error) {
	var out container.Resources

	if res.CPULimit != "" {
		nanos, err := parseCPUNanos(res.CPULimit)
		if err != nil {
			return container.Resources{}, fmt.Errorf("cpu_limit: %w", err)
		}
		out.NanoCPUs = nanos
	}
	if res.CPURequest != "" {
		nanos, err := parseCPUNanos(res.CPURequest)
		if err != nil {
			return container.Resources{}, fmt.Errorf("cpu_request: %w", err)
		}
		// Docker has no CPU reservation; express the request as shares
		// relative to the 1024-per-core convention.
		out.CPUShares = nanos * 1024 / 1e9
	}
	if res.MemLimit != "" {
		bytes, err := units.RAMInBytes(res.MemLimit)
		if err != nil {
			return container.Resources{}, fmt.Errorf("mem_limit: %w", err)
		}
		out.Memory = bytes
	}
	if res.MemRequest != "" {
		bytes, err := units.RAMInBytes(res.MemRequest)
		if err != nil {
			return container.Resources{}, fmt.Errorf("mem_request: %w", err)
		}
		out.MemoryReservation = bytes
	}
	return out, nil
}

func parseCPUNanos(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if strings.HasSuffix(v, "m") {
		milli, err := strconv.ParseFloat(strings.TrimSuffix(v, "m"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cpu quantity %q", v)
		}
		return int64(milli * 1e6), nil
	}
	cores, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cpu quantity %q", v)
	}
	return int64(cores * 1e9), nil
}
