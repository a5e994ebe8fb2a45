package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docker/go-connections/tlsconfig"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/nholik/deploy-shepherd/internal/descriptor"
	"github.com/nholik/deploy-shepherd/internal/observe"
	"github.com/nholik/deploy-shepherd/internal/orchestrator"
)

const (
	defaultTimeout     = 5 * time.Second
	errorBodyLimit     = 1024
	responseBytesLimit = 1 << 20
)

// deploymentPayload is the wire form of a desired state.
type deploymentPayload struct {
	Name          string               `json:"name"`
	Image         string               `json:"image"`
	Replicas      int                  `json:"replicas"`
	ContainerPort int                  `json:"container_port"`
	HealthPath    string               `json:"health_path"`
	Resources     descriptor.Resources `json:"resources"`
	Generation    int64                `json:"generation"`
}

// statusPayload is the wire form of an observed state.
type statusPayload struct {
	Name          string            `json:"name"`
	Image         string            `json:"image"`
	ContainerPort int               `json:"container_port"`
	ReadyReplicas int               `json:"ready_replicas"`
	TotalReplicas int               `json:"total_replicas"`
	Instances     []instancePayload `json:"instances"`
}

type instancePayload struct {
	ID       string `json:"id"`
	Image    string `json:"image"`
	Port     int    `json:"port"`
	Endpoint string `json:"endpoint"`
	Running  bool   `json:"running"`
}

// Client talks to an orchestrator's deployments API:
// PUT /deployments/{name}, GET /deployments/{name}/status,
// DELETE /deployments/{name}.
type Client struct {
	baseURL string
	client  *retryablehttp.Client
	timeout time.Duration
}

// Option customizes Client behavior.
type Option func(*Client) error

// WithTimeout overrides the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return errors.New("timeout must be greater than zero")
		}
		c.timeout = timeout
		return nil
	}
}

// WithTLS configures client TLS from cert/key/CA paths.
func WithTLS(opts tlsconfig.Options) Option {
	return func(c *Client) error {
		cfg, err := tlsconfig.Client(opts)
		if err != nil {
			return fmt.Errorf("tls config: %w", err)
		}
		transport, ok := c.client.HTTPClient.Transport.(*http.Transport)
		if !ok || transport == nil {
			transport = &http.Transport{}
		}
		transport.TLSClientConfig = cfg
		c.client.HTTPClient.Transport = transport
		return nil
	}
}

// New constructs a Client for the given orchestrator base URL. The
// underlying retryablehttp client has its own retries disabled: the
// taxonomy-aware wrapper in the orchestrator package owns retry policy.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("orchestrator url must not be empty")
	}

	inner := retryablehttp.NewClient()
	inner.RetryMax = 0
	inner.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	inner.Logger = nil

	c := &Client{
		baseURL: baseURL,
		client:  inner,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.client.HTTPClient.Timeout = c.timeout

	return c, nil
}

// Ping checks that the deployments API answers at all.
func (c *Client) Ping(ctx context.Context) error {
	return orchestrator.RetryTransient(ctx, func(ctx context.Context) error {
		resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/deployments", nil, "ping")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return &orchestrator.UnavailableError{Op: "ping", Err: fmt.Errorf("status %s", resp.Status)}
		}
		return nil
	})
}

// Apply PUTs the desired state. Conflict responses count as success so
// applying the same generation twice cannot fail.
func (c *Client) Apply(ctx context.Context, desired descriptor.DesiredState) (orchestrator.ApplyResult, error) {
	payload, err := json.Marshal(deploymentPayload{
		Name:          desired.Descriptor.Name,
		Image:         desired.Descriptor.Image,
		Replicas:      desired.Descriptor.Replicas,
		ContainerPort: desired.Descriptor.ContainerPort,
		HealthPath:    desired.Descriptor.HealthPath,
		Resources:     desired.Descriptor.Resources,
		Generation:    desired.Generation,
	})
	if err != nil {
		return orchestrator.ApplyResult{}, fmt.Errorf("marshal desired state: %w", err)
	}

	var result orchestrator.ApplyResult
	err = orchestrator.RetryTransient(ctx, func(ctx context.Context) error {
		resp, err := c.do(ctx, http.MethodPut, c.deploymentURL(desired.Descriptor.Name), payload, "apply")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusCreated:
			result = orchestrator.ApplyResult{Created: true}
			return nil
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			result = orchestrator.ApplyResult{Updated: true}
			return nil
		case resp.StatusCode == http.StatusConflict:
			// Already exists at this generation: idempotent success.
			result = orchestrator.ApplyResult{}
			return nil
		default:
			return c.classifyStatus("apply", resp)
		}
	})
	if err != nil {
		return orchestrator.ApplyResult{}, err
	}
	return result, nil
}

// Status fetches observed state. A 404 means the deployment does not exist
// yet and returns an empty observed state rather than an error.
func (c *Client) Status(ctx context.Context, name string) (*observe.ObservedState, error) {
	var state *observe.ObservedState
	err := orchestrator.RetryTransient(ctx, func(ctx context.Context) error {
		resp, err := c.do(ctx, http.MethodGet, c.deploymentURL(name)+"/status", nil, "status")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			state = &observe.ObservedState{Name: name}
			return nil
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			decoded, err := decodeStatus(resp.Body)
			if err != nil {
				return &orchestrator.RejectedError{Op: "status", Reason: "malformed status payload", Err: err}
			}
			state = decoded
			return nil
		default:
			return c.classifyStatus("status", resp)
		}
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Delete removes the deployment. Absent deployments are success.
func (c *Client) Delete(ctx context.Context, name string) error {
	return orchestrator.RetryTransient(ctx, func(ctx context.Context) error {
		resp, err := c.do(ctx, http.MethodDelete, c.deploymentURL(name), nil, "delete")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound ||
			(resp.StatusCode >= 200 && resp.StatusCode < 300) {
			return nil
		}
		return c.classifyStatus("delete", resp)
	})
}

// Close implements orchestrator.Client; the HTTP client holds no resources
// beyond idle connections.
func (c *Client) Close() error {
	c.client.HTTPClient.CloseIdleConnections()
	return nil
}

var _ orchestrator.Client = (*Client)(nil)

func (c *Client) deploymentURL(name string) string {
	return c.baseURL + "/deployments/" + name
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, op string) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := reqCtx.Err(); ctxErr != nil {
			return nil, orchestrator.FromContext(op, ctxErr)
		}
		return nil, &orchestrator.UnavailableError{Op: op, Err: err}
	}
	return resp, nil
}

func (c *Client) classifyStatus(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	bodyText := strings.TrimSpace(string(body))

	if resp.StatusCode >= http.StatusInternalServerError {
		return &orchestrator.UnavailableError{Op: op, Err: fmt.Errorf("status %s: %s", resp.Status, bodyText)}
	}
	return &orchestrator.RejectedError{Op: op, Reason: fmt.Sprintf("status %s: %s", resp.Status, bodyText)}
}

func decodeStatus(r io.Reader) (*observe.ObservedState, error) {
	var payload statusPayload
	if err := json.NewDecoder(io.LimitReader(r, responseBytesLimit)).Decode(&payload); err != nil {
		return nil, err
	}

	state := &observe.ObservedState{
		Name:          payload.Name,
		Image:         payload.Image,
		ContainerPort: payload.ContainerPort,
		ReadyReplicas: payload.ReadyReplicas,
		TotalReplicas: payload.TotalReplicas,
	}
	for _, inst := range payload.Instances {
		state.Instances = append(state.Instances, observe.Instance{
			ID:       inst.ID,
			Image:    inst.Image,
			Port:     inst.Port,
			Endpoint: inst.Endpoint,
			Running:  inst.Running,
		})
	}
	return state, nil
}
