package healthagg

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nholik/deploy-shepherd/internal/metrics"
	"github.com/nholik/deploy-shepherd/internal/observe"
)

const (
	defaultProbeTimeout     = 3 * time.Second
	defaultFailureThreshold = 2
	drainLimit              = 512
)

// Summary is the aggregated health rollup for one deployment.
type Summary struct {
	Healthy int
	Total   int
	// PerInstance is keyed by instance ID.
	PerInstance map[string]observe.InstanceHealth
}

// AllHealthy reports whether every known instance passed its last probe.
func (s Summary) AllHealthy() bool {
	return s.Total > 0 && s.Healthy == s.Total
}

// Aggregator probes instance health endpoints and tracks per-instance
// status across ticks. An instance is marked unhealthy only after
// consecutive probe failures reach the threshold, but a single success
// marks it healthy again immediately.
type Aggregator struct {
	logger           zerolog.Logger
	metrics          *metrics.Metrics
	client           *retryablehttp.Client
	timeout          time.Duration
	failureThreshold int
	now              func() time.Time

	mu       sync.Mutex
	statuses map[string]map[string]*instanceStatus
	limiters map[string]*rate.Limiter
	rateCfg  rate.Limit
	burst    int
}

type instanceStatus struct {
	healthy             bool
	consecutiveFailures int
	lastCheck           time.Time
	everProbed          bool
}

// Option customizes Aggregator behavior.
type Option func(*Aggregator)

// WithProbeTimeout overrides the per-probe timeout.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(a *Aggregator) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithFailureThreshold overrides how many consecutive failures mark an
// instance unhealthy.
func WithFailureThreshold(threshold int) Option {
	return func(a *Aggregator) {
		if threshold > 0 {
			a.failureThreshold = threshold
		}
	}
}

// WithProbeRate caps probes per deployment to limit pressure on busy
// instances.
func WithProbeRate(interval time.Duration, burst int) Option {
	return func(a *Aggregator) {
		if interval > 0 {
			a.rateCfg = rate.Every(interval)
		}
		if burst > 0 {
			a.burst = burst
		}
	}
}

// WithClock overrides the time source (primarily for testing).
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// New returns an Aggregator. Probes use a plain HTTP GET with no
// transport-level retries; the consecutive-failure counter provides the
// dampening instead.
func New(logger zerolog.Logger, m *metrics.Metrics, opts ...Option) *Aggregator {
	a := &Aggregator{
		logger:           logger,
		metrics:          m,
		timeout:          defaultProbeTimeout,
		failureThreshold: defaultFailureThreshold,
		now:              time.Now,
		statuses:         make(map[string]map[string]*instanceStatus),
		limiters:         make(map[string]*rate.Limiter),
		rateCfg:          rate.Inf,
		burst:            1,
	}
	for _, opt := range opts {
		opt(a)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: a.timeout}
	a.client = client

	return a
}

// Check probes every instance of the deployment concurrently and returns
// the aggregated rollup. Instances that disappeared since the last tick
// are forgotten so a replaced container starts with a clean slate.
func (a *Aggregator) Check(ctx context.Context, deployment, healthPath string, instances []observe.Instance) Summary {
	if err := a.waitForRateLimit(ctx, deployment); err != nil {
		a.logger.Debug().Str("deployment", deployment).Err(err).Msg("health probe rate wait aborted")
		return a.summarize(deployment, instances)
	}

	probeable := make([]observe.Instance, 0, len(instances))
	for _, instance := range instances {
		if instance.Running && instance.Endpoint != "" {
			probeable = append(probeable, instance)
		}
	}

	results := make([]error, len(probeable))
	var wg sync.WaitGroup
	for i, instance := range probeable {
		wg.Add(1)
		go func(i int, instance observe.Instance) {
			defer wg.Done()
			a.metrics.IncRequestsTotal(deployment)
			results[i] = a.probe(ctx, instance, healthPath)
		}(i, instance)
	}
	wg.Wait()

	a.mu.Lock()
	a.pruneLocked(deployment, instances)
	for i, instance := range probeable {
		a.recordLocked(deployment, instance.ID, results[i])
	}
	a.mu.Unlock()

	summary := a.summarize(deployment, instances)
	a.metrics.SetInstancesHealthy(deployment, summary.Healthy)
	a.metrics.SetInstancesTotal(deployment, summary.Total)
	return summary
}

// Forget drops all tracked state for a deployment.
func (a *Aggregator) Forget(deployment string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.statuses, deployment)
	delete(a.limiters, deployment)
}

func (a *Aggregator) probe(ctx context.Context, instance observe.Instance, healthPath string) error {
	probeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	url := probeURL(instance.Endpoint, healthPath)
	req, err := retryablehttp.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe %s: unexpected status %s", url, resp.Status)
	}
	return nil
}

func (a *Aggregator) recordLocked(deployment, instanceID string, probeErr error) {
	byInstance, ok := a.statuses[deployment]
	if !ok {
		byInstance = make(map[string]*instanceStatus)
		a.statuses[deployment] = byInstance
	}
	status, ok := byInstance[instanceID]
	if !ok {
		status = &instanceStatus{healthy: true}
		byInstance[instanceID] = status
	}

	status.lastCheck = a.now()
	status.everProbed = true
	if probeErr == nil {
		// One success is enough to recover.
		status.healthy = true
		status.consecutiveFailures = 0
		return
	}

	status.consecutiveFailures++
	if status.consecutiveFailures >= a.failureThreshold {
		if status.healthy {
			a.logger.Warn().
				Str("deployment", deployment).
				Str("instance", instanceID).
				Int("consecutive_failures", status.consecutiveFailures).
				Err(probeErr).
				Msg("instance marked unhealthy")
		}
		status.healthy = false
	}
}

func (a *Aggregator) pruneLocked(deployment string, instances []observe.Instance) {
	byInstance, ok := a.statuses[deployment]
	if !ok {
		return
	}
	current := make(map[string]struct{}, len(instances))
	for _, instance := range instances {
		current[instance.ID] = struct{}{}
	}
	for id := range byInstance {
		if _, ok := current[id]; !ok {
			delete(byInstance, id)
		}
	}
}

func (a *Aggregator) summarize(deployment string, instances []observe.Instance) Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := Summary{
		Total:       len(instances),
		PerInstance: make(map[string]observe.InstanceHealth, len(instances)),
	}
	byInstance := a.statuses[deployment]
	for _, instance := range instances {
		status, ok := byInstance[instance.ID]
		if !ok || !status.everProbed {
			// Never probed yet; count a running instance as healthy
			// until the first probe says otherwise.
			healthy := instance.Running
			summary.PerInstance[instance.ID] = observe.InstanceHealth{Healthy: healthy}
			if healthy {
				summary.Healthy++
			}
			continue
		}
		summary.PerInstance[instance.ID] = observe.InstanceHealth{
			LastCheck:           status.lastCheck,
			Healthy:             status.healthy,
			ConsecutiveFailures: status.consecutiveFailures,
		}
		if status.healthy {
			summary.Healthy++
		}
	}
	return summary
}

func (a *Aggregator) waitForRateLimit(ctx context.Context, deployment string) error {
	a.mu.Lock()
	limiter, ok := a.limiters[deployment]
	if !ok {
		limiter = rate.NewLimiter(a.rateCfg, a.burst)
		a.limiters[deployment] = limiter
	}
	a.mu.Unlock()
	return limiter.Wait(ctx)
}

// UnhealthyInstances lists instance IDs currently failing, sorted for
// deterministic logging.
func (s Summary) UnhealthyInstances() []string {
	ids := make([]string, 0)
	for id, health := range s.PerInstance {
		if !health.Healthy {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func probeURL(endpoint, healthPath string) string {
	if healthPath == "" {
		healthPath = "/health"
	}
	return strings.TrimSuffix(endpoint, "/") + healthPath
}
