package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/deploy-shepherd/internal/config"
	"github.com/nholik/deploy-shepherd/internal/descriptor"
	"github.com/nholik/deploy-shepherd/internal/orchestrator"
	"github.com/nholik/deploy-shepherd/internal/reconciler"
	"github.com/nholik/deploy-shepherd/internal/state"
)

const defaultFetchTimeout = 10 * time.Second

// Registry manages multiple Reconciler instances, one per manifest entry.
// It spawns reconcilers in parallel and waits for context cancellation.
type Registry struct {
	logger           zerolog.Logger
	cfg              config.Config
	entries          []config.ManifestEntry
	client           orchestrator.Client
	buildOptions     func(entry config.ManifestEntry) []reconciler.Option
	reconcilers      map[string]*reconciler.Reconciler
	reconcilerErrors map[string]error
	mu               sync.RWMutex
}

// New constructs a Registry for the given manifest entries. buildOptions,
// when non-nil, supplies per-deployment reconciler options (record store,
// state store, notifier, health aggregator).
func New(logger zerolog.Logger, cfg config.Config, entries []config.ManifestEntry, client orchestrator.Client, buildOptions func(entry config.ManifestEntry) []reconciler.Option) *Registry {
	return &Registry{
		logger:           logger,
		cfg:              cfg,
		entries:          entries,
		client:           client,
		buildOptions:     buildOptions,
		reconcilers:      make(map[string]*reconciler.Reconciler),
		reconcilerErrors: make(map[string]error),
	}
}

// Run starts all reconcilers in parallel and blocks until context is
// canceled or every reconciler reached its terminal phase.
// Returns nil on clean shutdown; logs any per-deployment errors internally.
func (g *Registry) Run(ctx context.Context) error {
	g.logger.Info().
		Int("deployments", len(g.entries)).
		Msg("starting registry")

	var wg sync.WaitGroup
	for _, entry := range g.entries {
		wg.Add(1)
		go g.spawnReconciler(ctx, &wg, entry)
	}

	wg.Wait()
	g.logger.Info().Msg("all reconcilers stopped")

	g.mu.RLock()
	defer g.mu.RUnlock()
	for deployment, err := range g.reconcilerErrors {
		if err != nil {
			g.logger.Error().Err(err).Str("deployment", deployment).Msg("reconciler error")
		}
	}

	return nil
}

// spawnReconciler creates and runs a single Reconciler for the given entry.
func (g *Registry) spawnReconciler(ctx context.Context, wg *sync.WaitGroup, entry config.ManifestEntry) {
	defer wg.Done()

	deploymentLogger := g.logger.With().Str("deployment", entry.Name).Logger()

	// Per-deployment interval override or global default
	interval := g.cfg.PollInterval
	if entry.Interval > 0 {
		interval = entry.Interval
	}

	source, err := descriptor.NewSource(entry.Descriptor, defaultFetchTimeout)
	if err != nil {
		deploymentLogger.Error().Err(err).Msg("failed to initialize descriptor source")
		g.recordError(entry.Name, err)
		return
	}

	var opts []reconciler.Option
	if g.buildOptions != nil {
		opts = g.buildOptions(entry)
	}

	r := reconciler.New(deploymentLogger, entry.Name, source, g.client, interval, opts...)

	g.mu.Lock()
	g.reconcilers[entry.Name] = r
	g.mu.Unlock()

	deploymentLogger.Info().Msg("reconciler started")

	if err := r.Run(ctx); err != nil {
		deploymentLogger.Error().Err(err).Msg("reconciler exited with error")
		g.recordError(entry.Name, err)
	} else {
		deploymentLogger.Info().Msg("reconciler exited cleanly")
	}
}

// Get returns the reconciler managing the named deployment.
func (g *Registry) Get(name string) (*reconciler.Reconciler, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.reconcilers[name]
	return r, ok
}

// Retrigger clears the degraded latch on the named deployment.
func (g *Registry) Retrigger(name string) bool {
	r, ok := g.Get(name)
	if !ok {
		return false
	}
	r.Retrigger()
	return true
}

// Snapshots returns the current snapshot of every managed deployment.
func (g *Registry) Snapshots() map[string]state.DeploymentSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make(map[string]state.DeploymentSnapshot, len(g.reconcilers))
	for name, r := range g.reconcilers {
		result[name] = r.Snapshot()
	}
	return result
}

// recordError records a per-deployment error for later reporting.
func (g *Registry) recordError(name string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reconcilerErrors[name] = err
}

// Reconcilers returns a copy of the reconcilers map for testing.
func (g *Registry) Reconcilers() map[string]*reconciler.Reconciler {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make(map[string]*reconciler.Reconciler, len(g.reconcilers))
	for k, v := range g.reconcilers {
		result[k] = v
	}
	return result
}
