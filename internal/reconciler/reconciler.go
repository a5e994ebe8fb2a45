package reconciler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/deploy-shepherd/internal/descriptor"
	"github.com/nholik/deploy-shepherd/internal/diff"
	"github.com/nholik/deploy-shepherd/internal/healthagg"
	"github.com/nholik/deploy-shepherd/internal/metrics"
	"github.com/nholik/deploy-shepherd/internal/notify"
	"github.com/nholik/deploy-shepherd/internal/observe"
	"github.com/nholik/deploy-shepherd/internal/orchestrator"
	"github.com/nholik/deploy-shepherd/internal/record"
	"github.com/nholik/deploy-shepherd/internal/state"
	"github.com/nholik/deploy-shepherd/internal/transition"
)

// defaultStallThreshold is how many consecutive non-reducing cycles a
// converging deployment tolerates before it is marked degraded.
const defaultStallThreshold = 3

// Ticker is the minimal interface needed for driving the reconcile loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Reconciler drives one deployment toward its desired state.
type Reconciler struct {
	logger        zerolog.Logger
	name          string
	source        descriptor.Source
	client        orchestrator.Client
	pollInterval  time.Duration
	tickerFactory func(time.Duration) Ticker
	runOnce       func(context.Context) error
	now           func() time.Time

	agg            *healthagg.Aggregator
	metrics        *metrics.Metrics
	records        record.Store
	stateStore     state.Store
	stateMu        *sync.Mutex
	notifier       notify.Notifier
	stallThreshold int
	cycleObserver  func(time.Duration)

	// cycleMu serializes reconciliation work: at most one cycle (or
	// teardown) runs per deployment at a time.
	cycleMu sync.Mutex

	mu                sync.Mutex
	etag              string
	fingerprint       string
	generation        int64
	desired           *descriptor.DesiredState
	phase             state.Phase
	pinnedFingerprint string
	lastGap           int
	stallTicks        int
	lastObserved      *observe.ObservedState
	lastHealthy       int
	lastOutcome       record.Outcome
	lastReasons       []string
	terminating       bool
}

// Option customizes reconciler behavior.
type Option func(*Reconciler)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Reconciler) {
		r.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Reconciler) {
		r.runOnce = runOnce
	}
}

// WithHealthAggregator enables instance health probing.
func WithHealthAggregator(agg *healthagg.Aggregator) Option {
	return func(r *Reconciler) {
		r.agg = agg
	}
}

// WithMetrics enables metric publication.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithRecordStore enables the reconciliation audit trail.
func WithRecordStore(store record.Store) Option {
	return func(r *Reconciler) {
		r.records = store
	}
}

// WithStateStore enables snapshot persistence. The lock is shared when
// several reconcilers write to one store.
func WithStateStore(store state.Store, lock *sync.Mutex) Option {
	return func(r *Reconciler) {
		r.stateStore = store
		r.stateMu = lock
	}
}

// WithNotifier enables phase-transition notifications.
func WithNotifier(notifier notify.Notifier) Option {
	return func(r *Reconciler) {
		r.notifier = notifier
	}
}

// WithCycleObserver registers a callback invoked with each cycle's
// duration, used to feed the daemon's self-health tracker.
func WithCycleObserver(observer func(time.Duration)) Option {
	return func(r *Reconciler) {
		r.cycleObserver = observer
	}
}

// WithStallThreshold overrides the degraded-detection threshold.
func WithStallThreshold(threshold int) Option {
	return func(r *Reconciler) {
		if threshold > 0 {
			r.stallThreshold = threshold
		}
	}
}

// WithClock overrides the time source (primarily for testing).
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// New constructs a Reconciler for one named deployment.
func New(logger zerolog.Logger, name string, source descriptor.Source, client orchestrator.Client, pollInterval time.Duration, opts ...Option) *Reconciler {
	r := &Reconciler{
		logger:       logger.With().Str("deployment", name).Logger(),
		name:         name,
		source:       source,
		client:       client,
		pollInterval: pollInterval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		now:            time.Now,
		stallThreshold: defaultStallThreshold,
		phase:          state.PhasePending,
	}
	r.runOnce = r.defaultRunOnce

	for _, opt := range opts {
		opt(r)
	}
	if r.stateStore != nil && r.stateMu == nil {
		r.stateMu = &sync.Mutex{}
	}

	return r
}

// Name returns the deployment name this reconciler manages.
func (r *Reconciler) Name() string {
	return r.name
}

// Run starts the reconcile loop and blocks until the context is canceled
// or the deployment reaches its terminal phase.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	// Reconcile immediately on startup
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error().Err(err).Msg("initial reconcile cycle failed")
	}
	if r.Phase().Terminal() {
		r.logger.Info().Msg("deployment terminated")
		return nil
	}

	ticker := r.tickerFactory(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return nil
		case <-ticker.C():
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reconcile cycle failed")
			}
			if r.Phase().Terminal() {
				r.logger.Info().Msg("deployment terminated")
				return nil
			}
		}
	}
}

// RunOnce executes a single reconcile cycle.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

// Phase returns the current lifecycle phase.
func (r *Reconciler) Phase() state.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Generation returns the current desired-state generation.
func (r *Reconciler) Generation() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// Snapshot returns the current persisted view of the deployment.
func (r *Reconciler) Snapshot() state.DeploymentSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() state.DeploymentSnapshot {
	snap := state.DeploymentSnapshot{
		Phase:              r.phase,
		Generation:         r.generation,
		DesiredFingerprint: r.fingerprint,
		LastOutcome:        string(r.lastOutcome),
		Reasons:            append([]string(nil), r.lastReasons...),
		EvaluatedAt:        r.now().UTC(),
	}
	if r.lastObserved != nil {
		snap.ReadyReplicas = r.lastHealthy
		snap.TotalReplicas = r.lastObserved.TotalReplicas
	}
	return snap
}

// Retrigger clears the degraded latch so the next cycle resumes
// convergence attempts. It is the manual exit from the degraded phase.
func (r *Reconciler) Retrigger() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stallTicks = 0
	r.lastGap = 0
	if r.phase == state.PhaseDegraded {
		r.phase = state.PhaseConverging
		r.logger.Info().Msg("retriggered; resuming convergence")
	}
}

// Delete tears the deployment down. The terminating flag is set first so
// an in-flight cycle is the last one; the teardown itself waits for the
// cycle lock, so it never interleaves with a running reconciliation.
func (r *Reconciler) Delete(ctx context.Context) error {
	r.mu.Lock()
	if r.phase.Terminal() {
		r.mu.Unlock()
		return nil
	}
	prevSnap := r.snapshotLocked()
	r.terminating = true
	r.phase = state.PhaseTerminating
	r.mu.Unlock()

	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	if prevSnap.Phase != state.PhaseTerminating {
		r.finishCycle(ctx, prevSnap)
	}

	return r.terminate(ctx)
}

// terminate runs with cycleMu held by the caller. The adapter retries
// transient failures itself; a failure here is retried on the next tick.
func (r *Reconciler) terminate(ctx context.Context) error {
	prevSnap := r.Snapshot()
	if prevSnap.Phase.Terminal() {
		return nil
	}

	if err := r.client.Delete(ctx, r.name); err != nil {
		r.metrics.IncOrchestratorErrors()
		r.appendRecord(ctx, record.OutcomeFailed, "delete", err.Error())
		return wrapCycle("delete deployment", err)
	}

	r.mu.Lock()
	r.phase = state.PhaseTerminated
	r.lastOutcome = record.OutcomeDeleted
	r.lastReasons = nil
	r.mu.Unlock()

	if r.agg != nil {
		r.agg.Forget(r.name)
	}
	r.appendRecord(ctx, record.OutcomeDeleted, "delete", "all instances removed")
	r.finishCycle(ctx, prevSnap)
	return nil
}

func (r *Reconciler) defaultRunOnce(ctx context.Context) error {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	start := r.now()
	defer func() {
		elapsed := r.now().Sub(start)
		r.metrics.ObserveCycleDuration(elapsed)
		if r.cycleObserver != nil {
			r.cycleObserver(elapsed)
		}
	}()

	r.mu.Lock()
	terminating := r.terminating
	r.mu.Unlock()
	if terminating {
		return r.terminate(ctx)
	}

	prevSnap := r.Snapshot()

	if err := r.refreshDesired(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	desired := r.desired
	phase := r.phase
	pinned := r.pinnedFingerprint != "" && r.pinnedFingerprint == r.fingerprint
	generation := r.generation
	r.mu.Unlock()

	if desired == nil {
		r.logger.Debug().Msg("no descriptor available yet")
		return nil
	}

	r.metrics.SetReconciliationGeneration(r.name, generation)

	outcome := record.OutcomeNoop
	detail := ""
	switch {
	case pinned:
		detail = "generation pinned after rejection; awaiting new descriptor"
	case phase == state.PhaseDegraded:
		detail = "degraded; awaiting retrigger or new descriptor"
	default:
		applied, err := r.apply(ctx, desired)
		if err != nil {
			if !orchestrator.IsRejected(err) {
				r.noteCycleFailure("apply failed: " + err.Error())
			}
			r.finishCycle(ctx, prevSnap)
			return err
		}
		if applied.Created {
			outcome = record.OutcomeApplied
			detail = "created"
		} else if applied.Updated {
			outcome = record.OutcomeApplied
			detail = "updated"
		}
	}

	observed, summary, err := r.observeAndProbe(ctx, desired)
	if err != nil {
		r.noteCycleFailure("status failed: " + err.Error())
		r.finishCycle(ctx, prevSnap)
		return err
	}

	delta := diff.Compute(*desired, observed)
	if outcome == record.OutcomeApplied && !delta.Empty() {
		if plan := delta.Plan(); len(plan) > 0 {
			detail = detail + ": " + joinActions(plan)
		}
	}

	r.evaluatePhase(desired, delta, summary, observed)
	r.appendRecord(ctx, outcome, actionSummary(delta), detail)
	r.metrics.IncReconciliations(r.name, string(outcome))
	r.metrics.SetLastSuccessfulCycleTimestamp(r.now())

	r.finishCycle(ctx, prevSnap)
	return nil
}

// refreshDesired fetches the descriptor source and bumps the generation
// when the content fingerprint changes. Validation failures reject the
// new descriptor and keep the last good one.
func (r *Reconciler) refreshDesired(ctx context.Context) error {
	r.mu.Lock()
	etag := r.etag
	lastFingerprint := r.fingerprint
	r.mu.Unlock()

	result, err := r.source.Fetch(ctx, etag)
	if err != nil {
		return wrapCycle("fetch descriptor", err)
	}

	if result.ETag != "" {
		r.mu.Lock()
		r.etag = result.ETag
		r.mu.Unlock()
	}
	if result.NotModified {
		r.logger.Debug().Msg("descriptor unchanged")
		return nil
	}

	fingerprint, err := descriptor.Fingerprint(result.Body)
	if err != nil {
		return wrapCycle("fingerprint descriptor", err)
	}
	if fingerprint == lastFingerprint {
		r.logger.Debug().Msg("descriptor fingerprint unchanged")
		return nil
	}

	desired, err := descriptor.Resolve(ctx, result.Body, r.name)
	if err != nil {
		r.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("descriptor rejected, keeping last good")
		r.appendRecord(ctx, record.OutcomeRejected, "validate", err.Error())
		return nil
	}

	r.mu.Lock()
	r.generation++
	r.fingerprint = fingerprint
	snapshot := descriptor.NewDesiredState(desired, r.generation, fingerprint)
	r.desired = &snapshot
	r.pinnedFingerprint = ""
	r.stallTicks = 0
	r.lastGap = 0
	if r.phase == state.PhasePending || r.phase == state.PhaseConverged || r.phase == state.PhaseDegraded {
		r.phase = state.PhaseConverging
	}
	generation := r.generation
	r.mu.Unlock()

	r.logger.Info().
		Int64("generation", generation).
		Str("fingerprint", fingerprint).
		Str("image", desired.Image).
		Int("replicas", desired.Replicas).
		Msg("new desired state")

	return nil
}

// apply issues one Apply per cycle. Transient-failure retries live in the
// orchestrator adapters; at this level a failed cycle waits for the next
// tick, bounded by the degraded latch.
func (r *Reconciler) apply(ctx context.Context, desired *descriptor.DesiredState) (orchestrator.ApplyResult, error) {
	result, err := r.client.Apply(ctx, *desired)
	if err == nil {
		return result, nil
	}

	if orchestrator.IsRejected(err) {
		r.mu.Lock()
		r.pinnedFingerprint = r.fingerprint
		r.lastReasons = []string{"apply rejected: " + err.Error()}
		generation := r.generation
		r.mu.Unlock()
		r.logger.Error().Err(err).Int64("generation", generation).Msg("apply rejected; generation pinned")
		r.appendRecord(ctx, record.OutcomeRejected, "apply", err.Error())
		r.metrics.IncReconciliations(r.name, string(record.OutcomeRejected))
		return orchestrator.ApplyResult{}, wrapCycle("apply desired state", err)
	}

	r.metrics.IncOrchestratorErrors()
	r.appendRecord(ctx, record.OutcomeFailed, "apply", err.Error())
	r.metrics.IncReconciliations(r.name, string(record.OutcomeFailed))
	return orchestrator.ApplyResult{}, wrapCycle("apply desired state", err)
}

func (r *Reconciler) observeAndProbe(ctx context.Context, desired *descriptor.DesiredState) (*observe.ObservedState, healthagg.Summary, error) {
	observed, err := r.client.Status(ctx, r.name)
	if err != nil {
		r.metrics.IncOrchestratorErrors()
		r.appendRecord(ctx, record.OutcomeFailed, "status", err.Error())
		r.metrics.IncReconciliations(r.name, string(record.OutcomeFailed))
		return nil, healthagg.Summary{}, wrapCycle("observe deployment", err)
	}

	var summary healthagg.Summary
	if r.agg != nil && observed != nil {
		summary = r.agg.Check(ctx, r.name, desired.Descriptor.HealthPath, observed.Instances)
	} else if observed != nil {
		// Without a prober, running counts as healthy.
		summary = healthagg.Summary{Healthy: observed.ReadyReplicas, Total: observed.TotalReplicas}
		r.metrics.SetInstancesHealthy(r.name, summary.Healthy)
		r.metrics.SetInstancesTotal(r.name, summary.Total)
	}
	return observed, summary, nil
}

// evaluatePhase applies the convergence rules: converged needs an empty
// diff and enough healthy instances; a convergence gap that fails to
// shrink for stallThreshold consecutive cycles latches degraded.
func (r *Reconciler) evaluatePhase(desired *descriptor.DesiredState, delta diff.Diff, summary healthagg.Summary, observed *observe.ObservedState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastObserved = observed
	r.lastHealthy = summary.Healthy

	healthyEnough := summary.Healthy >= desired.Descriptor.Replicas
	converged := delta.Empty() && healthyEnough

	if converged {
		if state.CanTransition(r.phase, state.PhaseConverged) {
			r.phase = state.PhaseConverged
		}
		r.stallTicks = 0
		r.lastGap = 0
		r.lastReasons = nil
		return
	}

	reasons := delta.Reasons()
	if !healthyEnough {
		for _, id := range summary.UnhealthyInstances() {
			reasons = append(reasons, "instance unhealthy: "+id)
		}
	}
	if r.pinnedFingerprint != "" && r.pinnedFingerprint == r.fingerprint {
		reasons = append([]string{"generation pinned after rejection; awaiting new descriptor"}, reasons...)
	}
	r.lastReasons = reasons

	if r.phase == state.PhaseConverged {
		r.phase = state.PhaseConverging
		r.stallTicks = 0
		r.lastGap = 0
	}
	if r.phase != state.PhaseConverging {
		return
	}

	gap := delta.Size()
	if shortfall := desired.Descriptor.Replicas - summary.Healthy; shortfall > 0 {
		gap += shortfall
	}
	if r.lastGap > 0 && gap >= r.lastGap {
		r.stallTicks++
	} else {
		r.stallTicks = 0
	}
	r.lastGap = gap

	if r.stallTicks >= r.stallThreshold {
		r.phase = state.PhaseDegraded
		r.logger.Warn().
			Int("stalled_cycles", r.stallTicks).
			Strs("reasons", reasons).
			Msg("convergence stalled; deployment degraded")
	}
}

// noteCycleFailure counts a failed cycle toward the degraded latch. Three
// consecutive failures latch degraded, halting automatic applies until a
// retrigger or a new descriptor.
func (r *Reconciler) noteCycleFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == state.PhaseDegraded || r.phase.Terminal() || r.phase == state.PhaseTerminating {
		return
	}
	if r.phase == state.PhasePending || r.phase == state.PhaseConverged {
		r.phase = state.PhaseConverging
	}
	r.stallTicks++
	r.lastReasons = []string{reason}
	if r.stallTicks >= r.stallThreshold {
		r.phase = state.PhaseDegraded
		r.logger.Warn().
			Int("failed_cycles", r.stallTicks).
			Str("reason", reason).
			Msg("repeated failures; deployment degraded")
	}
}

// finishCycle persists the snapshot and emits a notification when the
// phase changed.
func (r *Reconciler) finishCycle(ctx context.Context, prevSnap state.DeploymentSnapshot) {
	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if r.stateStore != nil {
		if err := r.persistSnapshot(ctx, snap); err != nil {
			r.logger.Error().Err(err).Msg("persist snapshot failed")
		}
	}

	if snap.Phase == prevSnap.Phase {
		return
	}
	r.logger.Info().
		Str("previous_phase", string(prevSnap.Phase)).
		Str("current_phase", string(snap.Phase)).
		Int64("generation", snap.Generation).
		Strs("reasons", snap.Reasons).
		Msg("phase transition")

	if r.notifier == nil {
		return
	}
	prev := &state.State{Deployments: map[string]state.DeploymentSnapshot{r.name: prevSnap}}
	current := state.State{Deployments: map[string]state.DeploymentSnapshot{r.name: snap}}
	events := transition.Detect(prev, current)
	if len(events) == 0 {
		return
	}
	if err := r.notifier.Notify(ctx, events); err != nil {
		r.logger.Error().Err(err).Msg("notify failed")
	}
}

func (r *Reconciler) persistSnapshot(ctx context.Context, snap state.DeploymentSnapshot) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	loaded, err := r.stateStore.Load(ctx)
	if err != nil {
		return err
	}
	if loaded.Deployments == nil {
		loaded.Deployments = map[string]state.DeploymentSnapshot{}
	}
	loaded.Deployments[r.name] = snap
	return r.stateStore.Save(ctx, loaded)
}

func (r *Reconciler) appendRecord(ctx context.Context, outcome record.Outcome, action, detail string) {
	r.mu.Lock()
	r.lastOutcome = outcome
	generation := r.generation
	r.mu.Unlock()

	if r.records == nil {
		return
	}
	rec := record.Record{
		Deployment: r.name,
		Generation: generation,
		Action:     action,
		Outcome:    outcome,
		Detail:     detail,
		Timestamp:  r.now().UTC(),
	}
	if err := r.records.Append(ctx, rec); err != nil {
		r.logger.Error().Err(err).Msg("append reconciliation record failed")
	}
}

func actionSummary(delta diff.Diff) string {
	plan := delta.Plan()
	if len(plan) == 0 {
		return "observe"
	}
	return joinActions(plan)
}

func joinActions(plan []diff.Action) string {
	parts := make([]string, len(plan))
	for i, action := range plan {
		parts[i] = string(action)
	}
	return strings.Join(parts, ",")
}
