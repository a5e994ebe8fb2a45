package main

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nholik/deploy-shepherd/internal/config"
	"github.com/nholik/deploy-shepherd/internal/healthagg"
	"github.com/nholik/deploy-shepherd/internal/healthcheck"
	"github.com/nholik/deploy-shepherd/internal/logging"
	"github.com/nholik/deploy-shepherd/internal/metrics"
	"github.com/nholik/deploy-shepherd/internal/notify"
	"github.com/nholik/deploy-shepherd/internal/reconciler"
	"github.com/nholik/deploy-shepherd/internal/record"
	"github.com/nholik/deploy-shepherd/internal/registry"
	"github.com/nholik/deploy-shepherd/internal/server"
	"github.com/nholik/deploy-shepherd/internal/state"
)

func runCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reconciliation daemon",
		Long:  "Starts one reconciliation loop per manifest entry and keeps them running until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log transition notifications instead of delivering them")
	return cmd
}

func runDaemon(cmd *cobra.Command, dryRun bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewWithLevel(cfg.LogLevel)

	entries, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("no deployments configured; set DS_MANIFEST_PATH to a manifest file")
	}

	client, err := newOrchestratorClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("orchestrator not reachable at startup; reconcilers will retry")
	}

	recordStore, err := newRecordStore(cfg)
	if err != nil {
		return err
	}
	defer recordStore.Close()

	m := metrics.New()
	tracker := healthcheck.NewTracker()
	agg := healthagg.New(logger, m, healthagg.WithProbeTimeout(cfg.HealthTimeout))
	stateStore := state.NewFileStore(cfg.StatePath, logger)
	notifier := buildNotifier(logger, cfg, dryRun)

	// All reconcilers share one state file, so they share one lock.
	var stateMu sync.Mutex
	deployments := len(entries)

	buildOptions := func(entry config.ManifestEntry) []reconciler.Option {
		return []reconciler.Option{
			reconciler.WithMetrics(m),
			reconciler.WithHealthAggregator(agg),
			reconciler.WithRecordStore(recordStore),
			reconciler.WithStateStore(stateStore, &stateMu),
			reconciler.WithNotifier(notifier),
			reconciler.WithCycleObserver(func(d time.Duration) {
				tracker.RecordCycle(d, deployments)
			}),
		}
	}

	reg := registry.New(logger, cfg, entries, client, buildOptions)
	server.Start(ctx, logger, cfg.PollInterval, tracker, m, reg.Snapshots, reg.Retrigger, cfg.HealthPort, cfg.MetricsPort)

	return reg.Run(ctx)
}

func newRecordStore(cfg config.Config) (record.Store, error) {
	if cfg.RecordDBPath != "" {
		return record.OpenSQLite(cfg.RecordDBPath, cfg.RecordRetention)
	}
	return record.NewMemoryStore(cfg.RecordRetention), nil
}

func buildNotifier(logger zerolog.Logger, cfg config.Config, dryRun bool) notify.Notifier {
	var notifiers []notify.Notifier

	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(logger, cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, "")
		if err != nil {
			logger.Warn().Err(err).Msg("webhook notifier disabled")
		} else if webhook != nil {
			notifiers = append(notifiers, webhook)
		}
	}

	var notifier notify.Notifier
	switch len(notifiers) {
	case 0:
		notifier = notify.NewNoop(logger, "no notification endpoints configured")
	case 1:
		notifier = notifiers[0]
	default:
		notifier = notify.NewMultiNotifier(notifiers...)
	}

	if dryRun {
		return notify.NewDryRunNotifier(logger, notifier)
	}
	return notifier
}
