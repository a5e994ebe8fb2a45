package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nholik/deploy-shepherd/internal/config"
	"github.com/nholik/deploy-shepherd/internal/descriptor"
	"github.com/nholik/deploy-shepherd/internal/healthagg"
	"github.com/nholik/deploy-shepherd/internal/logging"
	"github.com/nholik/deploy-shepherd/internal/orchestrator"
	"github.com/nholik/deploy-shepherd/internal/reconciler"
	"github.com/nholik/deploy-shepherd/internal/record"
	"github.com/nholik/deploy-shepherd/internal/state"
)

func applyCmd() *cobra.Command {
	var timeout time.Duration
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "apply <descriptor-file>",
		Short: "Reconcile a descriptor until the deployment converges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), args[0], timeout, interval)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up waiting for convergence after this long")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Delay between reconciliation attempts")
	return cmd
}

func runApply(ctx context.Context, path string, timeout, interval time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewWithLevel(cfg.LogLevel)

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read descriptor: %w", err)
	}
	desc, err := descriptor.Resolve(ctx, raw, "")
	if err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}

	client, err := newOrchestratorClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	source, err := descriptor.NewSource(path, orchestratorTimeout)
	if err != nil {
		return err
	}

	r := reconciler.New(logger, desc.Name, source, client, interval,
		reconciler.WithHealthAggregator(healthagg.New(logger, nil, healthagg.WithProbeTimeout(cfg.HealthTimeout))),
		reconciler.WithRecordStore(record.NewMemoryStore(cfg.RecordRetention)),
		reconciler.WithStateStore(state.NewFileStore(cfg.StatePath, logger), nil),
	)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		if err := r.RunOnce(ctx); err != nil {
			if orchestrator.IsRejected(err) {
				return fmt.Errorf("descriptor rejected by orchestrator: %w", err)
			}
			logger.Warn().Err(err).Msg("reconciliation attempt failed")
		}

		snap := r.Snapshot()
		switch snap.Phase {
		case state.PhaseConverged:
			fmt.Printf("deployment %s converged (generation %d, %d/%d replicas ready)\n",
				desc.Name, snap.Generation, snap.ReadyReplicas, snap.TotalReplicas)
			return nil
		case state.PhaseDegraded:
			return fmt.Errorf("deployment %s degraded: %s", desc.Name, strings.Join(snap.Reasons, "; "))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s to converge (phase %s)", desc.Name, snap.Phase)
		case <-time.After(interval):
		}
	}
}
