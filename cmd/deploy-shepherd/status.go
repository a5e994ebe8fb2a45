package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nholik/deploy-shepherd/internal/config"
	"github.com/nholik/deploy-shepherd/internal/logging"
	"github.com/nholik/deploy-shepherd/internal/record"
	"github.com/nholik/deploy-shepherd/internal/state"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <name>",
		Short: "Show the reconciliation state of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), args[0])
		},
	}
	return cmd
}

func runStatus(ctx context.Context, name string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewWithLevel(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(ctx, orchestratorTimeout)
	defer cancel()

	stateStore := state.NewFileStore(cfg.StatePath, logger)
	persisted, err := stateStore.Load(ctx)
	if err != nil {
		return err
	}

	snap, tracked := persisted.Deployments[name]
	if !tracked {
		return fmt.Errorf("deployment %q is not tracked in %s", name, cfg.StatePath)
	}

	fmt.Printf("deployment:   %s\n", name)
	fmt.Printf("phase:        %s\n", snap.Phase)
	fmt.Printf("generation:   %d\n", snap.Generation)
	fmt.Printf("replicas:     %d/%d ready\n", snap.ReadyReplicas, snap.TotalReplicas)
	if snap.LastOutcome != "" {
		fmt.Printf("last outcome: %s\n", snap.LastOutcome)
	}
	if len(snap.Reasons) > 0 {
		fmt.Printf("reasons:      %s\n", strings.Join(snap.Reasons, "; "))
	}
	if !snap.EvaluatedAt.IsZero() {
		fmt.Printf("evaluated:    %s\n", snap.EvaluatedAt.Format(time.RFC3339))
	}

	if cfg.RecordDBPath != "" {
		printLastRecord(ctx, cfg, name)
	}

	if snap.Phase == state.PhaseDegraded {
		return fmt.Errorf("deployment %s is degraded; retrigger or publish a new descriptor", name)
	}
	return nil
}

func printLastRecord(ctx context.Context, cfg config.Config, name string) {
	store, err := record.OpenSQLite(cfg.RecordDBPath, cfg.RecordRetention)
	if err != nil {
		fmt.Printf("audit trail:  unavailable (%v)\n", err)
		return
	}
	defer store.Close()

	last, ok, err := store.Last(ctx, name)
	if err != nil || !ok {
		return
	}
	fmt.Printf("last record:  %s %s at %s", last.Outcome, last.Action, last.Timestamp.Format(time.RFC3339))
	if last.Detail != "" {
		fmt.Printf(" (%s)", last.Detail)
	}
	fmt.Println()
}
