package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nholik/deploy-shepherd/internal/config"
	"github.com/nholik/deploy-shepherd/internal/logging"
	"github.com/nholik/deploy-shepherd/internal/record"
	"github.com/nholik/deploy-shepherd/internal/state"
)

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a deployment from the orchestrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), args[0])
		},
	}
	return cmd
}

func runDelete(ctx context.Context, name string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewWithLevel(cfg.LogLevel)

	client, err := newOrchestratorClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, orchestratorTimeout)
	defer cancel()

	if err := client.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}

	markTerminated(ctx, cfg, logger, name)

	fmt.Printf("deployment %s terminated\n", name)
	return nil
}

// markTerminated updates the state file and audit trail after a cluster-side
// delete. Best effort; the delete itself already succeeded.
func markTerminated(ctx context.Context, cfg config.Config, logger zerolog.Logger, name string) {
	store := state.NewFileStore(cfg.StatePath, logger)
	persisted, err := store.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load state file after delete")
		return
	}

	snap, tracked := persisted.Deployments[name]
	if !tracked {
		return
	}
	snap.Phase = state.PhaseTerminated
	snap.LastOutcome = string(record.OutcomeDeleted)
	snap.ReadyReplicas = 0
	snap.TotalReplicas = 0
	snap.Reasons = nil
	snap.EvaluatedAt = time.Now().UTC()
	persisted.Deployments[name] = snap

	if err := store.Save(ctx, persisted); err != nil {
		logger.Warn().Err(err).Msg("failed to persist terminal phase after delete")
		return
	}

	if cfg.RecordDBPath == "" {
		return
	}
	audit, err := record.OpenSQLite(cfg.RecordDBPath, cfg.RecordRetention)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open record store after delete")
		return
	}
	defer audit.Close()
	rec := record.Record{
		Deployment: name,
		Generation: snap.Generation,
		Action:     "delete",
		Outcome:    record.OutcomeDeleted,
		Detail:     "all instances removed",
		Timestamp:  time.Now().UTC(),
	}
	if err := audit.Append(ctx, rec); err != nil {
		logger.Warn().Err(err).Msg("failed to append delete record")
	}
}
