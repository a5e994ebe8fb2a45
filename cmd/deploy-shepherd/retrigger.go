package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nholik/deploy-shepherd/internal/config"
)

func retriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrigger <name>",
		Short: "Clear the degraded latch on a deployment managed by a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetrigger(cmd.Context(), args[0])
		},
	}
	return cmd
}

func runRetrigger(ctx context.Context, name string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.HealthPort == 0 {
		return errors.New("retrigger requires the daemon health server; set DS_HEALTH_PORT")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://localhost:%d/retrigger?deployment=%s", cfg.HealthPort, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("retrigger %s: %s", name, strings.TrimSpace(string(body)))
	}

	fmt.Printf("deployment %s retriggered\n", name)
	return nil
}
