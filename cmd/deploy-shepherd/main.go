package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "deploy-shepherd",
		Short:         "Desired-state reconciler for container deployments",
		Long:          "deploy-shepherd watches declarative deployment descriptors and drives an orchestrator until the observed state matches the desired state.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(runCmd())
	cmd.AddCommand(applyCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(deleteCmd())
	cmd.AddCommand(retriggerCmd())
	return cmd
}
