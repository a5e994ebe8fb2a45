package main

import (
	"time"

	"github.com/nholik/deploy-shepherd/internal/config"
	"github.com/nholik/deploy-shepherd/internal/orchestrator"
	"github.com/nholik/deploy-shepherd/internal/orchestrator/dockerd"
	"github.com/nholik/deploy-shepherd/internal/orchestrator/httpapi"
)

const orchestratorTimeout = 10 * time.Second

// newOrchestratorClient selects the orchestrator adapter from configuration:
// the HTTP API when DS_ORCHESTRATOR_URL is set, otherwise the local Docker
// daemon.
func newOrchestratorClient(cfg config.Config) (orchestrator.Client, error) {
	if cfg.OrchestratorURL != "" {
		return httpapi.New(cfg.OrchestratorURL, httpapi.WithTimeout(orchestratorTimeout))
	}
	return dockerd.New(cfg.DockerHost, orchestratorTimeout)
}
