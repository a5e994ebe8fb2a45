package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func defaultConfig() Config {
	return Config{
		PollInterval:    defaultPollInterval,
		DockerHost:      defaultDockerHost,
		StatePath:       defaultStatePath,
		RecordRetention: defaultRecordRetention,
		HealthTimeout:   defaultHealthTimeout,
		LogLevel:        defaultLogLevel,
	}
}

func TestLoad_ValidationAndDefaults(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		mutate  func(*Config)
	}{
		{
			name: "defaults applied",
			env:  map[string]string{},
		},
		{
			name: "invalid poll interval",
			env: map[string]string{
				envPollInterval: "nope",
			},
			wantErr: true,
		},
		{
			name: "zero poll interval",
			env: map[string]string{
				envPollInterval: "0s",
			},
			wantErr: true,
		},
		{
			name: "negative poll interval",
			env: map[string]string{
				envPollInterval: "-5s",
			},
			wantErr: true,
		},
		{
			name: "invalid orchestrator url missing scheme",
			env: map[string]string{
				envOrchestratorURL: "example.com/api",
			},
			wantErr: true,
		},
		{
			name: "invalid slack webhook url",
			env: map[string]string{
				envSlackWebhookURL: "not-a-url",
			},
			wantErr: true,
		},
		{
			name: "invalid record retention",
			env: map[string]string{
				envRecordRetention: "lots",
			},
			wantErr: true,
		},
		{
			name: "zero record retention",
			env: map[string]string{
				envRecordRetention: "0",
			},
			wantErr: true,
		},
		{
			name: "invalid health port",
			env: map[string]string{
				envHealthPort: "70000",
			},
			wantErr: true,
		},
		{
			name: "zero health timeout",
			env: map[string]string{
				envHealthTimeout: "0s",
			},
			wantErr: true,
		},
		{
			name: "custom values",
			env: map[string]string{
				envPollInterval:    "45s",
				envOrchestratorURL: "http://orchestrator:8080",
				envManifestPath:    "deployments.yaml",
				envRecordDBPath:    "records.db",
				envRecordRetention: "50",
				envHealthTimeout:   "5s",
				envHealthPort:      "8081",
				envMetricsPort:     "9090",
				envSlackWebhookURL: "https://hooks.slack.com/services/T00/B00/XXX",
				envLogLevel:        "debug",
			},
			mutate: func(c *Config) {
				c.PollInterval = 45 * time.Second
				c.OrchestratorURL = "http://orchestrator:8080"
				c.ManifestPath = "deployments.yaml"
				c.RecordDBPath = "records.db"
				c.RecordRetention = 50
				c.HealthTimeout = 5 * time.Second
				c.HealthPort = 8081
				c.MetricsPort = 9090
				c.SlackWebhookURL = "https://hooks.slack.com/services/T00/B00/XXX"
				c.LogLevel = "debug"
			},
		},
		{
			name: "custom docker host",
			env: map[string]string{
				envDockerHost: "tcp://docker-proxy:2375",
			},
			mutate: func(c *Config) {
				c.DockerHost = "tcp://docker-proxy:2375"
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			restoreDir := mustChdir(t, tmpDir)
			defer restoreDir()

			for key, value := range tc.env {
				t.Setenv(key, value)
			}

			got, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			want := defaultConfig()
			if tc.mutate != nil {
				tc.mutate(&want)
			}
			if got != want {
				t.Fatalf("unexpected config: %+v", got)
			}
		})
	}
}

func TestLoad_DotEnvAndEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	restoreDir := mustChdir(t, tmpDir)
	defer restoreDir()

	dotenv := []byte(`
# example .env
DS_MANIFEST_PATH=dotenv-manifest.yaml
DS_SLACK_WEBHOOK_URL=https://hooks.slack.com/services/test
DS_DOCKER_HOST=tcp://dotenv:2375
`)

	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), dotenv, 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv(envManifestPath, "env-manifest.yaml")
	t.Setenv(envDockerHost, "tcp://env:2375")

	got, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.ManifestPath != "env-manifest.yaml" {
		t.Fatalf("manifest path did not prefer env: %s", got.ManifestPath)
	}
	if got.DockerHost != "tcp://env:2375" {
		t.Fatalf("docker host did not prefer env: %s", got.DockerHost)
	}
	if got.SlackWebhookURL != "https://hooks.slack.com/services/test" {
		t.Fatalf("slack webhook url not loaded from .env: %s", got.SlackWebhookURL)
	}
	if got.PollInterval != defaultPollInterval {
		t.Fatalf("unexpected poll interval: %s", got.PollInterval)
	}
}

func mustChdir(t *testing.T, dir string) func() {
	t.Helper()
	original, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	return func() {
		if err := os.Chdir(original); err != nil {
			t.Fatalf("restore wd: %v", err)
		}
	}
}
