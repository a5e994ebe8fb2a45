package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envPollInterval    = "DS_POLL_INTERVAL"
	envOrchestratorURL = "DS_ORCHESTRATOR_URL"
	envDockerHost      = "DS_DOCKER_HOST"
	envManifestPath    = "DS_MANIFEST_PATH"
	envStatePath       = "DS_STATE_PATH"
	envRecordDBPath    = "DS_RECORD_DB_PATH"
	envRecordRetention = "DS_RECORD_RETENTION"
	envHealthTimeout   = "DS_HEALTH_TIMEOUT"
	envHealthPort      = "DS_HEALTH_PORT"
	envMetricsPort     = "DS_METRICS_PORT"
	envSlackWebhookURL = "DS_SLACK_WEBHOOK_URL"
	envWebhookURL      = "DS_WEBHOOK_URL"
	envLogLevel        = "DS_LOG_LEVEL"
)

const (
	defaultPollInterval    = 30 * time.Second
	defaultDockerHost      = "unix:///var/run/docker.sock"
	defaultStatePath       = "shepherd-state.json"
	defaultRecordRetention = 100
	defaultHealthTimeout   = 3 * time.Second
	defaultLogLevel        = "info"
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	PollInterval    time.Duration
	OrchestratorURL string
	DockerHost      string
	ManifestPath    string
	StatePath       string
	RecordDBPath    string
	RecordRetention int
	HealthTimeout   time.Duration
	HealthPort      int
	MetricsPort     int
	SlackWebhookURL string
	WebhookURL      string
	LogLevel        string
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		PollInterval:    defaultPollInterval,
		DockerHost:      defaultDockerHost,
		StatePath:       defaultStatePath,
		RecordRetention: defaultRecordRetention,
		HealthTimeout:   defaultHealthTimeout,
		LogLevel:        defaultLogLevel,
	}

	if value, ok := lookupTrimmed(envPollInterval); ok {
		interval, err := parsePositiveDuration(value, envPollInterval)
		if err != nil {
			return Config{}, err
		}
		cfg.PollInterval = interval
	}

	if value, ok := lookupTrimmed(envOrchestratorURL); ok {
		cfg.OrchestratorURL = value
	}
	if value, ok := lookupTrimmed(envDockerHost); ok {
		cfg.DockerHost = value
	}
	if value, ok := lookupTrimmed(envManifestPath); ok {
		cfg.ManifestPath = value
	}
	if value, ok := lookupTrimmed(envStatePath); ok {
		cfg.StatePath = value
	}
	if value, ok := lookupTrimmed(envRecordDBPath); ok {
		cfg.RecordDBPath = value
	}

	if value, ok := lookupTrimmed(envRecordRetention); ok {
		retention, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envRecordRetention, err)
		}
		if retention <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envRecordRetention)
		}
		cfg.RecordRetention = retention
	}

	if value, ok := lookupTrimmed(envHealthTimeout); ok {
		timeout, err := parsePositiveDuration(value, envHealthTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.HealthTimeout = timeout
	}

	if value, ok := lookupTrimmed(envHealthPort); ok {
		port, err := parsePort(value, envHealthPort)
		if err != nil {
			return Config{}, err
		}
		cfg.HealthPort = port
	}
	if value, ok := lookupTrimmed(envMetricsPort); ok {
		port, err := parsePort(value, envMetricsPort)
		if err != nil {
			return Config{}, err
		}
		cfg.MetricsPort = port
	}

	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}
	if value, ok := lookupTrimmed(envWebhookURL); ok {
		cfg.WebhookURL = value
	}
	if value, ok := lookupTrimmed(envLogLevel); ok {
		cfg.LogLevel = value
	}

	if cfg.OrchestratorURL != "" {
		if err := validateURL(cfg.OrchestratorURL, envOrchestratorURL); err != nil {
			return Config{}, err
		}
	}
	if cfg.SlackWebhookURL != "" {
		if err := validateURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateURL(cfg.WebhookURL, envWebhookURL); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func parsePositiveDuration(value, name string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", name)
	}
	return parsed, nil
}

func parsePort(value, name string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("%s must be between 0 and 65535", name)
	}
	return port, nil
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
