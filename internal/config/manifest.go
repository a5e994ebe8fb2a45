package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestEntry represents a single deployment → descriptor location mapping.
type ManifestEntry struct {
	Name       string        `yaml:"name"`
	Descriptor string        `yaml:"descriptor"`
	Interval   time.Duration `yaml:"interval,omitempty"`
}

// Manifest is the parsed YAML structure for multi-deployment configuration:
// deployments: [{name, descriptor, interval}]
type Manifest struct {
	Deployments []ManifestEntry `yaml:"deployments"`
}

// LoadManifest parses a YAML manifest file from the given path.
// Returns nil if path is empty (no manifest).
func LoadManifest(path string) ([]ManifestEntry, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err := validateEntries(m.Deployments); err != nil {
		return nil, err
	}

	return m.Deployments, nil
}

func validateEntries(entries []ManifestEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("manifest contains no deployments")
	}

	seen := make(map[string]bool)

	for i, entry := range entries {
		if entry.Name == "" {
			return fmt.Errorf("deployment %d: name is required", i)
		}

		if entry.Descriptor == "" {
			return fmt.Errorf("deployment %q: descriptor is required", entry.Name)
		}

		if err := validateDescriptorLocation(entry.Descriptor); err != nil {
			return fmt.Errorf("deployment %q: %w", entry.Name, err)
		}

		if seen[entry.Name] {
			return fmt.Errorf("deployment %q: duplicate name", entry.Name)
		}
		seen[entry.Name] = true

		if entry.Interval < 0 {
			return fmt.Errorf("deployment %q: interval cannot be negative", entry.Name)
		}
	}

	return nil
}

// validateDescriptorLocation accepts http(s) URLs and local file paths.
func validateDescriptorLocation(location string) error {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		parsed, err := url.Parse(location)
		if err != nil {
			return fmt.Errorf("invalid descriptor URL: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("invalid descriptor URL: missing host")
		}
		return nil
	}
	return nil
}
