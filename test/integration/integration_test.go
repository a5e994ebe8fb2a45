//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/nholik/deploy-shepherd/internal/descriptor"
	"github.com/nholik/deploy-shepherd/internal/orchestrator/dockerd"
)

// TestIntegrationDescriptorAndDocker verifies descriptor fetching over HTTP
// and Docker API access using a real daemon.
//
// Prerequisites:
//   - Docker daemon running
//   - a descriptor file served over HTTP (TEST_DESCRIPTOR_URL)
//
// Run with: go test -tags=integration -v ./test/integration/...
func TestIntegrationDescriptorAndDocker(t *testing.T) {
	descriptorURL := getEnv("TEST_DESCRIPTOR_URL", "http://localhost:8888/descriptor.yml")
	dockerHost := getEnv("TEST_DOCKER_HOST", "tcp://localhost:2375")
	dockerProxyURL := getEnv("TEST_DOCKER_PROXY_URL", "http://localhost:2375")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := checkEndpoint(ctx, descriptorURL); err != nil {
		t.Skipf("descriptor server not reachable: %v", err)
	}
	if err := checkEndpoint(ctx, dockerProxyURL+"/_ping"); err != nil {
		t.Skipf("docker daemon not reachable: %v", err)
	}

	t.Run("DescriptorFetch", func(t *testing.T) {
		source, err := descriptor.NewSource(descriptorURL, 10*time.Second)
		if err != nil {
			t.Fatalf("create source: %v", err)
		}

		result, err := source.Fetch(context.Background(), "")
		if err != nil {
			t.Fatalf("fetch descriptor: %v", err)
		}
		if len(result.Body) == 0 {
			t.Fatal("expected non-empty descriptor body")
		}

		desc, err := descriptor.Validate(result.Body)
		if err != nil {
			t.Fatalf("validate descriptor: %v", err)
		}
		t.Logf("Fetched descriptor for %s (image %s, %d replicas)", desc.Name, desc.Image, desc.Replicas)
	})

	t.Run("DockerPing", func(t *testing.T) {
		client, err := dockerd.New(dockerHost, 10*time.Second)
		if err != nil {
			t.Fatalf("create docker client: %v", err)
		}
		defer client.Close()

		if err := client.Ping(context.Background()); err != nil {
			t.Fatalf("docker ping: %v", err)
		}
	})

	t.Run("ObservedState", func(t *testing.T) {
		client, err := dockerd.New(dockerHost, 10*time.Second)
		if err != nil {
			t.Fatalf("create docker client: %v", err)
		}
		defer client.Close()

		observed, err := client.Status(context.Background(), getEnv("TEST_DEPLOYMENT", "web"))
		if err != nil {
			t.Fatalf("get observed state: %v", err)
		}

		t.Logf("Observed %d/%d replicas ready", observed.ReadyReplicas, observed.TotalReplicas)
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func checkEndpoint(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}
