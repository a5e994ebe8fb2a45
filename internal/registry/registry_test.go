package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/deploy-shepherd/internal/config"
	"github.com/nholik/deploy-shepherd/internal/descriptor"
	"github.com/nholik/deploy-shepherd/internal/observe"
	"github.com/nholik/deploy-shepherd/internal/orchestrator"
)

type fakeOrchestrator struct{}

func (f *fakeOrchestrator) Ping(context.Context) error { return nil }

func (f *fakeOrchestrator) Apply(context.Context, descriptor.DesiredState) (orchestrator.ApplyResult, error) {
	return orchestrator.ApplyResult{}, nil
}

func (f *fakeOrchestrator) Status(context.Context, string) (*observe.ObservedState, error) {
	return &observe.ObservedState{}, nil
}

func (f *fakeOrchestrator) Delete(context.Context, string) error { return nil }

func (f *fakeOrchestrator) Close() error { return nil }

func descriptorServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("name: api\nimage: nginx:1.25\nreplicas: 1\ncontainer_port: 8080\n"))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRegistry_SingleDeployment(t *testing.T) {
	server := descriptorServer(t)
	cfg := config.Config{PollInterval: 50 * time.Millisecond}

	entries := []config.ManifestEntry{
		{Name: "api", Descriptor: server.URL},
	}

	reg := New(zerolog.Nop(), cfg, entries, &fakeOrchestrator{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := reg.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reconcilers := reg.Reconcilers()
	if len(reconcilers) != 1 {
		t.Fatalf("expected one reconciler, got %d", len(reconcilers))
	}
	if _, ok := reg.Get("api"); !ok {
		t.Fatal("expected api reconciler")
	}
}

func TestRegistry_MultipleDeployments(t *testing.T) {
	server := descriptorServer(t)
	cfg := config.Config{PollInterval: 50 * time.Millisecond}

	entries := []config.ManifestEntry{
		{Name: "api", Descriptor: server.URL},
		{Name: "worker", Descriptor: server.URL, Interval: 30 * time.Millisecond},
	}

	reg := New(zerolog.Nop(), cfg, entries, &fakeOrchestrator{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := reg.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reconcilers := reg.Reconcilers()
	if len(reconcilers) != 2 {
		t.Fatalf("expected two reconcilers, got %d", len(reconcilers))
	}
	for _, name := range []string{"api", "worker"} {
		if _, ok := reconcilers[name]; !ok {
			t.Fatalf("expected %s reconciler", name)
		}
	}
}

func TestRegistry_RetriggerUnknownDeployment(t *testing.T) {
	reg := New(zerolog.Nop(), config.Config{PollInterval: time.Second}, nil, &fakeOrchestrator{}, nil)

	if reg.Retrigger("missing") {
		t.Fatal("expected retrigger to report unknown deployment")
	}
}

func TestRegistry_BadDescriptorLocationRecorded(t *testing.T) {
	cfg := config.Config{PollInterval: 50 * time.Millisecond}
	entries := []config.ManifestEntry{
		{Name: "broken", Descriptor: "   "},
	}

	reg := New(zerolog.Nop(), cfg, entries, &fakeOrchestrator{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := reg.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := reg.Get("broken"); ok {
		t.Fatal("expected no reconciler for broken entry")
	}
}
