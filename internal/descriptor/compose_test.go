package descriptor

import (
	"context"
	"testing"
)

func TestFromCompose_MapsServices(t *testing.T) {
	body := []byte(`
services:
  web:
    image: app:v1
    ports:
      - "8080:8080"
    deploy:
      replicas: 3
    healthcheck:
      test: ["CMD", "curl", "-f", "http://localhost:8080/healthz"]
  worker:
    image: worker:v2
    ports:
      - "9000:9000"
`)

	descriptors, err := FromCompose(context.Background(), body)
	if err != nil {
		t.Fatalf("from compose: %v", err)
	}
	if len(descriptors) != 2 {
		t.Fatalf("expected two descriptors, got %d", len(descriptors))
	}

	web := descriptors[1]
	if web.Name != "web" || web.Image != "app:v1" {
		t.Fatalf("unexpected web descriptor: %+v", web)
	}
	if web.Replicas != 3 {
		t.Fatalf("expected 3 replicas, got %d", web.Replicas)
	}
	if web.ContainerPort != 8080 {
		t.Fatalf("expected container port 8080, got %d", web.ContainerPort)
	}
	if web.HealthPath != "/healthz" {
		t.Fatalf("expected health path from healthcheck, got %q", web.HealthPath)
	}

	worker := descriptors[0]
	if worker.Name != "worker" || worker.Replicas != 1 {
		t.Fatalf("unexpected worker descriptor: %+v", worker)
	}
	if worker.HealthPath != DefaultHealthPath {
		t.Fatalf("expected default health path, got %q", worker.HealthPath)
	}
}

func TestFromCompose_MissingImage(t *testing.T) {
	body := []byte(`
services:
  web:
    build: .
    ports:
      - "8080:8080"
`)

	if _, err := FromCompose(context.Background(), body); err == nil {
		t.Fatalf("expected error for service without image")
	}
}

func TestFromCompose_MissingPorts(t *testing.T) {
	body := []byte(`
services:
  web:
    image: app:v1
`)

	if _, err := FromCompose(context.Background(), body); err == nil {
		t.Fatalf("expected error for service without ports")
	}
}

func TestFromCompose_EmptyBody(t *testing.T) {
	if _, err := FromCompose(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

func TestResolve_PlainDescriptor(t *testing.T) {
	body := []byte("name: api\nimage: app:v1\nreplicas: 2\ncontainer_port: 8080\n")

	d, err := Resolve(context.Background(), body, "api")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Name != "api" || d.Image != "app:v1" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
}

func TestResolve_ComposeSelectsService(t *testing.T) {
	body := []byte(`
services:
  web:
    image: app:v1
    ports:
      - "8080:8080"
  worker:
    image: worker:v2
    ports:
      - "9000:9000"
`)

	d, err := Resolve(context.Background(), body, "worker")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Name != "worker" || d.Image != "worker:v2" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}

	if _, err := Resolve(context.Background(), body, "ghost"); err == nil {
		t.Fatalf("expected error for unknown service")
	}
	if _, err := Resolve(context.Background(), body, ""); err == nil {
		t.Fatalf("expected error when name omitted for multi-service compose")
	}
}

func TestResolve_SingleServiceComposeWithoutName(t *testing.T) {
	body := []byte(`
services:
  web:
    image: app:v1
    ports:
      - "8080:8080"
`)

	d, err := Resolve(context.Background(), body, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Name != "web" {
		t.Fatalf("expected web, got %q", d.Name)
	}
}
