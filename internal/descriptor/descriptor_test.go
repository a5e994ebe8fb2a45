package descriptor

import (
	"strings"
	"testing"
)

func TestValidate_Valid(t *testing.T) {
	raw := []byte(`
name: web
image: app:v1
replicas: 2
container_port: 8080
health_path: /healthz
resources:
  cpu_request: 100m
  cpu_limit: 500m
  mem_request: 64Mi
  mem_limit: 256Mi
`)

	d, err := Validate(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if d.Name != "web" || d.Image != "app:v1" || d.Replicas != 2 {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	if d.ContainerPort != 8080 || d.HealthPath != "/healthz" {
		t.Fatalf("unexpected port/path: %+v", d)
	}
	if d.Resources.MemLimit != "256Mi" {
		t.Fatalf("unexpected resources: %+v", d.Resources)
	}
}

func TestValidate_DefaultsHealthPath(t *testing.T) {
	raw := []byte("name: web\nimage: app:v1\nreplicas: 1\ncontainer_port: 80\n")

	d, err := Validate(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if d.HealthPath != DefaultHealthPath {
		t.Fatalf("expected default health path, got %q", d.HealthPath)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"bad_name_uppercase", "name: Web\nimage: app:v1\nreplicas: 1\ncontainer_port: 80\n"},
		{"bad_name_chars", "name: web_1\nimage: app:v1\nreplicas: 1\ncontainer_port: 80\n"},
		{"long_name", "name: " + strings.Repeat("a", 64) + "\nimage: app:v1\nreplicas: 1\ncontainer_port: 80\n"},
		{"missing_image", "name: web\nreplicas: 1\ncontainer_port: 80\n"},
		{"image_whitespace", "name: web\nimage: \"app :v1\"\nreplicas: 1\ncontainer_port: 80\n"},
		{"negative_replicas", "name: web\nimage: app:v1\nreplicas: -1\ncontainer_port: 80\n"},
		{"port_zero", "name: web\nimage: app:v1\nreplicas: 1\ncontainer_port: 0\n"},
		{"port_too_high", "name: web\nimage: app:v1\nreplicas: 1\ncontainer_port: 70000\n"},
		{"relative_health_path", "name: web\nimage: app:v1\nreplicas: 1\ncontainer_port: 80\nhealth_path: health\n"},
		{"unknown_field", "name: web\nimage: app:v1\nreplicas: 1\ncontainer_port: 80\ncolor: blue\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate([]byte(tc.raw))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !IsValidation(err) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestValidate_ZeroReplicasAllowed(t *testing.T) {
	raw := []byte("name: web\nimage: app:v1\nreplicas: 0\ncontainer_port: 80\n")

	d, err := Validate(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if d.Replicas != 0 {
		t.Fatalf("expected zero replicas, got %d", d.Replicas)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	original := Descriptor{
		Name:          "web",
		Image:         "registry.example.com/app:v2",
		Replicas:      3,
		ContainerPort: 9090,
		HealthPath:    "/health",
		Resources: Resources{
			CPULimit: "500m",
			MemLimit: "128Mi",
		},
	}

	raw, err := Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	parsed, err := Validate(raw)
	if err != nil {
		t.Fatalf("validate round-trip: %v", err)
	}
	if parsed != original {
		t.Fatalf("round-trip mismatch:\n got %+v\nwant %+v", parsed, original)
	}
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint([]byte("name: web\n"))
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	b, err := Fingerprint([]byte("name: web\nreplicas: 2\n"))
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct fingerprints")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}

	if _, err := Fingerprint(nil); err == nil {
		t.Fatalf("expected error for empty body")
	}
}
