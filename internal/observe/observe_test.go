package observe

import "testing"

func TestNormalizeImage(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"with_digest", "nginx:1.23@sha256:abc123", "nginx:1.23"},
		{"registry_with_digest", "registry.example.com/app:v1@sha256:def456", "registry.example.com/app:v1"},
		{"no_digest", "nginx:1.23", "nginx:1.23"},
		{"digest_only", "nginx@sha256:abc123", "nginx"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeImage(tc.input); got != tc.want {
				t.Fatalf("NormalizeImage(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestObservedState_Empty(t *testing.T) {
	var nilState *ObservedState
	if !nilState.Empty() {
		t.Fatalf("nil state should be empty")
	}
	if !(&ObservedState{}).Empty() {
		t.Fatalf("zero state should be empty")
	}
	if (&ObservedState{TotalReplicas: 1}).Empty() {
		t.Fatalf("populated state should not be empty")
	}
}
