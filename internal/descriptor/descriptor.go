package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultHealthPath is probed when a descriptor does not name one.
const DefaultHealthPath = "/health"

var namePattern = regexp.MustCompile(`^[a-z0-9-]{1,63}$`)

// Resources captures requested and limited compute for one instance.
type Resources struct {
	CPURequest string `yaml:"cpu_request,omitempty"`
	CPULimit   string `yaml:"cpu_limit,omitempty"`
	MemRequest string `yaml:"mem_request,omitempty"`
	MemLimit   string `yaml:"mem_limit,omitempty"`
}

// Descriptor is the declarative spec of one deployable unit.
type Descriptor struct {
	Name          string    `yaml:"name"`
	Image         string    `yaml:"image"`
	Replicas      int       `yaml:"replicas"`
	ContainerPort int       `yaml:"container_port"`
	HealthPath    string    `yaml:"health_path,omitempty"`
	Resources     Resources `yaml:"resources,omitempty"`
}

// ValidationError reports a descriptor that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid descriptor: %s: %s", e.Field, e.Reason)
}

// Validate parses raw YAML into a Descriptor, rejecting unknown fields
// and anything outside the documented value ranges. Pure; no side effects.
func Validate(raw []byte) (Descriptor, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Descriptor{}, &ValidationError{Field: "descriptor", Reason: "empty document"}
	}

	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)

	var d Descriptor
	if err := decoder.Decode(&d); err != nil {
		return Descriptor{}, &ValidationError{Field: "descriptor", Reason: err.Error()}
	}

	normalized, err := normalize(d)
	if err != nil {
		return Descriptor{}, err
	}
	return normalized, nil
}

// Check validates an already-decoded Descriptor, applying defaults.
func Check(d Descriptor) (Descriptor, error) {
	return normalize(d)
}

func normalize(d Descriptor) (Descriptor, error) {
	if !namePattern.MatchString(d.Name) {
		return Descriptor{}, &ValidationError{Field: "name", Reason: "must match [a-z0-9-]{1,63}"}
	}
	if d.Image == "" {
		return Descriptor{}, &ValidationError{Field: "image", Reason: "must not be empty"}
	}
	if strings.ContainsAny(d.Image, " \t\n") {
		return Descriptor{}, &ValidationError{Field: "image", Reason: "must not contain whitespace"}
	}
	if d.Replicas < 0 {
		return Descriptor{}, &ValidationError{Field: "replicas", Reason: "must be non-negative"}
	}
	if d.ContainerPort < 1 || d.ContainerPort > 65535 {
		return Descriptor{}, &ValidationError{Field: "container_port", Reason: "must be in [1,65535]"}
	}
	if d.HealthPath == "" {
		d.HealthPath = DefaultHealthPath
	}
	if !strings.HasPrefix(d.HealthPath, "/") {
		return Descriptor{}, &ValidationError{Field: "health_path", Reason: "must begin with /"}
	}
	return d, nil
}

// Marshal renders a Descriptor as YAML. Validate(Marshal(d)) == d for any
// descriptor that already passed validation.
func Marshal(d Descriptor) ([]byte, error) {
	return yaml.Marshal(d)
}

// IsValidation reports whether err is a descriptor validation failure.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
