package descriptor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

const defaultServiceScale = 1

// Resolve parses raw as either a plain descriptor or a docker-compose
// document. For compose, name selects the service; an empty name is
// accepted only when the document declares exactly one service.
func Resolve(ctx context.Context, raw []byte, name string) (Descriptor, error) {
	if !isComposeDocument(raw) {
		return Validate(raw)
	}

	descriptors, err := FromCompose(ctx, raw)
	if err != nil {
		return Descriptor{}, err
	}
	if name == "" {
		if len(descriptors) != 1 {
			return Descriptor{}, fmt.Errorf("compose declares %d services; a deployment name is required", len(descriptors))
		}
		return descriptors[0], nil
	}
	for _, d := range descriptors {
		if d.Name == name {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("compose has no service %q", name)
}

// isComposeDocument sniffs for a top-level services mapping.
func isComposeDocument(raw []byte) bool {
	var doc struct {
		Services map[string]any `yaml:"services"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return false
	}
	return len(doc.Services) > 0
}

// FromCompose loads Descriptors from a docker-compose document. Each compose
// service becomes one Descriptor: image and replicas map directly, the first
// declared port supplies container_port, and a health path is recovered from
// an HTTP-style healthcheck test when one is present.
func FromCompose(ctx context.Context, body []byte) ([]Descriptor, error) {
	if len(body) == 0 {
		return nil, errors.New("compose body is empty")
	}

	details := types.ConfigDetails{
		WorkingDir: ".",
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "compose.yml",
				Content:  body,
			},
		},
		Environment: types.Mapping{},
	}

	project, err := loader.LoadWithContext(ctx, details, func(opts *loader.Options) {
		opts.SetProjectName("deploy-shepherd", false)
	})
	if err != nil {
		return nil, fmt.Errorf("load compose: %w", err)
	}
	if len(project.Services) == 0 {
		return nil, errors.New("compose has no services")
	}

	descriptors := make([]Descriptor, 0, len(project.Services))
	for name, service := range project.Services {
		if service.Image == "" {
			return nil, fmt.Errorf("service %q missing image", name)
		}

		replicas := defaultServiceScale
		if service.Deploy != nil && service.Deploy.Replicas != nil {
			replicas = *service.Deploy.Replicas
		} else if service.Scale != nil {
			replicas = *service.Scale
		}

		if len(service.Ports) == 0 {
			return nil, fmt.Errorf("service %q declares no ports", name)
		}
		port := int(service.Ports[0].Target)

		d := Descriptor{
			Name:          name,
			Image:         service.Image,
			Replicas:      replicas,
			ContainerPort: port,
			HealthPath:    healthPathFromCheck(service.HealthCheck),
			Resources:     resourcesFromDeploy(service.Deploy),
		}
		validated, err := Check(d)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		descriptors = append(descriptors, validated)
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})

	return descriptors, nil
}

// healthPathFromCheck extracts a URL path from healthcheck tests of the
// form ["CMD", "curl", "-f", "http://localhost:8080/health"].
func healthPathFromCheck(check *types.HealthCheckConfig) string {
	if check == nil {
		return ""
	}
	for _, token := range check.Test {
		if !strings.HasPrefix(token, "http://") && !strings.HasPrefix(token, "https://") {
			continue
		}
		parsed, err := url.Parse(token)
		if err != nil || parsed.Path == "" {
			continue
		}
		return parsed.Path
	}
	return ""
}

func resourcesFromDeploy(deploy *types.DeployConfig) Resources {
	if deploy == nil {
		return Resources{}
	}
	var res Resources
	if limits := deploy.Resources.Limits; limits != nil && limits.MemoryBytes > 0 {
		res.MemLimit = strconv.FormatInt(int64(limits.MemoryBytes), 10)
	}
	if reservations := deploy.Resources.Reservations; reservations != nil && reservations.MemoryBytes > 0 {
		res.MemRequest = strconv.FormatInt(int64(reservations.MemoryBytes), 10)
	}
	return res
}
