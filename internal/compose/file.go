package compose

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// File is the subset of a compose file opsctl needs: which services exist,
// what their containers are called, and whether they declare a healthcheck.
type File struct {
	Services map[string]ServiceSpec `yaml:"services"`
}

// ServiceSpec carries the per-service fields opsctl inspects.
type ServiceSpec struct {
	ContainerName string         `yaml:"container_name"`
	Image         string         `yaml:"image"`
	Healthcheck   *HealthcheckIn `yaml:"healthcheck"`
}

// HealthcheckIn marks that a service declares its own container healthcheck.
type HealthcheckIn struct {
	Test     any    `yaml:"test"`
	Interval string `yaml:"interval"`
	Retries  int    `yaml:"retries"`
}

// ParseFile reads and decodes a compose file.
func ParseFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read compose file: %w", err)
	}
	return Parse(data)
}

// Parse decodes compose YAML.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse compose file: %w", err)
	}
	if len(f.Services) == 0 {
		return File{}, fmt.Errorf("compose file declares no services")
	}
	return f, nil
}

// ServiceNames returns the declared services in stable order.
func (f File) ServiceNames() []string {
	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequireServices fails when any requested service is not declared. Called
// before dispatching to the orchestrator so typos surface before any
// container is touched.
func (f File) RequireServices(names ...string) error {
	for _, name := range names {
		if _, ok := f.Services[name]; !ok {
			return fmt.Errorf("service %q not declared in compose file (have: %v)", name, f.ServiceNames())
		}
	}
	return nil
}

// ContainerName resolves the container name for a service, falling back to
// the compose default <project>-<service>-1.
func (f File) ContainerName(project, service string) string {
	if spec, ok := f.Services[service]; ok && spec.ContainerName != "" {
		return spec.ContainerName
	}
	return fmt.Sprintf("%s-%s-1", project, service)
}

// HasHealthcheck reports whether a service declares a container healthcheck.
func (f File) HasHealthcheck(service string) bool {
	spec, ok := f.Services[service]
	return ok && spec.Healthcheck != nil
}
