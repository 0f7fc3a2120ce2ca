// Package command implements the security-gated command path:
// RECOGNIZE, VALIDATE, EXECUTE, REPORT. The capability whitelist is the
// single gate between recognition and the network; nothing absent from it
// can ever be dispatched.
package command

import (
	"fmt"
	"os"

	"Minerva/internal/models"

	"gopkg.in/yaml.v3"
)

// Registry holds the command templates and the endpoint whitelist. Both
// are loaded once at startup and never mutated afterwards, so reads need
// no locking.
type Registry struct {
	templates []models.CommandTemplate
	byName    map[string]models.CommandTemplate
	whitelist map[string]string // METHOD:PATH_TEMPLATE -> capability
}

type registryFile struct {
	Commands  []models.CommandTemplate `yaml:"commands"`
	Whitelist map[string]string        `yaml:"whitelist"`
}

// LoadRegistry reads the command configuration from a YAML file. A
// template whose endpoint is missing from the whitelist is a configuration
// error: refusing to start beats discovering the gap at dispatch time.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read command config %q: %w", path, err)
	}
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse command config %q: %w", path, err)
	}

	reg := &Registry{
		templates: file.Commands,
		byName:    make(map[string]models.CommandTemplate, len(file.Commands)),
		whitelist: file.Whitelist,
	}
	if reg.whitelist == nil {
		reg.whitelist = map[string]string{}
	}
	for _, tmpl := range file.Commands {
		if tmpl.Name == "" || tmpl.Method == "" || tmpl.PathTemplate == "" {
			return nil, fmt.Errorf("command template %q is incomplete", tmpl.Name)
		}
		if _, ok := reg.whitelist[tmpl.EndpointKey()]; !ok {
			return nil, fmt.Errorf("command %q maps to non-whitelisted endpoint %s", tmpl.Name, tmpl.EndpointKey())
		}
		if _, dup := reg.byName[tmpl.Name]; dup {
			return nil, fmt.Errorf("duplicate command template %q", tmpl.Name)
		}
		reg.byName[tmpl.Name] = tmpl
	}
	return reg, nil
}

// NewRegistry builds a registry directly from templates and a whitelist.
// Used by tests; production loads from YAML.
func NewRegistry(templates []models.CommandTemplate, whitelist map[string]string) *Registry {
	byName := make(map[string]models.CommandTemplate, len(templates))
	for _, tmpl := range templates {
		byName[tmpl.Name] = tmpl
	}
	if whitelist == nil {
		whitelist = map[string]string{}
	}
	return &Registry{templates: templates, byName: byName, whitelist: whitelist}
}

// Templates returns all registered templates.
func (r *Registry) Templates() []models.CommandTemplate {
	return r.templates
}

// Lookup returns a template by name.
func (r *Registry) Lookup(name string) (models.CommandTemplate, bool) {
	tmpl, ok := r.byName[name]
	return tmpl, ok
}

// Capability returns the capability behind an endpoint key, or false when
// the endpoint is not whitelisted.
func (r *Registry) Capability(endpointKey string) (string, bool) {
	cap, ok := r.whitelist[endpointKey]
	return cap, ok
}
