package config

import (
	"fmt"
	"sort"
	"sync"

	"caravan/pkg/fileutil"
)

// Registry holds the applications served by the webhook server
type Registry struct {
	mu   sync.RWMutex
	apps map[string]*ApplicationSpec
}

// NewRegistry creates a registry from already loaded specs
func NewRegistry(specs ...*ApplicationSpec) (*Registry, error) {
	r := &Registry{apps: make(map[string]*ApplicationSpec)}
	for _, spec := range specs {
		if existing, ok := r.apps[spec.Name]; ok {
			return nil, fmt.Errorf("application '%s' defined twice (%s and %s)", spec.Name, existing.Path, spec.Path)
		}
		r.apps[spec.Name] = spec
	}
	return r, nil
}

// LoadDir loads every config file directly inside dir. All files are
// attempted; failures are reported together.
func LoadDir(dir string, opts ...Option) (*Registry, error) {
	files, err := fileutil.ConfigFilesIn(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no application configs found in %s", dir)
	}

	var specs []*ApplicationSpec
	problems := &ConfigError{Path: dir}
	for _, f := range files {
		spec, err := Load(f, opts...)
		if err != nil {
			problems.add("%v", err)
			continue
		}
		specs = append(specs, spec)
	}
	if err := problems.orNil(); err != nil {
		return nil, err
	}

	return NewRegistry(specs...)
}

// Get retrieves an application by name
func (r *Registry) Get(name string) (*ApplicationSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, exists := r.apps[name]
	if !exists {
		return nil, fmt.Errorf("application '%s' not found", name)
	}

	return spec, nil
}

// List returns all application names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Count returns the number of applications
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.apps)
}
