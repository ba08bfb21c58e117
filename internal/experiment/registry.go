package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/solvmd/internal/compute"
	"github.com/san-kum/solvmd/internal/dynamo"
)

// Registry maps backend names to constructors for the pair force reduction.
type Registry struct {
	backends map[string]func(workers int) compute.Backend
}

func NewRegistry() *Registry {
	r := &Registry{
		backends: make(map[string]func(int) compute.Backend),
	}

	r.backends["auto"] = compute.AutoSelectBackend
	r.backends["serial"] = func(int) compute.Backend { return compute.NewSerialBackend() }
	r.backends["cpu"] = func(workers int) compute.Backend { return compute.NewCPUBackend(workers) }

	return r
}

// GetBackend returns the named backend; an empty name selects "auto".
func (r *Registry) GetBackend(name string, workers int) (compute.Backend, error) {
	if name == "" {
		name = "auto"
	}
	fn, ok := r.backends[name]
	if !ok {
		return nil, &dynamo.ConfigError{Field: "backend", Reason: fmt.Sprintf("unknown backend: %s", name)}
	}
	return fn(workers), nil
}

func (r *Registry) ListBackends() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
