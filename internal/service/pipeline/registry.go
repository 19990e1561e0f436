package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"etl-orchestrator/internal/domain"
)

// Registry maps unit names to executable units.
type Registry struct {
	mu    sync.RWMutex
	units map[string]domain.Unit
}

// NewRegistry creates an empty unit registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]domain.Unit)}
}

// Register adds a unit under name. Names are unique.
func (r *Registry) Register(name string, u domain.Unit) error {
	if strings.TrimSpace(name) == "" {
		return domain.ErrValidation("unit name is required")
	}
	if u == nil {
		return domain.ErrValidation("unit %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.units[name]; exists {
		return domain.ErrConflict("unit %q already registered", name)
	}
	r.units[name] = u
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(name string, u domain.Unit) {
	if err := r.Register(name, u); err != nil {
		panic(err)
	}
}

// Lookup returns the unit registered under name.
func (r *Registry) Lookup(name string) (domain.Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[name]
	return u, ok
}

// Names returns all registered unit names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.units))
	for name := range r.units {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy, used to layer run-scoped units over the
// statically registered ones.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Registry{units: make(map[string]domain.Unit, len(r.units))}
	for k, v := range r.units {
		c.units[k] = v
	}
	return c
}

// Validate fails with a ConfigurationError listing every unit referenced by
// an enabled pipeline that is not registered. An empty unit name is a no-op
// step.
func (r *Registry) Validate(pipelines []domain.PipelineDefinition) error {
	var missing []string
	for _, p := range pipelines {
		if !p.Enabled {
			continue
		}
		for _, ref := range []struct{ field, name string }{
			{"transform_unit", p.TransformUnit},
			{"load_unit", p.LoadUnit},
		} {
			if ref.name == "" {
				continue
			}
			if _, ok := r.Lookup(ref.name); !ok {
				missing = append(missing, fmt.Sprintf("%s.%s=%s", p.Name, ref.field, ref.name))
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return domain.ErrConfiguration("unknown units: %s", strings.Join(missing, ", "))
	}
	return nil
}
