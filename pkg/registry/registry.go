// Package registry implements the Node Registry & Port Resolver of
// spec.md §2: registration of NodeDefinitions keyed by (kind, version),
// and dynamic port resolution for variadic nodes. Grounded on
// pkg/storage.Store's map-keyed registration shape in the teacher repo.
package registry

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/systemsculpt/studio/pkg/studiotypes"
)

type key struct {
	kind    string
	version int
}

// Registry holds registered NodeDefinitions.
type Registry struct {
	defs map[key]studiotypes.NodeDefinition
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{defs: make(map[key]studiotypes.NodeDefinition)}
}

// Register adds or replaces the definition for (def.Kind, def.Version).
func (r *Registry) Register(def studiotypes.NodeDefinition) {
	r.defs[key{def.Kind, def.Version}] = def
}

// Lookup returns the definition for (kind, version), or false if none is
// registered.
func (r *Registry) Lookup(kind string, version int) (studiotypes.NodeDefinition, bool) {
	d, ok := r.defs[key{kind, version}]
	return d, ok
}

// Kinds returns all registered (kind, version) pairs, sorted for
// deterministic iteration in tests and diagnostics.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.defs))
	for k := range r.defs {
		out = append(out, fmt.Sprintf("%s@v%d", k.kind, k.version))
	}
	sort.Strings(out)
	return out
}

// ResolvePorts computes the effective input/output ports for a node
// instance: the definition's static ports, or — for variadic node kinds —
// whatever its ResolvePorts function computes from the instance's config.
func ResolvePorts(def studiotypes.NodeDefinition, config map[string]interface{}) (inputs, outputs []studiotypes.Port) {
	if def.ResolvePorts != nil {
		return def.ResolvePorts(config)
	}
	return lo.Map(def.Inputs, func(p studiotypes.Port, _ int) studiotypes.Port { return p }),
		lo.Map(def.Outputs, func(p studiotypes.Port, _ int) studiotypes.Port { return p })
}
