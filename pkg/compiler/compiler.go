// Package compiler implements the Graph Compiler of spec.md §4.6:
// config validation, port typing, required-input checks, and Kahn's
// algorithm topological ordering with cycle detection. Grounded on
// pkg/scheduler/scheduler.go's validate-then-act sequencing in the
// teacher repo.
package compiler

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/systemsculpt/studio/pkg/registry"
	"github.com/systemsculpt/studio/pkg/studioerr"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// CompiledNode is one node after definition lookup and port resolution.
type CompiledNode struct {
	Instance   studiotypes.NodeInstance
	Definition studiotypes.NodeDefinition
	Inputs     []studiotypes.Port
	Outputs    []studiotypes.Port
	InEdges    []studiotypes.Edge
	OutEdges   []studiotypes.Edge
	DependsOn  map[string]struct{}
}

// CompiledGraph is the Compiler's output: a validated graph plus a
// topological execution order.
type CompiledGraph struct {
	Nodes map[string]*CompiledNode
	Order []string
}

// Compile validates project against reg and produces a CompiledGraph, or
// the first fatal error encountered, in the order spec.md §4.6 lists.
func Compile(project *studiotypes.Project, reg *registry.Registry) (*CompiledGraph, error) {
	nodesByID := make(map[string]*studiotypes.NodeInstance, len(project.Graph.Nodes))
	for i := range project.Graph.Nodes {
		n := &project.Graph.Nodes[i]
		if _, dup := nodesByID[n.ID]; dup {
			return nil, &studioerr.InvalidProjectDocument{Reason: fmt.Sprintf("duplicate node id %s", n.ID)}
		}
		nodesByID[n.ID] = n
	}

	compiled := make(map[string]*CompiledNode, len(nodesByID))
	for id, n := range nodesByID {
		def, ok := reg.Lookup(n.Kind, n.Version)
		if !ok {
			return nil, &studioerr.UnknownNodeKind{NodeID: id, Kind: n.Kind, Version: n.Version}
		}

		if err := validateConfig(id, n.Config, def.ConfigSchema); err != nil {
			return nil, err
		}

		inputs, outputs := registry.ResolvePorts(def, n.Config)

		compiled[id] = &CompiledNode{
			Instance:   *n,
			Definition: def,
			Inputs:     inputs,
			Outputs:    outputs,
			DependsOn:  make(map[string]struct{}),
		}
	}

	seenEdges := make(map[string]struct{}, len(project.Graph.Edges))
	seenTuples := make(map[string]struct{}, len(project.Graph.Edges))
	for _, e := range project.Graph.Edges {
		if _, dup := seenEdges[e.ID]; dup {
			return nil, &studioerr.InvalidEdge{EdgeID: e.ID, Reason: "duplicate edge id"}
		}
		seenEdges[e.ID] = struct{}{}

		tuple := e.FromNodeID + "|" + e.FromPortID + "|" + e.ToNodeID + "|" + e.ToPortID
		if _, dup := seenTuples[tuple]; dup {
			return nil, &studioerr.InvalidEdge{EdgeID: e.ID, Reason: "duplicate edge endpoints"}
		}
		seenTuples[tuple] = struct{}{}

		from, ok := compiled[e.FromNodeID]
		if !ok {
			return nil, &studioerr.InvalidEdge{EdgeID: e.ID, Reason: fmt.Sprintf("source node %s does not exist", e.FromNodeID)}
		}
		to, ok := compiled[e.ToNodeID]
		if !ok {
			return nil, &studioerr.InvalidEdge{EdgeID: e.ID, Reason: fmt.Sprintf("target node %s does not exist", e.ToNodeID)}
		}

		fromPort, ok := lo.Find(from.Outputs, func(p studiotypes.Port) bool { return p.ID == e.FromPortID })
		if !ok {
			return nil, &studioerr.InvalidEdge{EdgeID: e.ID, Reason: fmt.Sprintf("source port %s does not exist on %s", e.FromPortID, e.FromNodeID)}
		}
		toPort, ok := lo.Find(to.Inputs, func(p studiotypes.Port) bool { return p.ID == e.ToPortID })
		if !ok {
			return nil, &studioerr.InvalidEdge{EdgeID: e.ID, Reason: fmt.Sprintf("target port %s does not exist on %s", e.ToPortID, e.ToNodeID)}
		}

		if fromPort.Type != "any" && toPort.Type != "any" && fromPort.Type != toPort.Type {
			return nil, &studioerr.PortTypeMismatch{EdgeID: e.ID, From: fromPort.Type, To: toPort.Type}
		}

		from.OutEdges = append(from.OutEdges, e)
		to.InEdges = append(to.InEdges, e)
		to.DependsOn[e.FromNodeID] = struct{}{}
	}

	for id, cn := range compiled {
		if cn.Instance.Disabled {
			continue
		}
		for _, port := range cn.Inputs {
			if !port.Required {
				continue
			}
			hasEdge := lo.SomeBy(cn.InEdges, func(e studiotypes.Edge) bool { return e.ToPortID == port.ID })
			if !hasEdge {
				return nil, &studioerr.MissingRequiredInput{NodeID: id, PortID: port.ID}
			}
		}
	}

	order, err := topoSort(compiled)
	if err != nil {
		return nil, err
	}

	return &CompiledGraph{Nodes: compiled, Order: order}, nil
}

// topoSort runs Kahn's algorithm: repeatedly drain nodes with zero
// remaining in-degree in a deterministic (ID-sorted) order for ties, so
// scheduling order is reproducible.
func topoSort(nodes map[string]*CompiledNode) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	for id, n := range nodes {
		inDegree[id] = len(n.DependsOn)
	}

	ids := lo.Keys(nodes)
	sort.Strings(ids)

	var order []string
	remaining := len(nodes)
	for remaining > 0 {
		progressed := false
		for _, id := range ids {
			if inDegree[id] != 0 {
				continue
			}
			order = append(order, id)
			inDegree[id] = -1 // mark drained
			remaining--
			progressed = true
			for _, other := range ids {
				if _, deps := nodes[other].DependsOn[id]; deps && inDegree[other] > 0 {
					inDegree[other]--
				}
			}
		}
		if !progressed {
			var residual []string
			for _, id := range ids {
				if inDegree[id] >= 0 {
					residual = append(residual, id)
				}
			}
			return nil, &studioerr.GraphCycleDetected{RemainingNodeIDs: residual}
		}
	}
	return order, nil
}

func validateConfig(nodeID string, config map[string]interface{}, schema []studiotypes.ConfigField) error {
	for _, field := range schema {
		if field.VisibleWhen != "" {
			if actual, ok := config[field.VisibleWhen]; !ok || actual != field.VisibleValue {
				continue
			}
		}
		value, present := config[field.Key]
		if !present {
			if field.Required {
				return &studioerr.InvalidNodeConfig{NodeID: nodeID, Field: field.Key, Reason: "required field missing"}
			}
			continue
		}
		if err := validateFieldType(value, field); err != nil {
			return &studioerr.InvalidNodeConfig{NodeID: nodeID, Field: field.Key, Reason: err.Error()}
		}
	}
	return nil
}

func validateFieldType(value interface{}, field studiotypes.ConfigField) error {
	switch field.Type {
	case studiotypes.ConfigAny, studiotypes.ConfigObject:
		return nil
	case studiotypes.ConfigString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case studiotypes.ConfigBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
	case studiotypes.ConfigNumber:
		n, ok := value.(float64)
		if !ok {
			return fmt.Errorf("expected number, got %T", value)
		}
		if field.Min != nil && n < *field.Min {
			return fmt.Errorf("value %v below minimum %v", n, *field.Min)
		}
		if field.Max != nil && n > *field.Max {
			return fmt.Errorf("value %v above maximum %v", n, *field.Max)
		}
	case studiotypes.ConfigEnum:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected enum string, got %T", value)
		}
		if !lo.Contains(field.Enum, s) {
			return fmt.Errorf("value %q not in enum %v", s, field.Enum)
		}
	}
	return nil
}
