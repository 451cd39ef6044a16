// Package scope implements Run Scope Projection from spec.md §4.7: given a
// full project and an optional set of scoped entry node IDs, it produces
// the minimal subgraph a "run from here" request must execute — the
// downstream closure of the entries plus their required upstream
// dependencies — with visual-only nodes stripped first. Grounded on
// pkg/scheduler's graph-walking helpers in the teacher repo.
package scope

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/systemsculpt/studio/pkg/registry"
	"github.com/systemsculpt/studio/pkg/studioerr"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// Project computes the run-scope projection of project for entryNodeIDs.
// An empty entryNodeIDs returns the project unchanged, per spec.md §4.7 —
// visual-only nodes remain in the document and are excluded later by the
// runtime rather than by this function.
func Project(project *studiotypes.Project, reg *registry.Registry, entryNodeIDs []string) (*studiotypes.Project, error) {
	if len(entryNodeIDs) == 0 {
		return project, nil
	}

	visual := make(map[string]bool, len(project.Graph.Nodes))
	for _, n := range project.Graph.Nodes {
		if def, ok := reg.Lookup(n.Kind, n.Version); ok {
			visual[n.ID] = def.Visual
		}
	}

	retained := make(map[string]studiotypes.NodeInstance)
	for _, n := range project.Graph.Nodes {
		if !visual[n.ID] {
			retained[n.ID] = n
		}
	}

	var edges []studiotypes.Edge
	for _, e := range project.Graph.Edges {
		_, fromOK := retained[e.FromNodeID]
		_, toOK := retained[e.ToNodeID]
		if fromOK && toOK {
			edges = append(edges, e)
		}
	}

	for _, id := range entryNodeIDs {
		if _, ok := retained[id]; !ok {
			return nil, &studioerr.InvalidProjectDocument{Reason: fmt.Sprintf("scoped entry %s does not exist or is visual-only", id)}
		}
	}

	outgoing := make(map[string][]string)
	incoming := make(map[string][]string)
	for _, e := range edges {
		outgoing[e.FromNodeID] = append(outgoing[e.FromNodeID], e.ToNodeID)
		incoming[e.ToNodeID] = append(incoming[e.ToNodeID], e.FromNodeID)
	}

	downstream := closure(entryNodeIDs, outgoing)
	upstream := closure(lo.Keys(downstream), incoming)

	kept := make(map[string]struct{}, len(downstream)+len(upstream))
	for id := range downstream {
		kept[id] = struct{}{}
	}
	for id := range upstream {
		kept[id] = struct{}{}
	}

	var keptNodes []studiotypes.NodeInstance
	for _, n := range project.Graph.Nodes {
		if _, ok := kept[n.ID]; ok {
			keptNodes = append(keptNodes, n)
		}
	}

	var keptEdges []studiotypes.Edge
	inDegree := make(map[string]int, len(kept))
	for _, e := range edges {
		_, fromKept := kept[e.FromNodeID]
		_, toKept := kept[e.ToNodeID]
		if fromKept && toKept {
			keptEdges = append(keptEdges, e)
			inDegree[e.ToNodeID]++
		}
	}

	var entries []string
	for id := range kept {
		if inDegree[id] == 0 {
			entries = append(entries, id)
		}
	}
	sort.Strings(entries)

	var groups []studiotypes.Group
	for _, g := range project.Graph.Groups {
		nodeIDs := lo.Filter(g.NodeIDs, func(id string, _ int) bool {
			_, ok := kept[id]
			return ok
		})
		if len(nodeIDs) > 0 {
			groups = append(groups, studiotypes.Group{ID: g.ID, Title: g.Title, NodeIDs: nodeIDs})
		}
	}

	out := *project
	out.Graph = studiotypes.Graph{
		Nodes:        keptNodes,
		Edges:        keptEdges,
		EntryNodeIDs: entries,
		Groups:       groups,
	}
	return &out, nil
}

// closure performs a BFS over edges starting from roots, returning the set
// of all nodes reached (including the roots themselves).
func closure(roots []string, edges map[string][]string) map[string]struct{} {
	seen := make(map[string]struct{}, len(roots))
	queue := append([]string(nil), roots...)
	for _, r := range roots {
		seen[r] = struct{}{}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range edges[id] {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return seen
}
