package migrate

import (
	"strings"

	"github.com/systemsculpt/studio/pkg/project"
	"github.com/systemsculpt/studio/pkg/registry"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

const (
	promptTemplateKind  = "studio.prompt_template"
	imageGenerationKind = "studio.image_generation"
)

// applyInlinePromptTemplate implements spec.md §4.13's "Inline prompt
// template v1" migration: removes studio.prompt_template nodes, folding
// their template string into each downstream generation node's
// systemPrompt, and rewiring the template node's inbound edges directly
// to those downstream nodes with port remapping.
func applyInlinePromptTemplate(p *studiotypes.Project, reg *registry.Registry) bool {
	removed := make(map[string]studiotypes.NodeInstance)
	var keptNodes []studiotypes.NodeInstance
	for _, n := range p.Graph.Nodes {
		if n.Kind == promptTemplateKind {
			removed[n.ID] = n
			continue
		}
		keptNodes = append(keptNodes, n)
	}
	if len(removed) == 0 {
		return false
	}

	nodeIndex := make(map[string]*studiotypes.NodeInstance, len(keptNodes))
	for i := range keptNodes {
		nodeIndex[keptNodes[i].ID] = &keptNodes[i]
	}

	downstreamByTemplate := make(map[string][]string)
	var keptEdges []studiotypes.Edge
	for _, e := range p.Graph.Edges {
		tpl, isOutbound := removed[e.FromNodeID]
		if isOutbound {
			if dn, ok := nodeIndex[e.ToNodeID]; ok {
				template, _ := tpl.Config["template"].(string)
				appendSystemPrompt(dn, template)
				downstreamByTemplate[e.FromNodeID] = append(downstreamByTemplate[e.FromNodeID], e.ToNodeID)
			}
			continue
		}
		if _, isInbound := removed[e.ToNodeID]; isInbound {
			continue // rewired below, not simply dropped
		}
		keptEdges = append(keptEdges, e)
	}

	var rewired []studiotypes.Edge
	for _, e := range p.Graph.Edges {
		if _, isInbound := removed[e.ToNodeID]; !isInbound {
			continue
		}
		portType := sourcePortType(p, reg, e.FromNodeID, e.FromPortID)
		for _, downstreamID := range downstreamByTemplate[e.ToNodeID] {
			dn := nodeIndex[downstreamID]
			if dn == nil {
				continue
			}
			switch dn.Kind {
			case imageGenerationKind:
				target := "prompt"
				if portType == "image" {
					target = "images"
				}
				rewired = append(rewired, studiotypes.Edge{ID: newEdgeID(), FromNodeID: e.FromNodeID, FromPortID: e.FromPortID, ToNodeID: downstreamID, ToPortID: target})
			case textGenerationKind:
				if portType == "image" {
					continue // image-typed inputs are dropped for text generation
				}
				rewired = append(rewired, studiotypes.Edge{ID: newEdgeID(), FromNodeID: e.FromNodeID, FromPortID: e.FromPortID, ToNodeID: downstreamID, ToPortID: "prompt"})
			}
		}
	}

	p.Graph.Nodes = keptNodes
	p.Graph.Edges = dedupeEdges(append(keptEdges, rewired...))
	project.RecomputeEntries(p)
	return true
}

// appendSystemPrompt folds template into dn's systemPrompt config, joining
// onto any existing value with a newline rather than overwriting it.
func appendSystemPrompt(dn *studiotypes.NodeInstance, template string) {
	if template == "" {
		return
	}
	if dn.Config == nil {
		dn.Config = make(map[string]interface{})
	}
	existing, _ := dn.Config["systemPrompt"].(string)
	if strings.TrimSpace(existing) == "" {
		dn.Config["systemPrompt"] = template
		return
	}
	dn.Config["systemPrompt"] = existing + "\n" + template
}

// sourcePortType looks up the output port type a producing node exposes
// at portID, via the registry's (possibly config-dependent) port
// resolution. Returns "" if the node or port cannot be resolved.
func sourcePortType(p *studiotypes.Project, reg *registry.Registry, nodeID, portID string) string {
	for _, n := range p.Graph.Nodes {
		if n.ID != nodeID {
			continue
		}
		def, ok := reg.Lookup(n.Kind, n.Version)
		if !ok {
			return ""
		}
		_, outputs := registry.ResolvePorts(def, n.Config)
		for _, port := range outputs {
			if port.ID == portID {
				return port.Type
			}
		}
	}
	return ""
}
