package migrate

import (
	"strings"

	"github.com/systemsculpt/studio/pkg/project"
	"github.com/systemsculpt/studio/pkg/registry"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// mediaIngestPortRenames collapses several historical port-ID spellings
// into the current vocabulary for media-ingest nodes: asset/mime/media_kind
// all unify onto "path", and image/images unify onto "media".
var mediaIngestPortRenames = map[string]string{
	"asset":      "path",
	"mime":       "path",
	"media_kind": "path",
	"image":      "media",
	"images":     "media",
}

// textGenerationPortRenames renames the legacy prompt input port on text
// generation nodes. system_prompt already matches the current vocabulary.
var textGenerationPortRenames = map[string]string{
	"prompt_text": "prompt",
}

// sourcePathAliases are legacy media-ingest config keys unified onto a
// single "sourcePath" key.
var sourcePathAliases = []string{"path", "filePath", "sourceFile", "assetPath"}

const mediaIngestKind = "studio.media_ingest"
const textGenerationKind = "studio.text_generation"

// applyPathOnlyPorts implements spec.md §4.13's "Path-only ports v1"
// migration: renames legacy port IDs on specific node kinds to a unified
// vocabulary, normalizes media-ingest config to a single sourcePath key,
// and dedupes edges by four-tuple.
func applyPathOnlyPorts(p *studiotypes.Project, reg *registry.Registry) bool {
	changed := false

	kindByNode := make(map[string]string, len(p.Graph.Nodes))
	for i := range p.Graph.Nodes {
		n := &p.Graph.Nodes[i]
		kindByNode[n.ID] = n.Kind

		if n.Kind == mediaIngestKind && normalizeSourcePath(n) {
			changed = true
		}
	}

	edges := make([]studiotypes.Edge, len(p.Graph.Edges))
	copy(edges, p.Graph.Edges)
	for i := range edges {
		e := &edges[i]
		if renamed, ok := renamePort(kindByNode[e.FromNodeID], e.FromPortID); ok {
			e.FromPortID = renamed
			changed = true
		}
		if renamed, ok := renamePort(kindByNode[e.ToNodeID], e.ToPortID); ok {
			e.ToPortID = renamed
			changed = true
		}
	}

	deduped := dedupeEdges(edges)
	if len(deduped) != len(edges) {
		changed = true
	}
	p.Graph.Edges = deduped

	if changed {
		project.RecomputeEntries(p)
	}
	return changed
}

// renamePort returns the unified port ID for (kind, portID) if a rename
// table applies, else (portID, false).
func renamePort(kind, portID string) (string, bool) {
	switch kind {
	case mediaIngestKind:
		if renamed, ok := mediaIngestPortRenames[portID]; ok {
			return renamed, renamed != portID
		}
	case textGenerationKind:
		if renamed, ok := textGenerationPortRenames[portID]; ok {
			return renamed, renamed != portID
		}
	}
	return portID, false
}

// normalizeSourcePath collapses any of sourcePathAliases present in n's
// config into a single "sourcePath" key, preferring an existing
// "sourcePath" value over the aliases and removing the alias keys.
func normalizeSourcePath(n *studiotypes.NodeInstance) bool {
	if n.Config == nil {
		return false
	}
	if _, already := n.Config["sourcePath"]; already {
		removed := false
		for _, alias := range sourcePathAliases {
			if alias == "sourcePath" {
				continue
			}
			if _, ok := n.Config[alias]; ok {
				delete(n.Config, alias)
				removed = true
			}
		}
		return removed
	}

	for _, alias := range sourcePathAliases {
		value, ok := n.Config[alias]
		if !ok {
			continue
		}
		if s, isStr := value.(string); !isStr || strings.TrimSpace(s) == "" {
			delete(n.Config, alias)
			continue
		}
		n.Config["sourcePath"] = value
		delete(n.Config, alias)
		for _, other := range sourcePathAliases {
			if other != alias {
				delete(n.Config, other)
			}
		}
		return true
	}
	return false
}
