package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemsculpt/studio/pkg/registry"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

func textGenDef() studiotypes.NodeDefinition {
	return studiotypes.NodeDefinition{
		Kind:    textGenerationKind,
		Version: 1,
		Inputs:  []studiotypes.Port{{ID: "prompt", Type: "text"}, {ID: "system_prompt", Type: "text"}},
		Outputs: []studiotypes.Port{{ID: "text", Type: "text"}},
	}
}

func imageGenDef() studiotypes.NodeDefinition {
	return studiotypes.NodeDefinition{
		Kind:    imageGenerationKind,
		Version: 1,
		Inputs:  []studiotypes.Port{{ID: "prompt", Type: "text"}, {ID: "images", Type: "image"}},
		Outputs: []studiotypes.Port{{ID: "media", Type: "image"}},
	}
}

func mediaIngestDef() studiotypes.NodeDefinition {
	return studiotypes.NodeDefinition{
		Kind:    mediaIngestKind,
		Version: 1,
		Inputs:  []studiotypes.Port{{ID: "media", Type: "image", Required: true}},
		Outputs: []studiotypes.Port{{ID: "path", Type: "text"}},
	}
}

func textSourceDef() studiotypes.NodeDefinition {
	return studiotypes.NodeDefinition{
		Kind:    "studio.value",
		Version: 1,
		Outputs: []studiotypes.Port{{ID: "value", Type: "text"}},
	}
}

func imageSourceDef() studiotypes.NodeDefinition {
	return studiotypes.NodeDefinition{
		Kind:    "studio.image_value",
		Version: 1,
		Outputs: []studiotypes.Port{{ID: "value", Type: "image"}},
	}
}

func newReg() *registry.Registry {
	r := registry.New()
	r.Register(textGenDef())
	r.Register(imageGenDef())
	r.Register(mediaIngestDef())
	r.Register(textSourceDef())
	r.Register(imageSourceDef())
	return r
}

func TestApplyPathOnlyPortsRenamesLegacyPorts(t *testing.T) {
	p := &studiotypes.Project{
		Graph: studiotypes.Graph{
			Nodes: []studiotypes.NodeInstance{
				{ID: "ingest", Kind: mediaIngestKind, Version: 1, Config: map[string]interface{}{"filePath": "/tmp/a.png"}},
				{ID: "src", Kind: "studio.value", Version: 1},
			},
			Edges: []studiotypes.Edge{
				{ID: "e1", FromNodeID: "src", FromPortID: "value", ToNodeID: "ingest", ToPortID: "image"},
			},
		},
	}

	changed := ApplyAll(p, newReg())
	require.True(t, changed)

	ingest := p.Graph.Nodes[0]
	assert.Equal(t, "/tmp/a.png", ingest.Config["sourcePath"])
	_, hasFilePath := ingest.Config["filePath"]
	assert.False(t, hasFilePath)

	assert.Equal(t, "media", p.Graph.Edges[0].ToPortID)
	assert.True(t, Applied(p, "path-only-ports-v1"))
}

func TestApplyPathOnlyPortsIdempotent(t *testing.T) {
	p := &studiotypes.Project{
		Graph: studiotypes.Graph{
			Nodes: []studiotypes.NodeInstance{{ID: "ingest", Kind: mediaIngestKind, Version: 1, Config: map[string]interface{}{}}},
		},
	}
	reg := newReg()
	require.False(t, ApplyAll(p, reg))
	changedAgain := ApplyAll(p, reg)
	assert.False(t, changedAgain)
	assert.Len(t, p.Migrations.Applied, 2) // both migrations recorded once each
}

func TestInlinePromptTemplateRewiresAndDrops(t *testing.T) {
	p := &studiotypes.Project{
		Graph: studiotypes.Graph{
			Nodes: []studiotypes.NodeInstance{
				{ID: "txtsrc", Kind: "studio.value", Version: 1},
				{ID: "imgsrc", Kind: "studio.image_value", Version: 1},
				{ID: "tpl", Kind: promptTemplateKind, Version: 1, Config: map[string]interface{}{"template": "Be concise."}},
				{ID: "gen", Kind: textGenerationKind, Version: 1, Config: map[string]interface{}{}},
				{ID: "imggen", Kind: imageGenerationKind, Version: 1, Config: map[string]interface{}{}},
			},
			Edges: []studiotypes.Edge{
				{ID: "e1", FromNodeID: "txtsrc", FromPortID: "value", ToNodeID: "tpl", ToPortID: "in"},
				{ID: "e2", FromNodeID: "imgsrc", FromPortID: "value", ToNodeID: "tpl", ToPortID: "in2"},
				{ID: "e3", FromNodeID: "tpl", FromPortID: "out", ToNodeID: "gen", ToPortID: "systemPrompt"},
				{ID: "e4", FromNodeID: "tpl", FromPortID: "out", ToNodeID: "imggen", ToPortID: "systemPrompt"},
			},
		},
	}

	changed := ApplyAll(p, newReg())
	require.True(t, changed)

	for _, n := range p.Graph.Nodes {
		assert.NotEqual(t, promptTemplateKind, n.Kind)
		if n.ID == "gen" || n.ID == "imggen" {
			assert.Equal(t, "Be concise.", n.Config["systemPrompt"])
		}
	}

	var toGenFromText, toImgGenFromImage, toGenFromImage bool
	for _, e := range p.Graph.Edges {
		if e.FromNodeID == "txtsrc" && e.ToNodeID == "gen" && e.ToPortID == "prompt" {
			toGenFromText = true
		}
		if e.FromNodeID == "imgsrc" && e.ToNodeID == "imggen" && e.ToPortID == "images" {
			toImgGenFromImage = true
		}
		if e.FromNodeID == "imgsrc" && e.ToNodeID == "gen" {
			toGenFromImage = true // should never happen: image input dropped for text generation
		}
	}
	assert.True(t, toGenFromText)
	assert.True(t, toImgGenFromImage)
	assert.False(t, toGenFromImage)
}
