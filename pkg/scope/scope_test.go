package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemsculpt/studio/pkg/registry"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

func node(id string) studiotypes.NodeInstance {
	return studiotypes.NodeInstance{ID: id, Kind: "studio.passthrough", Version: 1}
}

func edge(id, from, to string) studiotypes.Edge {
	return studiotypes.Edge{ID: id, FromNodeID: from, FromPortID: "out", ToNodeID: to, ToPortID: "in"}
}

func newReg() *registry.Registry {
	r := registry.New()
	r.Register(studiotypes.NodeDefinition{Kind: "studio.passthrough", Version: 1})
	r.Register(studiotypes.NodeDefinition{Kind: "studio.label", Version: 1, Visual: true})
	return r
}

// A -> B -> C -> D, with a side branch A -> X.
func sideBranchProject() *studiotypes.Project {
	return &studiotypes.Project{
		Graph: studiotypes.Graph{
			Nodes: []studiotypes.NodeInstance{node("a"), node("b"), node("c"), node("d"), node("x")},
			Edges: []studiotypes.Edge{
				edge("e1", "a", "b"),
				edge("e2", "b", "c"),
				edge("e3", "c", "d"),
				edge("e4", "a", "x"),
			},
		},
	}
}

func TestProject_EmptyEntriesReturnsUnchanged(t *testing.T) {
	p := sideBranchProject()
	out, err := Project(p, newReg(), nil)
	require.NoError(t, err)
	assert.Same(t, p, out)
}

func TestProject_ScopedFromMiddleNodeExcludesSideBranch(t *testing.T) {
	p := sideBranchProject()
	out, err := Project(p, newReg(), []string{"c"})
	require.NoError(t, err)

	ids := make([]string, len(out.Graph.Nodes))
	for i, n := range out.Graph.Nodes {
		ids[i] = n.ID
	}
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, ids)
}

func TestProject_UnknownEntryErrors(t *testing.T) {
	p := sideBranchProject()
	_, err := Project(p, newReg(), []string{"nonexistent"})
	assert.Error(t, err)
}

func TestProject_VisualOnlyNodeStrippedAndRejectedAsEntry(t *testing.T) {
	p := sideBranchProject()
	p.Graph.Nodes = append(p.Graph.Nodes, studiotypes.NodeInstance{ID: "label1", Kind: "studio.label", Version: 1})
	p.Graph.Edges = append(p.Graph.Edges, edge("e5", "a", "label1"))

	_, err := Project(p, newReg(), []string{"label1"})
	assert.Error(t, err)

	out, err := Project(p, newReg(), []string{"c"})
	require.NoError(t, err)
	for _, n := range out.Graph.Nodes {
		assert.NotEqual(t, "label1", n.ID)
	}
}

func TestProject_EntryNodeIDsRecomputed(t *testing.T) {
	p := sideBranchProject()
	out, err := Project(p, newReg(), []string{"c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out.Graph.EntryNodeIDs)
}

func TestProject_GroupsFilteredToRetainedNodes(t *testing.T) {
	p := sideBranchProject()
	p.Graph.Groups = []studiotypes.Group{
		{ID: "g1", Title: "kept", NodeIDs: []string{"a", "b"}},
		{ID: "g2", Title: "dropped", NodeIDs: []string{"x"}},
	}
	out, err := Project(p, newReg(), []string{"c"})
	require.NoError(t, err)
	require.Len(t, out.Graph.Groups, 1)
	assert.Equal(t, "g1", out.Graph.Groups[0].ID)
}
