package runtime

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemsculpt/studio/pkg/registry"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

type stubAdapter struct {
	creditsOK bool
}

func (s stubAdapter) EstimateRunCredits(ctx context.Context, project *studiotypes.Project) (bool, string, error) {
	return s.creditsOK, "", nil
}
func (stubAdapter) GenerateText(ctx context.Context, req studiotypes.TextGenerationRequest) (studiotypes.TextGenerationResult, error) {
	return studiotypes.TextGenerationResult{}, nil
}
func (stubAdapter) GenerateImage(ctx context.Context, req studiotypes.ImageGenerationRequest) (studiotypes.ImageGenerationResult, error) {
	return studiotypes.ImageGenerationResult{}, nil
}
func (stubAdapter) Transcribe(ctx context.Context, req studiotypes.TranscriptionRequest) (studiotypes.TranscriptionResult, error) {
	return studiotypes.TranscriptionResult{}, nil
}

func node(id, kind string) studiotypes.NodeInstance {
	return studiotypes.NodeInstance{ID: id, Kind: kind, Version: 1}
}

func edge(id, from, to string) studiotypes.Edge {
	return studiotypes.Edge{ID: id, FromNodeID: from, FromPortID: "out", ToNodeID: to, ToPortID: "in"}
}

func baseHost() HostServices {
	return HostServices{Adapter: stubAdapter{creditsOK: true}}
}

func TestEngine_Run_LinearChainPropagatesOutputs(t *testing.T) {
	reg := registry.New()
	reg.Register(studiotypes.NodeDefinition{
		Kind: "studio.source", Version: 1,
		Outputs: []studiotypes.Port{{ID: "out", Type: "any"}},
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			return map[string]interface{}{"out": "hello"}, nil
		},
	})
	reg.Register(studiotypes.NodeDefinition{
		Kind: "studio.echo", Version: 1,
		Inputs:  []studiotypes.Port{{ID: "in", Type: "any", Required: true}},
		Outputs: []studiotypes.Port{{ID: "out", Type: "any"}},
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			return map[string]interface{}{"out": ctx.Inputs["in"]}, nil
		},
	})

	project := &studiotypes.Project{
		Path: "/tmp/proj-linear",
		Graph: studiotypes.Graph{
			Nodes: []studiotypes.NodeInstance{node("a", "studio.source"), node("b", "studio.echo")},
			Edges: []studiotypes.Edge{edge("e1", "a", "b")},
		},
	}

	eng := NewEngine(reg, DefaultLimits(), zerolog.Nop())
	summary, err := eng.Run(context.Background(), project, studiotypes.PermissionPolicy{}, t.TempDir(), baseHost(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, studiotypes.RunSuccess, summary.Status)
	assert.ElementsMatch(t, []string{"a", "b"}, summary.Executed)
}

func TestEngine_Run_CacheHitOnSecondRun(t *testing.T) {
	var execCount int32
	reg := registry.New()
	reg.Register(studiotypes.NodeDefinition{
		Kind: "studio.counted", Version: 1, CachePolicy: studiotypes.CachePolicyByInputs,
		Outputs: []studiotypes.Port{{ID: "out", Type: "any"}},
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			atomic.AddInt32(&execCount, 1)
			return map[string]interface{}{"out": "v"}, nil
		},
	})

	project := &studiotypes.Project{
		Path:  "/tmp/proj-cache",
		Graph: studiotypes.Graph{Nodes: []studiotypes.NodeInstance{node("a", "studio.counted")}},
	}

	assetsDir := t.TempDir()
	eng := NewEngine(reg, DefaultLimits(), zerolog.Nop())

	s1, err := eng.Run(context.Background(), project, studiotypes.PermissionPolicy{}, assetsDir, baseHost(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, s1.Executed)

	s2, err := eng.Run(context.Background(), project, studiotypes.PermissionPolicy{}, assetsDir, baseHost(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, s2.Cached)
	assert.Empty(t, s2.Executed)
	assert.EqualValues(t, 1, atomic.LoadInt32(&execCount))
}

func TestEngine_Run_DisabledNodeSkippedProducesEmptyInputDownstream(t *testing.T) {
	reg := registry.New()
	reg.Register(studiotypes.NodeDefinition{
		Kind: "studio.source", Version: 1, Outputs: []studiotypes.Port{{ID: "out", Type: "any"}},
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			return map[string]interface{}{"out": "x"}, nil
		},
	})
	var seenInputs map[string]interface{}
	reg.Register(studiotypes.NodeDefinition{
		Kind: "studio.sink", Version: 1,
		Inputs: []studiotypes.Port{{ID: "in", Type: "any"}},
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			seenInputs = ctx.Inputs
			return map[string]interface{}{}, nil
		},
	})

	project := &studiotypes.Project{
		Path: "/tmp/proj-disabled",
		Graph: studiotypes.Graph{
			Nodes: []studiotypes.NodeInstance{
				{ID: "a", Kind: "studio.source", Version: 1, Disabled: true},
				node("b", "studio.sink"),
			},
			Edges: []studiotypes.Edge{edge("e1", "a", "b")},
		},
	}

	eng := NewEngine(reg, DefaultLimits(), zerolog.Nop())
	summary, err := eng.Run(context.Background(), project, studiotypes.PermissionPolicy{}, t.TempDir(), baseHost(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, studiotypes.RunSuccess, summary.Status)
	assert.Nil(t, seenInputs["in"])
}

func TestEngine_Run_ContinueOnErrorTreatedAsEmptySuccess(t *testing.T) {
	reg := registry.New()
	reg.Register(studiotypes.NodeDefinition{
		Kind: "studio.failing", Version: 1,
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			return nil, assertError{}
		},
	})

	project := &studiotypes.Project{
		Path: "/tmp/proj-continue",
		Graph: studiotypes.Graph{Nodes: []studiotypes.NodeInstance{
			{ID: "a", Kind: "studio.failing", Version: 1, ContinueOnError: true},
		}},
	}

	eng := NewEngine(reg, DefaultLimits(), zerolog.Nop())
	summary, err := eng.Run(context.Background(), project, studiotypes.PermissionPolicy{}, t.TempDir(), baseHost(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, studiotypes.RunSuccess, summary.Status)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestEngine_Run_FatalErrorAbortsRun(t *testing.T) {
	reg := registry.New()
	reg.Register(studiotypes.NodeDefinition{
		Kind: "studio.failing", Version: 1,
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			return nil, assertError{}
		},
	})

	project := &studiotypes.Project{
		Path:  "/tmp/proj-fatal",
		Graph: studiotypes.Graph{Nodes: []studiotypes.NodeInstance{node("a", "studio.failing")}},
	}

	eng := NewEngine(reg, DefaultLimits(), zerolog.Nop())
	summary, err := eng.Run(context.Background(), project, studiotypes.PermissionPolicy{}, t.TempDir(), baseHost(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, studiotypes.RunFailed, summary.Status)
	assert.Contains(t, summary.Error, "boom")
}

func TestEngine_Run_CreditPreflightFailureAbortsBeforeCompiling(t *testing.T) {
	reg := registry.New()
	project := &studiotypes.Project{Path: "/tmp/proj-credits"}

	eng := NewEngine(reg, DefaultLimits(), zerolog.Nop())
	_, err := eng.Run(context.Background(), project, studiotypes.PermissionPolicy{}, t.TempDir(), HostServices{Adapter: stubAdapter{creditsOK: false}}, RunOptions{})
	assert.Error(t, err)
}

func TestEngine_Run_CapacityCeilingLimitsConcurrency(t *testing.T) {
	reg := registry.New()
	var mu sync.Mutex
	var concurrent, maxConcurrent int
	reg.Register(studiotypes.NodeDefinition{
		Kind: "studio.slow", Version: 1, Capability: studiotypes.CapabilityAPI,
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			mu.Lock()
			concurrent++
			if concurrent > maxConcurrent {
				maxConcurrent = concurrent
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			concurrent--
			mu.Unlock()
			return map[string]interface{}{}, nil
		},
	})

	nodes := make([]studiotypes.NodeInstance, 0, 5)
	for i := 0; i < 5; i++ {
		nodes = append(nodes, node(string(rune('a'+i)), "studio.slow"))
	}
	project := &studiotypes.Project{Path: "/tmp/proj-ceiling", Graph: studiotypes.Graph{Nodes: nodes}}

	eng := NewEngine(reg, Limits{API: 2, LocalIO: 2, LocalCPU: 1}, zerolog.Nop())
	summary, err := eng.Run(context.Background(), project, studiotypes.PermissionPolicy{}, t.TempDir(), baseHost(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, studiotypes.RunSuccess, summary.Status)
	assert.LessOrEqual(t, maxConcurrent, 2)
}

func TestEngine_Run_ProjectRunsAreSerialized(t *testing.T) {
	reg := registry.New()
	var mu sync.Mutex
	var active int
	var overlapped bool
	reg.Register(studiotypes.NodeDefinition{
		Kind: "studio.slow", Version: 1,
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			mu.Lock()
			active++
			if active > 1 {
				overlapped = true
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return map[string]interface{}{}, nil
		},
	})

	project := &studiotypes.Project{Path: "/tmp/proj-fifo", Graph: studiotypes.Graph{Nodes: []studiotypes.NodeInstance{node("a", "studio.slow")}}}
	eng := NewEngine(reg, DefaultLimits(), zerolog.Nop())
	dir := filepath.Join(t.TempDir(), "assets")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = eng.Run(context.Background(), project, studiotypes.PermissionPolicy{}, dir, baseHost(), RunOptions{})
		}()
	}
	wg.Wait()
	assert.False(t, overlapped)
}
