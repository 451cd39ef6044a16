// Package runtime implements the Scheduler & Runtime of spec.md §4.10: a
// dependency-driven execution loop over a compiled graph, with hard
// concurrency ceilings per capability class and one run at a time per
// project. Grounded on pkg/scheduler/scheduler.go's periodic
// reconcile loop in the teacher repo, turned from a ticking reconciler
// into a one-shot run-to-completion loop driven by node completions
// instead of a timer, and on pkg/metrics's counter/timer usage for run
// instrumentation.
package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/sasha-s/go-deadlock"

	"github.com/systemsculpt/studio/pkg/cache"
	"github.com/systemsculpt/studio/pkg/compiler"
	"github.com/systemsculpt/studio/pkg/journal"
	"github.com/systemsculpt/studio/pkg/log"
	"github.com/systemsculpt/studio/pkg/permissions"
	"github.com/systemsculpt/studio/pkg/registry"
	"github.com/systemsculpt/studio/pkg/sandbox"
	"github.com/systemsculpt/studio/pkg/scope"
	"github.com/systemsculpt/studio/pkg/studiohash"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// Limits are the hard per-capability-class concurrency ceilings of
// spec.md §4.10.
type Limits struct {
	API      int
	LocalIO  int
	LocalCPU int
}

// DefaultLimits matches spec.md §4.10 exactly: api=2, local_io=2, local_cpu=1.
func DefaultLimits() Limits {
	return Limits{API: 2, LocalIO: 2, LocalCPU: 1}
}

// HostServices are the run-scoped, host-environment-dependent pieces a
// node's ServiceBundle is assembled from. AssertFilesystemPath,
// AssertNetworkURL and RunCLI are not here; the Engine derives them
// itself from the run's PermissionManager and Sandbox.
type HostServices struct {
	Adapter studiotypes.Adapter
	Secrets studiotypes.SecretStore
	Assets  studiotypes.AssetReadWriter

	ResolvePath     func(relative string) (string, error)
	ReadVaultBinary func(path string) ([]byte, error)
	ReadLocalFile   func(path string) ([]byte, error)
	WriteTempFile   func(bytes []byte, ext string) (string, error)
	DeleteLocalFile func(path string) error

	// CleanRunTemp best-effort removes any run-scoped temp root. Optional.
	CleanRunTemp func(runID string) error

	// Desktop reports whether CLI/subprocess capabilities are supported
	// in this host environment.
	Desktop bool
}

// RunOptions narrows a run to a subtree and forces cache bypass for
// specific nodes.
type RunOptions struct {
	ScopedEntryNodeIDs []string
	ForceNodeIDs       map[string]struct{}
}

// Engine owns the process-wide capability semaphores and per-project run
// locks; one Engine instance serves every project in a host process.
type Engine struct {
	registry *registry.Registry
	logger   zerolog.Logger

	semAPI      chan struct{}
	semLocalIO  chan struct{}
	semLocalCPU chan struct{}

	projectLocksMu deadlock.Mutex
	projectLocks   map[string]*sync.Mutex
}

// NewEngine returns an Engine bound to reg with limits' concurrency
// ceilings.
func NewEngine(reg *registry.Registry, limits Limits, logger zerolog.Logger) *Engine {
	return &Engine{
		registry:     reg,
		logger:       logger,
		semAPI:       make(chan struct{}, limits.API),
		semLocalIO:   make(chan struct{}, limits.LocalIO),
		semLocalCPU:  make(chan struct{}, limits.LocalCPU),
		projectLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) semFor(capability studiotypes.Capability) chan struct{} {
	switch capability {
	case studiotypes.CapabilityAPI:
		return e.semAPI
	case studiotypes.CapabilityLocalIO:
		return e.semLocalIO
	default:
		return e.semLocalCPU
	}
}

// projectLock returns (creating if needed) the mutex serializing runs for
// projectPath, so concurrent run requests for the same project run one at
// a time. Waiting requests acquire it in sync.Mutex order, which is not
// strictly the order in which they arrived.
func (e *Engine) projectLock(projectPath string) *sync.Mutex {
	e.projectLocksMu.Lock()
	defer e.projectLocksMu.Unlock()
	m, ok := e.projectLocks[projectPath]
	if !ok {
		m = &sync.Mutex{}
		e.projectLocks[projectPath] = m
	}
	return m
}

// Run executes project end to end: scope projection, credit preflight,
// compilation, the dependency-driven execution loop, and journal/cache
// persistence. A Go error is returned only for failures before the run's
// journal is started (scope projection, credit preflight, compilation,
// snapshot hashing, run directory creation); node-level failures are
// reported inside the returned RunSummary.
func (e *Engine) Run(ctx context.Context, project *studiotypes.Project, policy studiotypes.PermissionPolicy, assetsDir string, host HostServices, opts RunOptions) (*studiotypes.RunSummary, error) {
	lock := e.projectLock(project.Path)
	lock.Lock()
	defer lock.Unlock()

	scoped, err := scope.Project(project, e.registry, opts.ScopedEntryNodeIDs)
	if err != nil {
		return nil, err
	}

	ok, reason, err := host.Adapter.EstimateRunCredits(ctx, scoped)
	if err != nil {
		return nil, fmt.Errorf("credit preflight: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("credit preflight failed: %s", reason)
	}

	graph, err := compiler.Compile(scoped, e.registry)
	if err != nil {
		return nil, err
	}

	runID := studiohash.NewID("run")
	startedAt := time.Now()

	buf, err := studiohash.StableJSON(map[string]interface{}{"project": scoped, "policy": policy})
	if err != nil {
		return nil, err
	}
	snapshotHash := studiohash.SHA256(buf)
	snapshot := studiotypes.RunSnapshot{Project: *scoped, Policy: policy, SnapshotHash: snapshotHash}

	j := journal.New(assetsDir, e.logger)
	if err := j.StartRun(runID, snapshot); err != nil {
		return nil, err
	}

	logger := log.WithRunID(e.logger, runID)
	logger.Info().Int("nodeCount", len(lo.Keys(graph.Nodes))).Msg("run started")
	_ = j.AppendEvent(runID, studiotypes.RunEvent{RunID: runID, Type: studiotypes.EventRunStarted, Timestamp: time.Now(), SnapshotHash: snapshotHash})

	perms := permissions.New(policy, logger)
	sb := sandbox.New(perms, host.Desktop, logger)

	cachePath := filepath.Join(assetsDir, "cache", "node-results.json")
	snap := cache.Load(cachePath, logger)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	services := studiotypes.ServiceBundle{
		Adapter:              host.Adapter,
		Secrets:              host.Secrets,
		Assets:               host.Assets,
		ResolvePath:          host.ResolvePath,
		ReadVaultBinary:      host.ReadVaultBinary,
		ReadLocalFile:        host.ReadLocalFile,
		WriteTempFile:        host.WriteTempFile,
		DeleteLocalFile:      host.DeleteLocalFile,
		RunCLI:               sb.Run,
		AssertFilesystemPath: perms.AssertFilesystemPath,
		AssertNetworkURL:     perms.AssertNetworkUrl,
	}

	summary := e.runLoop(runCtx, cancelRun, runID, project.Path, graph, snap, services, opts, j, logger)
	summary.StartedAt = startedAt
	summary.FinishedAt = time.Now()

	if err := snap.Save(); err != nil {
		logger.Warn().Err(err).Msg("cache snapshot persist failed")
	}
	if host.CleanRunTemp != nil {
		if err := host.CleanRunTemp(runID); err != nil {
			logger.Warn().Err(err).Msg("run temp root cleanup failed")
		}
	}

	if summary.Status == studiotypes.RunFailed {
		_ = j.AppendEvent(runID, studiotypes.RunEvent{RunID: runID, Type: studiotypes.EventRunFailed, Timestamp: time.Now(), Error: summary.Error})
	}
	_ = j.AppendEvent(runID, studiotypes.RunEvent{RunID: runID, Type: studiotypes.EventRunCompleted, Timestamp: time.Now(), Status: summary.Status})

	if err := j.FinishRun(*summary, scoped.Settings.Retention.MaxRuns); err != nil {
		logger.Warn().Err(err).Msg("run index update failed")
	}

	runsTotal.WithLabelValues(string(summary.Status)).Inc()

	return summary, nil
}

// nodeState tracks one compiled node's progress through the run loop.
// outputs is populated once done is true, including for skipped nodes
// (empty map), so dependents can read it uniformly.
type nodeState struct {
	node     *compiler.CompiledNode
	inDegree int
	done     bool
	skipped  bool
	cacheHit bool
	outputs  map[string]interface{}
}

// completion is what a node-executing goroutine reports back.
type completion struct {
	id       string
	outputs  map[string]interface{}
	cacheHit bool
	err      error
}

// runLoop drives the dependency-ordered, capability-bounded execution
// loop described by spec.md §4.10 steps 6 onward.
func (e *Engine) runLoop(ctx context.Context, cancel context.CancelFunc, runID, projectPath string, graph *compiler.CompiledGraph, snap *cache.Snapshot, services studiotypes.ServiceBundle, opts RunOptions, j *journal.Journal, logger zerolog.Logger) *studiotypes.RunSummary {
	states := make(map[string]*nodeState, len(graph.Nodes))
	pending := make(map[string]struct{}, len(graph.Nodes))
	running := make(map[string]struct{}, len(graph.Nodes))
	for id, n := range graph.Nodes {
		states[id] = &nodeState{node: n, inDegree: len(n.DependsOn)}
		pending[id] = struct{}{}
	}

	var (
		mu       sync.Mutex
		executed []string
		cached   []string
		firstErr error
	)
	completions := make(chan completion, len(states)+1)

	decrementDependents := func(id string) {
		for depID, n := range graph.Nodes {
			if _, dep := n.DependsOn[id]; dep {
				states[depID].inDegree--
			}
		}
	}

	// drainSkippable marks disabled/visual-only ready nodes done without
	// consuming a capability slot or touching the cache, per spec.md §4.10
	// and the visual-only-node decision in the design ledger.
	drainSkippable := func() {
		for {
			progressed := false
			for id := range pending {
				st := states[id]
				if st.inDegree != 0 {
					continue
				}
				if !st.node.Instance.Disabled && !st.node.Definition.Visual {
					continue
				}
				st.done, st.skipped = true, true
				st.outputs = map[string]interface{}{}
				delete(pending, id)
				decrementDependents(id)
				progressed = true
			}
			if !progressed {
				return
			}
		}
	}

	launchReady := func() {
		if firstErr != nil {
			return
		}
		for _, id := range graph.Order {
			if _, isPending := pending[id]; !isPending {
				continue
			}
			st := states[id]
			if st.inDegree != 0 {
				continue
			}
			sem := e.semFor(st.node.Definition.Capability)
			select {
			case sem <- struct{}{}:
			default:
				continue
			}
			delete(pending, id)
			running[id] = struct{}{}
			inputs := aggregateInputs(st.node, states)
			capLabel := string(st.node.Definition.Capability)
			capacityInUse.WithLabelValues(capLabel).Inc()
			go func(id string, st *nodeState) {
				var outputs map[string]interface{}
				var cacheHit bool
				var err error
				// Deferred in reverse order so the semaphore slot is freed,
				// and thus visible to the main loop's next launchReady,
				// strictly before the completion is sent: a receiver must
				// never observe a completion while its slot still looks full.
				defer func() {
					completions <- completion{id: id, outputs: outputs, cacheHit: cacheHit, err: err}
				}()
				defer func() { <-sem }()
				defer capacityInUse.WithLabelValues(capLabel).Dec()
				start := time.Now()
				outputs, cacheHit, err = e.executeNode(ctx, runID, projectPath, st.node, inputs, snap, services, opts.ForceNodeIDs, j, logger)
				nodeDurationSeconds.WithLabelValues(capLabel).Observe(time.Since(start).Seconds())
				if cacheHit {
					nodesCacheHitTotal.Inc()
				} else if err == nil {
					nodesExecutedTotal.Inc()
				}
			}(id, st)
		}
	}

	for {
		mu.Lock()
		drainSkippable()
		launchReady()
		done := len(running) == 0 && (len(pending) == 0 || firstErr != nil)
		mu.Unlock()
		if done {
			break
		}

		c := <-completions
		mu.Lock()
		delete(running, c.id)
		st := states[c.id]
		st.done = true
		st.cacheHit = c.cacheHit
		if c.outputs == nil {
			c.outputs = map[string]interface{}{}
		}
		st.outputs = c.outputs
		if c.cacheHit {
			cached = append(cached, c.id)
		} else {
			executed = append(executed, c.id)
		}
		if c.err != nil && firstErr == nil {
			firstErr = c.err
			cancel()
		}
		decrementDependents(c.id)
		mu.Unlock()
	}

	status := studiotypes.RunSuccess
	errMsg := ""
	if firstErr != nil {
		status = studiotypes.RunFailed
		errMsg = firstErr.Error()
	}
	return &studiotypes.RunSummary{RunID: runID, Status: status, Error: errMsg, Executed: executed, Cached: cached}
}

// aggregateInputs builds a node's inputs map by walking inbound edges and
// reading each producer's already-completed outputs by source port.
// Multiple inbound edges targeting the same input port aggregate into an
// ordered list; a single edge yields the bare value. Producers are always
// done by the time this runs, since inDegree reaching zero is gated on it.
func aggregateInputs(cn *compiler.CompiledNode, states map[string]*nodeState) map[string]interface{} {
	byPort := make(map[string][]interface{})
	var order []string
	for _, e := range cn.InEdges {
		if _, seen := indexOf(order, e.ToPortID); !seen {
			order = append(order, e.ToPortID)
		}
		producer := states[e.FromNodeID]
		var value interface{}
		if producer != nil && producer.outputs != nil {
			value = producer.outputs[e.FromPortID]
		}
		byPort[e.ToPortID] = append(byPort[e.ToPortID], value)
	}
	inputs := make(map[string]interface{}, len(byPort))
	for _, port := range order {
		values := byPort[port]
		if len(values) == 1 {
			inputs[port] = values[0]
		} else {
			inputs[port] = values
		}
	}
	return inputs
}

func indexOf(list []string, v string) (int, bool) {
	for i, x := range list {
		if x == v {
			return i, true
		}
	}
	return -1, false
}

// executeNode runs one node to completion: fingerprinting, cache
// consultation, and on a miss, invocation of the node's Execute function,
// handling continueOnError by folding a failure into an empty-output
// success for scheduling purposes.
func (e *Engine) executeNode(ctx context.Context, runID, projectPath string, cn *compiler.CompiledNode, inputs map[string]interface{}, snap *cache.Snapshot, services studiotypes.ServiceBundle, forceList map[string]struct{}, j *journal.Journal, logger zerolog.Logger) (map[string]interface{}, bool, error) {
	nodeID := cn.Instance.ID

	fp, err := cache.Fingerprint(cn.Definition.CacheSalt, cn.Definition.Kind, cn.Definition.Version, cn.Instance.Config, inputs)
	if err != nil {
		return nil, false, err
	}

	if entry, hit := snap.Lookup(nodeID, cn.Definition.Kind, cn.Definition.CachePolicy, fp, forceList); hit {
		now := time.Now()
		_ = j.AppendEvent(runID, studiotypes.RunEvent{RunID: runID, Type: studiotypes.EventNodeCacheHit, Timestamp: now, NodeID: nodeID})
		_ = j.AppendEvent(runID, studiotypes.RunEvent{RunID: runID, Type: studiotypes.EventNodeOutput, Timestamp: now, NodeID: nodeID, Outputs: entry.Outputs, OutputSource: studiotypes.OutputFromCache})
		return entry.Outputs, true, nil
	}

	_ = j.AppendEvent(runID, studiotypes.RunEvent{RunID: runID, Type: studiotypes.EventNodeStarted, Timestamp: time.Now(), NodeID: nodeID})

	if cn.Definition.Execute == nil {
		return map[string]interface{}{}, false, nil
	}

	execCtx := studiotypes.ExecContext{
		Context:     ctx,
		RunID:       runID,
		ProjectPath: projectPath,
		Node:        cn.Instance,
		Inputs:      inputs,
		Cancelled:   func() bool { return ctx.Err() != nil },
		Services:    services,
		Logger:      log.WithNodeID(logger, nodeID),
	}

	result, err := cn.Definition.Execute(execCtx)
	if err != nil {
		_ = j.AppendEvent(runID, studiotypes.RunEvent{RunID: runID, Type: studiotypes.EventNodeFailed, Timestamp: time.Now(), NodeID: nodeID, Error: err.Error()})
		if cn.Instance.ContinueOnError {
			return map[string]interface{}{}, false, nil
		}
		return nil, false, err
	}

	_ = j.AppendEvent(runID, studiotypes.RunEvent{RunID: runID, Type: studiotypes.EventNodeOutput, Timestamp: time.Now(), NodeID: nodeID, Outputs: result, OutputSource: studiotypes.OutputFromExecution})

	if cn.Definition.CachePolicy == studiotypes.CachePolicyByInputs {
		snap.Put(nodeID, cn.Definition.Kind, cn.Definition.Version, fp, result, nil, runID)
	} else {
		snap.Delete(nodeID)
	}
	return result, false, nil
}
