// Package studiotypes holds the plain data model shared across the Studio
// runtime: projects, graphs, permission policies, assets, cache entries and
// run records. Nothing in this package validates or executes anything —
// that lives in pkg/compiler, pkg/permissions, pkg/cache and pkg/runtime.
package studiotypes

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// Capability is the scheduling category of a node definition.
type Capability string

const (
	CapabilityAPI      Capability = "api"
	CapabilityLocalIO  Capability = "local_io"
	CapabilityLocalCPU Capability = "local_cpu"
)

// CachePolicy is the per-node caching directive.
type CachePolicy string

const (
	CachePolicyByInputs CachePolicy = "by_inputs"
	CachePolicyNever    CachePolicy = "never"
)

// ProjectSchemaTag is the external file format tag projects are stamped
// with, per spec.md §6.
const ProjectSchemaTag = "studio.project.v1"

// PolicySchemaTag is the external file format tag permission policies are
// stamped with, per spec.md §6.
const PolicySchemaTag = "studio.policy.v1"

// Project is the versioned document a Studio graph is persisted as.
// Field layout matches the "studio.project.v1" external file format.
type Project struct {
	Schema    string    `json:"schema"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Engine EngineConfig `json:"engine"`
	Graph  Graph        `json:"graph"`

	PermissionsRef PermissionsRef `json:"permissionsRef"`
	Settings       ProjectSettings `json:"settings"`
	Migrations     MigrationState  `json:"migrations"`

	// Path is the absolute path to the project file on disk. Not persisted
	// inside the JSON document itself — it is the document's own identity.
	Path string `json:"-"`
}

// EngineConfig records the minimum host capability required to run this
// project.
type EngineConfig struct {
	APIMode          string `json:"apiMode"`
	MinPluginVersion string `json:"minPluginVersion"`
}

// Graph is the ordered node/edge/group collection plus recomputed entries.
type Graph struct {
	Nodes       []NodeInstance `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	EntryNodeIDs []string      `json:"entryNodeIds"`
	Groups      []Group        `json:"groups,omitempty"`
}

// Group is visual-only metadata retained in the document but never
// consulted by the runtime beyond filtering to retained node IDs.
type Group struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	NodeIDs  []string `json:"nodeIds"`
}

// NodeInstance is one node placed on the graph.
type NodeInstance struct {
	ID               string                 `json:"id"`
	Kind             string                 `json:"kind"`
	Version          int                    `json:"version"`
	Title            string                 `json:"title"`
	Position         Position               `json:"position"`
	Config           map[string]interface{} `json:"config"`
	ContinueOnError  bool                   `json:"continueOnError,omitempty"`
	Disabled         bool                   `json:"disabled,omitempty"`
}

// Position is the node's canvas placement. Visual-only, carried for the
// editor's benefit and otherwise ignored by the runtime.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge connects one node's output port to another node's input port.
type Edge struct {
	ID         string `json:"id"`
	FromNodeID string `json:"fromNodeId"`
	FromPortID string `json:"fromPortId"`
	ToNodeID   string `json:"toNodeId"`
	ToPortID   string `json:"toPortId"`
}

// PermissionsRef points at the sibling policy file for a project.
type PermissionsRef struct {
	PolicyVersion int    `json:"policyVersion"`
	PolicyPath    string `json:"policyPath"`
}

// ProjectSettings holds retention and scheduling hints.
type ProjectSettings struct {
	RunConcurrency  string     `json:"runConcurrency"`
	DefaultFsScope  string     `json:"defaultFsScope"`
	Retention       Retention  `json:"retention"`
}

// Retention bounds how many runs and how much artifact storage a project
// keeps before the Run Journal prunes old entries.
type Retention struct {
	MaxRuns         int `json:"maxRuns"`
	MaxArtifactsMB  int `json:"maxArtifactsMb"`
}

// MigrationState records which forward-only migrations have been applied.
type MigrationState struct {
	ProjectSchemaVersion int                `json:"projectSchemaVersion"`
	Applied              []AppliedMigration `json:"applied"`
}

// AppliedMigration is one entry in a project's migration history.
type AppliedMigration struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Port is a named, typed attachment point on a node definition.
type Port struct {
	ID       string
	Type     string
	Required bool
}

// ConfigField describes one entry of a node definition's config schema.
type ConfigField struct {
	Key       string
	Type      ConfigFieldType
	Enum      []string
	Min, Max  *float64
	Required  bool
	// VisibleWhen, if set, names another config key whose value (VisibleValue)
	// must match for this field to be considered present/visible.
	VisibleWhen  string
	VisibleValue interface{}
}

// ConfigFieldType is the scalar type tag for a config schema field.
type ConfigFieldType string

const (
	ConfigString ConfigFieldType = "string"
	ConfigNumber ConfigFieldType = "number"
	ConfigBool   ConfigFieldType = "bool"
	ConfigEnum   ConfigFieldType = "enum"
	ConfigObject ConfigFieldType = "object"
	ConfigAny    ConfigFieldType = "any"
)

// PortResolver computes a node's effective input/output ports from its
// config, for variadic ("dataset") node kinds whose ports are not fixed.
type PortResolver func(config map[string]interface{}) (inputs, outputs []Port)

// ExecuteFunc is a node definition's execution entry point.
type ExecuteFunc func(ctx ExecContext) (map[string]interface{}, error)

// NodeDefinition is a registry entry — never persisted, looked up by
// (Kind, Version) at compile time.
type NodeDefinition struct {
	Kind       string
	Version    int
	Capability Capability
	CachePolicy CachePolicy
	// CacheSalt forces cache invalidation on semantic change without
	// touching the node's config.
	CacheSalt string
	Visual     bool

	Inputs  []Port
	Outputs []Port

	ConfigSchema []ConfigField

	ResolvePorts PortResolver // optional
	Execute      ExecuteFunc
}

// PermissionPolicy is the schema-tagged sibling document granting
// capability use.
type PermissionPolicy struct {
	Schema    string    `json:"schema"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	Grants    []Grant   `json:"grants"`
}

// GrantCapability enumerates the three gated capabilities.
type GrantCapability string

const (
	CapFilesystem GrantCapability = "filesystem"
	CapCLI        GrantCapability = "cli"
	CapNetwork    GrantCapability = "network"
)

// Grant authorizes one capability within a scope.
type Grant struct {
	ID             string            `json:"id"`
	Capability     GrantCapability   `json:"capability"`
	Scope          GrantScope        `json:"scope"`
	GrantedAt      time.Time         `json:"grantedAt"`
	GrantedByUser  bool              `json:"grantedByUser"`
}

// GrantScope narrows a grant to specific paths, command patterns or
// domains, depending on its capability.
type GrantScope struct {
	AllowedPaths           []string `json:"allowedPaths,omitempty"`
	AllowedCommandPatterns []string `json:"allowedCommandPatterns,omitempty"`
	AllowedDomains         []string `json:"allowedDomains,omitempty"`
}

// AssetRef describes one content-addressed blob.
type AssetRef struct {
	Hash digest.Digest `json:"hash"`
	MIME string        `json:"mime"`
	Size int64         `json:"size"`
	Path string        `json:"path"`
}

// CacheEntry is one node's cached result, keyed by node ID within a
// project (not by fingerprint — one slot per node, overwritten each run).
type CacheEntry struct {
	NodeID      string                 `json:"nodeId"`
	Kind        string                 `json:"kind"`
	Version     int                    `json:"version"`
	Fingerprint string                 `json:"fingerprint"`
	Outputs     map[string]interface{} `json:"outputs"`
	Artifacts   []AssetRef             `json:"artifacts,omitempty"`
	WrittenAt   time.Time              `json:"writtenAt"`
	RunID       string                 `json:"runId"`
}

// RunSnapshot is the immutable copy of a project and its policy captured
// at run start.
type RunSnapshot struct {
	Project      Project          `json:"project"`
	Policy       PermissionPolicy `json:"policy"`
	SnapshotHash string           `json:"snapshotHash"`
}

// RunStatus enumerates the terminal and in-flight states of a run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunSummary is the retained index entry for one run.
type RunSummary struct {
	RunID       string    `json:"runId"`
	Status      RunStatus `json:"status"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
	Error       string    `json:"error,omitempty"`
	Executed    []string  `json:"executedNodeIds"`
	Cached      []string  `json:"cachedNodeIds"`
}

// RunEventType tags the union of NDJSON event shapes.
type RunEventType string

const (
	EventRunStarted    RunEventType = "run.started"
	EventRunCompleted  RunEventType = "run.completed"
	EventRunFailed     RunEventType = "run.failed"
	EventNodeStarted   RunEventType = "node.started"
	EventNodeCacheHit  RunEventType = "node.cache_hit"
	EventNodeOutput    RunEventType = "node.output"
	EventNodeFailed    RunEventType = "node.failed"
)

// OutputSource distinguishes freshly executed outputs from cache hits.
type OutputSource string

const (
	OutputFromExecution OutputSource = "execution"
	OutputFromCache     OutputSource = "cache"
)

// RunEvent is one line of the NDJSON event log.
type RunEvent struct {
	RunID     string       `json:"runId"`
	Type      RunEventType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`

	// run.started
	SnapshotHash string `json:"snapshotHash,omitempty"`
	// run.completed
	Status RunStatus `json:"status,omitempty"`
	// run.failed / node.failed
	Error      string `json:"error,omitempty"`
	ErrorStack string `json:"errorStack,omitempty"`
	// node.*
	NodeID          string                 `json:"nodeId,omitempty"`
	CacheUpdatedAt  time.Time              `json:"cacheUpdatedAt,omitempty"`
	OutputRef       string                 `json:"outputRef,omitempty"`
	OutputSource    OutputSource           `json:"outputSource,omitempty"`
	Outputs         map[string]interface{} `json:"outputs,omitempty"`
}
