// Package project implements the Project/Policy Store of spec.md §4.12:
// reading and writing the project JSON document and its sibling
// permission policy, one-shot migration of legacy pre-schema documents,
// and reference validation. Grounded on pkg/storage.Store's interface
// shape in the teacher repo, backed here by the external JSON files
// spec.md §6 specifies instead of a bbolt database.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/systemsculpt/studio/pkg/studioerr"
	"github.com/systemsculpt/studio/pkg/studiohash"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// Store reads and writes project documents and their sibling permission
// policies.
type Store struct {
	logger zerolog.Logger
}

// New returns a Store.
func New(logger zerolog.Logger) *Store {
	return &Store{logger: logger.With().Str("component", "project").Logger()}
}

// Load reads and parses the project document at path. A document already
// carrying studiotypes.ProjectSchemaTag is read strictly; a legacy
// "nodes"/"edges" canvas shape lacking the tag is migrated one-shot into
// the current schema (see migrateLegacy), per spec.md §4.12. The returned
// project's Path field is set to the absolute form of path.
func (s *Store) Load(path string) (*studiotypes.Project, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, &studioerr.InvalidProjectDocument{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(buf, &generic); err != nil {
		return nil, &studioerr.InvalidProjectDocument{Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}

	var p studiotypes.Project
	legacy := false
	if schemaTag, _ := generic["schema"].(string); schemaTag == studiotypes.ProjectSchemaTag {
		if err := json.Unmarshal(buf, &p); err != nil {
			return nil, &studioerr.InvalidProjectDocument{Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
	} else if looksLegacy(generic) {
		migrated, err := migrateLegacy(generic)
		if err != nil {
			return nil, err
		}
		p = *migrated
		legacy = true
	} else {
		return nil, &studioerr.InvalidProjectDocument{Reason: fmt.Sprintf("%s: unrecognized document shape (no schema tag, not a legacy canvas)", path)}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	p.Path = abs
	// A legacy canvas carries no permissions reference; point it at the
	// sibling "<name>.policy.json" that pkg/facade's CreateProject also uses.
	if legacy && p.PermissionsRef.PolicyPath == "" {
		p.PermissionsRef.PolicyPath = abs[:len(abs)-len(filepath.Ext(abs))] + ".policy.json"
	}

	if err := validateReferences(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// looksLegacy reports whether generic has top-level "nodes"/"edges" arrays
// but no current schema tag, per spec.md §4.12's legacy-canvas detection.
func looksLegacy(generic map[string]interface{}) bool {
	_, hasNodes := generic["nodes"]
	_, hasEdges := generic["edges"]
	return hasNodes && hasEdges
}

// legacyNode and legacyEdge mirror the pre-schema canvas shape: a bare
// node/edge list with no engine config, permissions reference, or
// settings block.
type legacyNode struct {
	ID       string                 `json:"id"`
	Kind     string                 `json:"kind"`
	Title    string                 `json:"title"`
	Position studiotypes.Position   `json:"position"`
	Config   map[string]interface{} `json:"config"`
}

type legacyEdge struct {
	ID         string `json:"id"`
	FromNodeID string `json:"fromNodeId"`
	FromPortID string `json:"fromPortId"`
	ToNodeID   string `json:"toNodeId"`
	ToPortID   string `json:"toPortId"`
}

// migrateLegacy builds a minimal current-schema Project from a legacy
// canvas document and stamps a "legacy-auto-migration" entry into its
// migration history, per spec.md §4.12.
func migrateLegacy(generic map[string]interface{}) (*studiotypes.Project, error) {
	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, &studioerr.InvalidProjectDocument{Reason: err.Error()}
	}
	var legacy struct {
		Nodes []legacyNode `json:"nodes"`
		Edges []legacyEdge `json:"edges"`
		Name  string       `json:"name"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, &studioerr.InvalidProjectDocument{Reason: fmt.Sprintf("legacy canvas: %v", err)}
	}

	nodes := make([]studiotypes.NodeInstance, 0, len(legacy.Nodes))
	for _, n := range legacy.Nodes {
		nodes = append(nodes, studiotypes.NodeInstance{
			ID:       n.ID,
			Kind:     n.Kind,
			Version:  1,
			Title:    n.Title,
			Position: n.Position,
			Config:   n.Config,
		})
	}
	edges := make([]studiotypes.Edge, 0, len(legacy.Edges))
	for _, e := range legacy.Edges {
		edges = append(edges, studiotypes.Edge{
			ID: e.ID, FromNodeID: e.FromNodeID, FromPortID: e.FromPortID,
			ToNodeID: e.ToNodeID, ToPortID: e.ToPortID,
		})
	}

	name := legacy.Name
	if name == "" {
		name = "Untitled"
	}

	now := time.Now()
	p := &studiotypes.Project{
		Schema:    studiotypes.ProjectSchemaTag,
		ProjectID: studiohash.NewID("proj"),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Engine:    studiotypes.EngineConfig{APIMode: "systemsculpt_only", MinPluginVersion: "0.0.0"},
		Graph:     studiotypes.Graph{Nodes: nodes, Edges: edges},
		Settings: studiotypes.ProjectSettings{
			RunConcurrency: "adaptive",
			DefaultFsScope: "vault",
			Retention:      studiotypes.Retention{MaxRuns: 20, MaxArtifactsMB: 500},
		},
		Migrations: studiotypes.MigrationState{
			ProjectSchemaVersion: 1,
			Applied: []studiotypes.AppliedMigration{
				{ID: "legacy-auto-migration", At: now},
			},
		},
	}
	recomputeEntries(p)
	return p, nil
}

// RecomputeEntries sets EntryNodeIDs to exactly the nodes with zero
// inbound edges, per spec.md §3's Project invariant. Exported so
// pkg/migrate can reuse it after removing or rewiring nodes.
func RecomputeEntries(p *studiotypes.Project) {
	recomputeEntries(p)
}

func recomputeEntries(p *studiotypes.Project) {
	inDegree := make(map[string]int, len(p.Graph.Nodes))
	for _, n := range p.Graph.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range p.Graph.Edges {
		inDegree[e.ToNodeID]++
	}
	var entries []string
	for _, n := range p.Graph.Nodes {
		if inDegree[n.ID] == 0 {
			entries = append(entries, n.ID)
		}
	}
	p.Graph.EntryNodeIDs = entries
}

// validateReferences checks that every edge endpoint resolves to a node
// in the same graph and that a policy path is present, per spec.md §3 and
// §4.12.
func validateReferences(p *studiotypes.Project) error {
	nodeIDs := make(map[string]struct{}, len(p.Graph.Nodes))
	for _, n := range p.Graph.Nodes {
		nodeIDs[n.ID] = struct{}{}
	}
	for _, e := range p.Graph.Edges {
		if _, ok := nodeIDs[e.FromNodeID]; !ok {
			return &studioerr.InvalidEdge{EdgeID: e.ID, Reason: fmt.Sprintf("source node %s not in graph", e.FromNodeID)}
		}
		if _, ok := nodeIDs[e.ToNodeID]; !ok {
			return &studioerr.InvalidEdge{EdgeID: e.ID, Reason: fmt.Sprintf("target node %s not in graph", e.ToNodeID)}
		}
	}
	if p.PermissionsRef.PolicyPath == "" {
		return &studioerr.InvalidProjectDocument{Reason: "permissionsRef.policyPath is required"}
	}
	return nil
}

// Save writes p as canonical, newline-terminated JSON to p.Path,
// bumping UpdatedAt first.
func (s *Store) Save(p *studiotypes.Project) error {
	p.Schema = studiotypes.ProjectSchemaTag
	p.UpdatedAt = time.Now()
	if err := validateReferences(p); err != nil {
		return err
	}

	buf, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return &studioerr.IoUnavailable{Reason: err.Error()}
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return &studioerr.IoUnavailable{Reason: err.Error()}
	}
	if err := os.Rename(tmp, p.Path); err != nil {
		_ = os.Remove(tmp)
		return &studioerr.IoUnavailable{Reason: err.Error()}
	}
	return nil
}

// LoadPolicy reads the permission policy at path. A missing file is not
// an error: it returns the zero-grant policy, which per spec.md §3 denies
// all capability use.
func (s *Store) LoadPolicy(path string) (studiotypes.PermissionPolicy, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return studiotypes.PermissionPolicy{Schema: studiotypes.PolicySchemaTag, Version: 1, UpdatedAt: time.Now()}, nil
		}
		return studiotypes.PermissionPolicy{}, &studioerr.IoUnavailable{Reason: err.Error()}
	}
	var policy studiotypes.PermissionPolicy
	if err := json.Unmarshal(buf, &policy); err != nil {
		return studiotypes.PermissionPolicy{}, &studioerr.InvalidProjectDocument{Reason: fmt.Sprintf("parse policy %s: %v", path, err)}
	}
	return policy, nil
}

// SavePolicy writes policy as canonical, newline-terminated JSON to path.
func (s *Store) SavePolicy(path string, policy studiotypes.PermissionPolicy) error {
	policy.Schema = studiotypes.PolicySchemaTag
	buf, err := json.MarshalIndent(policy, "", "  ")
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &studioerr.IoUnavailable{Reason: err.Error()}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return &studioerr.IoUnavailable{Reason: err.Error()}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &studioerr.IoUnavailable{Reason: err.Error()}
	}
	return nil
}

// AddGrant appends grant to policy's grant list. Per spec.md §3, only the
// Service Facade calls this — grants are monotonic; nothing in this
// package ever removes one.
func AddGrant(policy studiotypes.PermissionPolicy, grant studiotypes.Grant) studiotypes.PermissionPolicy {
	if grant.ID == "" {
		grant.ID = studiohash.NewID("grant")
	}
	grant.GrantedAt = time.Now()
	policy.Grants = append(policy.Grants, grant)
	policy.UpdatedAt = time.Now()
	return policy
}

// CheckEngineVersion reports an error if hostVersion does not satisfy
// p.Engine.MinPluginVersion, using semantic version comparison.
func CheckEngineVersion(p *studiotypes.Project, hostVersion string) error {
	min, err := semver.NewVersion(p.Engine.MinPluginVersion)
	if err != nil {
		return &studioerr.InvalidProjectDocument{Reason: fmt.Sprintf("engine.minPluginVersion %q: %v", p.Engine.MinPluginVersion, err)}
	}
	host, err := semver.NewVersion(hostVersion)
	if err != nil {
		return &studioerr.InvalidProjectDocument{Reason: fmt.Sprintf("host version %q: %v", hostVersion, err)}
	}
	if host.LessThan(min) {
		return &studioerr.InvalidProjectDocument{Reason: fmt.Sprintf("host version %s below required minimum %s", host, min)}
	}
	return nil
}
