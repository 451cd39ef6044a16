// Package facade implements the Service Facade of spec.md §5: the single
// entry point a host embeds, wiring the Project/Policy Store, Registry,
// Compiler, Asset Store, Adapter, Runtime and recents Index into the
// handful of operations a host actually calls. Grounded on
// pkg/manager/manager.go's single-struct-over-subsystems shape in the
// teacher repo, narrowed from a cluster-wide control plane down to the
// project-scoped operations spec.md §5 lists.
package facade

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/systemsculpt/studio/pkg/journal"
	"github.com/systemsculpt/studio/pkg/migrate"
	"github.com/systemsculpt/studio/pkg/project"
	"github.com/systemsculpt/studio/pkg/recents"
	"github.com/systemsculpt/studio/pkg/registry"
	"github.com/systemsculpt/studio/pkg/runtime"
	"github.com/systemsculpt/studio/pkg/studioerr"
	"github.com/systemsculpt/studio/pkg/studiohash"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// defaultHostVersion is what New assigns to Config.HostVersion when the
// host leaves it empty; it satisfies any project's Engine.MinPluginVersion.
// Config.HostVersion is checked against that minimum on every open.
const defaultHostVersion = "9999.0.0"

// Config wires a Facade to its host environment. Everything here is a
// narrow interface or plain value; the Facade owns no goroutines of its
// own beyond what Engine.Run spawns per call.
type Config struct {
	Registry    *registry.Registry
	Engine      *runtime.Engine
	Recents     *recents.Index
	HostVersion string

	// HostServicesFor builds the run-scoped HostServices for a project
	// whose assets live under assetsDir, bound to that run's permission
	// policy snapshot (so the Adapter's own remote calls are gated by the
	// same grants the run's sandboxed nodes see, not some looser
	// process-wide default). The Facade does not construct these itself:
	// they depend on host filesystem roots and the local `pi`/sandbox
	// wiring that only the embedding application knows.
	HostServicesFor func(assetsDir string, policy studiotypes.PermissionPolicy) runtime.HostServices

	Logger zerolog.Logger
}

// Facade is the Service Facade: the one type a host constructs and calls
// into for every project-level operation.
type Facade struct {
	cfg    Config
	store  *project.Store
	logger zerolog.Logger
}

// New returns a Facade over cfg.
func New(cfg Config) *Facade {
	if cfg.HostVersion == "" {
		cfg.HostVersion = defaultHostVersion
	}
	logger := cfg.Logger.With().Str("component", "facade").Logger()
	return &Facade{
		cfg:    cfg,
		store:  project.New(logger),
		logger: logger,
	}
}

// assetsDirFor derives a project's sibling assets directory from its
// document path, per spec.md §6's "<project>-assets" convention.
func assetsDirFor(projectPath string) string {
	dir := filepath.Dir(projectPath)
	base := strings.TrimSuffix(filepath.Base(projectPath), filepath.Ext(projectPath))
	return filepath.Join(dir, base+"-assets")
}

func policyPathFor(p *studiotypes.Project) string {
	return p.PermissionsRef.PolicyPath
}

// OpenProject loads path, applying any pending forward-only migrations
// and checking the host's engine version against the project's
// requirement. It also touches the recents index, if one is configured.
func (f *Facade) OpenProject(path string) (*studiotypes.Project, error) {
	p, err := f.store.Load(path)
	if err != nil {
		return nil, err
	}
	if err := project.CheckEngineVersion(p, f.cfg.HostVersion); err != nil {
		return nil, err
	}
	if migrate.ApplyAll(p, f.cfg.Registry) {
		f.logger.Info().Str("project", p.ProjectID).Msg("applied pending migrations on open")
		if err := f.store.Save(p); err != nil {
			return nil, err
		}
	}
	if f.cfg.Recents != nil {
		_ = f.cfg.Recents.Touch(p.Path, p.Name)
	}
	return p, nil
}

// CreateProject writes a new, empty, current-schema project document at
// path with a deny-all permission policy sitting alongside it.
func (f *Facade) CreateProject(path, name string) (*studiotypes.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	now := time.Now()
	p := &studiotypes.Project{
		Schema:    studiotypes.ProjectSchemaTag,
		ProjectID: studiohash.NewID("proj"),
		Path:      abs,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Engine:    studiotypes.EngineConfig{APIMode: "systemsculpt_only", MinPluginVersion: "0.0.0"},
		PermissionsRef: studiotypes.PermissionsRef{
			PolicyPath: filepath.Join(filepath.Dir(abs), strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))+".policy.json"),
		},
		Settings: studiotypes.ProjectSettings{
			RunConcurrency: "adaptive",
			DefaultFsScope: "vault",
			Retention:      studiotypes.Retention{MaxRuns: 20, MaxArtifactsMB: 500},
		},
		Migrations: studiotypes.MigrationState{ProjectSchemaVersion: 1},
	}
	if err := f.store.Save(p); err != nil {
		return nil, err
	}
	policy := studiotypes.PermissionPolicy{Schema: studiotypes.PolicySchemaTag, Version: 1, UpdatedAt: now}
	if err := f.store.SavePolicy(policyPathFor(p), policy); err != nil {
		return nil, err
	}
	if f.cfg.Recents != nil {
		_ = f.cfg.Recents.Touch(p.Path, p.Name)
	}
	return p, nil
}

// SaveProject persists p in place.
func (f *Facade) SaveProject(p *studiotypes.Project) error {
	return f.store.Save(p)
}

// LoadPolicy reads the permission policy that governs p.
func (f *Facade) LoadPolicy(p *studiotypes.Project) (studiotypes.PermissionPolicy, error) {
	return f.store.LoadPolicy(policyPathFor(p))
}

// AddGrant appends a new grant to p's policy and persists it. Per
// spec.md §3, the Facade is the only caller allowed to widen a policy;
// grants are monotonic and never retroactively apply to a run already in
// flight because Run reads the policy once, before compilation.
func (f *Facade) AddGrant(p *studiotypes.Project, grant studiotypes.Grant) (studiotypes.PermissionPolicy, error) {
	policy, err := f.store.LoadPolicy(policyPathFor(p))
	if err != nil {
		return studiotypes.PermissionPolicy{}, err
	}
	policy = project.AddGrant(policy, grant)
	if err := f.store.SavePolicy(policyPathFor(p), policy); err != nil {
		return studiotypes.PermissionPolicy{}, err
	}
	return policy, nil
}

// Run executes p's entire graph end to end.
func (f *Facade) Run(ctx context.Context, p *studiotypes.Project) (*studiotypes.RunSummary, error) {
	return f.run(ctx, p, runtime.RunOptions{})
}

// RunScoped executes only the subgraph reachable from entryNodeIDs,
// forcing a cache bypass for forceNodeIDs (pass nil for neither).
func (f *Facade) RunScoped(ctx context.Context, p *studiotypes.Project, entryNodeIDs []string, forceNodeIDs []string) (*studiotypes.RunSummary, error) {
	var force map[string]struct{}
	if len(forceNodeIDs) > 0 {
		force = make(map[string]struct{}, len(forceNodeIDs))
		for _, id := range forceNodeIDs {
			force[id] = struct{}{}
		}
	}
	return f.run(ctx, p, runtime.RunOptions{ScopedEntryNodeIDs: entryNodeIDs, ForceNodeIDs: force})
}

func (f *Facade) run(ctx context.Context, p *studiotypes.Project, opts runtime.RunOptions) (*studiotypes.RunSummary, error) {
	if f.cfg.HostServicesFor == nil {
		return nil, fmt.Errorf("facade: HostServicesFor not configured")
	}
	policy, err := f.store.LoadPolicy(policyPathFor(p))
	if err != nil {
		return nil, err
	}
	assetsDir := assetsDirFor(p.Path)
	host := f.cfg.HostServicesFor(assetsDir, policy)
	return f.cfg.Engine.Run(ctx, p, policy, assetsDir, host, opts)
}

// RecentRuns returns the most recent run summaries recorded for p, newest
// first, up to p.Settings.Retention.MaxRuns.
func (f *Facade) RecentRuns(p *studiotypes.Project) ([]studiotypes.RunSummary, error) {
	j := journal.New(assetsDirFor(p.Path), f.logger)
	return j.RecentRuns()
}

// RecentProjects returns the cross-project recently-opened index, if one
// is configured.
func (f *Facade) RecentProjects() ([]recents.Entry, error) {
	if f.cfg.Recents == nil {
		return nil, &studioerr.IoUnavailable{Reason: "no recents index configured"}
	}
	return f.cfg.Recents.List()
}

// NewGrantID mints a fresh grant identifier, exposed so hosts building a
// permission UI can stamp one without reaching into studiohash directly.
func NewGrantID() string {
	return studiohash.NewID("grant")
}
