// Package migrate implements the forward-only Migration Engine of
// spec.md §4.13: schema and port renaming applied once and recorded in a
// project's migration history. Grounded on cmd/warren-migrate's
// migration-runner shape in the teacher repo (an ordered list of named,
// idempotent steps applied in sequence).
package migrate

import (
	"time"

	"github.com/samber/lo"

	"github.com/systemsculpt/studio/pkg/registry"
	"github.com/systemsculpt/studio/pkg/studiohash"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// migration is one forward-only transform, applied at most once per
// project. fn reports whether it changed anything; ApplyAll records the
// step in the project's migration history regardless, so a later re-run
// recognizes it as already applied.
type migration struct {
	ID string
	fn func(p *studiotypes.Project, reg *registry.Registry) bool
}

// Order matters: inline-prompt-template-v1 assumes port-only renames have
// already normalized port IDs.
var migrations = []migration{
	{ID: "path-only-ports-v1", fn: applyPathOnlyPorts},
	{ID: "inline-prompt-template-v1", fn: applyInlinePromptTemplate},
}

// Applied reports whether id is already recorded in p's migration history.
func Applied(p *studiotypes.Project, id string) bool {
	return lo.SomeBy(p.Migrations.Applied, func(a studiotypes.AppliedMigration) bool { return a.ID == id })
}

// ApplyAll runs every not-yet-applied migration against p in order,
// recording each in p.Migrations.Applied exactly once. It returns
// changed=true iff at least one migration actually altered the graph —
// re-running against an already-migrated project returns changed=false
// and appends nothing, per spec.md's testable property #12.
func ApplyAll(p *studiotypes.Project, reg *registry.Registry) (changed bool) {
	for _, m := range migrations {
		if Applied(p, m.ID) {
			continue
		}
		if m.fn(p, reg) {
			changed = true
		}
		p.Migrations.Applied = append(p.Migrations.Applied, studiotypes.AppliedMigration{ID: m.ID, At: time.Now()})
	}
	return changed
}

// dedupeEdges drops edges sharing the same (from node, from port, to node,
// to port) four-tuple, keeping the first occurrence.
func dedupeEdges(edges []studiotypes.Edge) []studiotypes.Edge {
	seen := make(map[string]struct{}, len(edges))
	out := make([]studiotypes.Edge, 0, len(edges))
	for _, e := range edges {
		tuple := e.FromNodeID + "|" + e.FromPortID + "|" + e.ToNodeID + "|" + e.ToPortID
		if _, dup := seen[tuple]; dup {
			continue
		}
		seen[tuple] = struct{}{}
		out = append(out, e)
	}
	return out
}

func newEdgeID() string {
	return studiohash.NewID("edge")
}
