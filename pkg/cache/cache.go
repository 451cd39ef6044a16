// Package cache implements the Fingerprint & Result Cache of spec.md §4.8:
// a SHA-256 input fingerprint per node, a single JSON snapshot file per
// project loaded once at run start and rewritten at run end, and a
// per-kind bypass predicate registry for heuristics that force a cache
// miss regardless of fingerprint match. Grounded on pkg/storage.Store's
// per-entity CRUD shape in the teacher repo, collapsed here to a single
// snapshot file rather than one row per entity.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/systemsculpt/studio/pkg/studioerr"
	"github.com/systemsculpt/studio/pkg/studiohash"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// snapshotFields are config keys stripped before fingerprinting because
// they hold UI-only state (the editor's last displayed output) rather
// than anything that changes a node's actual computation.
var snapshotFields = map[string]struct{}{
	"lastDisplayedOutput": {},
	"previewSnapshot":     {},
	"uiCollapsed":         {},
}

// previewableMediaExtensions is the set this module treats as "an
// absolute previewable media path" for the media-ingest bypass heuristic.
var previewableMediaExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
	".mp4": {}, ".mov": {}, ".mp3": {}, ".wav": {}, ".ogg": {},
}

// BypassPredicate reports whether a cached entry for a node of this kind
// must be treated as a miss even though its fingerprint matches.
type BypassPredicate func(entry studiotypes.CacheEntry) bool

// bypassPredicates holds the one registered heuristic: spec.md §9 calls
// out the media-ingest preview-missing bypass and instructs it be
// preserved bit-for-bit rather than simplified.
var bypassPredicates = map[string]BypassPredicate{
	"studio.media_ingest": mediaIngestBypass,
}

// mediaIngestBypass skips the cache when a media-ingest node's cached
// entry has no preview path yet its output path looks like an absolute,
// previewable media file — the editor cannot have rendered a preview for
// it, so treat the cached result as stale.
func mediaIngestBypass(entry studiotypes.CacheEntry) bool {
	preview, _ := entry.Outputs["previewPath"].(string)
	if preview != "" {
		return false
	}
	outputPath, _ := entry.Outputs["outputPath"].(string)
	if outputPath == "" || !filepath.IsAbs(outputPath) {
		return false
	}
	_, ok := previewableMediaExtensions[strings.ToLower(filepath.Ext(outputPath))]
	return ok
}

// RegisterBypass overrides or adds a per-kind bypass predicate. Exposed
// for tests and for node kinds registered outside this package.
func RegisterBypass(kind string, pred BypassPredicate) {
	bypassPredicates[kind] = pred
}

// Fingerprint computes the SHA-256 input fingerprint of a node evaluation:
// stable-JSON of {salt, kind, version, config, inputs} with UI-only
// snapshot fields stripped from config.
func Fingerprint(salt, kind string, version int, config map[string]interface{}, inputs map[string]interface{}) (string, error) {
	strippedConfig := make(map[string]interface{}, len(config))
	for k, v := range config {
		if _, strip := snapshotFields[k]; strip {
			continue
		}
		strippedConfig[k] = v
	}

	payload := map[string]interface{}{
		"salt":    salt,
		"kind":    kind,
		"version": version,
		"config":  strippedConfig,
		"inputs":  inputs,
	}
	buf, err := studiohash.StableJSON(payload)
	if err != nil {
		return "", err
	}
	return studiohash.SHA256(buf), nil
}

// Snapshot is the on-disk cache file: one entry per node ID, overwritten
// each time that node executes, per spec.md §4.8's write policy.
type Snapshot struct {
	path    string
	logger  zerolog.Logger
	Entries map[string]studiotypes.CacheEntry `json:"entries"`
}

// Load reads the snapshot file at path, or returns an empty snapshot if
// it does not exist. A corrupt file is logged and treated as empty rather
// than failing the run, per spec.md's CacheCorruption semantics.
func Load(path string, logger zerolog.Logger) *Snapshot {
	s := &Snapshot{path: path, logger: logger, Entries: make(map[string]studiotypes.CacheEntry)}

	buf, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).Msg("cache snapshot unreadable, starting empty")
		}
		return s
	}
	if err := json.Unmarshal(buf, s); err != nil {
		logger.Warn().Err(&studioerr.CacheCorruption{Reason: err.Error()}).Str("path", path).Msg("cache snapshot corrupt, starting empty")
		s.Entries = make(map[string]studiotypes.CacheEntry)
	}
	return s
}

// Lookup returns (entry, true) if nodeID has a cached entry whose
// fingerprint matches, the node's cache policy is by_inputs, it is not in
// forceList, and no registered bypass predicate vetoes it.
func (s *Snapshot) Lookup(nodeID, kind string, policy studiotypes.CachePolicy, fingerprint string, forceList map[string]struct{}) (studiotypes.CacheEntry, bool) {
	if policy != studiotypes.CachePolicyByInputs {
		return studiotypes.CacheEntry{}, false
	}
	if _, forced := forceList[nodeID]; forced {
		return studiotypes.CacheEntry{}, false
	}
	entry, ok := s.Entries[nodeID]
	if !ok || entry.Fingerprint != fingerprint {
		return studiotypes.CacheEntry{}, false
	}
	if pred, has := bypassPredicates[kind]; has && pred(entry) {
		return studiotypes.CacheEntry{}, false
	}
	return entry, true
}

// Put writes or overwrites the cache slot for nodeID.
func (s *Snapshot) Put(nodeID, kind string, version int, fingerprint string, outputs map[string]interface{}, artifacts []studiotypes.AssetRef, runID string) {
	s.Entries[nodeID] = studiotypes.CacheEntry{
		NodeID:      nodeID,
		Kind:        kind,
		Version:     version,
		Fingerprint: fingerprint,
		Outputs:     outputs,
		Artifacts:   artifacts,
		WrittenAt:   time.Now(),
		RunID:       runID,
	}
}

// Delete removes a node's cache slot, for nodes whose cache policy is
// never.
func (s *Snapshot) Delete(nodeID string) {
	delete(s.Entries, nodeID)
}

// Save atomically rewrites the snapshot file. Called at run end
// regardless of outcome, per spec.md §4.8.
func (s *Snapshot) Save() error {
	buf, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// NodeIDs returns the snapshot's node IDs in sorted order, used by callers
// that need deterministic iteration (run summaries, tests).
func (s *Snapshot) NodeIDs() []string {
	ids := make([]string, 0, len(s.Entries))
	for id := range s.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
