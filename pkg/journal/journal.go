// Package journal implements the Run Journal of spec.md §4.9: a per-run
// directory holding an immutable snapshot and an append-only NDJSON event
// log, indexed across runs with retention pruning. Grounded on
// pkg/events.Broker in the teacher repo, repurposed from in-memory pub/sub
// broadcast into durable append-only per-run logging.
package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// Journal manages the <assets>/runs/ tree for one project's asset root.
type Journal struct {
	runsDir string
	logger  zerolog.Logger
}

// New returns a Journal rooted at <assetsDir>/runs.
func New(assetsDir string, logger zerolog.Logger) *Journal {
	return &Journal{runsDir: filepath.Join(assetsDir, "runs"), logger: logger}
}

// StartRun creates <runsDir>/<runId>/, writes the immutable snapshot.json,
// and truncates events.ndjson to empty.
func (j *Journal) StartRun(runID string, snapshot studiotypes.RunSnapshot) error {
	dir := j.runDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	buf, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "snapshot.json"), buf, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "events.ndjson"), nil, 0o644)
}

// AppendEvent appends one NDJSON line to a run's event log. It opens in
// append mode (the native-append path spec.md §4.9 calls for); a
// read-modify-write fallback is unnecessary on the platforms Studio
// targets, where O_APPEND writes are atomic for single lines of this size.
func (j *Journal) AppendEvent(runID string, event studiotypes.RunEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f, err := os.OpenFile(filepath.Join(j.runDir(runID), "events.ndjson"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(line)
	return err
}

// FinishRun records summary in the cross-run index and prunes entries
// beyond the newest maxRuns, ordered by StartedAt. Pruned run directories
// are best-effort deleted: a failure to remove one is logged and does not
// fail the run.
func (j *Journal) FinishRun(summary studiotypes.RunSummary, maxRuns int) error {
	if err := os.MkdirAll(j.runsDir, 0o755); err != nil {
		return err
	}

	index, err := j.loadIndex()
	if err != nil {
		return err
	}

	replaced := false
	for i, e := range index {
		if e.RunID == summary.RunID {
			index[i] = summary
			replaced = true
			break
		}
	}
	if !replaced {
		index = append(index, summary)
	}

	sort.Slice(index, func(i, k int) bool { return index[i].StartedAt.After(index[k].StartedAt) })

	if maxRuns > 0 && len(index) > maxRuns {
		pruned := index[maxRuns:]
		index = index[:maxRuns]
		for _, p := range pruned {
			if err := os.RemoveAll(j.runDir(p.RunID)); err != nil {
				j.logger.Warn().Err(err).Str("runId", p.RunID).Msg("retention prune: could not remove run directory")
			}
		}
	}

	return j.saveIndex(index)
}

func (j *Journal) loadIndex() ([]studiotypes.RunSummary, error) {
	buf, err := os.ReadFile(filepath.Join(j.runsDir, "index.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var index []studiotypes.RunSummary
	if err := json.Unmarshal(buf, &index); err != nil {
		j.logger.Warn().Err(err).Msg("run index corrupt, starting empty")
		return nil, nil
	}
	return index, nil
}

func (j *Journal) saveIndex(index []studiotypes.RunSummary) error {
	buf, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(j.runsDir, "index.json.tmp")
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(j.runsDir, "index.json"))
}

// RecentRuns returns the indexed run summaries, newest first.
func (j *Journal) RecentRuns() ([]studiotypes.RunSummary, error) {
	return j.loadIndex()
}

func (j *Journal) runDir(runID string) string {
	return filepath.Join(j.runsDir, runID)
}
