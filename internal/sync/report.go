package sync

import (
	"os"
	"sort"

	"github.com/schaermu/aixsync/internal/config"
)

// newReport creates an empty report for a run over cfg's locations
func newReport(runID string, cfg *config.Config, apply bool) *Report {
	r := &Report{
		RunID:     runID,
		RepoRoot:  cfg.Paths.RepoRoot,
		Manifest:  cfg.Paths.Manifest,
		OutputDir: cfg.Paths.OutputDir,
		Applied:   apply,
		Summary:   make(map[Status]int),
		Results:   make([]Result, 0),
	}

	if info, err := os.Stat(cfg.Paths.FrameworkRoot); err == nil && info.IsDir() {
		root := cfg.Paths.FrameworkRoot
		r.FrameworkRoot = &root
	}

	return r
}

// add appends one entry's result, keeping manifest order
func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	r.Summary[res.Status]++
	if res.Error != "" {
		r.Errors++
	}
}

// Count returns how many entries ended in status s
func (r *Report) Count(s Status) int {
	return r.Summary[s]
}

// Statuses returns the statuses that occurred, sorted by name
func (r *Report) Statuses() []Status {
	statuses := make([]Status, 0, len(r.Summary))
	for s := range r.Summary {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	return statuses
}

// NeedsAttention returns the results an operator has to look at: anything
// left for manual handling, anything staged but not applied, and failures.
func (r *Report) NeedsAttention() []Result {
	var out []Result
	for _, res := range r.Results {
		switch {
		case res.Error != "":
			out = append(out, res)
		case res.Action == ActionNone:
			continue
		case !res.Applied:
			out = append(out, res)
		}
	}
	return out
}

// HasFailures reports whether writing any entry's result failed. Merge
// errors are routed to manual review and do not count.
func (r *Report) HasFailures() bool {
	for _, res := range r.Results {
		if res.Error != "" && res.Status != StatusMergeError {
			return true
		}
	}
	return false
}
