package sync

// Status is the terminal classification of one manifest entry
type Status string

const (
	StatusUnchanged         Status = "unchanged"
	StatusLocalModifiedOnly Status = "local_modified_only"
	StatusUpdateAvailable   Status = "update_available"
	StatusMergeClean        Status = "merge_clean"
	StatusMergeConflict     Status = "merge_conflict"
	StatusMergeError        Status = "merge_error"
	StatusUpstreamMissing   Status = "upstream_missing"
	StatusLocalMissing      Status = "local_missing"
	StatusNoSnapshot        Status = "no_snapshot"
	StatusInvalidEntry      Status = "invalid_entry"
)

// AllStatuses lists every terminal status
var AllStatuses = []Status{
	StatusUnchanged,
	StatusLocalModifiedOnly,
	StatusUpdateAvailable,
	StatusMergeClean,
	StatusMergeConflict,
	StatusMergeError,
	StatusUpstreamMissing,
	StatusLocalMissing,
	StatusNoSnapshot,
	StatusInvalidEntry,
}

// Action is what the orchestrator does for a status
type Action string

const (
	ActionNone                Action = "none"
	ActionReviewRemoval       Action = "review_removal"
	ActionRestoreFromUpstream Action = "restore_from_upstream"
	ActionManualReview        Action = "manual_review"
	ActionApplyUpstream       Action = "apply_upstream"
	ActionApplyMerge          Action = "apply_merge"
	ActionManualMerge         Action = "manual_merge"
)

// Appliable reports whether the action may overwrite the local file in apply mode
func (a Action) Appliable() bool {
	switch a {
	case ActionRestoreFromUpstream, ActionApplyUpstream, ActionApplyMerge:
		return true
	}
	return false
}

// Result is the outcome for one manifest entry in one run
type Result struct {
	Path       string  `json:"path"`
	Status     Status  `json:"status"`
	Action     Action  `json:"action"`
	Output     *string `json:"output"`     // staging location, nil when nothing was staged
	Applied    bool    `json:"applied"`    // local file was overwritten in place
	Capability *string `json:"capability"` // nil when the entry has no tag
	Error      string  `json:"error,omitempty"`

	// Candidate is the content that was applied or staged and Previous the
	// local content it replaced in place; neither is reported.
	Candidate []byte `json:"-"`
	Previous  []byte `json:"-"`
}

// Report is the complete result of a run
type Report struct {
	RunID         string         `json:"run_id"`
	RepoRoot      string         `json:"repo_root"`
	FrameworkRoot *string        `json:"framework_root"` // nil when the upstream tree does not exist
	Manifest      string         `json:"manifest"`
	OutputDir     string         `json:"output_dir"`
	Applied       bool           `json:"applied"`
	Summary       map[Status]int `json:"summary"`
	Errors        int            `json:"errors"`
	Results       []Result       `json:"results"`
}
