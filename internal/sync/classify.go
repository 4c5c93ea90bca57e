package sync

// Observation is what the classifier knows about one tracked file: which of
// the three versions exist and, for those that do, their content digests.
type Observation struct {
	LocalExists    bool
	BaseExists     bool
	UpstreamExists bool

	LocalHash    string
	BaseHash     string
	UpstreamHash string
}

// Decision is the classifier's verdict. When NeedsMerge is set the status is
// decided by the merge outcome instead.
type Decision struct {
	Status     Status
	Action     Action
	NeedsMerge bool
}

// Classify applies the change table in priority order; the first matching
// rule wins. Every observation maps to exactly one decision.
func Classify(o Observation) Decision {
	switch {
	case !o.UpstreamExists:
		return Decision{Status: StatusUpstreamMissing, Action: ActionReviewRemoval}
	case !o.LocalExists:
		return Decision{Status: StatusLocalMissing, Action: ActionRestoreFromUpstream}
	case !o.BaseExists:
		return Decision{Status: StatusNoSnapshot, Action: ActionManualReview}
	}

	upstreamIsBase := o.UpstreamHash == o.BaseHash
	localIsBase := o.LocalHash == o.BaseHash

	switch {
	case upstreamIsBase && localIsBase:
		return Decision{Status: StatusUnchanged, Action: ActionNone}
	case upstreamIsBase:
		return Decision{Status: StatusLocalModifiedOnly, Action: ActionNone}
	case localIsBase:
		return Decision{Status: StatusUpdateAvailable, Action: ActionApplyUpstream}
	default:
		return Decision{NeedsMerge: true}
	}
}

// mergeDecision maps a merge outcome onto the terminal status
func mergeDecision(conflict bool, err error) Decision {
	switch {
	case err != nil:
		return Decision{Status: StatusMergeError, Action: ActionManualReview}
	case conflict:
		return Decision{Status: StatusMergeConflict, Action: ActionManualMerge}
	default:
		return Decision{Status: StatusMergeClean, Action: ActionApplyMerge}
	}
}
