// Package merge provides the line-based three-way merge used to combine local
// edits with upstream changes against a shared base.
package merge

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnmergeable is returned when a merge driver cannot process its inputs
var ErrUnmergeable = errors.New("inputs cannot be merged")

// Conflict marker labels, shared by every driver so output looks the same
const (
	LabelLocal    = "local"
	LabelBase     = "base"
	LabelUpstream = "upstream"

	MarkerLocal    = "<<<<<<< " + LabelLocal
	MarkerSep      = "======="
	MarkerUpstream = ">>>>>>> " + LabelUpstream
)

// Driver names accepted in configuration
const (
	DriverBuiltin = "builtin"
	DriverGit     = "git"
)

// Outcome classifies a completed merge
type Outcome int

const (
	OutcomeClean Outcome = iota
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeConflict:
		return "conflict"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is the merged text. On conflict Content carries inline markers.
type Result struct {
	Content   []byte
	Outcome   Outcome
	Conflicts int
}

// Merger performs a three-way merge of local and upstream against base.
// A returned error means no candidate output exists.
type Merger interface {
	Merge(ctx context.Context, local, base, upstream []byte) (*Result, error)
}
