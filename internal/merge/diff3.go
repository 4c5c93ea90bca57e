package merge

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// Builtin is a pure Go diff3 merger. Changes from both sides that overlap or
// touch the same base lines conflict unless they are identical.
type Builtin struct{}

// NewBuiltin creates the builtin merger
func NewBuiltin() *Builtin {
	return &Builtin{}
}

// hunk replaces base lines [start, end) with lines
type hunk struct {
	start int
	end   int
	lines []string
}

// Merge implements Merger
func (b *Builtin) Merge(ctx context.Context, local, base, upstream []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for name, body := range map[string][]byte{LabelLocal: local, LabelBase: base, LabelUpstream: upstream} {
		if bytes.IndexByte(body, 0) >= 0 {
			return nil, fmt.Errorf("%w: %s content is binary", ErrUnmergeable, name)
		}
	}

	baseText := string(base)
	baseLines := splitLines(baseText)

	localHunks, err := diffHunks(baseText, baseLines, string(local))
	if err != nil {
		return nil, fmt.Errorf("diff base..local: %w", err)
	}
	upstreamHunks, err := diffHunks(baseText, baseLines, string(upstream))
	if err != nil {
		return nil, fmt.Errorf("diff base..upstream: %w", err)
	}

	out, conflicts := merge3(baseLines, localHunks, upstreamHunks)

	res := &Result{
		Content:   []byte(strings.Join(out, "")),
		Outcome:   OutcomeClean,
		Conflicts: conflicts,
	}
	if conflicts > 0 {
		res.Outcome = OutcomeConflict
	}
	return res, nil
}

// diffHunks computes the line hunks turning base into other. Edits that touch
// are coalesced so that each hunk covers a maximal changed region.
func diffHunks(base string, baseLines []string, other string) ([]hunk, error) {
	edits := myers.ComputeEdits(span.URI("file:///base"), base, other)

	hunks := make([]hunk, 0, len(edits))
	for _, e := range edits {
		hunks = append(hunks, hunk{
			start: e.Span.Start().Line() - 1,
			end:   e.Span.End().Line() - 1,
			lines: splitLines(e.NewText),
		})
	}
	sort.SliceStable(hunks, func(i, j int) bool { return hunks[i].start < hunks[j].start })

	var merged []hunk
	for _, h := range hunks {
		if h.start < 0 || h.end < h.start || h.end > len(baseLines) {
			return nil, fmt.Errorf("%w: edit outside base (%d..%d)", ErrUnmergeable, h.start, h.end)
		}
		if n := len(merged); n > 0 && h.start <= merged[n-1].end {
			last := &merged[n-1]
			if h.end > last.end {
				last.end = h.end
			}
			last.lines = append(last.lines, h.lines...)
			continue
		}
		merged = append(merged, h)
	}

	// the hunks must reproduce other exactly; anything else is a diff bug we
	// refuse to build a merge on
	if got := strings.Join(applyHunks(baseLines, merged, 0, len(baseLines)), ""); got != other {
		return nil, fmt.Errorf("%w: line diff did not reproduce input", ErrUnmergeable)
	}

	return merged, nil
}

// merge3 walks both hunk lists in base order, grouping hunks whose regions
// overlap or touch, and emits the merged lines plus the number of conflicts.
func merge3(base []string, local, upstream []hunk) ([]string, int) {
	var out []string
	conflicts := 0
	pos, i, j := 0, 0, 0

	for i < len(local) || j < len(upstream) {
		var groupLocal, groupUpstream []hunk
		var gs, ge int

		if j >= len(upstream) || (i < len(local) && local[i].start <= upstream[j].start) {
			gs, ge = local[i].start, local[i].end
			groupLocal = append(groupLocal, local[i])
			i++
		} else {
			gs, ge = upstream[j].start, upstream[j].end
			groupUpstream = append(groupUpstream, upstream[j])
			j++
		}

		for {
			if i < len(local) && local[i].start <= ge {
				groupLocal = append(groupLocal, local[i])
				ge = max(ge, local[i].end)
				i++
				continue
			}
			if j < len(upstream) && upstream[j].start <= ge {
				groupUpstream = append(groupUpstream, upstream[j])
				ge = max(ge, upstream[j].end)
				j++
				continue
			}
			break
		}

		out = append(out, base[pos:gs]...)
		region := base[gs:ge]

		switch {
		case len(groupUpstream) == 0:
			out = append(out, applyHunks(base, groupLocal, gs, ge)...)
		case len(groupLocal) == 0:
			out = append(out, applyHunks(base, groupUpstream, gs, ge)...)
		default:
			ours := applyHunks(base, groupLocal, gs, ge)
			theirs := applyHunks(base, groupUpstream, gs, ge)
			switch {
			case equalLines(ours, theirs), equalLines(theirs, region):
				out = append(out, ours...)
			case equalLines(ours, region):
				out = append(out, theirs...)
			default:
				conflicts++
				out = append(out, MarkerLocal+"\n")
				out = append(out, terminated(ours)...)
				out = append(out, MarkerSep+"\n")
				out = append(out, terminated(theirs)...)
				out = append(out, MarkerUpstream+"\n")
			}
		}

		pos = ge
	}

	out = append(out, base[pos:]...)
	return out, conflicts
}

// applyHunks returns base[from:to] with hunks (all inside that range) applied
func applyHunks(base []string, hunks []hunk, from, to int) []string {
	var out []string
	p := from
	for _, h := range hunks {
		out = append(out, base[p:h.start]...)
		out = append(out, h.lines...)
		p = h.end
	}
	return append(out, base[p:to]...)
}

// terminated makes sure the last line ends in a newline so a marker follows on its own line
func terminated(lines []string) []string {
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		out := make([]string, n)
		copy(out, lines)
		out[n-1] += "\n"
		return out
	}
	return lines
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// splitLines splits text after each newline, keeping terminators
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
