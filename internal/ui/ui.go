package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/muesli/termenv"

	"github.com/schaermu/aixsync/internal/status"
	"github.com/schaermu/aixsync/internal/sync"
)

// Styles, initialized in Init().
var (
	headerStyle  lipgloss.Style
	successStyle lipgloss.Style
	warningStyle lipgloss.Style
	errorStyle   lipgloss.Style
	dimStyle     lipgloss.Style
	boldStyle    lipgloss.Style
)

func init() {
	Init(false)
}

// Init sets up color detection and styles. NO_COLOR is honored as well as noColor.
func Init(noColor bool) {
	// avoid the background color query on terminals that echo it back
	lipgloss.SetHasDarkBackground(true)

	if noColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle = lipgloss.NewStyle().Faint(true)
	boldStyle = lipgloss.NewStyle().Bold(true)
}

// statusStyle picks the color a status is rendered in
func statusStyle(s sync.Status) lipgloss.Style {
	switch s {
	case sync.StatusUnchanged, sync.StatusLocalModifiedOnly:
		return dimStyle
	case sync.StatusUpdateAvailable, sync.StatusMergeClean, sync.StatusLocalMissing:
		return successStyle
	case sync.StatusMergeConflict, sync.StatusUpstreamMissing, sync.StatusNoSnapshot:
		return warningStyle
	default:
		return errorStyle
	}
}

// SyncReport renders a run report as a table followed by the status summary
func SyncReport(w io.Writer, r *sync.Report) {
	mode := "staged"
	if r.Applied {
		mode = "applied"
	}

	fmt.Fprintln(w, headerStyle.Render("AIX Sync"))
	fmt.Fprintf(w, "- Repo: %s\n", r.RepoRoot)
	fmt.Fprintf(w, "- Framework: %s\n", orMissing(r.FrameworkRoot))
	fmt.Fprintf(w, "- Manifest: %s\n", r.Manifest)
	fmt.Fprintf(w, "- Output: %s\n", r.OutputDir)
	fmt.Fprintf(w, "- Mode: %s\n", mode)
	fmt.Fprintln(w)

	if len(r.Results) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  no tracked files"))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tPATH\tACTION\tRESULT")
	for _, res := range r.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			string(res.Status), displayPath(res.Path), string(res.Action), outcome(res))
	}
	_ = tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintln(w, boldStyle.Render("Summary"))
	for _, s := range r.Statuses() {
		fmt.Fprintf(w, "- %s: %d\n", statusStyle(s).Render(string(s)), r.Count(s))
	}
	if r.Errors > 0 {
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("%d entries failed", r.Errors)))
	}
}

// outcome describes what happened to the candidate content
func outcome(res sync.Result) string {
	switch {
	case res.Error != "":
		return "error: " + res.Error
	case res.Applied:
		return "applied"
	case res.Output != nil:
		return "staged at " + *res.Output
	default:
		return "-"
	}
}

// StatusReport renders a status report
func StatusReport(w io.Writer, r *status.Report) {
	fmt.Fprintln(w, headerStyle.Render("AIX Status"))
	fmt.Fprintf(w, "- Repo: %s\n", r.RepoRoot)
	fmt.Fprintf(w, "- Tier: %s (%s)\n", orNone(r.Tier), orNone(r.TierName))
	fmt.Fprintf(w, "- AIX Version: %s\n", orNone(r.AixVersion))
	fmt.Fprintf(w, "- Framework Version: %s\n", orNone(r.FrameworkVersion))
	fmt.Fprintf(w, "- Registry: %s\n", orMissing(r.RegistryPath))
	fmt.Fprintf(w, "- Manifest: %s\n", orMissing(r.ManifestPath))
	fmt.Fprintf(w, "- Manifest Files: %d\n", r.ManifestFiles)
	fmt.Fprintf(w, "- Snapshot Files: %d\n", r.SnapshotFiles)
	fmt.Fprintf(w, "- Guardrails Missing: %s\n", list(r.GuardrailsMissing))
	fmt.Fprintf(w, "- Adopted: %s\n", list(r.Adopted))
	fmt.Fprintf(w, "- Capabilities: %s\n", list(r.Capabilities))

	if len(r.Suggestions) > 0 {
		fmt.Fprintln(w, warningStyle.Render("Suggestions:"))
		for _, s := range r.Suggestions {
			fmt.Fprintf(w, "- %s\n", s)
		}
	}
}

// UnifiedDiff returns a unified diff turning before into after, or "" when they are equal
func UnifiedDiff(path string, before, after []byte) string {
	if string(before) == string(after) {
		return ""
	}

	edits := myers.ComputeEdits(span.URIFromPath(path), string(before), string(after))
	diff := fmt.Sprint(gotextdiff.ToUnified("a/"+path, "b/"+path, string(before), edits))
	return colorize(diff)
}

// colorize styles added and removed lines of a unified diff
func colorize(diff string) string {
	lines := strings.SplitAfter(diff, "\n")
	var b strings.Builder
	for _, line := range lines {
		body := strings.TrimSuffix(line, "\n")
		nl := line[len(body):]
		switch {
		case strings.HasPrefix(body, "---"), strings.HasPrefix(body, "+++"):
			b.WriteString(boldStyle.Render(body))
		case strings.HasPrefix(body, "@@"):
			b.WriteString(headerStyle.Render(body))
		case strings.HasPrefix(body, "+"):
			b.WriteString(successStyle.Render(body))
		case strings.HasPrefix(body, "-"):
			b.WriteString(errorStyle.Render(body))
		default:
			b.WriteString(body)
		}
		b.WriteString(nl)
	}
	return b.String()
}

func displayPath(p string) string {
	if p == "" {
		return "(empty)"
	}
	return p
}

func orNone(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}

func orMissing(s *string) string {
	if s == nil {
		return "missing"
	}
	return *s
}

func list(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
