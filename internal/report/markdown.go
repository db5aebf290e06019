package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MarkdownReporter implements the Reporter interface by saving reports as markdown files.
type MarkdownReporter struct {
	outputDir string
}

// NewMarkdownReporter creates a new MarkdownReporter.
func NewMarkdownReporter(outputDir string) *MarkdownReporter {
	return &MarkdownReporter{
		outputDir: outputDir,
	}
}

// Save writes the coverage report of run to report_<run id>.md.
func (r *MarkdownReporter) Save(run *Run) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	reportPath := filepath.Join(r.outputDir, fmt.Sprintf("report_%s.md", run.ID))
	if err := os.WriteFile(reportPath, []byte(Markdown(run)), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return reportPath, nil
}

// Markdown renders run as a markdown document.
func Markdown(run *Run) string {
	var b strings.Builder
	total := run.Totals()

	fmt.Fprintf(&b, "# Coverage Report: %s\n\n", run.ID)
	fmt.Fprintf(&b, "- **Started:** %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Duration:** %s\n", run.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "- **Methods:** %d\n", len(run.Results))
	fmt.Fprintf(&b, "- **Seeds:** %d\n", run.SeedCount())
	fmt.Fprintf(&b, "- **Branch coverage:** %d/%d (%.1f%%)\n", total.CoveredBranches, total.Branches, total.BranchCoverage())
	fmt.Fprintf(&b, "- **Vertex coverage:** %d/%d (%.1f%%)\n\n", total.CoveredVertices, total.Vertices, total.VertexCoverage())

	b.WriteString("## Summary\n\n")
	b.WriteString("| Method | Strategy | Phase | Iterations | Oracle Calls | Repairs | Branches | Vertices | Seeds |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|---|\n")
	for _, res := range run.Results {
		fmt.Fprintf(&b, "| `%s` | %s | %s | %d | %d | %d | %d/%d | %d/%d | %d |\n",
			res.Method, res.Strategy, res.Phase, res.Iterations, res.OracleCalls, res.Repairs,
			res.Stats.CoveredBranches, res.Stats.Branches,
			res.Stats.CoveredVertices, res.Stats.Vertices, len(res.Seeds))
	}
	b.WriteString("\n")

	for _, res := range run.Results {
		fmt.Fprintf(&b, "## %s\n\n", res.Method)
		fmt.Fprintf(&b, "**Phase:** %s in %s\n\n", res.Phase, res.Duration.Round(time.Millisecond))

		if uncovered := UncoveredBranches(res.Graph); len(uncovered) > 0 {
			b.WriteString("### Uncovered Branches\n\n")
			for _, u := range uncovered {
				fmt.Fprintf(&b, "- `%s` -> `%s`\n", u.Location, u.Target)
			}
			b.WriteString("\n")
			if res.Divergence != nil {
				b.WriteString(res.Divergence.Markdown())
				b.WriteString("\n")
			}
		}

		if len(res.Seeds) == 0 {
			b.WriteString("No inputs generated.\n\n")
			continue
		}
		b.WriteString("### Inputs\n\n")
		b.WriteString("| ID | Origin | Parent | Branch | Coverage + | Input |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, s := range res.Seeds {
			branch := s.Meta.Branch
			if branch == "" {
				branch = "-"
			}
			fmt.Fprintf(&b, "| %d | %s | %d | `%s` | %d | `%s` |\n",
				s.Meta.ID, s.Meta.Origin, s.Meta.ParentID, branch, s.Meta.CovIncrease, s.Content())
		}
		b.WriteString("\n")
	}

	return b.String()
}
