package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/zjy-dev/cfgds/internal/search"
)

var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorBorder  = lipgloss.Color("#16858E")
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
)

// phaseStyle colors a phase by how the search ended.
func phaseStyle(p search.Phase) lipgloss.Style {
	switch p {
	case search.PhaseDone:
		return cellStyle.Foreground(colorSuccess)
	case search.PhaseExhausted, search.PhaseDeadline:
		return cellStyle.Foreground(colorWarning)
	default:
		return cellStyle.Foreground(colorError)
	}
}

// Summary renders run as a styled terminal table.
func Summary(run *Run) string {
	rows := make([][]string, 0, len(run.Results))
	for _, res := range run.Results {
		rows = append(rows, []string{
			res.Method,
			string(res.Phase),
			fmt.Sprintf("%d", res.Iterations),
			fmt.Sprintf("%d", res.OracleCalls),
			fmt.Sprintf("%d/%d (%.1f%%)", res.Stats.CoveredBranches, res.Stats.Branches, res.Stats.BranchCoverage()),
			fmt.Sprintf("%d", len(res.Seeds)),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers("METHOD", "PHASE", "ITER", "CALLS", "BRANCHES", "SEEDS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(run.Results) {
				return phaseStyle(run.Results[row].Phase)
			}
			return cellStyle
		})

	total := run.Totals()
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("cfgds run %s", run.ID)))
	b.WriteString("\n")
	b.WriteString(t.Render())
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%d methods, %d seeds, branch coverage %d/%d (%.1f%%) in %s",
		len(run.Results), run.SeedCount(), total.CoveredBranches, total.Branches, total.BranchCoverage(),
		run.Duration.Round(time.Millisecond))))
	b.WriteString("\n")
	return b.String()
}
