// Package divergence matches executions against intended static paths and
// builds the state that repairs the first point where they part.
package divergence

import (
	"fmt"
	"strings"

	"github.com/zjy-dev/cfgds/internal/coverage"
	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/logger"
	"github.com/zjy-dev/cfgds/internal/predicate"
	"github.com/zjy-dev/cfgds/internal/symbolic"
	"github.com/zjy-dev/cfgds/internal/trace"
)

// contextSize is how many matched locations a Point keeps.
const contextSize = 5

// Point is where a trace left an intended path.
type Point struct {
	// Index is the position of the diverged branch in the path.
	Index  int
	Branch *coverage.Vertex
	// Expected is the path vertex the branch should have led to.
	Expected *coverage.Vertex
	// Actual is the block the trace went to instead; nil when the trace
	// does not show it.
	Actual *ir.Block
	// Missing is set instead of Actual when the branch went the right way
	// but a later path vertex never appeared.
	Missing *coverage.Vertex

	// CommonPrefix holds the last matched locations before the branch.
	CommonPrefix []string

	step trace.Step
}

// Result is the outcome of matching one trace against one path.
type Result struct {
	// Matched counts the path vertices the trace visited in order.
	Matched  int
	Complete bool
	Point    *Point
	// State forces the diverged branch toward the path. It is nil when the
	// path was matched completely or no repair can be built.
	State *predicate.State
}

// NeedsRepair reports whether a repair state was produced.
func (r Result) NeedsRepair() bool { return r.State != nil }

// Matcher walks traces of one root method against paths of its graph.
type Matcher struct {
	root *ir.Method
}

// NewMatcher creates a Matcher for traces of root.
func NewMatcher(root *ir.Method) *Matcher {
	return &Matcher{root: root}
}

// Match replays t against path in lock-step. Path vertices must appear in
// the trace in order, and after each conditional path vertex the trace must
// continue into the next path vertex's block. The first conditional that
// goes elsewhere is the divergence point; the repair state replays t up to
// that occurrence and forces it toward the path.
func (m *Matcher) Match(t *trace.Trace, path coverage.Path) Result {
	vs := path.Vertices
	if len(vs) == 0 {
		return Result{Complete: true}
	}

	var (
		res        Result
		matched    []string
		lastBranch = -1
		lastStep   trace.Step
		diverged   *Point
	)

	trace.Walk(m.root, t, trace.Visitor{Step: func(_ *trace.Frame, s trace.Step) bool {
		j := res.Matched
		if s.Inst != vs[j].Inst() {
			return true
		}
		if vs[j].IsConditional() && j+1 < len(vs) && s.Next != vs[j+1].Block() {
			diverged = &Point{
				Index:    j,
				Branch:   vs[j],
				Expected: vs[j+1],
				Actual:   s.Next,
				step:     s,
			}
			return false
		}
		if vs[j].IsConditional() {
			lastBranch, lastStep = j, s
		}
		matched = append(matched, s.Inst.Location())
		res.Matched++
		return res.Matched < len(vs)
	}})

	if res.Matched == len(vs) {
		res.Complete = true
		logger.Debug("[Matcher] Trace follows the whole path (%d vertices)", len(vs))
		return res
	}

	if diverged == nil && lastBranch >= 0 {
		diverged = &Point{
			Index:    lastBranch,
			Branch:   vs[lastBranch],
			Expected: vs[lastBranch+1],
			Missing:  vs[res.Matched],
			step:     lastStep,
		}
	}
	if diverged == nil {
		logger.Debug("[Matcher] Trace never reaches %s", vs[0])
		return res
	}

	if n := len(matched) - contextSize; n > 0 {
		matched = matched[n:]
	}
	diverged.CommonPrefix = matched
	res.Point = diverged

	if diverged.Missing == nil {
		res.State = symbolic.BuildForced(m.root, t, symbolic.Force{
			Action: diverged.step.Action,
			Inst:   diverged.Branch.Inst(),
			Target: diverged.Expected.Block(),
		})
	}
	logger.Debug("[Matcher] %s", strings.TrimSpace(diverged.String()))
	return res
}

// String returns a human-readable description of the divergence point.
func (d *Point) String() string {
	if d == nil {
		return "no divergence"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Divergence at path index %d:\n", d.Index))
	sb.WriteString(fmt.Sprintf("  Branch: %s\n", d.Branch.Key()))
	sb.WriteString(fmt.Sprintf("  Expected: %s\n", d.Expected.Block()))
	switch {
	case d.Missing != nil:
		sb.WriteString(fmt.Sprintf("  Never reached: %s\n", d.Missing.Key()))
	case d.Actual != nil:
		sb.WriteString(fmt.Sprintf("  Taken: %s\n", d.Actual))
	default:
		sb.WriteString("  Taken: unknown (trace ends)\n")
	}
	if len(d.CommonPrefix) > 0 {
		sb.WriteString("  Common prefix: ")
		sb.WriteString(strings.Join(d.CommonPrefix, " → "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Markdown renders the divergence as the report section explaining where
// the last path repair of a method stopped.
func (d *Point) Markdown() string {
	if d == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("### Last Divergence\n\n")
	fmt.Fprintf(&sb, "The last path repair stopped at `%s` (path index %d).\n\n", d.Branch.Key(), d.Index)
	fmt.Fprintf(&sb, "- Expected successor: `%s`\n", d.Expected.Block())
	switch {
	case d.Missing != nil:
		fmt.Fprintf(&sb, "- Never reached: `%s`\n", d.Missing.Key())
	case d.Actual != nil:
		fmt.Fprintf(&sb, "- Taken successor: `%s`\n", d.Actual)
	}
	if len(d.CommonPrefix) > 0 {
		fmt.Fprintf(&sb, "- Matched before: %s\n", "`"+strings.Join(d.CommonPrefix, "`, `")+"`")
	}
	return sb.String()
}
