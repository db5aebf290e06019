package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/zjy-dev/cfgds/internal/config"
	"github.com/zjy-dev/cfgds/internal/coverage"
	"github.com/zjy-dev/cfgds/internal/ir"
)

// NewInspectCommand creates the "inspect" subcommand.
func NewInspectCommand() *cobra.Command {
	var (
		target    config.TargetConfig
		method    string
		callDepth int
		mapping   string
		dump      bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the coverage graph of a method.",
		Long: `Print the coverage graph of a method without executing it: every
vertex with its kind, coverage, uncovered distance and weighted edges.

With --mapping, the vertices recorded in a run's coverage mapping are shown
as covered.

Examples:
  cfgds inspect --program demo.yaml --method Demo.sign
  cfgds inspect --program demo.yaml --method Demo.sign --mapping cfgds_out/coverage/Demo.sign.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := loadProgram(target)
			if err != nil {
				return err
			}
			methods, err := selectMethods(program, []string{method})
			if err != nil {
				return err
			}
			g, err := coverage.New(methods[0],
				coverage.WithCallDepth(callDepth),
				coverage.WithScope(target.OverrideScope))
			if err != nil {
				return fmt.Errorf("failed to build graph: %w", err)
			}
			if mapping != "" {
				m, err := coverage.LoadMapping(mapping)
				if err != nil {
					return err
				}
				g.Overlay(m)
			}

			out := cmd.OutOrStdout()
			if dump {
				spew.Fdump(out, graphView(g))
				return nil
			}
			printGraph(out, g)
			return nil
		},
	}

	cmd.Flags().StringVar(&target.Program, "program", "", "YAML program descriptor")
	cmd.Flags().StringSliceVar(&target.Packages, "packages", nil, "Go package patterns to load instead of a descriptor")
	cmd.Flags().StringVar(&target.Dir, "dir", "", "Directory the Go packages are loaded from")
	cmd.Flags().StringSliceVar(&target.OverrideScope, "scope", nil, "Class prefixes virtual calls expand into")
	cmd.Flags().StringVar(&method, "method", "", "Method to inspect, Class.name")
	cmd.Flags().IntVar(&callDepth, "call-depth", coverage.DefaultCallDepth, "Eager call expansion depth")
	cmd.Flags().StringVar(&mapping, "mapping", "", "Coverage mapping to overlay")
	cmd.Flags().BoolVar(&dump, "dump", false, "Dump vertices as Go values")
	_ = cmd.MarkFlagRequired("method")

	return cmd
}

// vertexView is the printable form of a vertex.
type vertexView struct {
	Key      string
	Kind     string
	Inst     string
	Covered  bool
	Distance int
	Tries    int
	Edges    map[string]int
}

func graphView(g *coverage.Graph) []vertexView {
	views := make([]vertexView, 0, len(g.Vertices()))
	for _, v := range g.Vertices() {
		view := vertexView{
			Key:      v.Key().String(),
			Kind:     v.Kind().String(),
			Inst:     v.Inst().String(),
			Covered:  v.IsCovered(),
			Distance: v.UncoveredDistance(),
			Tries:    v.Tries(),
			Edges:    make(map[string]int),
		}
		for _, w := range v.Successors() {
			weight, _ := v.Weight(w)
			view.Edges[w.Key().String()] = weight
		}
		views = append(views, view)
	}
	return views
}

func printGraph(out io.Writer, g *coverage.Graph) {
	stats := g.Stats()
	fmt.Fprintf(out, "graph %s: %d vertices (%d covered), %d branch edges (%d covered)\n",
		g.Root().FullName(), stats.Vertices, stats.CoveredVertices, stats.Branches, stats.CoveredBranches)

	var method *ir.Method
	for _, v := range g.Vertices() {
		if m := v.Block().Method(); m != method {
			method = m
			fmt.Fprintf(out, "\n%s\n", m.FullName())
		}
		mark := " "
		if v.IsCovered() {
			mark = "*"
		}
		dist := "-"
		if d := v.UncoveredDistance(); d != coverage.Unreachable {
			dist = fmt.Sprintf("%d", d)
		}
		fmt.Fprintf(out, "  %s %-28s %-10s dist=%-3s %s\n", mark, v.Key(), v.Kind(), dist, v.Inst())

		var edges []string
		for _, w := range v.Successors() {
			weight, _ := v.Weight(w)
			edges = append(edges, fmt.Sprintf("%s(%d)", w.Key(), weight))
		}
		if len(edges) > 0 {
			fmt.Fprintf(out, "      -> %s\n", strings.Join(edges, " "))
		}
	}
}
