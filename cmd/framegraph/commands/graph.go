package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/framegraph/framegraph/pkg/graph"
	"github.com/framegraph/framegraph/pkg/scene"
)

func newGraphCommand() *cobra.Command {
	var cycles bool

	cmd := &cobra.Command{
		Use:   "graph <file>",
		Short: "Print the property dependency graph",
		Long: `Print the dependency graph between properties in Graphviz DOT format.

An edge a -> b means b reads a, through a ref, an expression naming a value
node, or prop().`,
		Example: `  # Render with graphviz
  framegraph graph intro.json | dot -Tsvg > intro.svg

  # Only list dependency cycles
  framegraph graph --cycles intro.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := scene.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			g := graph.Build(p)

			if !cycles {
				fmt.Fprint(out, g.ToDOT())
				return nil
			}

			found := g.FindCycles()
			if jsonOutput {
				loops := make([][]string, 0, len(found))
				for _, cycle := range found {
					loops = append(loops, cycleSteps(cycle))
				}
				return writeOutput(out, "json", loops)
			}
			if len(found) == 0 {
				fmt.Fprintln(out, "No cycles")
				return nil
			}
			for _, cycle := range found {
				fmt.Fprintln(out, strings.Join(cycleSteps(cycle), " -> "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cycles, "cycles", false, "list dependency cycles instead of the graph")

	return cmd
}

func cycleSteps(cycle []graph.PropKey) []string {
	steps := make([]string, len(cycle))
	for i, pk := range cycle {
		steps[i] = pk.String()
	}
	return steps
}
