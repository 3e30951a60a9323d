package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/framegraph/framegraph/pkg/engine"
	"github.com/framegraph/framegraph/pkg/scene"
)

func newInitCommand() *cobra.Command {
	var (
		force    bool
		example  bool
		duration float64
	)

	cmd := &cobra.Command{
		Use:   "init <file>",
		Short: "Create a new project",
		Long: `Create a new project file with a rectangle and a circle.

The format follows the extension: .yaml/.yml writes YAML, anything else JSON.
The first revision is recorded in the project store.

With --example the circle is animated by an expression over a value node
and follows the rectangle's y through a ref.`,
		Example: `  # Create an empty starter project
  framegraph init intro.json

  # Create a project showing expressions and refs
  framegraph init --example demo.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			ctx := cmd.Context()

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			p := scene.NewProject()
			p.Meta.Duration = duration
			eng := a.newEngine(p)

			for _, t := range []scene.NodeType{scene.NodeRect, scene.NodeCircle} {
				if _, err := eng.AddNode(ctx, t); err != nil {
					return err
				}
			}
			if example {
				if err := addExample(cmd, eng); err != nil {
					return err
				}
			}

			p = eng.Project()
			if err := scene.Save(path, p); err != nil {
				return err
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			_, rev, err := a.record(ctx, store, path, p, "init")
			if err != nil {
				return err
			}

			log.Debug().Str("path", path).Int("seq", rev.Seq).Msg("Project initialized")
			fmt.Fprintf(a.out, "Created %s with %d nodes\n", path, p.Len())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cmd.Flags().BoolVar(&example, "example", false, "add an animated example")
	cmd.Flags().Float64Var(&duration, "duration", 10, "project duration in seconds")

	return cmd
}

func addExample(cmd *cobra.Command, eng *engine.Engine) error {
	ctx := cmd.Context()

	speed, err := eng.AddNode(ctx, scene.NodeValue)
	if err != nil {
		return err
	}
	edits := []struct {
		node, key string
		patch     scene.Patch
	}{
		{speed, scene.ValueKey, scene.ValuePatch(40.0)},
		{"circle_1", "x", scene.FullPatch(scene.Expression("100 + " + speed + " * t"))},
		{"circle_1", "y", scene.FullPatch(scene.Ref("rect_1", "y"))},
	}
	for _, e := range edits {
		if err := eng.Set(ctx, e.node, e.key, e.patch); err != nil {
			return err
		}
	}
	return nil
}
