package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/framegraph/framegraph/pkg/engine"
	"github.com/framegraph/framegraph/pkg/eval"
)

type frameOutput struct {
	Time   float64                   `json:"time" yaml:"time"`
	Values map[string]map[string]any `json:"values" yaml:"values"`
}

func newEvalCommand() *cobra.Command {
	var (
		at       float64
		format   string
		nodes    []string
		showLogs bool
		rng      engine.FrameRange
		audio    eval.AudioData
	)

	cmd := &cobra.Command{
		Use:   "eval <file>",
		Short: "Evaluate a project at a point in time",
		Long: `Resolve every property of a project at one time, or at every frame of a
range when --end is given.

Expressions see t (seconds), the audio levels as ctx.bass, ctx.mid,
ctx.high and ctx.treble, and every value node by its id. Expression errors resolve to 0 and are
reported on the console with --logs.`,
		Example: `  # Values at t=2.5 as JSON
  framegraph eval intro.json --time 2.5

  # One node as YAML
  framegraph eval intro.json --time 1 --node circle_1 --format yaml

  # Every frame of the first second at 24 fps
  framegraph eval intro.json --start 0 --end 1 --fps 24

  # Drive audio-reactive expressions
  framegraph eval intro.json --time 3 --bass 0.8`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			ctx := cmd.Context()
			format = outputFormat(format)

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := loadProject(path)
			if err != nil {
				return err
			}

			eng := a.newEngine(p)
			applyAudioFlags(cmd, eng, audio)

			var frames []*eval.Frame
			if cmd.Flags().Changed("end") {
				log.Debug().
					Float64("start", rng.Start).
					Float64("end", rng.End).
					Float64("fps", rng.FPS).
					Msg("Evaluating range")
				frames, err = eng.EvaluateRange(ctx, rng)
				if err != nil {
					return err
				}
			} else {
				if !cmd.Flags().Changed("time") {
					at = p.Meta.CurrentTime
				}
				frames = []*eval.Frame{eng.EvaluateFrame(ctx, at)}
			}

			out := make([]frameOutput, len(frames))
			for i, f := range frames {
				out[i] = frameOutput{Time: f.Time, Values: filterNodes(f.Export(), nodes)}
			}

			if showLogs {
				printConsole(cmd.ErrOrStderr(), eng.Console(), 0)
			}

			if len(out) == 1 && !cmd.Flags().Changed("end") {
				return writeOutput(a.out, format, out[0])
			}
			return writeOutput(a.out, format, out)
		},
	}

	cmd.Flags().Float64VarP(&at, "time", "t", 0, "time in seconds (default: the project's current time)")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	cmd.Flags().StringSliceVarP(&nodes, "node", "n", nil, "only output these nodes")
	cmd.Flags().BoolVar(&showLogs, "logs", false, "print console output to stderr")
	cmd.Flags().Float64Var(&rng.Start, "start", 0, "range start in seconds")
	cmd.Flags().Float64Var(&rng.End, "end", 0, "range end in seconds; enables range mode")
	cmd.Flags().Float64Var(&rng.FPS, "fps", 30, "frames per second in range mode")
	cmd.Flags().Float64Var(&audio.Bass, "bass", 0, "bass level 0..1")
	cmd.Flags().Float64Var(&audio.Mid, "mid", 0, "mid level 0..1")
	cmd.Flags().Float64Var(&audio.High, "high", 0, "high level 0..1")
	cmd.Flags().Float64Var(&audio.Treble, "treble", 0, "treble level 0..1")

	return cmd
}

// applyAudioFlags overrides the configured audio levels with any flag given.
func applyAudioFlags(cmd *cobra.Command, eng *engine.Engine, flags eval.AudioData) {
	levels := eng.Audio()
	set := func(name string, dst *float64, v float64) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("bass", &levels.Bass, flags.Bass)
	set("mid", &levels.Mid, flags.Mid)
	set("high", &levels.High, flags.High)
	set("treble", &levels.Treble, flags.Treble)
	eng.SetAudio(levels)
}

func filterNodes(values map[string]map[string]any, nodes []string) map[string]map[string]any {
	if len(nodes) == 0 {
		return values
	}
	out := make(map[string]map[string]any, len(nodes))
	for _, id := range nodes {
		if v, ok := values[id]; ok {
			out[id] = v
		}
	}
	return out
}
