package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/framegraph/framegraph/pkg/config"
	"github.com/framegraph/framegraph/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var (
		lint    bool
		at      float64
		metrics string
	)

	cmd := &cobra.Command{
		Use:   "watch <file> <script>",
		Short: "Re-run a script whenever it or the project changes",
		Long: `Watch a script and a project file and re-run the script on every save.

Each run starts from a fresh copy of the project on disk; nothing is written
back. Console output and a summary are printed after every run. With --lint
the result is also checked against the lint policies, which reload when
their files change.`,
		Example: `  # Iterate on a layout script
  framegraph watch intro.json layout.star

  # Lint every result and serve Prometheus metrics
  framegraph watch --lint --metrics :9090 intro.json layout.star`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(cmd, func(cfg *config.Config) {
				if metrics != "" {
					cfg.Telemetry.Metrics.Enabled = true
					cfg.Telemetry.Metrics.ListenAddress = metrics
				}
			})
			if err != nil {
				return err
			}
			defer a.close()

			s := &watchSession{
				app:         a,
				cmd:         cmd,
				projectPath: args[0],
				scriptPath:  args[1],
				at:          at,
			}

			if lint && a.cfg.Policy.Enabled {
				s.lint, err = a.newPolicyEngine(ctx, nil)
				if err != nil {
					return err
				}
				if len(a.cfg.Policy.Paths) > 0 {
					if err := s.lint.Watch(ctx, a.cfg.Policy.Paths); err != nil {
						return err
					}
				}
			}

			go func() {
				if err := a.tel.Metrics.Serve(ctx, a.tel.Logger); err != nil {
					log.Error().Err(err).Msg("Metrics server failed")
				}
			}()

			return s.watch(ctx, a.cfg.Watch.Debounce)
		},
	}

	cmd.Flags().BoolVar(&lint, "lint", false, "lint the project after every run")
	cmd.Flags().Float64VarP(&at, "time", "t", -1, "also print the values at this time (negative: skip)")
	cmd.Flags().StringVar(&metrics, "metrics", "", "serve Prometheus metrics on this address")

	return cmd
}

type watchSession struct {
	app         *app
	cmd         *cobra.Command
	projectPath string
	scriptPath  string
	at          float64
	lint        *policy.Engine
}

// watch runs the script once, then again after every debounced change to
// the project or script, until ctx is cancelled.
func (s *watchSession) watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace files on save, so watch the directories.
	targets := map[string]bool{}
	dirs := map[string]bool{}
	for _, path := range []string{s.projectPath, s.scriptPath} {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	log.Info().
		Str("project", s.projectPath).
		Str("script", s.scriptPath).
		Msg("Watching for changes (Ctrl+C to stop)")

	s.runOnce(ctx)

	trigger := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("File changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case <-trigger:
			s.runOnce(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (s *watchSession) runOnce(ctx context.Context) {
	out := s.cmd.OutOrStdout()
	stamp := time.Now().Format(time.TimeOnly)

	src, err := readScript(s.cmd.InOrStdin(), s.scriptPath)
	if err != nil {
		fmt.Fprintf(out, "[%s] %v\n", stamp, err)
		return
	}
	p, err := loadProject(s.projectPath)
	if err != nil {
		fmt.Fprintf(out, "[%s] %v\n", stamp, err)
		return
	}

	s.app.tel.Console.Clear()
	eng := s.app.newEngine(p)
	res, err := eng.RunScript(ctx, src)
	printConsole(s.cmd.ErrOrStderr(), eng.Console(), 0)
	if err != nil {
		fmt.Fprintf(out, "[%s] script failed: %v\n", stamp, err)
		return
	}
	fmt.Fprintf(out, "[%s] %d edit(s) in %s, %d nodes\n",
		stamp, res.Commands, res.Duration.Round(time.Microsecond), eng.Project().Len())

	if s.at >= 0 {
		frame := eng.EvaluateFrame(ctx, s.at)
		if err := writeOutput(out, "json", frameOutput{Time: frame.Time, Values: frame.Export()}); err != nil {
			log.Error().Err(err).Msg("Failed to print frame")
		}
	}

	if s.lint != nil {
		result, err := s.lint.Evaluate(ctx, eng.Project())
		if err != nil {
			fmt.Fprintf(out, "[%s] lint failed: %v\n", stamp, err)
			return
		}
		printLint(s.cmd, s.projectPath, result)
	}
}
