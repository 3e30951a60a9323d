package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/framegraph/framegraph/pkg/scene"
	"github.com/framegraph/framegraph/pkg/script"
	"github.com/framegraph/framegraph/pkg/stores"
)

func newRunCommand() *cobra.Command {
	var (
		message string
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "run <file> <script>",
		Short: "Run a Starlark script against a project",
		Long: `Execute a Starlark script as one transaction.

Every edit the script makes is applied together or not at all. On success the
project file is rewritten and a revision is recorded; failed runs are
recorded too. Use "-" to read the script from stdin.

Scripts get addNode, createVariable, removeNode, moveUp, moveDown, clear,
node and nodes, plus a handle per node (box.x = 10, box.link("y", other, "y")).
log, warn, error and print write to the console.`,
		Example: `  # Apply a script
  framegraph run intro.json layout.star

  # Preview the edits without saving
  framegraph run --dry-run intro.json layout.star

  # Pipe a one-liner
  echo 'addNode("circle")' | framegraph run intro.json -`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, scriptPath := args[0], args[1]
			ctx := cmd.Context()

			src, err := readScript(cmd.InOrStdin(), scriptPath)
			if err != nil {
				return err
			}

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

			log.Debug().
				Str("project", path).
				Str("script", scriptPath).
				Bool("dry_run", dryRun).
				Msg("Running script")

			startedAt := time.Now().UTC()
			res, runErr := eng.RunScript(ctx, src)
			printConsole(cmd.ErrOrStderr(), eng.Console(), 0)

			if dryRun {
				if runErr != nil {
					return runErr
				}
				fmt.Fprintf(a.out, "Script made %d edit(s); nothing saved (dry run)\n", res.Commands)
				return nil
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			proj, err := store.EnsureProject(ctx, projectName(path))
			if err != nil {
				return err
			}

			run := &stores.ScriptRun{
				ProjectID: proj.ID,
				Source:    src,
				StartedAt: startedAt,
			}

			if runErr != nil {
				msg := runErr.Error()
				run.Status = stores.RunStatusFailed
				run.Error = &msg
				run.Duration = time.Since(startedAt)
				recordRun(ctx, store, run)
				return runErr
			}

			run.Status = stores.RunStatusCompleted
			run.Commands = res.Commands
			run.Duration = res.Duration
			if res.ID != "" {
				run.ID = res.ID
			}

			if res.Commands == 0 {
				recordRun(ctx, store, run)
				fmt.Fprintln(a.out, "Script made no edits")
				return nil
			}

			updated := eng.Project()
			if err := scene.Save(path, updated); err != nil {
				return err
			}

			if message == "" {
				message = runMessage(scriptPath, res)
			}
			rev, err := store.SaveRevision(ctx, proj.ID, updated, message)
			if err != nil {
				return err
			}
			run.RevisionID = &rev.ID
			recordRun(ctx, store, run)

			fmt.Fprintf(a.out, "Applied %d edit(s) to %s (revision %d)\n", res.Commands, path, rev.Seq)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "revision message (default: the script name)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the script without saving")

	return cmd
}

func readScript(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

// recordRun stores a script run. Failures are only logged.
func recordRun(ctx context.Context, store stores.Store, run *stores.ScriptRun) {
	if err := store.CreateScriptRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("Failed to record script run")
	}
}

func runMessage(scriptPath string, res *script.Result) string {
	name := "stdin"
	if scriptPath != "-" {
		name = filepath.Base(scriptPath)
	}
	if res.Command != nil && res.Command.Name != "" {
		return fmt.Sprintf("run %s: %s", name, res.Command.Name)
	}
	return "run " + name
}
