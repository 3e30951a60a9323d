package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/framegraph/framegraph/pkg/scene"
	"github.com/framegraph/framegraph/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit    int
		runs     bool
		checkout int
	)

	cmd := &cobra.Command{
		Use:   "history <file>",
		Short: "Show stored revisions of a project",
		Long: `List the revisions recorded for a project file by init and run, newest
first. With --runs, list script runs instead, including failed ones.

--checkout writes an earlier revision back to the file and records it as a
new revision.`,
		Example: `  # Recent revisions
  framegraph history intro.json

  # Script runs as JSON
  framegraph history --runs --json intro.json

  # Restore revision 3
  framegraph history --checkout 3 intro.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			ctx := cmd.Context()

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			proj, err := store.GetProjectByName(ctx, projectName(path))
			if errors.Is(err, stores.ErrNotFound) {
				return fmt.Errorf("no history for %s (run 'framegraph init' or 'framegraph run' first)", path)
			}
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("checkout") {
				rev, err := findRevision(cmd, store, proj.ID, checkout)
				if err != nil {
					return err
				}
				p, err := rev.Project()
				if err != nil {
					return err
				}
				if err := scene.Save(path, p); err != nil {
					return err
				}
				saved, err := store.SaveRevision(ctx, proj.ID, p, fmt.Sprintf("checkout %d", rev.Seq))
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Restored revision %d to %s (revision %d)\n", rev.Seq, path, saved.Seq)
				return nil
			}

			if runs {
				list, err := store.ListScriptRuns(ctx, proj.ID, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeOutput(a.out, "json", list)
				}
				w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "STARTED\tSTATUS\tEDITS\tDURATION\tERROR")
				for _, r := range list {
					msg := ""
					if r.Error != nil {
						msg = *r.Error
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
						r.StartedAt.Local().Format(time.DateTime), r.Status, r.Commands,
						r.Duration.Round(time.Millisecond), msg)
				}
				return w.Flush()
			}

			list, err := store.ListRevisions(ctx, proj.ID, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeOutput(a.out, "json", list)
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tCREATED\tNODES\tMESSAGE")
			for _, r := range list {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n",
					r.Seq, r.CreatedAt.Local().Format(time.DateTime), r.Nodes, r.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to list")
	cmd.Flags().BoolVar(&runs, "runs", false, "list script runs instead of revisions")
	cmd.Flags().IntVar(&checkout, "checkout", 0, "restore the revision with this sequence number")

	return cmd
}

// findRevision pages through the revisions of projectID for seq.
func findRevision(cmd *cobra.Command, store stores.Store, projectID string, seq int) (*stores.Revision, error) {
	const page = 100
	for offset := 0; ; offset += page {
		list, err := store.ListRevisions(cmd.Context(), projectID, page, offset)
		if err != nil {
			return nil, err
		}
		for _, r := range list {
			if r.Seq == seq {
				return store.GetRevision(cmd.Context(), r.ID)
			}
		}
		if len(list) < page {
			return nil, fmt.Errorf("revision %d: %w", seq, stores.ErrNotFound)
		}
	}
}
