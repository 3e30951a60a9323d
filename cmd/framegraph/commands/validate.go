package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/framegraph/framegraph/pkg/scene"
)

type validationReport struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var skipSchema bool

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a project file",
		Long: `Validate a project file.

This command checks:
  - Node and property structure (types, ids, ref syntax)
  - Layer list and selection point at existing nodes
  - Conformance to the CUE node schema

Semantic checks such as dangling refs and cycles are done by 'lint'.`,
		Example: `  # Validate a project
  framegraph validate intro.json

  # Machine-readable report
  framegraph validate --json intro.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			out := cmd.OutOrStdout()

			log.Debug().Str("path", path).Bool("skip_schema", skipSchema).Msg("Validating project")

			p, err := scene.Load(path)
			if err != nil {
				return err
			}

			report := validationReport{File: path, Valid: true}

			var verr *scene.ValidationError
			if err := scene.Validate(p); err != nil {
				if !errors.As(err, &verr) {
					return err
				}
				report.Problems = append(report.Problems, verr.Problems...)
			}

			if !skipSchema {
				registry, err := scene.Schema()
				if err != nil {
					return fmt.Errorf("failed to load node schema: %w", err)
				}
				if err := registry.ValidateProject(p); err != nil {
					report.Problems = append(report.Problems, err.Error())
				}
			}
			report.Valid = len(report.Problems) == 0

			if jsonOutput {
				if err := writeOutput(out, "json", report); err != nil {
					return err
				}
			} else if report.Valid {
				fmt.Fprintf(out, "%s: valid (%d nodes)\n", path, p.Len())
			} else {
				fmt.Fprintf(out, "%s: %d problem(s)\n", path, len(report.Problems))
				for _, problem := range report.Problems {
					fmt.Fprintf(out, "  - %s\n", problem)
				}
			}

			if !report.Valid {
				return fmt.Errorf("%s is not valid", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipSchema, "skip-schema", false, "skip CUE schema validation")

	return cmd
}
