package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/framegraph/framegraph/pkg/policy"
	"github.com/framegraph/framegraph/pkg/scene"
)

func newLintCommand() *cobra.Command {
	var (
		policyPaths []string
		enforce     bool
		disable     []string
	)

	cmd := &cobra.Command{
		Use:   "lint <file>",
		Short: "Check a project against lint policies",
		Long: `Evaluate OPA/rego policies against a project.

Built-in policies flag dangling refs, dependency cycles, expressions that do
not compile, out-of-range values, value nodes that expressions cannot name
and unlayered nodes. Extra .rego or .json policies are loaded from the
configured policy paths and --policies.

In advisory mode (the default) findings are reported and the command
succeeds. In enforcing mode, or with --enforce, error findings fail it.`,
		Example: `  # Lint with the built-in policies
  framegraph lint intro.json

  # Add house rules and fail on errors
  framegraph lint --policies ./policies --enforce intro.json

  # Skip a built-in policy
  framegraph lint --disable layer-order intro.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			ctx := cmd.Context()

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if !a.cfg.Policy.Enabled {
				fmt.Fprintln(a.out, "Policy checks are disabled in the configuration")
				return nil
			}

			p, err := scene.Load(path)
			if err != nil {
				return err
			}

			eng, err := a.newPolicyEngine(ctx, policyPaths)
			if err != nil {
				return err
			}
			for _, name := range disable {
				if err := eng.DisablePolicy(name); err != nil {
					return err
				}
			}

			result, err := eng.EvaluateInput(ctx, policy.NewInput(p, path))
			if err != nil {
				return err
			}

			log.Debug().
				Int("violations", len(result.Violations)).
				Dur("duration", result.Duration).
				Msg("Lint completed")

			if jsonOutput {
				if err := writeOutput(a.out, "json", result); err != nil {
					return err
				}
			} else {
				printLint(cmd, path, result)
			}

			if !result.Allowed && (enforce || a.cfg.Policy.Mode == "enforcing") {
				return fmt.Errorf("%s failed %d blocking check(s)",
					path, result.Count(policy.SeverityError)+result.Count(policy.SeverityCritical))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&policyPaths, "policies", "p", nil, "extra policy files or directories")
	cmd.Flags().BoolVar(&enforce, "enforce", false, "fail when a blocking finding is reported")
	cmd.Flags().StringSliceVar(&disable, "disable", nil, "policies to skip")

	return cmd
}

func printLint(cmd *cobra.Command, path string, result *policy.Result) {
	out := cmd.OutOrStdout()

	if len(result.Violations) == 0 {
		fmt.Fprintf(out, "%s: no findings (%d policies)\n", path, len(result.EvaluatedPolicies))
	}
	for _, v := range result.Violations {
		where := v.NodeID
		if v.Key != "" {
			where = scene.FormatRef(v.NodeID, v.Key)
		}
		if where == "" {
			where = path
		}
		fmt.Fprintf(out, "%-8s %-18s %s: %s\n", v.Severity, v.Policy, where, v.Message)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	if len(result.Violations) > 0 {
		fmt.Fprintf(out, "\n%d error(s), %d warning(s), %d info\n",
			result.Count(policy.SeverityError)+result.Count(policy.SeverityCritical),
			result.Count(policy.SeverityWarning),
			result.Count(policy.SeverityInfo))
	}
}
