package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/songlake/internal/pipeline"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	var sel []string
	var downstream bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the stage execution order",
		Long: `Display the stages a run would execute, grouped by level. Stages in
the same level do not depend on each other.`,
		Example: `  # Plan a full run
  songlake plan

  # Plan a partial run
  songlake plan --select users,songplays`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			p, err := cmdCtx.Pipeline(nil)
			if err != nil {
				return err
			}
			selected, err := resolveSelect(p, sel, downstream)
			if err != nil {
				return err
			}
			plan, err := p.Plan(selected)
			if err != nil {
				return err
			}
			printPlan(cmdCtx.Out, plan)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&sel, "select", "s", nil, "Comma-separated tables to plan")
	cmd.Flags().BoolVar(&downstream, "downstream", false, "Include tables that depend on the selection")
	return cmd
}

func printPlan(w io.Writer, plan *pipeline.Plan) {
	_, _ = fmt.Fprintf(w, "Execution plan (%d stages, %d levels)\n", len(plan.Stages()), len(plan.Levels))
	for i, level := range plan.Levels {
		_, _ = fmt.Fprintf(w, "  Level %d: %s\n", i, strings.Join(level, ", "))
	}
	if len(plan.Reused) > 0 {
		_, _ = fmt.Fprintf(w, "  Reads existing output: %s\n", strings.Join(plan.Reused, ", "))
	}
}
