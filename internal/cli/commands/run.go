package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/songlake/internal/pipeline"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Select     []string
	Downstream bool
	DryRun     bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build and write the star schema tables",
		Long: `Read the song catalog and listening logs, build the songs, artists,
users, time and songplays tables, and write each as Parquet under the output
root, replacing what was there.

Use --select to build a subset. Stages the selection needs are included;
songplays reads songs and artists from their previously written output when
they are not selected.`,
		Example: `  # Build every table
  songlake run --input s3://udacity-dend --output s3://my-lake/sparkify

  # Rebuild the fact table against the existing dimensions
  songlake run --select songplays

  # Rebuild songs and everything that reads them
  songlake run --select songs --downstream

  # Show what would run and which input files match
  songlake run --dry-run`,
		Aliases: []string{"build"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Select, "select", "s", nil, "Comma-separated tables to build")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "Include tables that depend on the selection")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Plan and list inputs without building anything")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DryRun {
		p, err := cmdCtx.Pipeline(nil)
		if err != nil {
			return err
		}
		selected, err := resolveSelect(p, opts.Select, opts.Downstream)
		if err != nil {
			return err
		}
		preview, err := p.DryRun(ctx, selected)
		if err != nil {
			return err
		}
		printPreview(cmdCtx, preview)
		return nil
	}

	ledger, err := cmdCtx.OpenLedger(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close() }()

	p, err := cmdCtx.Pipeline(ledger)
	if err != nil {
		return err
	}
	selected, err := resolveSelect(p, opts.Select, opts.Downstream)
	if err != nil {
		return err
	}

	res, runErr := p.Run(ctx, selected)
	if res != nil {
		printResult(cmdCtx, res, runErr)
	}
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

func printPreview(c *CommandContext, preview *pipeline.Preview) {
	w := c.Out
	printPlan(w, preview.Plan)

	_, _ = fmt.Fprintln(w)
	for _, stage := range []string{pipeline.StageCatalog, pipeline.StageEvents} {
		files, ok := preview.Files[stage]
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s: %d file(s) under %s\n", stage, len(files), c.Cfg.Input.Root)
		if len(files) == 0 {
			_, _ = fmt.Fprintln(w, "  warning: no files match; the run would fail")
		}
	}
	_, _ = fmt.Fprintf(w, "\nOutput: %s\n", c.Cfg.Output.Root)
}

func printResult(c *CommandContext, res *pipeline.Result, runErr error) {
	w := c.Out

	if len(res.Tables) > 0 {
		t := newTable(w, "TABLE", "ROWS", "FILES", "DURATION")
		for _, tr := range res.Tables {
			t.AppendRow([]any{tr.Table, tr.Rows, tr.Files, formatDuration(tr.Duration)})
		}
		t.Render()
	}
	if res.Unmatched > 0 {
		_, _ = fmt.Fprintf(w, "%d song play(s) had no catalog match\n", res.Unmatched)
	}

	status := "completed"
	if runErr != nil {
		status = "failed"
	}
	id := res.RunID
	if id == "" {
		id = "(unrecorded)"
	}
	_, _ = fmt.Fprintf(w, "Run %s %s in %s (%s)\n",
		id, status, formatDuration(res.Duration), strings.Join(res.Plan.Stages(), ", "))
}

