package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/songlake/internal/state"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs",
		Long: `List recent runs from the run ledger, newest first. With a run ID,
show the tables that run wrote.`,
		Example: `  # Last ten runs
  songlake runs

  # Tables written by one run
  songlake runs 0f8fad5b-d9cb-469f-a165-70867728950e`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			ledger, err := cmdCtx.OpenLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = ledger.Close() }()

			if len(args) == 1 {
				return showRun(cmd, cmdCtx, ledger, args[0])
			}
			return listRuns(cmd, cmdCtx, ledger, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum runs to list")
	return cmd
}

func listRuns(cmd *cobra.Command, c *CommandContext, ledger state.Store, limit int) error {
	runs, err := ledger.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(c.Out, "No runs recorded")
		return nil
	}

	t := newTable(c.Out, "RUN", "STATUS", "STARTED", "DURATION", "SELECTION", "ROWS")
	for _, run := range runs {
		results, err := ledger.TableResults(cmd.Context(), run.ID)
		if err != nil {
			return err
		}
		var rows []string
		for _, r := range results {
			rows = append(rows, fmt.Sprintf("%s=%d", r.Table, r.Rows))
		}

		selection := "all"
		if len(run.Selection) > 0 {
			selection = strings.Join(run.Selection, ",")
		}
		duration := "-"
		if run.CompletedAt != nil {
			duration = formatDuration(run.Duration())
		}

		t.AppendRow([]any{
			run.ID,
			run.Status,
			run.StartedAt.Local().Format(time.DateTime),
			duration,
			selection,
			strings.Join(rows, " "),
		})
	}
	t.Render()
	return nil
}

func showRun(cmd *cobra.Command, c *CommandContext, ledger state.Store, id string) error {
	run, err := ledger.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	results, err := ledger.TableResults(cmd.Context(), id)
	if err != nil {
		return err
	}

	w := c.Out
	_, _ = fmt.Fprintf(w, "Run:     %s\n", run.ID)
	_, _ = fmt.Fprintf(w, "Status:  %s\n", run.Status)
	_, _ = fmt.Fprintf(w, "Input:   %s\n", run.InputRoot)
	_, _ = fmt.Fprintf(w, "Output:  %s\n", run.OutputRoot)
	_, _ = fmt.Fprintf(w, "Started: %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:   %s\n", run.Error)
	}
	if len(results) == 0 {
		return nil
	}

	_, _ = fmt.Fprintln(w)
	t := newTable(w, "TABLE", "ROWS", "FILES", "DURATION")
	for _, r := range results {
		t.AppendRow([]any{r.Table, r.Rows, r.Files, formatDuration(r.Duration)})
	}
	t.Render()
	return nil
}
