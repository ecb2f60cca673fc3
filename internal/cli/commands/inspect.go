package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/songlake/internal/inspect"
	"github.com/leapstack-labs/songlake/internal/storage"
	"github.com/leapstack-labs/songlake/internal/warehouse"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	var maxPartitions int

	cmd := &cobra.Command{
		Use:   "inspect <table>",
		Short: "Summarize a written table",
		Long: `Read the Parquet footers of a table under the output root and print its
row count, columns, codecs and partitions. Remote output is downloaded to a
temporary directory first.`,
		Example: `  songlake inspect songplays
  songlake inspect songs --partitions 5`,
		Args: cobra.ExactArgs(1),
		ValidArgsFunction: func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			var names []string
			for _, t := range warehouse.Tables {
				names = append(names, t.Name)
			}
			return names, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}

			tbl, ok := warehouse.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown table %q", args[0])
			}

			ctx := cmd.Context()
			store, err := storage.Open(ctx, cmdCtx.Cfg.Output.Root, cmdCtx.Credentials(), cmdCtx.Logger)
			if err != nil {
				return err
			}

			scratch, err := os.MkdirTemp(cmdCtx.Cfg.Runtime.ScratchDir, "songlake-inspect-")
			if err != nil {
				return err
			}
			defer func() { _ = os.RemoveAll(scratch) }()

			dir, err := store.Localize(ctx, tbl.Name, scratch)
			if err != nil {
				return err
			}
			summary, err := inspect.Summarize(ctx, dir, tbl.PartitionBy)
			if err != nil {
				return err
			}

			printSummary(cmdCtx, tbl.Name, store.URI(), summary, maxPartitions)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxPartitions, "partitions", 20, "Maximum partitions to list (0 for all)")
	return cmd
}

func printSummary(c *CommandContext, name, uri string, s *inspect.Summary, maxPartitions int) {
	w := c.Out
	_, _ = fmt.Fprintf(w, "Table:  %s\n", name)
	_, _ = fmt.Fprintf(w, "Path:   %s/%s\n", uri, name)
	_, _ = fmt.Fprintf(w, "Rows:   %d\n", s.Rows)
	_, _ = fmt.Fprintf(w, "Files:  %d (%d bytes)\n", s.Files, s.Bytes)
	if len(s.Codecs) > 0 {
		_, _ = fmt.Fprintf(w, "Codecs: %s\n", strings.Join(s.Codecs, ", "))
	}

	_, _ = fmt.Fprintln(w)
	cols := newTable(w, "COLUMN", "TYPE", "PARTITION")
	for _, col := range s.Columns {
		part := ""
		if col.Partition {
			part = "yes"
		}
		cols.AppendRow([]any{col.Name, col.Type, part})
	}
	cols.Render()

	if len(s.Partitions) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "\n%d partition(s)\n", len(s.Partitions))
	parts := newTable(w, "PARTITION", "FILES", "ROWS")
	for i, p := range s.Partitions {
		if maxPartitions > 0 && i == maxPartitions {
			parts.AppendFooter([]any{fmt.Sprintf("... %d more", len(s.Partitions)-i), "", ""})
			break
		}
		parts.AppendRow([]any{p.Path, p.Files, p.Rows})
	}
	parts.Render()
}
