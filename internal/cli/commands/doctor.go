package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/songlake/internal/duckdb"
	"github.com/leapstack-labs/songlake/internal/pipeline"
	"github.com/leapstack-labs/songlake/internal/storage"
)

// Check statuses.
const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// HealthCheck is the result of one environment check.
type HealthCheck struct {
	Name   string
	Status string
	Detail string
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that a run can start",
		Long: `Check the configuration, input and output roots, the DuckDB runtime
and the run ledger without building anything.

Exits with an error when any check fails. Warnings, such as an input root
with no matching files, do not fail the command.`,
		Example: `  songlake doctor
  songlake doctor --input s3://udacity-dend`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			checks := runChecks(cmd.Context(), cmdCtx)
			return renderChecks(cmdCtx, checks)
		},
	}
}

func runChecks(ctx context.Context, c *CommandContext) []HealthCheck {
	cfg := c.Cfg
	var checks []HealthCheck

	source := "defaults"
	if cfg.File != "" {
		source = cfg.File
	}
	checks = append(checks, HealthCheck{Name: "config", Status: StatusPass, Detail: source})

	checks = append(checks, checkInputs(ctx, c)...)
	checks = append(checks, checkOutput(ctx, c))
	checks = append(checks, checkRuntime(ctx, c))
	checks = append(checks, checkLedger(ctx, c))
	return checks
}

func checkInputs(ctx context.Context, c *CommandContext) []HealthCheck {
	p, err := c.Pipeline(nil)
	if err != nil {
		return []HealthCheck{{Name: "input", Status: StatusFail, Detail: err.Error()}}
	}
	preview, err := p.DryRun(ctx, nil)
	if err != nil {
		return []HealthCheck{{Name: "input", Status: StatusFail, Detail: err.Error()}}
	}

	globs := map[string]string{
		pipeline.StageCatalog: c.Cfg.Input.CatalogGlob,
		pipeline.StageEvents:  c.Cfg.Input.EventsGlob,
	}
	var checks []HealthCheck
	for _, stage := range []string{pipeline.StageCatalog, pipeline.StageEvents} {
		n := len(preview.Files[stage])
		check := HealthCheck{
			Name:   stage,
			Status: StatusPass,
			Detail: fmt.Sprintf("%d file(s) match %s", n, globs[stage]),
		}
		if n == 0 {
			check.Status = StatusWarn
		}
		checks = append(checks, check)
	}
	return checks
}

func checkOutput(ctx context.Context, c *CommandContext) HealthCheck {
	store, err := storage.Open(ctx, c.Cfg.Output.Root, c.Credentials(), c.Logger)
	if err != nil {
		return HealthCheck{Name: "output", Status: StatusFail, Detail: err.Error()}
	}
	return HealthCheck{
		Name:   "output",
		Status: StatusPass,
		Detail: fmt.Sprintf("%s (%s)", store.URI(), c.Cfg.Output.Compression),
	}
}

func checkRuntime(ctx context.Context, c *CommandContext) HealthCheck {
	db, err := duckdb.Open(ctx, c.PipelineConfig().Runtime, c.Logger)
	if err != nil {
		return HealthCheck{Name: "duckdb", Status: StatusFail, Detail: err.Error()}
	}
	defer func() { _ = db.Close() }()

	if err := db.Exec(ctx, "SELECT 1"); err != nil {
		return HealthCheck{Name: "duckdb", Status: StatusFail, Detail: err.Error()}
	}
	detail := "in-memory"
	if c.Cfg.Runtime.Database != "" {
		detail = c.Cfg.Runtime.Database
	}
	return HealthCheck{Name: "duckdb", Status: StatusPass, Detail: detail}
}

func checkLedger(ctx context.Context, c *CommandContext) HealthCheck {
	ledger, err := c.OpenLedger(ctx)
	if err != nil {
		return HealthCheck{Name: "ledger", Status: StatusFail, Detail: err.Error()}
	}
	defer func() { _ = ledger.Close() }()

	runs, err := ledger.ListRuns(ctx, 1)
	if err != nil {
		return HealthCheck{Name: "ledger", Status: StatusFail, Detail: err.Error()}
	}
	detail := c.Cfg.StatePath + ", no runs yet"
	if len(runs) > 0 {
		detail = fmt.Sprintf("%s, last run %s", c.Cfg.StatePath, runs[0].Status)
	}
	return HealthCheck{Name: "ledger", Status: StatusPass, Detail: detail}
}

func renderChecks(c *CommandContext, checks []HealthCheck) error {
	t := newTable(c.Out, "CHECK", "STATUS", "DETAIL")
	failed := 0
	for _, check := range checks {
		if check.Status == StatusFail {
			failed++
		}
		t.AppendRow([]any{check.Name, check.Status, check.Detail})
	}
	t.Render()

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
