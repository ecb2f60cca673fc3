package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/songlake/internal/cli/config"
	"github.com/leapstack-labs/songlake/internal/duckdb"
	"github.com/leapstack-labs/songlake/internal/pipeline"
	"github.com/leapstack-labs/songlake/internal/state"
	"github.com/leapstack-labs/songlake/internal/storage"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Out    io.Writer
}

// NewCommandContext resolves the config and logger for cmd.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, err
	}
	return &CommandContext{
		Cfg:    cfg,
		Logger: config.GetLogger(cmd.Context()),
		Out:    cmd.OutOrStdout(),
	}, nil
}

// getConfig returns the config loaded by the root command, or loads it from
// defaults, environment and cmd's flags when the command runs standalone.
func getConfig(cmd *cobra.Command) (*config.Config, error) {
	if cfg, ok := config.FromContext(cmd.Context()); ok {
		return cfg, nil
	}
	return config.Load("", cmd.Flags())
}

// Credentials converts the configured credentials for storage constructors.
func (c *CommandContext) Credentials() storage.Credentials {
	cr := c.Cfg.Credentials
	return storage.Credentials{
		AccessKeyID:        cr.AccessKeyID,
		SecretAccessKey:    cr.SecretAccessKey,
		SessionToken:       cr.SessionToken,
		Region:             cr.Region,
		Endpoint:           cr.Endpoint,
		PathStyle:          cr.PathStyle,
		GCSCredentialsFile: cr.GCSCredentialsFile,
	}
}

// PipelineConfig maps the CLI config onto the pipeline.
func (c *CommandContext) PipelineConfig() pipeline.Config {
	cfg := c.Cfg
	return pipeline.Config{
		InputRoot:   cfg.Input.Root,
		CatalogGlob: cfg.Input.CatalogGlob,
		EventsGlob:  cfg.Input.EventsGlob,
		OutputRoot:  cfg.Output.Root,
		Compression: cfg.Output.Compression,
		Credentials: c.Credentials(),
		Runtime: duckdb.Config{
			Path:        cfg.Runtime.Database,
			Threads:     cfg.Runtime.Threads,
			MemoryLimit: cfg.Runtime.MemoryLimit,
			TempDir:     cfg.Runtime.ScratchDir,
		},
		ScratchDir:      cfg.Runtime.ScratchDir,
		Workers:         cfg.Ingest.Workers,
		MetricsJob:      cfg.Metrics.Job,
		MetricsTextfile: cfg.Metrics.Textfile,
	}
}

// OpenLedger opens the run ledger, creating its directory if needed.
func (c *CommandContext) OpenLedger(ctx context.Context) (*state.SQLiteStore, error) {
	stateDir := filepath.Dir(c.Cfg.StatePath)
	if stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	return state.Open(ctx, c.Cfg.StatePath, c.Logger)
}

// Pipeline creates a pipeline recording into ledger, which may be nil.
func (c *CommandContext) Pipeline(ledger state.Store) (*pipeline.Pipeline, error) {
	return pipeline.New(c.PipelineConfig(), ledger, c.Logger)
}

// parseSelect splits a comma-separated selection, dropping blanks.
func parseSelect(s []string) []string {
	var out []string
	for _, item := range s {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// resolveSelect parses the --select values and, with downstream set, adds
// the stages that depend on them.
func resolveSelect(p *pipeline.Pipeline, raw []string, downstream bool) ([]string, error) {
	selected := parseSelect(raw)
	if !downstream || len(selected) == 0 {
		return selected, nil
	}
	return p.WithDownstream(selected)
}

// newTable returns a table writer rendering to w.
func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

// formatDuration rounds d for display.
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}
