// Package pipeline plans and executes the songlake stages.
//
// Stages form a graph: the two input readers feed the dimension builders,
// and the songplays fact depends on events and time in the same run and on
// the songs and artists tables through their persisted output. Selecting a
// subset of tables runs their live upstream closure; persisted parents are
// read from whatever the output root holds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/leapstack-labs/songlake/internal/dag"
	"github.com/leapstack-labs/songlake/internal/duckdb"
	"github.com/leapstack-labs/songlake/internal/ingest"
	"github.com/leapstack-labs/songlake/internal/metrics"
	"github.com/leapstack-labs/songlake/internal/state"
	"github.com/leapstack-labs/songlake/internal/storage"
	"github.com/leapstack-labs/songlake/internal/warehouse"
)

// Input stage names.
const (
	StageCatalog = "catalog"
	StageEvents  = "events"
)

// DefaultJob is the metrics job label used when none is configured.
const DefaultJob = "songlake"

// Config holds everything a run needs.
type Config struct {
	InputRoot   string
	CatalogGlob string
	EventsGlob  string

	OutputRoot  string
	Compression string

	Credentials storage.Credentials
	Runtime     duckdb.Config

	// ScratchDir holds per-run staging and downloaded outputs. Empty uses
	// the system temp directory.
	ScratchDir string
	Workers    int

	MetricsJob      string
	MetricsTextfile string
}

// Pipeline executes runs against one configuration.
type Pipeline struct {
	cfg    Config
	graph  *dag.Graph[stage]
	ledger state.Store
	logger *slog.Logger
}

// New creates a pipeline. ledger may be nil, in which case runs are not
// recorded.
func New(cfg Config, ledger state.Store, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.InputRoot == "" {
		return nil, errors.New("input root is required")
	}
	if cfg.OutputRoot == "" {
		return nil, errors.New("output root is required")
	}
	if cfg.CatalogGlob == "" {
		cfg.CatalogGlob = ingest.DefaultCatalogGlob
	}
	if cfg.EventsGlob == "" {
		cfg.EventsGlob = ingest.DefaultEventsGlob
	}
	if cfg.MetricsJob == "" {
		cfg.MetricsJob = DefaultJob
	}

	g, err := newGraph()
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, graph: g, ledger: ledger, logger: logger}, nil
}

// Stages returns every stage name in declaration order.
func (p *Pipeline) Stages() []string {
	return p.graph.IDs()
}

// Plan is the resolved execution order of a selection.
type Plan struct {
	Selected []string
	Levels   [][]string
	// Reused lists tables read back from the output root without being
	// rebuilt in this run.
	Reused []string
}

// Stages returns the planned stages in execution order.
func (pl *Plan) Stages() []string {
	var out []string
	for _, level := range pl.Levels {
		out = append(out, level...)
	}
	return out
}

// Plan resolves selected to the stages that must run. An empty selection
// means every stage.
func (p *Pipeline) Plan(selected []string) (*Plan, error) {
	if len(selected) == 0 {
		selected = p.graph.IDs()
	}

	closure, err := p.graph.Closure(selected)
	if err != nil {
		return nil, fmt.Errorf("invalid selection: %w", err)
	}
	levels, err := p.graph.Subgraph(closure).Levels()
	if err != nil {
		return nil, err
	}

	var reused []string
	for _, id := range closure {
		for _, parent := range p.graph.Parents(id) {
			kind, _ := p.graph.EdgeKind(parent, id)
			if kind == dag.Persisted && !slices.Contains(closure, parent) && !slices.Contains(reused, parent) {
				reused = append(reused, parent)
			}
		}
	}

	return &Plan{Selected: selected, Levels: levels, Reused: reused}, nil
}

// WithDownstream extends selected with every stage that depends on one of
// its members, through live or persisted edges.
func (p *Pipeline) WithDownstream(selected []string) ([]string, error) {
	out := slices.Clone(selected)
	for _, id := range selected {
		if _, ok := p.graph.Node(id); !ok {
			return nil, fmt.Errorf("invalid selection: unknown node %q", id)
		}
		for _, d := range p.graph.Downstream(id) {
			if !slices.Contains(out, d) {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// TableReport describes one table written by a run.
type TableReport struct {
	Table    string
	Rows     int64
	Files    int
	Duration time.Duration
}

// Result is the outcome of a run. It is returned alongside a run error with
// whatever completed before the failure.
type Result struct {
	RunID     string
	Plan      *Plan
	Inputs    map[string]ingest.Stats
	Tables    []TableReport
	Unmatched int64
	Duration  time.Duration
	Metrics   *metrics.Job
}

// Run executes the stages needed for selected. Every table written replaces
// its prior output; there is no rollback of tables written before a failure.
func (p *Pipeline) Run(ctx context.Context, selected []string) (*Result, error) {
	plan, err := p.Plan(selected)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := &Result{
		Plan:    plan,
		Inputs:  make(map[string]ingest.Stats),
		Metrics: metrics.NewJob(p.cfg.MetricsJob),
	}

	if p.ledger != nil {
		run, err := p.ledger.CreateRun(ctx, state.NewRun{
			Selection:  selected,
			InputRoot:  p.cfg.InputRoot,
			OutputRoot: p.cfg.OutputRoot,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		res.RunID = run.ID
	}

	logger := p.logger
	if res.RunID != "" {
		logger = logger.With("run_id", res.RunID)
	}
	logger.Info("starting run", "stages", plan.Stages(), "input", p.cfg.InputRoot, "output", p.cfg.OutputRoot)

	runErr := p.execute(ctx, plan, res, logger)

	res.Duration = time.Since(start)
	res.Metrics.Finish(res.Duration, runErr == nil, time.Now())
	if err := res.Metrics.WriteTextfile(p.cfg.MetricsTextfile); err != nil {
		logger.Warn("failed to write metrics", "error", err)
	}

	p.complete(ctx, res, runErr, logger)
	return res, runErr
}

func (p *Pipeline) complete(ctx context.Context, res *Result, runErr error, logger *slog.Logger) {
	status := state.RunStatusCompleted
	msg := ""
	switch {
	case errors.Is(runErr, context.Canceled):
		status = state.RunStatusCancelled
		msg = runErr.Error()
	case runErr != nil:
		status = state.RunStatusFailed
		msg = runErr.Error()
	}

	if runErr != nil {
		logger.Error("run failed", "status", status, "error", runErr, "duration", res.Duration)
	} else {
		logger.Info("run completed", "tables", len(res.Tables), "unmatched_events", res.Unmatched, "duration", res.Duration)
	}

	if p.ledger == nil {
		return
	}
	if err := p.ledger.CompleteRun(context.WithoutCancel(ctx), res.RunID, status, msg); err != nil {
		logger.Warn("failed to record run completion", "error", err)
	}
}

func (p *Pipeline) execute(ctx context.Context, plan *Plan, res *Result, logger *slog.Logger) error {
	input, err := storage.Open(ctx, p.cfg.InputRoot, p.cfg.Credentials, logger)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	output, err := storage.Open(ctx, p.cfg.OutputRoot, p.cfg.Credentials, logger)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}

	scratch, err := p.scratchDir()
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("failed to remove scratch directory", "path", scratch, "error", err)
		}
	}()

	db, err := duckdb.Open(ctx, p.cfg.Runtime, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	x := &execution{
		cfg:     p.cfg,
		output:  output,
		reader:  ingest.NewReader(input, ingest.Options{Workers: p.cfg.Workers, Logger: logger}),
		builder: warehouse.NewBuilder(db, logger),
		writer:  warehouse.NewWriter(db, output, filepath.Join(scratch, "staging"), p.cfg.Compression, logger),
		scratch: scratch,
		ledger:  p.ledger,
		result:  res,
		logger:  logger,
	}

	for _, name := range plan.Stages() {
		st, _ := p.graph.Node(name)
		if err := x.runStage(ctx, st); err != nil {
			return fmt.Errorf("stage %s: %w", name, err)
		}
	}
	return nil
}

func (p *Pipeline) scratchDir() (string, error) {
	base := p.cfg.ScratchDir
	if base != "" {
		if err := os.MkdirAll(base, 0o750); err != nil {
			return "", fmt.Errorf("failed to create scratch directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "songlake-run-")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return dir, nil
}

// Preview is a dry run: the plan and the input files it would read.
type Preview struct {
	Plan *Plan
	// Files maps each planned input stage to the files its pattern matches.
	Files map[string][]string
}

// DryRun resolves the plan and lists matching inputs without building or
// writing anything.
func (p *Pipeline) DryRun(ctx context.Context, selected []string) (*Preview, error) {
	plan, err := p.Plan(selected)
	if err != nil {
		return nil, err
	}

	input, err := storage.Open(ctx, p.cfg.InputRoot, p.cfg.Credentials, p.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}

	preview := &Preview{Plan: plan, Files: make(map[string][]string)}
	patterns := map[string]string{StageCatalog: p.cfg.CatalogGlob, StageEvents: p.cfg.EventsGlob}
	for _, name := range plan.Stages() {
		pattern, ok := patterns[name]
		if !ok {
			continue
		}
		files, err := input.Glob(ctx, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s input: %w", name, err)
		}
		preview.Files[name] = files
	}
	return preview, nil
}
