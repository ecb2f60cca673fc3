package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/leapstack-labs/songlake/internal/dag"
	"github.com/leapstack-labs/songlake/internal/ingest"
	"github.com/leapstack-labs/songlake/internal/metrics"
	"github.com/leapstack-labs/songlake/internal/state"
	"github.com/leapstack-labs/songlake/internal/storage"
	"github.com/leapstack-labs/songlake/internal/warehouse"
)

// stage is one node of the pipeline graph. Stages with a table write it
// after run succeeds.
type stage struct {
	table *warehouse.Table
	run   func(x *execution, ctx context.Context) error
}

// stageEdges wires the graph. Songs and artists reach songplays only through
// their written output.
var stageEdges = []struct {
	from, to string
	kind     dag.EdgeKind
}{
	{StageCatalog, warehouse.Songs.Name, dag.Live},
	{StageCatalog, warehouse.Artists.Name, dag.Live},
	{StageEvents, warehouse.Users.Name, dag.Live},
	{StageEvents, warehouse.Time.Name, dag.Live},
	{StageEvents, warehouse.Songplays.Name, dag.Live},
	{warehouse.Time.Name, warehouse.Songplays.Name, dag.Live},
	{warehouse.Songs.Name, warehouse.Songplays.Name, dag.Persisted},
	{warehouse.Artists.Name, warehouse.Songplays.Name, dag.Persisted},
}

func newGraph() (*dag.Graph[stage], error) {
	g := dag.New[stage]()
	g.Add(StageCatalog, stage{run: (*execution).readCatalog})
	g.Add(warehouse.Songs.Name, stage{table: &warehouse.Songs, run: (*execution).buildSongs})
	g.Add(warehouse.Artists.Name, stage{table: &warehouse.Artists, run: (*execution).buildArtists})
	g.Add(StageEvents, stage{run: (*execution).readEvents})
	g.Add(warehouse.Users.Name, stage{table: &warehouse.Users, run: (*execution).buildUsers})
	g.Add(warehouse.Time.Name, stage{table: &warehouse.Time, run: (*execution).buildTime})
	g.Add(warehouse.Songplays.Name, stage{table: &warehouse.Songplays, run: (*execution).buildSongplays})

	for _, e := range stageEdges {
		if err := g.Connect(e.from, e.to, e.kind); err != nil {
			return nil, err
		}
	}
	if cycle := g.Cycle(); cycle != nil {
		return nil, fmt.Errorf("stage graph has a cycle: %v", cycle)
	}
	return g, nil
}

// execution is the state of one run.
type execution struct {
	cfg     Config
	output  storage.Store
	reader  *ingest.Reader
	builder *warehouse.Builder
	writer  *warehouse.Writer
	scratch string
	ledger  state.Store
	result  *Result
	logger  *slog.Logger
}

func (x *execution) metrics() *metrics.Job {
	return x.result.Metrics
}

func (x *execution) runStage(ctx context.Context, st stage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	if err := st.run(x, ctx); err != nil {
		return err
	}

	if st.table != nil {
		if err := x.write(ctx, *st.table, start); err != nil {
			return err
		}
	}
	return nil
}

func (x *execution) write(ctx context.Context, t warehouse.Table, start time.Time) error {
	wr, err := x.writer.Write(ctx, t)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	x.metrics().ObserveTable(t.Name, wr.Rows, wr.Files)
	x.metrics().ObserveStage(t.Name, elapsed)
	x.result.Tables = append(x.result.Tables, TableReport{
		Table:    t.Name,
		Rows:     wr.Rows,
		Files:    wr.Files,
		Duration: elapsed,
	})

	if x.ledger == nil {
		return nil
	}
	err = x.ledger.RecordTable(ctx, state.TableResult{
		RunID:    x.result.RunID,
		Table:    t.Name,
		Rows:     wr.Rows,
		Files:    wr.Files,
		Duration: elapsed,
	})
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", t.Name, err)
	}
	return nil
}

func (x *execution) observeRead(source string, stats ingest.Stats, start time.Time) {
	x.result.Inputs[source] = stats
	x.metrics().ObserveRead(source, stats.Records, stats.Retained, stats.Nulled)
	x.metrics().ObserveStage(source, time.Since(start))
	x.logger.Info("read input",
		"source", source,
		"files", stats.Files,
		"records", stats.Records,
		"retained", stats.Retained)
}

func (x *execution) readCatalog(ctx context.Context) error {
	start := time.Now()
	rows, stats, err := x.reader.ReadCatalog(ctx, x.cfg.CatalogGlob)
	if err != nil {
		return err
	}
	if err := x.builder.LoadCatalog(ctx, rows); err != nil {
		return err
	}
	x.observeRead(StageCatalog, stats, start)
	return nil
}

func (x *execution) readEvents(ctx context.Context) error {
	start := time.Now()
	rows, stats, err := x.reader.ReadEvents(ctx, x.cfg.EventsGlob)
	if err != nil {
		return err
	}
	if err := x.builder.LoadEvents(ctx, rows); err != nil {
		return err
	}
	x.observeRead(StageEvents, stats, start)
	return nil
}

func (x *execution) buildSongs(ctx context.Context) error {
	_, err := x.builder.BuildSongs(ctx)
	return err
}

func (x *execution) buildArtists(ctx context.Context) error {
	_, err := x.builder.BuildArtists(ctx)
	return err
}

func (x *execution) buildUsers(ctx context.Context) error {
	_, err := x.builder.BuildUsers(ctx)
	return err
}

func (x *execution) buildTime(ctx context.Context) error {
	_, err := x.builder.BuildTime(ctx)
	return err
}

// buildSongplays re-reads songs and artists from the output root, which
// holds this run's tables or, for a partial run, an earlier run's.
func (x *execution) buildSongplays(ctx context.Context) error {
	persisted := filepath.Join(x.scratch, "persisted")
	songsDir, err := x.output.Localize(ctx, warehouse.Songs.Name, persisted)
	if err != nil {
		return err
	}
	artistsDir, err := x.output.Localize(ctx, warehouse.Artists.Name, persisted)
	if err != nil {
		return err
	}

	res, err := x.builder.BuildSongplays(ctx, songsDir, artistsDir)
	if err != nil {
		return err
	}

	x.result.Unmatched = res.Unmatched
	x.metrics().Unmatched.Set(float64(res.Unmatched))
	if res.Unmatched > 0 {
		x.logger.Info("song plays without a catalog match", "count", res.Unmatched)
	}
	return nil
}
