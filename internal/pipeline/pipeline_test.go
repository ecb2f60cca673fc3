package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/songlake/internal/ingest"
	"github.com/leapstack-labs/songlake/internal/inspect"
	"github.com/leapstack-labs/songlake/internal/state"
	tu "github.com/leapstack-labs/songlake/internal/testutil"
	"github.com/leapstack-labs/songlake/internal/warehouse"
)

const (
	tsA = int64(1542837407796)
	tsB = int64(1542839397796)
)

type env struct {
	in, out string
	ledger  *state.SQLiteStore
	cfg     Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ledger, err := state.Open(context.Background(), ":memory:", tu.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	e := &env{in: t.TempDir(), out: t.TempDir(), ledger: ledger}
	e.cfg = Config{
		InputRoot:       e.in,
		OutputRoot:      e.out,
		ScratchDir:      t.TempDir(),
		Workers:         2,
		MetricsTextfile: filepath.Join(t.TempDir(), "songlake.prom"),
	}
	return e
}

func (e *env) seed(t *testing.T) {
	t.Helper()
	tu.WriteRecords(t, e.in, "song_data/A/A/A/TRAAAAW128F429D538.json",
		tu.CatalogEntry("SOIAAZG12AB01CD16B", "Rated R", "AR558FS1187FB45658", "Kitty Wells", 121.0, 2000))
	tu.WriteRecords(t, e.in, "song_data/A/A/B/TRAABJL12903CDCF1A.json",
		tu.CatalogEntry("SOBBUGU12A8C13E95D", "Setting Fire", "ARMAC4T1187FB3FA4C", "The Dillinger Escape Plan", 207.77751, 2004))
	tu.WriteRecords(t, e.in, "log_data/2018/11/2018-11-21-events.json",
		tu.PageView(tsA-1000, "26", "Home"),
		tu.SongPlay(tsA, "26", "Rated R", "Kitty Wells", 121.0),
		tu.SongPlay(tsA, "26", "Rated R", "Kitty Wells", 121.0),
		tu.SongPlay(tsB, nil, "Setting Fire", "The Dillinger Escape Plan", 207.77751),
		tu.SongPlay(tsB+1, "80", "Unknown", "Nobody", 10.0),
	)
}

func (e *env) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(e.cfg, e.ledger, tu.NewTestLogger(t))
	require.NoError(t, err)
	return p
}

func tableNames(reports []TableReport) []string {
	var out []string
	for _, r := range reports {
		out = append(out, r.Table)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{OutputRoot: "out"}, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{InputRoot: "in"}, nil, nil)
	assert.Error(t, err)

	p, err := New(Config{InputRoot: "in", OutputRoot: "out"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ingest.DefaultCatalogGlob, p.cfg.CatalogGlob)
	assert.Equal(t, ingest.DefaultEventsGlob, p.cfg.EventsGlob)
	assert.Equal(t, DefaultJob, p.cfg.MetricsJob)
	assert.Equal(t, []string{"catalog", "songs", "artists", "events", "users", "time", "songplays"}, p.Stages())
}

func TestPipeline_Plan(t *testing.T) {
	p, err := New(Config{InputRoot: "in", OutputRoot: "out"}, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		selected   []string
		wantLevels [][]string
		wantReused []string
		wantErr    bool
	}{
		{
			name:     "everything",
			selected: nil,
			wantLevels: [][]string{
				{"catalog", "events"},
				{"songs", "artists", "users", "time"},
				{"songplays"},
			},
		},
		{
			name:       "songplays reuses persisted dimensions",
			selected:   []string{"songplays"},
			wantLevels: [][]string{{"events"}, {"time"}, {"songplays"}},
			wantReused: []string{"songs", "artists"},
		},
		{
			name:       "songs and songplays",
			selected:   []string{"songs", "songplays"},
			wantLevels: [][]string{{"catalog", "events"}, {"songs", "time"}, {"songplays"}},
			wantReused: []string{"artists"},
		},
		{
			name:       "users only",
			selected:   []string{"users"},
			wantLevels: [][]string{{"events"}, {"users"}},
		},
		{
			name:     "unknown table",
			selected: []string{"plays"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := p.Plan(tt.selected)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevels, plan.Levels)
			assert.Equal(t, tt.wantReused, plan.Reused)
		})
	}
}

func TestPipeline_RunAll(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	ctx := context.Background()

	res, err := e.pipeline(t).Run(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"songs", "artists", "users", "time", "songplays"}, tableNames(res.Tables))
	assert.Equal(t, int64(5), res.Inputs[StageEvents].Records)
	assert.Equal(t, int64(4), res.Inputs[StageEvents].Retained)
	assert.Equal(t, 2, res.Inputs[StageCatalog].Files)
	assert.Equal(t, int64(1), res.Unmatched)

	rows := map[string]int64{}
	for _, r := range res.Tables {
		rows[r.Table] = r.Rows
	}
	assert.Equal(t, map[string]int64{
		"songs":     2,
		"artists":   2,
		"users":     2,
		"time":      3,
		"songplays": 2,
	}, rows)

	t.Run("output is readable parquet", func(t *testing.T) {
		s, err := inspect.Summarize(ctx, filepath.Join(e.out, "songplays"), warehouse.Songplays.PartitionBy)
		require.NoError(t, err)
		assert.Equal(t, int64(2), s.Rows)
		assert.Equal(t, []inspect.Partition{{Path: "year=2018/month=11", Files: 1, Rows: 2}}, s.Partitions)
	})

	t.Run("run is recorded", func(t *testing.T) {
		run, err := e.ledger.GetRun(ctx, res.RunID)
		require.NoError(t, err)
		assert.Equal(t, state.RunStatusCompleted, run.Status)
		assert.Equal(t, e.in, run.InputRoot)

		results, err := e.ledger.TableResults(ctx, res.RunID)
		require.NoError(t, err)
		assert.Len(t, results, 5)
	})

	t.Run("metrics are written", func(t *testing.T) {
		assert.InDelta(t, 1, testutil.ToFloat64(res.Metrics.EventsFiltered), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(res.Metrics.Unmatched), 0)
		assert.InDelta(t, 2, testutil.ToFloat64(res.Metrics.RowsWritten.WithLabelValues("songplays")), 0)
		assert.Positive(t, testutil.ToFloat64(res.Metrics.LastSuccess))

		body, err := os.ReadFile(e.cfg.MetricsTextfile)
		require.NoError(t, err)
		assert.Contains(t, string(body), `songlake_table_rows{job="songlake",table="songs"} 2`)
	})

	t.Run("scratch is cleaned up", func(t *testing.T) {
		entries, err := os.ReadDir(e.cfg.ScratchDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestPipeline_RunTwiceOverwrites(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	ctx := context.Background()

	_, err := e.pipeline(t).Run(ctx, nil)
	require.NoError(t, err)
	res, err := e.pipeline(t).Run(ctx, nil)
	require.NoError(t, err)

	s, err := inspect.Summarize(ctx, filepath.Join(e.out, "users"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Rows)
	assert.Equal(t, 1, s.Files)

	runs, err := e.ledger.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, res.RunID, runs[0].ID)
}

func TestPipeline_SelectSongplaysReadsPriorOutput(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	ctx := context.Background()

	_, err := e.pipeline(t).Run(ctx, nil)
	require.NoError(t, err)

	// Without the catalog the fact can only match through the written
	// songs and artists tables.
	require.NoError(t, os.RemoveAll(filepath.Join(e.in, "song_data")))

	res, err := e.pipeline(t).Run(ctx, []string{"songplays"})
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "songplays"}, tableNames(res.Tables))
	assert.NotContains(t, res.Inputs, StageCatalog)

	s, err := inspect.Summarize(ctx, filepath.Join(e.out, "songplays"), warehouse.Songplays.PartitionBy)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Rows)

	run, err := e.ledger.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{"songplays"}, run.Selection)
}

func TestPipeline_SelectSongplaysWithoutPriorOutput(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	ctx := context.Background()

	res, err := e.pipeline(t).Run(ctx, []string{"songplays"})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "stage songplays")

	run, gerr := e.ledger.GetRun(ctx, res.RunID)
	require.NoError(t, gerr)
	assert.Equal(t, state.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "stage songplays")

	// time was written before the failure
	assert.Equal(t, []string{"time"}, tableNames(res.Tables))
	assert.InDelta(t, 0, testutil.ToFloat64(res.Metrics.LastSuccess), 0)
}

func TestPipeline_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, e *env)
		check func(t *testing.T, err error)
	}{
		{
			name: "malformed event file",
			setup: func(t *testing.T, e *env) {
				e.seed(t)
				tu.WriteFile(t, e.in, "log_data/2018/11/broken.json", `{"page": "NextSong"`+"\n"+`[1, 2]`)
			},
			check: func(t *testing.T, err error) {
				var perr *ingest.ParseError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, "log_data/2018/11/broken.json", perr.Path)
			},
		},
		{
			name:  "no input",
			setup: func(*testing.T, *env) {},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ingest.ErrNoFiles)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			tt.setup(t, e)
			ctx := context.Background()

			res, err := e.pipeline(t).Run(ctx, nil)
			require.Error(t, err)
			tt.check(t, err)

			run, gerr := e.ledger.GetRun(ctx, res.RunID)
			require.NoError(t, gerr)
			assert.Equal(t, state.RunStatusFailed, run.Status)
			assert.NotEmpty(t, run.Error)
		})
	}
}

func TestPipeline_Cancelled(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := New(e.cfg, nil, tu.NewTestLogger(t))
	require.NoError(t, err)
	_, err = p.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(filepath.Join(e.out, "songs"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "nothing is written after cancellation")
}

func TestPipeline_CompleteRecordsCancellation(t *testing.T) {
	e := newEnv(t)
	p := e.pipeline(t)

	run, err := e.ledger.CreateRun(context.Background(), state.NewRun{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.complete(ctx, &Result{RunID: run.ID}, context.Canceled, p.logger)

	got, err := e.ledger.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusCancelled, got.Status)
}

func TestPipeline_DryRun(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	preview, err := e.pipeline(t).DryRun(context.Background(), []string{"users"})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"events"}, {"users"}}, preview.Plan.Levels)
	assert.Equal(t, map[string][]string{
		StageEvents: {"log_data/2018/11/2018-11-21-events.json"},
	}, preview.Files)

	entries, err := os.ReadDir(e.out)
	require.NoError(t, err)
	assert.Empty(t, entries)

	runs, err := e.ledger.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPipeline_WithDownstream(t *testing.T) {
	p, err := New(Config{InputRoot: "in", OutputRoot: "out"}, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		selected []string
		want     []string
		wantErr  bool
	}{
		{name: "persisted child", selected: []string{"songs"}, want: []string{"songs", "songplays"}},
		{name: "leaf", selected: []string{"users"}, want: []string{"users"}},
		{name: "input stage", selected: []string{"catalog"}, want: []string{"catalog", "songs", "artists", "songplays"}},
		{name: "no duplicates", selected: []string{"time", "songplays"}, want: []string{"time", "songplays"}},
		{name: "unknown", selected: []string{"plays"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.WithDownstream(tt.selected)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("plan rebuilds dimension before fact", func(t *testing.T) {
		selected, err := p.WithDownstream([]string{"songs"})
		require.NoError(t, err)
		plan, err := p.Plan(selected)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"catalog", "events"}, {"songs", "time"}, {"songplays"}}, plan.Levels)
		assert.Equal(t, []string{"artists"}, plan.Reused)
	})
}
