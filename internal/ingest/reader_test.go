package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/songlake/internal/storage"
	"github.com/leapstack-labs/songlake/internal/testutil"
)

func newReader(t *testing.T, root string) *Reader {
	t.Helper()
	return NewReader(storage.NewLocal(root), Options{Workers: 2, Logger: testutil.NewTestLogger(t)})
}

func TestReadCatalog(t *testing.T) {
	root := t.TempDir()
	testutil.WriteRecords(t, root, "song_data/A/B/C/TRB.json",
		testutil.CatalogEntry("S2", "Song Two", "AR2", "Artist Two", 200.5, 2001))
	testutil.WriteRecords(t, root, "song_data/A/A/A/TRA.json",
		testutil.CatalogEntry("S1", "Song One", "AR1", "Artist One", 121.0, 0))
	testutil.WriteRecords(t, root, "song_data/B/A/A/TRZ.json",
		testutil.CatalogEntry("S9", "Outside", "AR9", "Nobody", 1, 1))

	rows, stats, err := newReader(t, root).ReadCatalog(context.Background(), DefaultCatalogGlob)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "S1", *rows[0].SongID)
	assert.Equal(t, int64(0), rows[0].Seq)
	assert.Equal(t, "S2", *rows[1].SongID)
	assert.Equal(t, int64(1), rows[1].Seq)
	assert.Equal(t, int32(0), *rows[0].Year)

	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, int64(2), stats.Records)
	assert.Equal(t, int64(2), stats.Retained)
	assert.Empty(t, stats.Nulled)
}

func TestReadCatalog_CoercesBadNumbers(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "song_data/A/A/A/TRA.json",
		`{"song_id": "S1", "year": "nineteen", "duration": "long", "artist_latitude": 35.1}`)

	rows, stats, err := newReader(t, root).ReadCatalog(context.Background(), DefaultCatalogGlob)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Year)
	assert.Nil(t, rows[0].Duration)
	assert.Nil(t, rows[0].Title)
	assert.Equal(t, 35.1, *rows[0].ArtistLatitude)
	assert.Equal(t, map[string]int64{"year": 1, "duration": 1}, stats.Nulled)
}

func TestReadEvents_FiltersNextSong(t *testing.T) {
	root := t.TempDir()
	testutil.WriteRecords(t, root, "log_data/2018/11/2018-11-01-events.json",
		testutil.PageView(1541105830796, "39", "Home"),
		testutil.SongPlay(1541106106796, "8", "Rated R", "Kitty Wells", 121.0),
		testutil.PageView(1541106132796, "", "Logout"),
		testutil.SongPlay(1541106352796, nil, "Rated R", "Kitty Wells", 121.0),
	)

	rows, stats, err := newReader(t, root).ReadEvents(context.Background(), DefaultEventsGlob)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.True(t, row.IsSongPlay())
	}
	assert.Equal(t, int64(1), rows[0].Seq)
	assert.Equal(t, int64(3), rows[1].Seq)
	assert.Equal(t, "8", *rows[0].UserID)
	assert.Nil(t, rows[1].UserID)
	assert.Equal(t, "583", *rows[0].SessionID)

	assert.Equal(t, int64(4), stats.Records)
	assert.Equal(t, int64(2), stats.Retained)
}

func TestReadEvents_ConcatenatedObjects(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "log_data/2018/11/a.json",
		`{"page":"NextSong","ts":1}{"page":"NextSong","ts":2}  {"page":"Home","ts":3}`)

	rows, _, err := newReader(t, root).ReadEvents(context.Background(), DefaultEventsGlob)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), *rows[1].Ts)
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		record  int
	}{
		{"syntax error", `{"page":"NextSong"}` + "\n" + `{"page" "NextSong"}`, 2},
		{"top-level array", `[{"page":"NextSong"}]`, 1},
		{"top-level scalar", `{"page":"NextSong"}` + "\n42", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			testutil.WriteRecords(t, root, "log_data/2018/11/a.json", testutil.SongPlay(1, "1", "s", "a", 1))
			testutil.WriteFile(t, root, "log_data/2018/11/b.json", tt.content)

			_, _, err := newReader(t, root).ReadEvents(context.Background(), DefaultEventsGlob)
			require.Error(t, err)

			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "log_data/2018/11/b.json", perr.Path)
			assert.Equal(t, tt.record, perr.Record)
		})
	}
}

func TestRead_NoFiles(t *testing.T) {
	_, _, err := newReader(t, t.TempDir()).ReadCatalog(context.Background(), DefaultCatalogGlob)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestRead_Canceled(t *testing.T) {
	root := t.TempDir()
	testutil.WriteRecords(t, root, "log_data/2018/11/a.json", testutil.SongPlay(1, "1", "s", "a", 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newReader(t, root).ReadEvents(ctx, DefaultEventsGlob)
	assert.ErrorIs(t, err, context.Canceled)
}
