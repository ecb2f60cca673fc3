package warehouse

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/songlake/internal/duckdb"
	"github.com/leapstack-labs/songlake/internal/ingest"
)

// Staging relations hold input rows in ingest order.
const (
	catalogStage = "stg_catalog"
	eventsStage  = "stg_events"
	catalogView  = "catalog_view"
)

var catalogStageColumns = []Column{
	{"seq", "BIGINT"},
	{"num_songs", "INTEGER"},
	{"artist_id", "VARCHAR"},
	{"artist_latitude", "DOUBLE"},
	{"artist_longitude", "DOUBLE"},
	{"artist_location", "VARCHAR"},
	{"artist_name", "VARCHAR"},
	{"song_id", "VARCHAR"},
	{"title", "VARCHAR"},
	{"duration", "DOUBLE"},
	{"year", "INTEGER"},
}

var eventsStageColumns = []Column{
	{"seq", "BIGINT"},
	{"artist", "VARCHAR"},
	{"auth", "VARCHAR"},
	{"first_name", "VARCHAR"},
	{"gender", "VARCHAR"},
	{"item_in_session", "INTEGER"},
	{"last_name", "VARCHAR"},
	{"length", "DOUBLE"},
	{"level", "VARCHAR"},
	{"location", "VARCHAR"},
	{"method", "VARCHAR"},
	{"page", "VARCHAR"},
	{"registration", "VARCHAR"},
	{"session_id", "VARCHAR"},
	{"song", "VARCHAR"},
	{"status", "INTEGER"},
	{"ts", "BIGINT"},
	{"user_agent", "VARCHAR"},
	{"user_id", "VARCHAR"},
}

// Builder derives the star schema tables inside a DuckDB session.
type Builder struct {
	db     *duckdb.Session
	logger *slog.Logger
}

// NewBuilder creates a builder on db.
func NewBuilder(db *duckdb.Session, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{db: db, logger: logger}
}

// LoadCatalog stages catalog rows.
func (b *Builder) LoadCatalog(ctx context.Context, rows []ingest.CatalogRow) error {
	if err := b.db.Exec(ctx, createTable(catalogStage, catalogStageColumns)); err != nil {
		return fmt.Errorf("failed to create catalog staging table: %w", err)
	}
	return b.db.Append(ctx, catalogStage, len(rows), func(i int) []driver.Value {
		r := rows[i]
		return []driver.Value{
			r.Seq,
			duckdb.Value(r.NumSongs),
			duckdb.Value(r.ArtistID),
			duckdb.Value(r.ArtistLatitude),
			duckdb.Value(r.ArtistLongitude),
			duckdb.Value(r.ArtistLocation),
			duckdb.Value(r.ArtistName),
			duckdb.Value(r.SongID),
			duckdb.Value(r.Title),
			duckdb.Value(r.Duration),
			duckdb.Value(r.Year),
		}
	})
}

// LoadEvents stages song-play events.
func (b *Builder) LoadEvents(ctx context.Context, rows []ingest.EventRow) error {
	if err := b.db.Exec(ctx, createTable(eventsStage, eventsStageColumns)); err != nil {
		return fmt.Errorf("failed to create events staging table: %w", err)
	}
	return b.db.Append(ctx, eventsStage, len(rows), func(i int) []driver.Value {
		r := rows[i]
		return []driver.Value{
			r.Seq,
			duckdb.Value(r.Artist),
			duckdb.Value(r.Auth),
			duckdb.Value(r.FirstName),
			duckdb.Value(r.Gender),
			duckdb.Value(r.ItemInSession),
			duckdb.Value(r.LastName),
			duckdb.Value(r.Length),
			duckdb.Value(r.Level),
			duckdb.Value(r.Location),
			duckdb.Value(r.Method),
			duckdb.Value(r.Page),
			duckdb.Value(r.Registration),
			duckdb.Value(r.SessionID),
			duckdb.Value(r.Song),
			duckdb.Value(r.Status),
			duckdb.Value(r.Ts),
			duckdb.Value(r.UserAgent),
			duckdb.Value(r.UserID),
		}
	})
}

// BuildSongs creates the songs table, keeping the first row seen for each
// song_id. Rows without a song_id are all kept.
func (b *Builder) BuildSongs(ctx context.Context) (int64, error) {
	return b.materialize(ctx, Songs, fmt.Sprintf(`
		SELECT song_id, title, artist_id, year, duration
		FROM %s
		QUALIFY song_id IS NULL OR row_number() OVER (PARTITION BY song_id ORDER BY seq) = 1
		ORDER BY seq`, catalogStage))
}

// BuildArtists creates the artists table. Artists are not deduplicated: an
// artist with several catalog entries appears once per entry.
func (b *Builder) BuildArtists(ctx context.Context) (int64, error) {
	return b.materialize(ctx, Artists, fmt.Sprintf(`
		SELECT artist_id, artist_name, artist_location, artist_latitude, artist_longitude
		FROM %s
		ORDER BY seq`, catalogStage))
}

// BuildUsers creates the users table with one row per non-null user_id,
// taken from the first event seen for that user.
func (b *Builder) BuildUsers(ctx context.Context) (int64, error) {
	return b.materialize(ctx, Users, fmt.Sprintf(`
		SELECT user_id, first_name, last_name, gender, level
		FROM %s
		WHERE user_id IS NOT NULL
		QUALIFY row_number() OVER (PARTITION BY user_id ORDER BY seq) = 1
		ORDER BY seq`, eventsStage))
}

// BuildTime creates the time table with one row per distinct event
// timestamp. Events without a timestamp are skipped.
func (b *Builder) BuildTime(ctx context.Context) (int64, error) {
	rows, err := b.db.Query(ctx, fmt.Sprintf(`
		SELECT ts FROM %s
		WHERE ts IS NOT NULL
		GROUP BY ts
		ORDER BY min(seq)`, eventsStage))
	if err != nil {
		return 0, fmt.Errorf("failed to read event timestamps: %w", err)
	}

	var parts []TimeParts
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		parts = append(parts, Decompose(ts))
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("error iterating timestamps: %w", err)
	}
	_ = rows.Close()

	if err := b.db.Exec(ctx, Time.DDL()); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", Time.Name, err)
	}
	err = b.db.Append(ctx, Time.Name, len(parts), func(i int) []driver.Value {
		p := parts[i]
		return []driver.Value{p.StartTime, p.Hour, p.Day, p.Week, p.Month, p.Year, p.Weekday}
	})
	if err != nil {
		return 0, err
	}

	b.logger.Debug("built table", "table", Time.Name, "rows", len(parts))
	return int64(len(parts)), nil
}

// SongplaysResult reports the fact build.
type SongplaysResult struct {
	Rows int64
	// Unmatched counts song plays whose (song, artist, length) found no
	// catalog entry.
	Unmatched int64
}

// BuildSongplays creates the songplays fact table. The catalog side is read
// from the persisted songs and artists output in songsDir and artistsDir,
// joined on artist_id, and matched to events on exact title, artist name and
// duration equality. The time table must already be built.
func (b *Builder) BuildSongplays(ctx context.Context, songsDir, artistsDir string) (SongplaysResult, error) {
	songsSrc, err := parquetSource(Songs, songsDir)
	if err != nil {
		return SongplaysResult{}, err
	}
	artistsSrc, err := parquetSource(Artists, artistsDir)
	if err != nil {
		return SongplaysResult{}, err
	}

	if err := b.db.Exec(ctx, fmt.Sprintf(`
		CREATE OR REPLACE TABLE %s AS
		SELECT s.song_id, s.title, s.artist_id, s.duration, a.artist_name
		FROM %s AS s
		JOIN %s AS a ON s.artist_id = a.artist_id`,
		catalogView, songsSrc, artistsSrc)); err != nil {
		return SongplaysResult{}, fmt.Errorf("failed to re-read catalog: %w", err)
	}

	rows, err := b.materialize(ctx, Songplays, fmt.Sprintf(`
		WITH matched AS (
			SELECT DISTINCT e.ts, e.user_id, e.level, c.artist_id, e.session_id, e.location, e.user_agent
			FROM %s AS e
			JOIN %s AS c
				ON e.song = c.title
				AND e.artist = c.artist_name
				AND e.length = c.duration
		)
		SELECT m.ts, m.user_id, m.level, m.artist_id, m.session_id, m.location, m.user_agent, t.year, t.month
		FROM matched AS m
		JOIN %s AS t ON m.ts = t.start_time
		ORDER BY m.ts`, eventsStage, catalogView, Time.Relation()))
	if err != nil {
		return SongplaysResult{}, err
	}

	unmatched, err := b.db.Count(ctx, fmt.Sprintf(`(
		SELECT 1 FROM %s AS e
		WHERE NOT EXISTS (
			SELECT 1 FROM %s AS c
			WHERE e.song = c.title AND e.artist = c.artist_name AND e.length = c.duration
		))`, eventsStage, catalogView))
	if err != nil {
		return SongplaysResult{}, err
	}

	return SongplaysResult{Rows: rows, Unmatched: unmatched}, nil
}

// materialize replaces t with the result of query and returns its row count.
func (b *Builder) materialize(ctx context.Context, t Table, query string) (int64, error) {
	createSQL := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", t.Relation(), query)
	if err := b.db.Exec(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}

	count, err := b.db.Count(ctx, t.Relation())
	if err != nil {
		return 0, err
	}
	b.logger.Debug("built table", "table", t.Name, "rows", count)
	return count, nil
}

// parquetSource returns a relation reading t's persisted output in dir. A
// directory without data files yields an empty relation of t's columns.
func parquetSource(t Table, dir string) (string, error) {
	found := false
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".parquet") {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan %s output in %s: %w", t.Name, dir, err)
	}
	if !found {
		return "(" + t.EmptySelect() + ")", nil
	}

	glob := duckdb.Literal(filepath.ToSlash(filepath.Join(dir, "**", "*.parquet")))
	if !t.Partitioned() {
		return fmt.Sprintf("read_parquet(%s)", glob), nil
	}
	return fmt.Sprintf("read_parquet(%s, hive_partitioning = true, hive_types = %s)", glob, t.HiveTypes()), nil
}
