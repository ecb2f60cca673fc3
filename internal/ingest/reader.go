// Package ingest reads the catalog and listening-log inputs into typed rows.
//
// Files are listed through a storage.Store, sorted by name, and parsed
// concurrently. Rows come back in file order then record order, and each row
// carries its position in that order as Seq so later stages can break ties
// deterministically.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/songlake/internal/schema"
	"github.com/leapstack-labs/songlake/internal/storage"
)

// Default input patterns, relative to the input root.
const (
	DefaultCatalogGlob = "song_data/A/*/*/*.json"
	DefaultEventsGlob  = "log_data/*/*/*.json"
)

// ErrNoFiles is returned when an input pattern matches nothing.
var ErrNoFiles = errors.New("no input files matched")

// ParseError reports a file that is not a stream of JSON objects. Record is
// the 1-based index of the offending value within the file.
type ParseError struct {
	Path   string
	Record int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: record %d: %v", e.Path, e.Record, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Stats summarizes one read.
type Stats struct {
	Files    int
	Records  int64
	Retained int64
	// Nulled counts, per field, values that were present but had the wrong
	// kind and were read as null.
	Nulled map[string]int64
}

// CatalogRow is a catalog record and its ingest position.
type CatalogRow struct {
	Seq int64
	schema.CatalogItem
}

// EventRow is a listening event and its ingest position.
type EventRow struct {
	Seq int64
	schema.Event
}

// Options configures a Reader.
type Options struct {
	// Workers bounds concurrent file parsing. Zero means runtime.NumCPU().
	Workers int
	Logger  *slog.Logger
}

// Reader parses input files from a store.
type Reader struct {
	store   storage.Store
	workers int
	logger  *slog.Logger
}

// NewReader creates a reader over store.
func NewReader(store storage.Store, opts Options) *Reader {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reader{store: store, workers: workers, logger: logger}
}

// ReadCatalog parses every catalog file matching pattern.
func (r *Reader) ReadCatalog(ctx context.Context, pattern string) ([]CatalogRow, Stats, error) {
	return readAll(ctx, r, pattern,
		func(seq int64, d *schema.Decoder) (CatalogRow, bool) {
			return CatalogRow{Seq: seq, CatalogItem: schema.DecodeCatalogItem(d)}, true
		})
}

// ReadEvents parses every log file matching pattern and keeps only song
// plays.
func (r *Reader) ReadEvents(ctx context.Context, pattern string) ([]EventRow, Stats, error) {
	return readAll(ctx, r, pattern,
		func(seq int64, d *schema.Decoder) (EventRow, bool) {
			row := EventRow{Seq: seq, Event: schema.DecodeEvent(d)}
			return row, row.IsSongPlay()
		})
}

func readAll[T any](
	ctx context.Context,
	r *Reader,
	pattern string,
	decode func(seq int64, d *schema.Decoder) (T, bool),
) ([]T, Stats, error) {
	stats := Stats{Nulled: map[string]int64{}}

	names, err := r.store.Glob(ctx, pattern)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to list %s: %w", pattern, err)
	}
	if len(names) == 0 {
		return nil, stats, fmt.Errorf("%w: %s under %s", ErrNoFiles, pattern, r.store.URI())
	}
	stats.Files = len(names)

	results := make([][]schema.Object, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, name := range names {
		g.Go(func() error {
			objects, err := r.parseFile(gctx, name)
			if err != nil {
				return err
			}
			results[i] = objects
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	var rows []T
	var seq int64
	for _, objects := range results {
		for _, obj := range objects {
			d := schema.NewDecoder(obj)
			row, keep := decode(seq, d)
			seq++
			for _, field := range d.Coerced() {
				stats.Nulled[field]++
			}
			if keep {
				rows = append(rows, row)
			}
		}
	}
	stats.Records = seq
	stats.Retained = int64(len(rows))

	r.logger.Debug("read input",
		"pattern", pattern,
		"files", stats.Files,
		"records", stats.Records,
		"retained", stats.Retained)

	return rows, stats, nil
}

// parseFile decodes a stream of JSON objects. Objects may be separated by
// any whitespace, including none.
func (r *Reader) parseFile(ctx context.Context, name string) ([]schema.Object, error) {
	rc, err := r.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	dec := json.NewDecoder(rc)
	var objects []schema.Object
	for record := 1; ; record++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Path: name, Record: record, Err: err}
		}

		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			return nil, &ParseError{Path: name, Record: record, Err: errors.New("value is not a JSON object")}
		}

		var obj schema.Object
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, &ParseError{Path: name, Record: record, Err: err}
		}
		objects = append(objects, obj)
	}
	return objects, nil
}
