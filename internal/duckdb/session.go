// Package duckdb wraps the embedded DuckDB database the pipeline uses as its
// data-processing runtime: staging tables, relational transforms and Parquet
// reads and writes all run through a Session.
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"strings"

	goduckdb "github.com/marcboeker/go-duckdb"
)

// Config holds session settings.
type Config struct {
	// Path of the database file. Empty or ":memory:" opens an in-memory
	// database.
	Path string
	// Threads caps DuckDB worker threads. Zero keeps DuckDB's default.
	Threads int
	// MemoryLimit is a DuckDB size string such as "4GB".
	MemoryLimit string
	// TempDir is where DuckDB spills when over the memory limit.
	TempDir string
}

// Session is an open DuckDB database.
type Session struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger
}

// Open opens a database and applies the configured settings.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	s := &Session{DB: db, Cfg: cfg, Logger: logger}
	for _, stmt := range settings(cfg) {
		if err := s.Exec(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Debug("opened duckdb session",
		"path", cfg.Path,
		"threads", cfg.Threads,
		"memory_limit", cfg.MemoryLimit)
	return s, nil
}

func settings(cfg Config) []string {
	var stmts []string
	if cfg.Threads > 0 {
		stmts = append(stmts, fmt.Sprintf("SET threads = %d", cfg.Threads))
	}
	if cfg.MemoryLimit != "" {
		stmts = append(stmts, "SET memory_limit = "+Literal(cfg.MemoryLimit))
	}
	if cfg.TempDir != "" {
		stmts = append(stmts, "SET temp_directory = "+Literal(cfg.TempDir))
	}
	return stmts
}

// Close closes the database.
func (s *Session) Close() error {
	if s.DB != nil {
		s.Logger.Debug("closing duckdb session")
		return s.DB.Close()
	}
	return nil
}

// Exec executes a statement that returns no rows.
func (s *Session) Exec(ctx context.Context, query string, args ...any) error {
	if s.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if _, err := s.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query executes a statement that returns rows. The caller closes the rows
// and checks rows.Err.
func (s *Session) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return rows, nil
}

// Count returns the number of rows produced by a table or parenthesized
// subquery.
func (s *Session) Count(ctx context.Context, relation string) (int64, error) {
	if s.DB == nil {
		return 0, fmt.Errorf("database connection not established")
	}
	var n int64
	//nolint:gosec // relation names are built by the caller, not user input
	if err := s.DB.QueryRowContext(ctx, "SELECT count(*) FROM "+relation).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", relation, err)
	}
	return n, nil
}

// Append bulk-loads n rows into an existing table using the DuckDB
// appender. row(i) returns the values for row i in column order; nil values
// load as NULL.
func (s *Session) Append(ctx context.Context, table string, n int, row func(i int) []driver.Value) error {
	if s.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	conn, err := s.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		appender, err := goduckdb.NewAppenderFromConn(dc, "", table)
		if err != nil {
			return fmt.Errorf("failed to create appender for %s: %w", table, err)
		}

		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				_ = appender.Close()
				return err
			}
			if err := appender.AppendRow(row(i)...); err != nil {
				_ = appender.Close()
				return fmt.Errorf("failed to append row %d to %s: %w", i, table, err)
			}
		}

		if err := appender.Close(); err != nil {
			return fmt.Errorf("failed to flush appender for %s: %w", table, err)
		}
		s.Logger.Debug("appended rows", "table", table, "rows", n)
		return nil
	})
}

// Literal quotes s as a SQL string literal.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Ident quotes s as a SQL identifier.
func Ident(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Value converts a nullable field to an appender value.
func Value[T any](p *T) driver.Value {
	if p == nil {
		return nil
	}
	return *p
}
