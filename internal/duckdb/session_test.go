package duckdb

import (
	"context"
	"database/sql/driver"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/songlake/internal/testutil"
)

func openTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := Open(context.Background(), cfg, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name   string
		cfg    func(t *testing.T) Config
		verify func(t *testing.T, cfg Config)
	}{
		{
			name: "in-memory",
			cfg:  func(*testing.T) Config { return Config{Path: ":memory:"} },
		},
		{
			name: "file-based with settings",
			cfg: func(t *testing.T) Config {
				dir := t.TempDir()
				return Config{
					Path:        filepath.Join(dir, "work.duckdb"),
					Threads:     2,
					MemoryLimit: "512MB",
					TempDir:     filepath.Join(dir, "spill"),
				}
			},
			verify: func(t *testing.T, cfg Config) {
				_, err := os.Stat(cfg.Path)
				assert.NoError(t, err, "database file was not created")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg(t)
			s := openTestSession(t, cfg)

			n, err := s.Count(context.Background(), "(SELECT 1 UNION ALL SELECT 2)")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			if tt.verify != nil {
				tt.verify(t, cfg)
			}
		})
	}
}

func TestSession_NotConnected(t *testing.T) {
	ctx := context.Background()
	s := &Session{}

	assert.EqualError(t, s.Exec(ctx, "SELECT 1"), "database connection not established")
	_, err := s.Query(ctx, "SELECT 1")
	assert.Error(t, err)
	_, err = s.Count(ctx, "t")
	assert.Error(t, err)
	assert.Error(t, s.Append(ctx, "t", 0, nil))
	assert.NoError(t, s.Close())
}

func TestSession_ExecWrapsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	s := &Session{DB: db, Logger: testutil.NewTestLogger(t)}
	mock.ExpectExec("CREATE TABLE songs").WillReturnError(assert.AnError)
	mock.ExpectQuery("SELECT count").WillReturnError(assert.AnError)
	mock.ExpectClose()

	err = s.Exec(context.Background(), "CREATE TABLE songs (song_id VARCHAR)")
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to execute SQL")

	_, err = s.Count(context.Background(), "songs")
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to count songs")

	require.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_Append(t *testing.T) {
	ctx := context.Background()
	s := openTestSession(t, Config{})

	require.NoError(t, s.Exec(ctx, `CREATE TABLE t (id BIGINT, name VARCHAR, score DOUBLE, n INTEGER)`))

	name := "alice"
	score := 1.5
	var n int32 = 7
	rows := [][]driver.Value{
		{int64(1), Value(&name), Value(&score), Value(&n)},
		{int64(2), Value[string](nil), Value[float64](nil), Value[int32](nil)},
	}
	require.NoError(t, s.Append(ctx, "t", len(rows), func(i int) []driver.Value { return rows[i] }))

	count, err := s.Count(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	res, err := s.Query(ctx, `SELECT count(*) FROM t WHERE name IS NULL AND score IS NULL AND n IS NULL`)
	require.NoError(t, err)
	defer func() { _ = res.Close() }()
	require.True(t, res.Next())
	var nulls int64
	require.NoError(t, res.Scan(&nulls))
	assert.Equal(t, int64(1), nulls)
	require.NoError(t, res.Err())
}

func TestSession_AppendCanceled(t *testing.T) {
	s := openTestSession(t, Config{})
	require.NoError(t, s.Exec(context.Background(), `CREATE TABLE t (id BIGINT)`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Append(ctx, "t", 1, func(int) []driver.Value { return []driver.Value{int64(1)} })
	assert.Error(t, err)
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `'it''s'`, Literal("it's"))
	assert.Equal(t, `"year"`, Ident("year"))
	assert.Equal(t, `"a""b"`, Ident(`a"b`))
}
