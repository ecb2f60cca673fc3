package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Location
		wantErr bool
	}{
		{"plain path", "data/out", Location{Scheme: "file", Path: "data/out"}, false},
		{"absolute path", "/srv/lake", Location{Scheme: "file", Path: "/srv/lake"}, false},
		{"file uri", "file:///srv/lake", Location{Scheme: "file", Path: "/srv/lake"}, false},
		{"s3", "s3://udacity-dend/", Location{Scheme: "s3", Bucket: "udacity-dend"}, false},
		{"s3 with prefix", "s3://bucket/a/b/", Location{Scheme: "s3", Bucket: "bucket", Prefix: "a/b"}, false},
		{"s3a normalized", "s3a://bucket/out", Location{Scheme: "s3", Bucket: "bucket", Prefix: "out"}, false},
		{"gcs", "gs://bucket/lake", Location{Scheme: "gs", Bucket: "bucket", Prefix: "lake"}, false},
		{"empty", "", Location{}, true},
		{"no bucket", "s3:///x", Location{}, true},
		{"unknown scheme", "hdfs://nn/x", Location{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocation(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLocation_UnsupportedScheme(t *testing.T) {
	_, err := ParseLocation("ftp://host/x")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestLiteralPrefix(t *testing.T) {
	assert.Equal(t, "song_data/A/", literalPrefix("song_data/A/*/*/*.json"))
	assert.Equal(t, "log_data/", literalPrefix("log_data/*/*/*.json"))
	assert.Equal(t, "", literalPrefix("*.json"))
	assert.Equal(t, "a/b.json", literalPrefix("a/b.json"))
}

func TestMatchNames(t *testing.T) {
	names := []string{
		"log_data/2018/11/b.json",
		"log_data/2018/11/a.json",
		"log_data/2018/a.json",
		"log_data/2018/11/deep/c.json",
		"log_data/2018/11/notes.txt",
	}

	got, err := matchNames("log_data/*/*/*.json", names)
	require.NoError(t, err)
	assert.Equal(t, []string{"log_data/2018/11/a.json", "log_data/2018/11/b.json"}, got)

	_, err = matchNames("[", names)
	assert.Error(t, err)
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "songs", joinKey("", "songs"))
	assert.Equal(t, "lake/songs", joinKey("lake", "songs"))
	assert.Equal(t, "lake/songs", joinKey("lake", "/songs"))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLocal_GlobAndOpen(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "song_data/A/B/C/TRB.json"), `{"song_id":"2"}`)
	writeFile(t, filepath.Join(root, "song_data/A/A/A/TRA.json"), `{"song_id":"1"}`)
	writeFile(t, filepath.Join(root, "song_data/A/A/TRX.json"), `{}`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "song_data/A/A/B/dir.json"), 0o750))

	ctx := context.Background()
	store, err := Open(ctx, root, Credentials{}, nil)
	require.NoError(t, err)

	names, err := store.Glob(ctx, "song_data/A/*/*/*.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"song_data/A/A/A/TRA.json", "song_data/A/B/C/TRB.json"}, names)

	rc, err := store.Open(ctx, names[0])
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"song_id":"1"}`, string(body))
}

func TestLocal_GlobNoMatch(t *testing.T) {
	store := NewLocal(t.TempDir())
	names, err := store.Glob(context.Background(), "log_data/*/*/*.json")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocal_Replace(t *testing.T) {
	root := t.TempDir()
	store := NewLocal(root)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "songs/year=1999/stale.parquet"), "old")

	staging := filepath.Join(t.TempDir(), "songs")
	writeFile(t, filepath.Join(staging, "year=2000/artist_id=AR1/data_0.parquet"), "new")

	require.NoError(t, store.Replace(ctx, "songs", staging))

	_, err := os.Stat(filepath.Join(root, "songs/year=1999"))
	assert.True(t, os.IsNotExist(err), "prior output must be removed")

	body, err := os.ReadFile(filepath.Join(root, "songs/year=2000/artist_id=AR1/data_0.parquet"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(body))
}

func TestLocal_Localize(t *testing.T) {
	root := t.TempDir()
	store := NewLocal(root)
	ctx := context.Background()

	_, err := store.Localize(ctx, "artists", t.TempDir())
	assert.Error(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "artists"), 0o750))
	dir, err := store.Localize(ctx, "artists", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "artists"), dir)
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a/b/c.parquet"), "x")
	writeFile(t, filepath.Join(src, "d.parquet"), "y")

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, copyTree(src, dst))

	var got []string
	require.NoError(t, walkFiles(dst, func(rel, _ string) error {
		got = append(got, rel)
		return nil
	}))
	assert.ElementsMatch(t, []string{"a/b/c.parquet", "d.parquet"}, got)
}

func TestS3_URI(t *testing.T) {
	s, err := NewS3("bucket", "lake", Credentials{AccessKeyID: "AK", SecretAccessKey: "SK"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/lake", s.URI())
	assert.Equal(t, "lake/songs/x.parquet", s.key("songs/x.parquet"))
	assert.Equal(t, "songs/x.parquet", s.relative("lake/songs/x.parquet"))
}
