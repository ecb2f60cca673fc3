package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

// Record is one JSON object in a fixture file.
type Record map[string]any

// WriteFile writes content to root/rel, creating parent directories.
func WriteFile(t testing.TB, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// WriteRecords writes records as newline-delimited JSON to root/rel.
func WriteRecords(t testing.TB, root, rel string, records ...Record) string {
	t.Helper()
	var b strings.Builder
	for _, r := range records {
		line, err := json.Marshal(r)
		require.NoError(t, err)
		b.Write(line)
		b.WriteByte('\n')
	}
	return WriteFile(t, root, rel, b.String())
}

// CatalogEntry builds a catalog record with the given song identity.
func CatalogEntry(songID, title, artistID, artistName string, duration float64, year int) Record {
	return Record{
		"num_songs":        1,
		"artist_id":        artistID,
		"artist_latitude":  nil,
		"artist_longitude": nil,
		"artist_location":  "",
		"artist_name":      artistName,
		"song_id":          songID,
		"title":            title,
		"duration":         duration,
		"year":             year,
	}
}

// SongPlay builds a NextSong event. userID may be nil.
func SongPlay(ts int64, userID any, song, artist string, length float64) Record {
	return Record{
		"artist":        artist,
		"auth":          "Logged In",
		"firstName":     "Jayden",
		"gender":        "M",
		"itemInSession": 0,
		"lastName":      "Graves",
		"length":        length,
		"level":         "free",
		"location":      "LA",
		"method":        "PUT",
		"page":          "NextSong",
		"registration":  1.540664184796e12,
		"sessionId":     583,
		"song":          song,
		"status":        200,
		"ts":            ts,
		"userAgent":     "UA1",
		"userId":        userID,
	}
}

// PageView builds a non-song event for page.
func PageView(ts int64, userID any, page string) Record {
	r := SongPlay(ts, userID, "", "", 0)
	r["page"] = page
	r["song"] = nil
	r["artist"] = nil
	r["length"] = nil
	return r
}
