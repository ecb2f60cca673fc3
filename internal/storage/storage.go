// Package storage resolves input and output locations to a Store.
//
// A location is a local path (optionally prefixed with file://), an S3 URI
// (s3://bucket/prefix) or a GCS URI (gs://bucket/prefix). All names passed to
// a Store are slash-separated and relative to the location root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
)

// ErrUnsupportedScheme is returned for location URIs with an unknown scheme.
var ErrUnsupportedScheme = errors.New("unsupported location scheme")

// Store is the storage contract the pipeline reads inputs from and writes
// tables to.
type Store interface {
	// Glob returns the sorted names of all objects matching pattern. Each '*'
	// matches within a single path segment, so the pattern fixes the depth.
	Glob(ctx context.Context, pattern string) ([]string, error)

	// Open opens the named object for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Replace removes everything under prefix and copies the contents of the
	// local directory localDir in its place.
	Replace(ctx context.Context, prefix, localDir string) error

	// Localize returns a local directory holding the objects under prefix.
	// Remote stores download into scratchDir; the local store returns its
	// own path.
	Localize(ctx context.Context, prefix, scratchDir string) (string, error)

	// URI returns the location the store is rooted at.
	URI() string
}

// Credentials are the explicit access values handed to remote stores. They
// are never read from or written to the process environment here.
type Credentials struct {
	AccessKeyID        string
	SecretAccessKey    string
	SessionToken       string
	Region             string
	Endpoint           string
	PathStyle          bool
	GCSCredentialsFile string
}

// Location is a parsed location URI.
type Location struct {
	Scheme string
	Bucket string
	Prefix string
	Path   string
}

// ParseLocation splits a location URI into its parts.
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, errors.New("empty location")
	}
	if !strings.Contains(raw, "://") {
		return Location{Scheme: "file", Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid location %q: %w", raw, err)
	}

	switch u.Scheme {
	case "file":
		p := u.Path
		if u.Host != "" {
			p = u.Host + p
		}
		return Location{Scheme: "file", Path: p}, nil
	case "s3", "s3a", "gs":
		if u.Host == "" {
			return Location{}, fmt.Errorf("location %q has no bucket", raw)
		}
		scheme := u.Scheme
		if scheme == "s3a" {
			scheme = "s3"
		}
		return Location{
			Scheme: scheme,
			Bucket: u.Host,
			Prefix: strings.Trim(u.Path, "/"),
		}, nil
	default:
		return Location{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Open resolves uri to a Store.
func Open(ctx context.Context, uri string, creds Credentials, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "file":
		return NewLocal(loc.Path), nil
	case "s3":
		return NewS3(loc.Bucket, loc.Prefix, creds, logger)
	case "gs":
		return NewGCS(ctx, loc.Bucket, loc.Prefix, creds, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, loc.Scheme)
	}
}

// literalPrefix returns the leading part of pattern that contains no glob
// metacharacters, cut back to a segment boundary. It is used to narrow object
// listings before matching.
func literalPrefix(pattern string) string {
	i := strings.IndexAny(pattern, `*?[\`)
	if i < 0 {
		return pattern
	}
	j := strings.LastIndex(pattern[:i], "/")
	if j < 0 {
		return ""
	}
	return pattern[:j+1]
}

// matchNames filters names by pattern and sorts the result.
func matchNames(pattern string, names []string) ([]string, error) {
	var out []string
	for _, name := range names {
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// joinKey joins an object prefix and a relative name.
func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + strings.TrimPrefix(name, "/")
}
