package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS is a Store backed by a Google Cloud Storage bucket prefix.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewGCS creates a store for gs://bucket/prefix. A credentials file is used
// when given; otherwise application default credentials apply.
func NewGCS(ctx context.Context, bucket, prefix string, creds Credentials, logger *slog.Logger) (*GCS, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if creds.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(creds.GCSCredentialsFile))
	}
	if creds.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(creds.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &GCS{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

// URI returns the gs:// location of the store.
func (g *GCS) URI() string {
	if g.prefix == "" {
		return "gs://" + g.bucket
	}
	return "gs://" + g.bucket + "/" + g.prefix
}

func (g *GCS) object(name string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(joinKey(g.prefix, name))
}

func (g *GCS) list(ctx context.Context, prefix string) ([]string, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: joinKey(g.prefix, prefix)})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", joinKey(g.prefix, prefix), err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		name := attrs.Name
		if g.prefix != "" {
			name = strings.TrimPrefix(strings.TrimPrefix(name, g.prefix), "/")
		}
		names = append(names, name)
	}
	return names, nil
}

// Glob lists the objects under the literal prefix of pattern and matches the
// remainder.
func (g *GCS) Glob(ctx context.Context, pattern string) ([]string, error) {
	names, err := g.list(ctx, literalPrefix(pattern))
	if err != nil {
		return nil, err
	}
	return matchNames(pattern, names)
}

// Open streams the named object.
func (g *GCS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := g.object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", g.URI(), name, err)
	}
	return r, nil
}

// Replace deletes the objects under prefix and writes the files of localDir
// in their place.
func (g *GCS) Replace(ctx context.Context, prefix, localDir string) error {
	dirPrefix := strings.TrimSuffix(prefix, "/") + "/"
	existing, err := g.list(ctx, dirPrefix)
	if err != nil {
		return err
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(transferWorkers)
	for _, name := range existing {
		eg.Go(func() error {
			err := g.object(name).Delete(ectx)
			if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
				return fmt.Errorf("failed to delete %s/%s: %w", g.URI(), name, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	g.logger.Debug("cleared prefix", "uri", g.URI(), "prefix", prefix, "objects", len(existing))

	eg, ectx = errgroup.WithContext(ctx)
	eg.SetLimit(transferWorkers)
	count := 0
	err = walkFiles(localDir, func(rel, abs string) error {
		count++
		eg.Go(func() error {
			return g.upload(ectx, joinKey(prefix, rel), abs)
		})
		return nil
	})
	if werr := eg.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return err
	}

	g.logger.Debug("uploaded table", "uri", g.URI(), "prefix", prefix, "objects", count)
	return nil
}

func (g *GCS) upload(ctx context.Context, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w := g.object(name).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write %s/%s: %w", g.URI(), name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer for %s/%s: %w", g.URI(), name, err)
	}
	return nil
}

// Localize downloads every object under prefix into scratchDir.
func (g *GCS) Localize(ctx context.Context, prefix, scratchDir string) (string, error) {
	dirPrefix := strings.TrimSuffix(prefix, "/") + "/"
	names, err := g.list(ctx, dirPrefix)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("materialized output %s/%s: %w", g.URI(), prefix, os.ErrNotExist)
	}

	dest := filepath.Join(scratchDir, filepath.FromSlash(prefix))
	if err := os.RemoveAll(dest); err != nil {
		return "", err
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(transferWorkers)
	for _, name := range names {
		eg.Go(func() error {
			rel := strings.TrimPrefix(name, dirPrefix)
			return g.download(ectx, name, filepath.Join(dest, filepath.FromSlash(rel)))
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}
	return dest, nil
}

func (g *GCS) download(ctx context.Context, name, localPath string) error {
	r, err := g.Open(ctx, name)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return err
	}
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to download %s/%s: %w", g.URI(), name, err)
	}
	return f.Close()
}
