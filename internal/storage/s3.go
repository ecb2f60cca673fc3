package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"golang.org/x/sync/errgroup"
)

const (
	defaultS3Region = "us-west-2"
	s3DeleteBatch   = 1000
	transferWorkers = 8
)

// S3 is a Store backed by an S3 bucket prefix.
type S3 struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
	prefix     string
	logger     *slog.Logger
}

// NewS3 creates a store for s3://bucket/prefix. Static credentials are used
// when an access key is given; otherwise the SDK's default chain applies.
func NewS3(bucket, prefix string, creds Credentials, logger *slog.Logger) (*S3, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	region := creds.Region
	if region == "" {
		region = defaultS3Region
	}

	cfg := &aws.Config{
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(creds.PathStyle),
	}
	if creds.Endpoint != "" {
		cfg.Endpoint = aws.String(creds.Endpoint)
	}
	if creds.AccessKeyID != "" {
		cfg.Credentials = credentials.NewStaticCredentials(
			creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return &S3{
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		bucket:     bucket,
		prefix:     prefix,
		logger:     logger,
	}, nil
}

// URI returns the s3:// location of the store.
func (s *S3) URI() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

func (s *S3) key(name string) string {
	return joinKey(s.prefix, name)
}

// list returns all object keys under prefix, relative to the store root.
func (s *S3) list(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	full := s.key(prefix)
	err := s.client.ListObjectsV2PagesWithContext(ctx,
		&s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(full),
		},
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				key := aws.StringValue(obj.Key)
				if strings.HasSuffix(key, "/") {
					continue
				}
				names = append(names, s.relative(key))
			}
			return !lastPage
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.key(prefix), err)
	}
	return names, nil
}

func (s *S3) relative(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
}

// Glob lists the objects under the literal prefix of pattern and matches the
// remainder segment by segment.
func (s *S3) Glob(ctx context.Context, pattern string) ([]string, error) {
	names, err := s.list(ctx, literalPrefix(pattern))
	if err != nil {
		return nil, err
	}
	return matchNames(pattern, names)
}

// Open streams the named object.
func (s *S3) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", s.key(name), err)
	}
	return out.Body, nil
}

// Replace deletes every object under prefix and uploads the files of localDir
// in its place.
func (s *S3) Replace(ctx context.Context, prefix, localDir string) error {
	dirPrefix := strings.TrimSuffix(prefix, "/") + "/"
	existing, err := s.list(ctx, dirPrefix)
	if err != nil {
		return err
	}
	if err := s.deleteKeys(ctx, existing); err != nil {
		return err
	}
	s.logger.Debug("cleared prefix", "uri", s.URI(), "prefix", prefix, "objects", len(existing))

	var files [][2]string
	if err := walkFiles(localDir, func(rel, abs string) error {
		files = append(files, [2]string{rel, abs})
		return nil
	}); err != nil {
		return fmt.Errorf("failed to walk %s: %w", localDir, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(transferWorkers)
	for _, f := range files {
		g.Go(func() error {
			return s.upload(gctx, joinKey(prefix, f[0]), f[1])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Debug("uploaded table", "uri", s.URI(), "prefix", prefix, "objects", len(files))
	return nil
}

func (s *S3) upload(ctx context.Context, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", s.key(name), err)
	}
	return nil
}

func (s *S3) deleteKeys(ctx context.Context, names []string) error {
	for start := 0; start < len(names); start += s3DeleteBatch {
		end := min(start+s3DeleteBatch, len(names))
		objects := make([]*s3.ObjectIdentifier, 0, end-start)
		for _, name := range names[start:end] {
			objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(s.key(name))})
		}
		out, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects in %s: %w", s.URI(), err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %s: %s", aws.StringValue(first.Key), aws.StringValue(first.Message))
		}
	}
	return nil
}

// Localize downloads every object under prefix into a directory below
// scratchDir and returns it.
func (s *S3) Localize(ctx context.Context, prefix, scratchDir string) (string, error) {
	dirPrefix := strings.TrimSuffix(prefix, "/") + "/"
	names, err := s.list(ctx, dirPrefix)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("materialized output %s/%s: %w", s.URI(), prefix, os.ErrNotExist)
	}

	dest := filepath.Join(scratchDir, filepath.FromSlash(prefix))
	if err := os.RemoveAll(dest); err != nil {
		return "", err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(transferWorkers)
	for _, name := range names {
		g.Go(func() error {
			rel := strings.TrimPrefix(name, dirPrefix)
			return s.download(gctx, name, filepath.Join(dest, filepath.FromSlash(rel)))
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *S3) download(ctx context.Context, name, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return err
	}
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	_, err = s.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", s.key(name), err)
	}
	return nil
}
