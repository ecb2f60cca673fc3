package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Local is a Store rooted at a directory on the local filesystem.
type Local struct {
	root string
}

// NewLocal creates a store rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{root: filepath.Clean(dir)}
}

// URI returns the root directory.
func (l *Local) URI() string {
	return l.root
}

func (l *Local) path(name string) string {
	return filepath.Join(l.root, filepath.FromSlash(name))
}

// Glob matches pattern against the filesystem under the root.
func (l *Local) Glob(_ context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(l.path(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", m, err)
		}
		if info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(l.root, m)
		if err != nil {
			return nil, err
		}
		names = append(names, filepath.ToSlash(rel))
	}
	sort.Strings(names)
	return names, nil
}

// Open opens the named file.
func (l *Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// Replace swaps the directory at prefix for localDir. The move is a rename
// when both sides share a filesystem and a recursive copy otherwise.
func (l *Local) Replace(_ context.Context, prefix, localDir string) error {
	dest := l.path(prefix)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dest, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	if err := os.Rename(localDir, dest); err == nil {
		return nil
	}
	if err := copyTree(localDir, dest); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", localDir, dest, err)
	}
	return nil
}

// Localize returns the directory for prefix, which must exist.
func (l *Local) Localize(_ context.Context, prefix, _ string) (string, error) {
	dir := l.path(prefix)
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("materialized output %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("materialized output %s is not a directory", dir)
	}
	return dir, nil
}

// walkFiles calls fn for every regular file under dir with its slash-separated
// path relative to dir.
func walkFiles(dir string, fn func(rel, abs string) error) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), p)
	})
}

func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0o750); err != nil {
		return err
	}
	return walkFiles(src, func(rel, abs string) error {
		return copyFile(abs, filepath.Join(dst, filepath.FromSlash(rel)))
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
