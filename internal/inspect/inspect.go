// Package inspect summarizes a materialized table by reading Parquet footers
// directly, independent of the engine that wrote them.
package inspect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
)

// Column is one column of a table.
type Column struct {
	Name string
	Type string
	// Partition is set for columns encoded in hive directory names rather
	// than stored in the files.
	Partition bool
}

// Partition is one hive partition directory.
type Partition struct {
	Path  string
	Files int
	Rows  int64
}

// Summary describes a table directory.
type Summary struct {
	Dir        string
	Files      int
	Rows       int64
	Bytes      int64
	Columns    []Column
	Codecs     []string
	Partitions []Partition
}

// Summarize reads every Parquet footer under dir. partitionBy names the
// hive partition columns, outermost first.
func Summarize(ctx context.Context, dir string, partitionBy []string) (*Summary, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".parquet") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(paths)

	s := &Summary{Dir: dir}
	parts := map[string]*Partition{}
	codecs := map[string]bool{}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		footer, err := readFooter(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}

		s.Files++
		s.Rows += footer.NumRows
		s.Bytes += info.Size()
		if s.Columns == nil {
			s.Columns = columns(footer.Schema)
		}
		for _, rg := range footer.RowGroups {
			for _, c := range rg.Columns {
				if c.MetaData != nil {
					codecs[strings.ToLower(c.MetaData.Codec.String())] = true
				}
			}
		}

		if len(partitionBy) > 0 {
			rel, err := filepath.Rel(dir, filepath.Dir(p))
			if err != nil {
				return nil, err
			}
			key := filepath.ToSlash(rel)
			part, ok := parts[key]
			if !ok {
				part = &Partition{Path: key}
				parts[key] = part
			}
			part.Files++
			part.Rows += footer.NumRows
		}
	}

	for _, name := range partitionBy {
		s.Columns = append(s.Columns, Column{Name: name, Type: "hive", Partition: true})
	}
	for c := range codecs {
		s.Codecs = append(s.Codecs, c)
	}
	sort.Strings(s.Codecs)
	for _, part := range parts {
		s.Partitions = append(s.Partitions, *part)
	}
	sort.Slice(s.Partitions, func(i, j int) bool { return s.Partitions[i].Path < s.Partitions[j].Path })

	return s, nil
}

func readFooter(path string) (*parquet.FileMetaData, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = fr.Close() }()

	pr, err := reader.NewParquetReader(fr, nil, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read footer of %s: %w", path, err)
	}
	defer pr.ReadStop()

	return pr.Footer, nil
}

// columns flattens the schema to its leaf columns, skipping the root.
func columns(schema []*parquet.SchemaElement) []Column {
	var out []Column
	for i, el := range schema {
		if i == 0 || el.GetNumChildren() > 0 {
			continue
		}
		out = append(out, Column{Name: el.GetName(), Type: typeName(el)})
	}
	return out
}

func typeName(el *parquet.SchemaElement) string {
	name := "UNKNOWN"
	if el.Type != nil {
		name = el.Type.String()
	}
	if el.ConvertedType != nil {
		name += "/" + el.ConvertedType.String()
	}
	return name
}
