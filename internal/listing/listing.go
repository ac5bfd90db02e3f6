// Package listing resolves an item_source string into the work items of a
// scan. Sources are prefixed: "dir:<path>" walks a directory, and
// "manifest:<path>" loads a curated YAML list. A bare path is treated as a
// directory.
package listing

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minhvn/holescan/internal/manifest"
	"github.com/minhvn/holescan/internal/models"
)

// Lister turns an item source into concrete work items.
type Lister interface {
	List(ctx context.Context, source string) ([]models.WorkItem, error)
}

// scannable file extensions for directory sources.
var scanExts = map[string]bool{
	".txt": true,
	".pdf": true,
}

// Local resolves dir: and manifest: sources on the local filesystem.
type Local struct{}

func NewLocal() *Local { return &Local{} }

func (l *Local) List(ctx context.Context, source string) ([]models.WorkItem, error) {
	switch {
	case strings.HasPrefix(source, "manifest:"):
		return manifest.Load(strings.TrimPrefix(source, "manifest:"))
	case strings.HasPrefix(source, "dir:"):
		return l.listDir(ctx, strings.TrimPrefix(source, "dir:"))
	default:
		return l.listDir(ctx, source)
	}
}

func (l *Local) listDir(ctx context.Context, root string) ([]models.WorkItem, error) {
	var items []models.WorkItem
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !scanExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = d.Name()
		}
		items = append(items, models.WorkItem{
			Ref:     filepath.ToSlash(rel),
			Payload: path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list directory %s: %w", root, err)
	}

	// WalkDir is already lexical per directory, but keep the order
	// deterministic across the whole tree.
	sort.Slice(items, func(i, j int) bool { return items[i].Ref < items[j].Ref })
	return items, nil
}
