// Package geoindex builds, persists, and queries the static spatial
// index backing a dataset's bounding-box intersection queries: an RTree
// built once from a snapshot of feature bounding boxes. Persistence
// follows a write-then-rename pattern, adapted to a single named cache
// file per dataset rather than a content-addressed blob store.
package geoindex

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/tidwall/rtree"

	"github.com/kart-go/tabledataset/wire"
)

// Entry is one feature's bounding box, tagged with its encoded ID.
type Entry struct {
	Eid                    string
	MinX, MinY, MaxX, MaxY float64
}

// Index is a built, queryable spatial index over a dataset's features.
type Index struct {
	tree    rtree.RTreeG[string]
	entries []Entry
}

// Build constructs an Index from entries.
func Build(entries []Entry) *Index {
	idx := &Index{entries: append([]Entry(nil), entries...)}
	for _, e := range entries {
		idx.tree.Insert([2]float64{e.MinX, e.MinY}, [2]float64{e.MaxX, e.MaxY}, e.Eid)
	}
	return idx
}

// Len reports the number of indexed entries.
func (idx *Index) Len() int {
	return idx.tree.Len()
}

// Query returns the eids of every entry whose bounding box intersects
// the given box.
func (idx *Index) Query(minX, minY, maxX, maxY float64) []string {
	var out []string
	idx.tree.Search(
		[2]float64{minX, minY}, [2]float64{maxX, maxY},
		func(_, _ [2]float64, eid string) bool {
			out = append(out, eid)
			return true
		},
	)
	return out
}

// Save persists idx's entries to <dir>/<name>, snappy-compressed, via a
// uuid-suffixed temp file in the same directory followed by an atomic
// rename, so a concurrent reader never observes a torn write.
func Save(dir, name string, idx *Index) error {
	packed, err := wire.Pack(idx.entries)
	if err != nil {
		return fmt.Errorf("geoindex: pack: %w", err)
	}
	compressed := snappy.Encode(nil, packed)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("geoindex: mkdir %q: %w", dir, err)
	}
	tmp := filepath.Join(dir, name+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return fmt.Errorf("geoindex: write temp file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("geoindex: rename into place: %w", err)
	}
	return nil
}

// Load reads and rebuilds an Index previously written by Save.
func Load(path string) (*Index, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("geoindex: read %q: %w", path, err)
	}
	packed, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("geoindex: decompress %q: %w", path, err)
	}
	var entries []Entry
	if err := wire.Unpack(packed, &entries); err != nil {
		return nil, fmt.Errorf("geoindex: unpack %q: %w", path, err)
	}
	return Build(entries), nil
}

// Exists reports whether a persisted index already exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
