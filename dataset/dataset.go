// Package dataset loads and serves a single "Table Dataset V3" —
// metadata load, lazy terminal-branch feature walk, random access by
// encoded ID, and spatial selection — reading one row at a time via
// iter.Seq-based iteration over a directory-of-metadata-files layout.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/kart-go/tabledataset/crs"
	"github.com/kart-go/tabledataset/feature"
	"github.com/kart-go/tabledataset/internal/fsio"
	"github.com/kart-go/tabledataset/internal/geoindex"
	"github.com/kart-go/tabledataset/legend"
	"github.com/kart-go/tabledataset/pathstructure"
	"github.com/kart-go/tabledataset/rawfeature"
	"github.com/kart-go/tabledataset/schema"
	"github.com/kart-go/tabledataset/workingcopy"
)

// ErrInvalidDataset is returned when a dataset directory fails layout
// validation.
var ErrInvalidDataset = errors.New("dataset: invalid dataset layout")

const (
	tableDatasetDir = ".table-dataset"
	metaDir         = "meta"
	legendDir       = "meta/legend"
	crsDir          = "meta/crs"
	featureDir      = "feature"
	titleFile       = "meta/title"
	descriptionFile = "meta/description"
	schemaFile      = "meta/schema.json"
	pathStructFile  = "meta/path-structure.json"
	spatialCacheKey = "rtree.cache"
)

// IsValidDataset reports whether fsys has a well-formed
// <id>/.table-dataset/ layout: a meta/ directory with title,
// schema.json, path-structure.json, and a non-empty legend/ folder.
func IsValidDataset(fsys fs.FS, id string) bool {
	root := path.Join(id, tableDatasetDir)
	for _, name := range []string{titleFile, schemaFile, pathStructFile} {
		if _, err := fs.Stat(fsys, path.Join(root, name)); err != nil {
			return false
		}
	}
	entries, err := fs.ReadDir(fsys, path.Join(root, legendDir))
	if err != nil || len(entries) == 0 {
		return false
	}
	return true
}

// Dataset is a loaded, validated Table Dataset V3.
type Dataset struct {
	id          string
	title       string
	description string
	schema      *schema.Schema
	pathStruct  *pathstructure.PathStructure
	legends     map[string]*legend.Legend
	crsRegistry *crs.Registry
	featureCnt  int

	featureFS *fsio.Facade
	cacheDir  string // OS directory for the spatial-index cache; "" disables persistence.

	mu           sync.Mutex
	geoIdx       *geoindex.Index
	geojsonCache *geojson.FeatureCollection
	changes      *workingcopy.Collection
}

// Load validates and reads dataset id rooted at fsys, using cacheDir
// (an OS directory, may be "") to persist the spatial index between
// process runs.
func Load(ctx context.Context, fsys fs.FS, id, cacheDir string) (*Dataset, error) {
	if !IsValidDataset(fsys, id) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDataset, id)
	}
	root, err := fs.Sub(fsys, path.Join(id, tableDatasetDir))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDataset, id, err)
	}
	facade := fsio.New(root)

	titleBytes, err := facade.ReadFile(ctx, titleFile)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: read title: %w", id, err)
	}

	description := ""
	if facade.Exists(ctx, descriptionFile) {
		descBytes, err := facade.ReadFile(ctx, descriptionFile)
		if err != nil {
			return nil, fmt.Errorf("dataset: %s: read description: %w", id, err)
		}
		description = strings.TrimSpace(string(descBytes))
	}

	psBytes, err := facade.ReadFile(ctx, pathStructFile)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: read path-structure.json: %w", id, err)
	}
	ps, err := pathstructure.Load(psBytes)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", id, err)
	}

	schemaBytes, err := facade.ReadFile(ctx, schemaFile)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: read schema.json: %w", id, err)
	}
	sch, err := schema.Load(schemaBytes)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", id, err)
	}

	legends, err := loadLegends(ctx, facade)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", id, err)
	}

	reg, err := loadCRS(ctx, facade)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", id, err)
	}

	featureFS, err := facade.Sub(featureDir)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", id, err)
	}

	count, err := countFiles(ctx, featureFS, "")
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: count features: %w", id, err)
	}

	return &Dataset{
		id:          id,
		title:       strings.TrimSpace(string(titleBytes)),
		description: description,
		schema:      sch,
		pathStruct:  ps,
		legends:     legends,
		crsRegistry: reg,
		featureCnt:  count,
		featureFS:   featureFS,
		cacheDir:    cacheDir,
	}, nil
}

func loadLegends(ctx context.Context, facade *fsio.Facade) (map[string]*legend.Legend, error) {
	entries, err := facade.ReadDir(ctx, legendDir)
	if err != nil {
		return nil, fmt.Errorf("read legend dir: %w", err)
	}
	legends := make(map[string]*legend.Legend, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := facade.ReadFile(ctx, path.Join(legendDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read legend %q: %w", e.Name(), err)
		}
		lg, err := legend.Parse(data, e.Name())
		if err != nil {
			return nil, fmt.Errorf("parse legend %q: %w", e.Name(), err)
		}
		legends[lg.ID] = lg
	}
	return legends, nil
}

func loadCRS(ctx context.Context, facade *fsio.Facade) (*crs.Registry, error) {
	reg := crs.NewRegistry()
	entries, err := facade.ReadDir(ctx, crsDir)
	if err != nil {
		return reg, nil // meta/crs/ is optional.
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wkt") {
			continue
		}
		data, err := facade.ReadFile(ctx, path.Join(crsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read crs %q: %w", e.Name(), err)
		}
		reg.Add(strings.TrimSuffix(e.Name(), ".wkt"), string(data))
	}
	return reg, nil
}

func countFiles(ctx context.Context, facade *fsio.Facade, dir string) (int, error) {
	entries, err := facade.ReadDir(ctx, dir)
	if err != nil {
		return 0, nil
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			sub, err := countFiles(ctx, facade, path.Join(dir, e.Name()))
			if err != nil {
				return 0, err
			}
			n += sub
			continue
		}
		n++
	}
	return n, nil
}

// ID returns the dataset's root-relative name.
func (d *Dataset) ID() string { return d.id }

// Title returns the dataset's required title metadata.
func (d *Dataset) Title() string { return d.title }

// Description returns the dataset's optional description metadata.
func (d *Dataset) Description() string { return d.description }

// Schema returns the dataset's current schema.
func (d *Dataset) Schema() *schema.Schema { return d.schema }

// PathStructure returns the dataset's path structure.
func (d *Dataset) PathStructure() *pathstructure.PathStructure { return d.pathStruct }

// Legends returns every legend known to this dataset, keyed by legend id.
func (d *Dataset) Legends() map[string]*legend.Legend { return d.legends }

// CRSRegistry returns the dataset's CRS registry.
func (d *Dataset) CRSRegistry() *crs.Registry { return d.crsRegistry }

// FeatureCount returns the number of feature files counted at Load
// time. Not updated by in-memory edits.
func (d *Dataset) FeatureCount() int { return d.featureCnt }

// Walk lazily yields every feature under the dataset's terminal
// branches, never holding more than one decoded row in memory at a
// time. Breaking out of the range loop stops the walk.
func (d *Dataset) Walk(ctx context.Context) iter.Seq2[*feature.Feature, error] {
	return func(yield func(*feature.Feature, error) bool) {
		d.walkDir(ctx, "", 0, yield)
	}
}

// walkDir applies the terminal-branch rule: recurse only when the first
// node of the current directory is itself a directory and the current
// depth hasn't reached levels; otherwise every entry here is a feature
// file.
func (d *Dataset) walkDir(ctx context.Context, dir string, depth int, yield func(*feature.Feature, error) bool) bool {
	entries, err := d.featureFS.ReadDir(ctx, dir)
	if err != nil {
		if dir == "" && errors.Is(err, fs.ErrNotExist) {
			return true
		}
		return yield(nil, fmt.Errorf("dataset: walk %q: %w", dir, err))
	}
	if len(entries) == 0 {
		return true
	}

	if entries[0].IsDir() && depth < d.pathStruct.Levels {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if !d.walkDir(ctx, path.Join(dir, e.Name()), depth+1, yield) {
				return false
			}
		}
		return true
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := d.loadFeatureFile(ctx, path.Join(dir, e.Name()))
		if !yield(f, err) {
			return false
		}
	}
	return true
}

func (d *Dataset) loadFeatureFile(ctx context.Context, p string) (*feature.Feature, error) {
	body, err := d.featureFS.ReadFile(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("dataset: read feature %q: %w", p, err)
	}
	rf, err := rawfeature.Parse(path.Base(p), body)
	if err != nil {
		return nil, fmt.Errorf("dataset: decode feature %q: %w", p, err)
	}
	return rf.ToObject(d.legends, d.schema, d.pathStruct, d.crsRegistry)
}

// Has reports whether a feature file exists at eid.
func (d *Dataset) Has(ctx context.Context, eid string) (bool, error) {
	return d.featureFS.Exists(ctx, eid), nil
}

// Get loads and projects a single feature by its encoded ID.
func (d *Dataset) Get(ctx context.Context, eid string) (*feature.Feature, error) {
	return d.loadFeatureFile(ctx, eid)
}

// ToGeoJSON materializes every feature as a GeoJSON FeatureCollection,
// reprojecting geometries with rp. The result is cached after the
// first call; this is memory-heavy for large datasets.
func (d *Dataset) ToGeoJSON(ctx context.Context, rp crs.Reprojector) (*geojson.FeatureCollection, error) {
	d.mu.Lock()
	if d.geojsonCache != nil {
		cached := d.geojsonCache
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	fc := geojson.NewFeatureCollection()
	for f, err := range d.Walk(ctx) {
		if err != nil {
			return nil, err
		}
		gf, err := f.ToGeoJSON(d.schema, d.crsRegistry, rp)
		if err != nil {
			return nil, err
		}
		if gf != nil {
			fc.Append(gf)
		}
	}

	d.mu.Lock()
	d.geojsonCache = fc
	d.mu.Unlock()
	return fc, nil
}

// SelectIntersection returns every feature whose geometry's bounding
// box intersects [minX,minY,maxX,maxY], building (and, when cacheDir is
// set, persisting) the backing spatial index on first use.
func (d *Dataset) SelectIntersection(ctx context.Context, minX, minY, maxX, maxY float64) ([]*feature.Feature, error) {
	idx, err := d.spatialIndex(ctx)
	if err != nil {
		return nil, err
	}
	eids := idx.Query(minX, minY, maxX, maxY)
	out := make([]*feature.Feature, 0, len(eids))
	for _, eid := range eids {
		f, err := d.Get(ctx, eid)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (d *Dataset) spatialIndex(ctx context.Context) (*geoindex.Index, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.geoIdx != nil {
		return d.geoIdx, nil
	}

	cachePath := ""
	if d.cacheDir != "" {
		cachePath = filepath.Join(d.cacheDir, spatialCacheKey)
		if geoindex.Exists(cachePath) {
			if idx, err := geoindex.Load(cachePath); err == nil {
				d.geoIdx = idx
				return idx, nil
			}
		}
	}

	var entries []geoindex.Entry
	for f, err := range d.Walk(ctx) {
		if err != nil {
			return nil, err
		}
		box, ok := boundingBox(f, d.schema)
		if !ok {
			continue
		}
		entries = append(entries, geoindex.Entry{Eid: f.Eid, MinX: box[0], MinY: box[1], MaxX: box[2], MaxY: box[3]})
	}

	idx := geoindex.Build(entries)
	d.geoIdx = idx
	if cachePath != "" {
		_ = geoindex.Save(d.cacheDir, spatialCacheKey, idx)
	}
	return idx, nil
}

// Changes returns the dataset's working copy: an overlay of in-memory
// edits tracked against this dataset as baseline. The same collection is
// returned on every call, so edits made through one caller's handle are
// visible to all others.
func (d *Dataset) Changes() *workingcopy.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.changes == nil {
		d.changes = workingcopy.New(d)
	}
	return d.changes
}

func boundingBox(f *feature.Feature, s *schema.Schema) ([4]float64, bool) {
	if f.GeometryColumn == "" {
		return [4]float64{}, false
	}
	ge, ok := s.EntryByName(f.GeometryColumn)
	if !ok {
		return [4]float64{}, false
	}
	res := f.Value(ge)
	if !res.OK || res.Data == nil {
		return [4]float64{}, false
	}
	geom, ok := res.Data.(orb.Geometry)
	if !ok {
		return [4]float64{}, false
	}
	b := geom.Bound()
	return [4]float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}, true
}
