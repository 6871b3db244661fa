// Package kart binds a set of Table Dataset V3 datasets under a single
// working tree, the way a Kart repository binds its datasets under a
// single clone. It discovers valid datasets by directory, loads and
// caches them lazily, and merges each dataset's working-copy diff into
// one repository-wide diff. A Fetcher (here, go-git) supplies the
// filesystem view; Repository owns dataset lifecycle and caching above
// it.
package kart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sync"

	"github.com/kart-go/tabledataset/crs"
	"github.com/kart-go/tabledataset/dataset"
	"github.com/kart-go/tabledataset/workingcopy"
)

// ErrDatasetNotFound is returned by Get when name does not name a valid
// dataset under the repository's working tree.
var ErrDatasetNotFound = errors.New("kart: dataset not found")

// Fetcher supplies the filesystem view of a repository's working tree.
// GoGitFetcher is the concrete implementation; tests use an in-memory
// fs.FS directly via OpenFS.
type Fetcher interface {
	FS() fs.FS
}

// fsFetcher adapts a plain fs.FS (e.g. fstest.MapFS, os.DirFS) to Fetcher
// for callers that already have a filesystem view and don't need git.
type fsFetcher struct{ fsys fs.FS }

func (f fsFetcher) FS() fs.FS { return f.fsys }

// osFetcher is a Fetcher over a plain OS directory, with no git
// involvement — for working trees materialized some other way that
// still want Watch's fsnotify invalidation.
type osFetcher struct{ dir string }

func (f osFetcher) FS() fs.FS   { return os.DirFS(f.dir) }
func (f osFetcher) Dir() string { return f.dir }

// OsFetcher binds a Fetcher directly to an OS directory, without git.
func OsFetcher(dir string) Fetcher { return osFetcher{dir} }

// Repository binds datasets under a single working tree. The zero value
// is not usable; construct with Open.
type Repository struct {
	fetcher  Fetcher
	cacheDir string
	logger   *slog.Logger

	mu       sync.Mutex
	datasets map[string]*dataset.Dataset
}

// Option configures a Repository constructed by Open.
type Option func(*Repository)

// WithCacheDir sets the OS directory used to persist each dataset's
// spatial index cache between process runs. Default "" disables
// persistence (the cache is still built and used in-memory).
func WithCacheDir(dir string) Option {
	return func(r *Repository) { r.cacheDir = dir }
}

// WithLogger sets the repository's diagnostic logger. Default
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// Open binds a Repository to fetcher's working tree.
func Open(fetcher Fetcher, opts ...Option) *Repository {
	r := &Repository{
		fetcher:  fetcher,
		logger:   slog.Default(),
		datasets: make(map[string]*dataset.Dataset),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenFS binds a Repository directly to an fs.FS working tree, bypassing
// git entirely — for tests and for read-only working trees materialized
// some other way.
func OpenFS(fsys fs.FS, opts ...Option) *Repository {
	return Open(fsFetcher{fsys}, opts...)
}

// Has reports whether name names a well-formed dataset under the
// repository's working tree, without loading it.
func (r *Repository) Has(ctx context.Context, name string) bool {
	return dataset.IsValidDataset(r.fetcher.FS(), name)
}

// Get loads (or returns the cached instance of) the dataset named name.
func (r *Repository) Get(ctx context.Context, name string) (*dataset.Dataset, error) {
	r.mu.Lock()
	if ds, ok := r.datasets[name]; ok {
		r.mu.Unlock()
		return ds, nil
	}
	r.mu.Unlock()

	if !dataset.IsValidDataset(r.fetcher.FS(), name) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}

	cacheDir := ""
	if r.cacheDir != "" {
		cacheDir = path.Join(r.cacheDir, name)
	}
	ds, err := dataset.Load(ctx, r.fetcher.FS(), name, cacheDir)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.datasets[name]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.datasets[name] = ds
	r.mu.Unlock()

	r.logger.Debug("kart: loaded dataset", "name", name, "features", ds.FeatureCount())
	return ds, nil
}

// Datasets returns the names of every valid dataset at the working
// tree's top level, in directory order.
func (r *Repository) Datasets(ctx context.Context) ([]string, error) {
	entries, err := fs.ReadDir(r.fetcher.FS(), ".")
	if err != nil {
		return nil, fmt.Errorf("kart: list datasets: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if dataset.IsValidDataset(r.fetcher.FS(), e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// invalidate drops name's cached dataset, if any, so the next Get
// reloads it from the current working tree.
func (r *Repository) invalidate(name string) {
	r.mu.Lock()
	delete(r.datasets, name)
	r.mu.Unlock()
}

// headFetcher is implemented by fetchers that can name the working
// tree's current commit (GoGitFetcher); Diff uses it to fill the
// kart.patch/v1 envelope's "base".
type headFetcher interface {
	Head() string
}

// Diff is a repository-wide merge of every open dataset's pending diff,
// keyed by dataset name under the kart.diff/v1+hexwkb format.
type Diff struct {
	Base     *string
	Datasets map[string]*workingcopy.Diff
}

// patchEnvelope is the kart.patch/v1 sibling member every diff document
// is wrapped in.
type patchEnvelope struct {
	Base *string `json:"base"`
	CRS  string  `json:"crs"`
}

// MarshalJSON wraps d's per-dataset diffs in the kart.patch/v1 +
// kart.diff/v1+hexwkb envelope: stringifying the whole diff produces
// {"kart.patch/v1": {base, crs}, "kart.diff/v1+hexwkb": {<dataset-id>:
// {feature: [...]}}}.
func (d *Diff) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"kart.patch/v1":        patchEnvelope{Base: d.Base, CRS: crs.Default},
		workingcopy.DiffFormat: d.Datasets,
	})
}

// Diff merges the diff of every dataset this repository has loaded.
// Datasets never loaded through Get have no tracked changes and are
// omitted; an untouched loaded dataset still appears, rendering as {}.
func (r *Repository) Diff(ctx context.Context) (*Diff, error) {
	r.mu.Lock()
	snapshot := make(map[string]*dataset.Dataset, len(r.datasets))
	for name, ds := range r.datasets {
		snapshot[name] = ds
	}
	r.mu.Unlock()

	var base *string
	if hf, ok := r.fetcher.(headFetcher); ok {
		if h := hf.Head(); h != "" {
			base = &h
		}
	}

	out := &Diff{Base: base, Datasets: make(map[string]*workingcopy.Diff, len(snapshot))}
	for name, ds := range snapshot {
		d, err := ds.Changes().Diff(ctx)
		if err != nil {
			return nil, fmt.Errorf("kart: diff dataset %q: %w", name, err)
		}
		out.Datasets[name] = d
	}
	return out, nil
}
