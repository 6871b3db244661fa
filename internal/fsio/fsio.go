// Package fsio wraps a read-only fs.FS with a bounded-concurrency
// throttle: a dataset may kick off many concurrent row reads during a
// lazy walk or a spatial query, but the underlying filesystem handle
// pool is finite.
package fsio

import (
	"context"
	"fmt"
	"io/fs"
	"path"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the default bound on concurrently open reads.
const DefaultConcurrency = 256

// Facade throttles reads against an fs.FS to at most N concurrent
// in-flight operations, sharing that throttle across every path derived
// from it via Sub.
type Facade struct {
	fsys fs.FS
	sem  *semaphore.Weighted
}

// New wraps fsys with the default concurrency bound.
func New(fsys fs.FS) *Facade {
	return NewWithConcurrency(fsys, DefaultConcurrency)
}

// NewWithConcurrency wraps fsys, allowing at most maxConcurrent
// in-flight reads at a time.
func NewWithConcurrency(fsys fs.FS, maxConcurrent int64) *Facade {
	return &Facade{fsys: fsys, sem: semaphore.NewWeighted(maxConcurrent)}
}

// Sub returns a Facade rooted at dir within f, sharing f's concurrency
// throttle.
func (f *Facade) Sub(dir string) (*Facade, error) {
	sub, err := fs.Sub(f.fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("fsio: sub %q: %w", dir, err)
	}
	return &Facade{fsys: sub, sem: f.sem}, nil
}

// ReadFile reads the entire contents of name, blocking until a slot in
// the concurrency throttle is available or ctx is done.
func (f *Facade) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("fsio: acquire: %w", err)
	}
	defer f.sem.Release(1)

	data, err := fs.ReadFile(f.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("fsio: read %q: %w", name, err)
	}
	return data, nil
}

// Stat stats name, subject to the same concurrency throttle as ReadFile.
func (f *Facade) Stat(ctx context.Context, name string) (fs.FileInfo, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("fsio: acquire: %w", err)
	}
	defer f.sem.Release(1)

	info, err := fs.Stat(f.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("fsio: stat %q: %w", name, err)
	}
	return info, nil
}

// ReadDir reads the directory entries of name, sorted by filename, per
// fs.ReadDir's contract.
func (f *Facade) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("fsio: acquire: %w", err)
	}
	defer f.sem.Release(1)

	entries, err := fs.ReadDir(f.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("fsio: readdir %q: %w", name, err)
	}
	return entries, nil
}

// Exists reports whether name exists, treating any stat error as "does
// not exist" rather than propagating it.
func (f *Facade) Exists(ctx context.Context, name string) bool {
	_, err := f.Stat(ctx, name)
	return err == nil
}

// Join joins path elements using fs.FS's slash convention (fs.FS paths
// are never OS-specific, even on Windows).
func Join(elem ...string) string {
	return path.Join(elem...)
}
