// Package crs loads per-dataset coordinate reference system definitions
// (WKT text, keyed by identifier) and defines the Reprojector boundary
// the feature package calls through to convert geometry coordinates
// between CRSs. CRS math itself is out of scope here; callers supply a
// Reprojector implementation backed by whatever projection library they
// choose.
package crs

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// ErrNotFound is returned when an identifier has no registered definition.
var ErrNotFound = errors.New("crs: not found")

// Default is the identifier features fall back to when a geometry column
// does not specify one explicitly.
const Default = "EPSG:4326"

// Registry holds the WKT definitions loaded from a dataset's meta/crs/
// directory, keyed by identifier (filename stem).
type Registry struct {
	defs map[string]string
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]string)}
}

// Add registers the WKT text for identifier, overwriting any prior value.
func (r *Registry) Add(identifier, wkt string) {
	r.defs[identifier] = wkt
}

// WKT returns the WKT text registered for identifier.
func (r *Registry) WKT(identifier string) (string, bool) {
	wkt, ok := r.defs[identifier]
	return wkt, ok
}

// Has reports whether identifier has a registered definition.
func (r *Registry) Has(identifier string) bool {
	_, ok := r.defs[identifier]
	return ok
}

// Identifiers returns every registered identifier.
func (r *Registry) Identifiers() []string {
	out := make([]string, 0, len(r.defs))
	for id := range r.defs {
		out = append(out, id)
	}
	return out
}

// Reprojector converts a geometry's coordinates from one CRS to another.
// Implementations are expected to be no-ops when from == to.
type Reprojector interface {
	Reproject(geom orb.Geometry, from, to string) (orb.Geometry, error)
}

// Reproject returns geom unchanged when from == to. Otherwise it fails
// with ErrNotFound when from is not registered in r (Default needs no
// registration) and delegates the coordinate transform to rp.
func Reproject(rp Reprojector, r *Registry, geom orb.Geometry, from, to string) (orb.Geometry, error) {
	if from == to {
		return geom, nil
	}
	if from != Default && !r.Has(from) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, from)
	}
	return rp.Reproject(geom, from, to)
}
