// Package rawfeature decodes a single on-disk feature file — primary
// keys from its filename, legend id and non-primary-key values from its
// body — and projects it onto a dataset's current schema to produce a
// feature.Feature, generalized from a single fixed row layout to
// legend-versioned column identities.
package rawfeature

import (
	"errors"
	"fmt"

	"github.com/kart-go/tabledataset/crs"
	"github.com/kart-go/tabledataset/feature"
	"github.com/kart-go/tabledataset/legend"
	"github.com/kart-go/tabledataset/pathstructure"
	"github.com/kart-go/tabledataset/schema"
	"github.com/kart-go/tabledataset/wire"
)

// ErrInvalidFileContents is returned when a feature file's filename or
// body does not decode to the expected shape.
var ErrInvalidFileContents = errors.New("rawfeature: invalid file contents")

// RawFeature is the immutable decode of a single on-disk feature file:
// the legend it was written under, its primary-key tuple (from the
// filename), and its non-primary-key value tuple (from the body).
type RawFeature struct {
	LegendID            string
	PrimaryKeys         []any
	NonPrimaryKeyValues []any
}

// Parse decodes filename (the eid's final path segment, without
// extension) and body into a RawFeature. Trailing bytes after body's
// first complete MessagePack value are ignored.
func Parse(filename string, body []byte) (*RawFeature, error) {
	packedPK, err := pathstructure.DecodeFilename(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: filename: %v", ErrInvalidFileContents, err)
	}
	pks, err := wire.UnpackTuple(packedPK)
	if err != nil {
		return nil, fmt.Errorf("%w: primary keys: %v", ErrInvalidFileContents, err)
	}

	tuple, err := wire.UnpackTuple(body)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrInvalidFileContents, err)
	}
	if len(tuple) != 2 {
		return nil, fmt.Errorf("%w: expected a 2-tuple body, got %d elements", ErrInvalidFileContents, len(tuple))
	}
	legendID, ok := tuple[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: legendId is not a string", ErrInvalidFileContents)
	}
	npk, ok := tuple[1].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: nonPrimaryKeyValues is not an array", ErrInvalidFileContents)
	}

	return &RawFeature{LegendID: legendID, PrimaryKeys: pks, NonPrimaryKeyValues: npk}, nil
}

// ToObject projects r through the current schema, legend set, path
// structure, and CRS registry into a feature.Feature.
func (r *RawFeature) ToObject(legends map[string]*legend.Legend, s *schema.Schema, ps *pathstructure.PathStructure, reg *crs.Registry) (*feature.Feature, error) {
	lg, found := legends[r.LegendID]
	if !found {
		return nil, fmt.Errorf("rawfeature: unknown legend id %q", r.LegendID)
	}

	raw := make(map[string]any, len(lg.PrimaryKeyIDs)+len(lg.NonPrimaryKeyIDs))
	for _, col := range lg.ColumnIDs() {
		if col.IsPrimary {
			if col.DataIndex < len(r.PrimaryKeys) {
				raw[col.ColumnID] = r.PrimaryKeys[col.DataIndex]
			}
		} else if col.DataIndex < len(r.NonPrimaryKeyValues) {
			raw[col.ColumnID] = r.NonPrimaryKeyValues[col.DataIndex]
		}
	}

	f := &feature.Feature{
		IDs:        make(map[string]any),
		Properties: make(map[string]any),
	}
	currentIDs := make(map[string]bool, len(s.Entries()))
	for _, e := range s.Entries() {
		currentIDs[e.ID] = true
		v := raw[e.ID] // nil when absent: added column, or a dropped id we never carry forward
		if e.DataType == schema.Geometry {
			decoded, err := decodeGeometryValue(v)
			if err != nil {
				return nil, fmt.Errorf("%w: column %q: %v", ErrInvalidFileContents, e.Name, err)
			}
			v = decoded
		}
		if e.IsPrimaryKey() {
			f.IDs[e.Name] = v
		} else {
			f.Properties[e.Name] = v
		}
	}
	for _, col := range lg.ColumnIDs() {
		if !currentIDs[col.ColumnID] {
			f.DroppedKeys = append(f.DroppedKeys, col.ColumnID)
		}
	}

	if ge, hasGeom := s.PrimaryGeometry(); hasGeom {
		f.GeometryColumn = ge.Name
		crsID := ge.GeometryCRS
		if crsID == "" {
			crsID = crs.Default
		}
		if crsID == crs.Default || reg.Has(crsID) {
			f.CRS = crsID
		}
	}

	pkNames := s.PrimaryKeyNames()
	idsInOrder := make([]any, len(pkNames))
	for i, name := range pkNames {
		idsInOrder[i] = f.IDs[name]
	}
	eid, err := ps.Eid(idsInOrder)
	if err != nil {
		return nil, fmt.Errorf("rawfeature: compute eid: %w", err)
	}
	f.Eid = eid

	return f, nil
}

// decodeGeometryValue converts a geometry column's raw msgpack-decoded
// value — a *wire.GeometryExt carrying the geopackage-binary blob, or nil
// when the value is absent or null — into an orb.Geometry.
func decodeGeometryValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	ext, ok := v.(*wire.GeometryExt)
	if !ok {
		return nil, fmt.Errorf("not a geometry extension value (%T)", v)
	}
	geom, err := wire.DecodeGeometry(ext.Blob)
	if err != nil {
		return nil, err
	}
	return geom, nil
}
