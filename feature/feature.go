package feature

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/kart-go/tabledataset/crs"
	"github.com/kart-go/tabledataset/schema"
)

// Feature is a logical row projected from a RawFeature through the
// current Schema, Legends, and PathStructure: ids and properties hold
// raw, not-yet-coerced wire values keyed by current column name; typed
// accessors (Value, or the package-level Blob/Boolean/... functions)
// coerce a named column's raw value on demand.
type Feature struct {
	IDs            map[string]any
	Properties     map[string]any
	DroppedKeys    []string
	GeometryColumn string // "" when the schema has no geometry column
	CRS            string // "" when metadata.crs is null
	Eid            string
}

// raw looks up name across both IDs and Properties.
func (f *Feature) raw(name string) any {
	if v, ok := f.IDs[name]; ok {
		return v
	}
	return f.Properties[name]
}

// Value dispatches to the typed accessor matching e's dataType.
func (f *Feature) Value(e schema.Entry) Result {
	raw := f.raw(e.Name)
	switch e.DataType {
	case schema.Blob:
		return Blob(e, raw)
	case schema.Boolean:
		return Boolean(e, raw)
	case schema.Date:
		return DateValue(e, raw)
	case schema.Float:
		return Float(e, raw)
	case schema.Geometry:
		return GeometryValue(e, raw)
	case schema.Integer:
		return Integer(e, raw)
	case schema.Interval:
		return IntervalValue(e, raw)
	case schema.Numeric:
		return Numeric(e, raw)
	case schema.Text:
		return Text(e, raw)
	case schema.Time:
		return TimeValue(e, raw)
	case schema.Timestamp:
		return Timestamp(e, raw)
	default:
		panic(fmt.Errorf("%w: unknown dataType %q", ErrTypeMismatch, e.DataType))
	}
}

// AggregateError collects every field-level validation error encountered
// by Validate, tagged with the offending column name.
type AggregateError struct {
	Errors map[string][]error
}

func (a *AggregateError) Error() string {
	return fmt.Sprintf("feature: %d column(s) failed validation", len(a.Errors))
}

// Unwrap exposes the per-column errors to errors.Is/errors.As via
// errors.Join semantics.
func (a *AggregateError) Unwrap() []error {
	var all []error
	for _, errs := range a.Errors {
		all = append(all, errs...)
	}
	return all
}

// Validate runs every schema column's typed accessor against f and
// returns an *AggregateError describing every column whose value was
// rejected outright (Result.OK == false), or nil if all columns coerce
// cleanly. Soft, non-rejecting violations (e.g. numeric precision/scale)
// are still visible via Value but do not fail Validate.
func (f *Feature) Validate(s *schema.Schema) error {
	agg := &AggregateError{Errors: make(map[string][]error)}
	for _, e := range s.Entries() {
		res := f.Value(e)
		if !res.OK {
			agg.Errors[e.Name] = res.Errors
		}
	}
	if len(agg.Errors) == 0 {
		return nil
	}
	return agg
}

// ToGeoJSON renders f as a GeoJSON feature, reprojecting its geometry to
// crs.Default using rp. Returns (nil, nil) when f has no geometry column
// or that column's value is null.
func (f *Feature) ToGeoJSON(s *schema.Schema, reg *crs.Registry, rp crs.Reprojector) (*geojson.Feature, error) {
	if f.GeometryColumn == "" {
		return nil, nil
	}
	geomEntry, hasGeom := s.EntryByName(f.GeometryColumn)
	if !hasGeom {
		return nil, nil
	}
	res := f.Value(geomEntry)
	if !res.OK {
		return nil, errors.Join(res.Errors...)
	}
	geom, _ := res.Data.(orb.Geometry)
	if geom == nil {
		return nil, nil
	}

	fromCRS := f.CRS
	if fromCRS == "" {
		fromCRS = crs.Default
	}
	projected, err := crs.Reproject(rp, reg, geom, fromCRS, crs.Default)
	if err != nil {
		return nil, fmt.Errorf("feature: reproject: %w", err)
	}

	gf := geojson.NewFeature(projected)
	gf.ID = f.Eid
	gf.Properties = make(geojson.Properties)
	for _, e := range s.Entries() {
		if e.Name == f.GeometryColumn || e.DataType == schema.Geometry {
			continue
		}
		res := f.Value(e)
		gf.Properties[e.Name] = res.Data
	}
	gf.ExtraMembers = geojson.Properties{
		"_kart": map[string]any{
			"ids":            f.IDs,
			"eid":            f.Eid,
			"geometryColumn": f.GeometryColumn,
		},
		"crs": map[string]any{
			"type":       "name",
			"properties": map[string]any{"name": fromCRS},
		},
	}
	return gf, nil
}

// FromGeoJSON builds a Feature from a GeoJSON feature carrying a
// "_kart.ids" member, validating the result against s.
func FromGeoJSON(gf *geojson.Feature, s *schema.Schema) (*Feature, error) {
	kart, _ := gf.ExtraMembers["_kart"].(map[string]any)
	idsRaw, _ := kart["ids"].(map[string]any)

	f := &Feature{
		IDs:        make(map[string]any, len(idsRaw)),
		Properties: make(map[string]any, len(gf.Properties)),
	}
	for k, v := range idsRaw {
		f.IDs[k] = v
	}
	for k, v := range gf.Properties {
		f.Properties[k] = v
	}
	if ge, ok := s.PrimaryGeometry(); ok {
		f.GeometryColumn = ge.Name
		f.Properties[ge.Name] = gf.Geometry
	}

	if err := f.Validate(s); err != nil {
		return nil, err
	}
	return f, nil
}
