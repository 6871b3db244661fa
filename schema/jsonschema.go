package schema

import (
	"math"
	"math/big"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ToJSONSchema projects s into a JSON Schema document describing the
// properties object a Feature built from s must satisfy: one property
// per column, typed per dataType, with primary-key columns listed as
// required. Geometry columns get the GeoJSON-Geometry shape.
func (s *Schema) ToJSONSchema() *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	var required []string
	for _, e := range s.entries {
		props.Set(e.Name, entryJSONSchema(e))
		if e.IsPrimaryKey() {
			required = append(required, e.Name)
		}
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func entryJSONSchema(e Entry) *jsonschema.Schema {
	switch e.DataType {
	case Boolean:
		return &jsonschema.Schema{Type: "boolean"}
	case Blob:
		return &jsonschema.Schema{
			Type:  "array",
			Items: &jsonschema.Schema{Type: "integer", Extras: map[string]any{"minimum": 0, "maximum": 255}},
			Extras: map[string]any{"format": "bytes"},
		}
	case Date:
		return &jsonschema.Schema{Type: "string", Format: "date"}
	case Time:
		return &jsonschema.Schema{Type: "string", Format: "time"}
	case Timestamp:
		return &jsonschema.Schema{Type: "string", Format: "date-time"}
	case Float:
		sch := &jsonschema.Schema{Type: "number"}
		if lo, hi := floatBounds(e.Size); lo != nil {
			sch.Extras = map[string]any{"minimum": lo, "maximum": hi}
		}
		return sch
	case Integer:
		sch := &jsonschema.Schema{Type: "integer"}
		if lo, hi := integerBounds(e.Size); lo != nil {
			sch.Extras = map[string]any{"minimum": lo, "maximum": hi}
		}
		return sch
	case Interval:
		return &jsonschema.Schema{Type: "string", Extras: map[string]any{"format": "duration"}}
	case Numeric:
		sch := &jsonschema.Schema{Type: "string"}
		if e.Precision > 0 {
			sch.Extras = map[string]any{"precision": e.Precision, "scale": e.Scale}
		}
		return sch
	case Text:
		sch := &jsonschema.Schema{Type: "string"}
		if e.HasLength {
			l := uint64(e.Length)
			sch.MaxLength = &l
		}
		return sch
	case Geometry:
		return geoJSONGeometrySchema()
	default:
		return &jsonschema.Schema{}
	}
}

// integerBounds derives the signed two's-complement range of a size-bit
// integer column. Bounds are returned as *big.Int regardless of size, since
// a 64-bit bound does not fit a float64 without loss.
func integerBounds(size int) (*big.Int, *big.Int) {
	if size <= 0 {
		return nil, nil
	}
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(size-1)), big.NewInt(1))
	min := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(size-1)))
	return min, max
}

// floatBounds derives the finite range of an IEEE 754 column from its bit
// width (32 or 64). Unrecognized widths yield no bound.
func floatBounds(size int) (*float64, *float64) {
	var max float64
	switch size {
	case 32:
		max = math.MaxFloat32
	case 64:
		max = math.MaxFloat64
	default:
		return nil, nil
	}
	min := -max
	return &min, &max
}

// geoJSONGeometrySchema is the minimal GeoJSON-Geometry shape used as the
// validation reference for the geometry data type.
func geoJSONGeometrySchema() *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	props.Set("type", &jsonschema.Schema{
		Type: "string",
		Enum: []any{"Point", "LineString", "Polygon", "MultiPoint", "MultiLineString", "MultiPolygon", "GeometryCollection"},
	})
	props.Set("coordinates", &jsonschema.Schema{})
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   []string{"type"},
	}
}
