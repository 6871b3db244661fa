// Package feature projects a RawFeature through the current Schema,
// Legends, PathStructure, and CRS registry into a typed, validated row,
// and renders it to/from GeoJSON. Coercion follows an affinity table
// generalized from SQLite's five storage classes to the dataset's eleven
// data types.
package feature

import (
	"errors"
	"fmt"

	"github.com/kart-go/tabledataset/schema"
)

// ErrTypeMismatch is raised when a typed accessor is used against a
// column whose schema dataType doesn't match. This is a precondition
// violation, not a recoverable runtime condition — callers
// are expected to have already resolved the column's dataType from the
// Schema before picking an accessor, so this is surfaced as a panic
// rather than threaded through every call site's error return.
var ErrTypeMismatch = errors.New("feature: type mismatch")

// ErrInvalidValue is wrapped into the Errors of a Result whose value
// could not be coerced to its schema type, or that violated one of the
// declared constraints (length, precision, bit size).
var ErrInvalidValue = errors.New("feature: invalid value")

// ErrUnsupported is returned for geometry values this module deliberately
// does not accept, namely GeometryCollection.
var ErrUnsupported = errors.New("feature: unsupported")

// Result is the outcome of a typed accessor call.
type Result struct {
	Type         schema.DataType
	IsPrimaryKey bool
	OK           bool
	Data         any
	Errors       []error
}

func ok(dt schema.DataType, isPK bool, data any) Result {
	return Result{Type: dt, IsPrimaryKey: isPK, OK: true, Data: data}
}

func fail(dt schema.DataType, isPK bool, data any, errs ...error) Result {
	return Result{Type: dt, IsPrimaryKey: isPK, OK: false, Data: data, Errors: errs}
}

func requireType(e schema.Entry, want schema.DataType) {
	if e.DataType != want {
		panic(fmt.Errorf("%w: column %q is %s, not %s", ErrTypeMismatch, e.Name, e.DataType, want))
	}
}

func nullResult(e schema.Entry) Result {
	return ok(e.DataType, e.IsPrimaryKey(), nil)
}
