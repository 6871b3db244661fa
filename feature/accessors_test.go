package feature

import (
	"errors"
	"math/big"
	"testing"

	"github.com/paulmach/orb"

	"github.com/kart-go/tabledataset/schema"
)

func entry(dt schema.DataType, opts func(*schema.Entry)) schema.Entry {
	e := schema.Entry{ID: "c1", Name: "col", DataType: dt, PrimaryKeyIndex: schema.NotPrimaryKey}
	if opts != nil {
		opts(&e)
	}
	return e
}

func TestBlobCoercions(t *testing.T) {
	e := entry(schema.Blob, nil)
	tests := []struct {
		name string
		raw  any
		want []byte
	}{
		{"native", []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"base64", "AQID", []byte{1, 2, 3}},
		{"array", []any{int64(1), int64(2), int64(3)}, []byte{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Blob(e, tt.raw)
			if !res.OK {
				t.Fatalf("Blob() not ok, errors = %v", res.Errors)
			}
			got := res.Data.([]byte)
			if string(got) != string(tt.want) {
				t.Errorf("Blob() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBlobNull(t *testing.T) {
	e := entry(schema.Blob, nil)
	res := Blob(e, nil)
	if !res.OK || res.Data != nil {
		t.Errorf("Blob(nil) = %+v, want ok with nil data", res)
	}
}

func TestBooleanCoercions(t *testing.T) {
	e := entry(schema.Boolean, nil)
	tests := []struct {
		raw  any
		want bool
	}{
		{true, true},
		{int64(1), true},
		{int64(0), false},
		{"TRUE", true},
		{"false", false},
	}
	for _, tt := range tests {
		res := Boolean(e, tt.raw)
		if !res.OK {
			t.Fatalf("Boolean(%v) not ok: %v", tt.raw, res.Errors)
		}
		if res.Data != tt.want {
			t.Errorf("Boolean(%v) = %v, want %v", tt.raw, res.Data, tt.want)
		}
	}
}

func TestTypeMismatchPanics(t *testing.T) {
	e := entry(schema.Boolean, nil)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("Blob() on boolean column did not panic")
		}
		if err, isErr := r.(error); !isErr || !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("recovered value = %v, want ErrTypeMismatch", r)
		}
	}()
	Blob(e, []byte{1})
}

func TestTextTooBig(t *testing.T) {
	e := entry(schema.Text, func(e *schema.Entry) {
		e.HasLength = true
		e.Length = 3
	})
	res := Text(e, "abcdef")
	if res.OK {
		t.Fatalf("Text() ok = true, want false for too_big value")
	}
	if len(res.Errors) != 1 {
		t.Fatalf("Text() errors = %v, want exactly one", res.Errors)
	}
}

func TestTextWithinLength(t *testing.T) {
	e := entry(schema.Text, func(e *schema.Entry) {
		e.HasLength = true
		e.Length = 10
	})
	res := Text(e, "abc")
	if !res.OK || res.Data != "abc" {
		t.Errorf("Text() = %+v, want ok with \"abc\"", res)
	}
}

func TestIntegerBitSizeConstraint(t *testing.T) {
	e := entry(schema.Integer, func(e *schema.Entry) { e.Size = 8 })
	ok200 := Integer(e, int64(127))
	if !ok200.OK {
		t.Errorf("Integer(127) not ok: %v", ok200.Errors)
	}
	bad := Integer(e, int64(128))
	if bad.OK {
		t.Errorf("Integer(128) ok = true, want false (exceeds signed 8-bit range)")
	}
}

func TestIntegerStringWithBigIntSuffix(t *testing.T) {
	e := entry(schema.Integer, func(e *schema.Entry) { e.Size = 64 })
	res := Integer(e, "12345n")
	if !res.OK {
		t.Fatalf("Integer(\"12345n\") not ok: %v", res.Errors)
	}
	n := res.Data.(*big.Int)
	if n.Cmp(big.NewInt(12345)) != 0 {
		t.Errorf("Integer(\"12345n\") = %v, want 12345", n)
	}
}

func TestNumericSoftViolationStillReturnsValue(t *testing.T) {
	e := entry(schema.Numeric, func(e *schema.Entry) {
		e.Precision = 3
		e.Scale = 1
	})
	res := Numeric(e, "12.34")
	if !res.OK {
		t.Fatalf("Numeric() ok = false, want true even with soft violation")
	}
	if len(res.Errors) == 0 {
		t.Errorf("Numeric() Errors empty, want precision/scale violations reported")
	}
	if res.Data == nil {
		t.Errorf("Numeric() Data = nil, want the parsed decimal to still be returned")
	}
}

func TestDateRoundTrip(t *testing.T) {
	e := entry(schema.Date, nil)
	res := DateValue(e, "2024-01-15")
	if !res.OK {
		t.Fatalf("DateValue() not ok: %v", res.Errors)
	}
	if res.Data.(Date).String() != "2024-01-15" {
		t.Errorf("DateValue() = %v, want 2024-01-15", res.Data)
	}
}

func TestIntervalRoundTrip(t *testing.T) {
	e := entry(schema.Interval, nil)
	res := IntervalValue(e, "P1Y2M3DT4H5M6S")
	if !res.OK {
		t.Fatalf("IntervalValue() not ok: %v", res.Errors)
	}
	if res.Data.(Interval).String() != "P1Y2M3DT4H5M6S" {
		t.Errorf("IntervalValue() = %v, want P1Y2M3DT4H5M6S", res.Data)
	}
}

func TestGeometryCollectionRejected(t *testing.T) {
	e := entry(schema.Geometry, nil)
	coll := orb.Collection{orb.Point{0, 0}}
	res := GeometryValue(e, coll)
	if res.OK {
		t.Fatalf("GeometryValue(GeometryCollection) ok = true, want false")
	}
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], ErrUnsupported) {
		t.Errorf("GeometryValue() errors = %v, want ErrUnsupported", res.Errors)
	}
}

func TestGeometryPointAccepted(t *testing.T) {
	e := entry(schema.Geometry, nil)
	pt := orb.Point{1, 2}
	res := GeometryValue(e, pt)
	if !res.OK {
		t.Fatalf("GeometryValue(Point) not ok: %v", res.Errors)
	}
	if res.Data.(orb.Point) != pt {
		t.Errorf("GeometryValue() = %v, want %v", res.Data, pt)
	}
}
