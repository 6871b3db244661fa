package feature

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"

	"github.com/kart-go/tabledataset/schema"
)

// Blob returns e's value as a byte slice, accepting a native []byte, a
// base64 string, or an array of 0..255 integers.
func Blob(e schema.Entry, raw any) Result {
	requireType(e, schema.Blob)
	if raw == nil {
		return nullResult(e)
	}
	switch v := raw.(type) {
	case []byte:
		return ok(e.DataType, e.IsPrimaryKey(), v)
	case string:
		data, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: blob: invalid base64: %v", ErrInvalidValue, err))
		}
		return ok(e.DataType, e.IsPrimaryKey(), data)
	case []any:
		buf := make([]byte, len(v))
		for i, el := range v {
			n, isInt := toInt64(el)
			if !isInt || n < 0 || n > 255 {
				return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: blob: element %d is not a byte value", ErrInvalidValue, i))
			}
			buf[i] = byte(n)
		}
		return ok(e.DataType, e.IsPrimaryKey(), buf)
	default:
		return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: blob: unsupported value type %T", ErrInvalidValue, raw))
	}
}

// Boolean returns e's value as a bool, accepting a native bool, 0/1, or
// "true"/"false" (case-insensitive).
func Boolean(e schema.Entry, raw any) Result {
	requireType(e, schema.Boolean)
	if raw == nil {
		return nullResult(e)
	}
	switch v := raw.(type) {
	case bool:
		return ok(e.DataType, e.IsPrimaryKey(), v)
	case string:
		switch strings.ToLower(v) {
		case "true":
			return ok(e.DataType, e.IsPrimaryKey(), true)
		case "false":
			return ok(e.DataType, e.IsPrimaryKey(), false)
		default:
			return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: boolean: %q", ErrInvalidValue, v))
		}
	default:
		if n, isInt := toInt64(v); isInt {
			switch n {
			case 0:
				return ok(e.DataType, e.IsPrimaryKey(), false)
			case 1:
				return ok(e.DataType, e.IsPrimaryKey(), true)
			}
		}
		return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: boolean: unsupported value %v", ErrInvalidValue, v))
	}
}

// DateValue returns e's value as a Date, accepting a native Date or an
// ISO 8601 date string that round-trips exactly.
func DateValue(e schema.Entry, raw any) Result {
	requireType(e, schema.Date)
	if raw == nil {
		return nullResult(e)
	}
	switch v := raw.(type) {
	case Date:
		return ok(e.DataType, e.IsPrimaryKey(), v)
	case string:
		d, err := ParseDate(v)
		if err != nil {
			return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: date: %v", ErrInvalidValue, err))
		}
		return ok(e.DataType, e.IsPrimaryKey(), d)
	default:
		return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: date: unsupported value type %T", ErrInvalidValue, raw))
	}
}

// Float returns e's value as a float64, accepting a native number or a
// string parseable to a finite number.
func Float(e schema.Entry, raw any) Result {
	requireType(e, schema.Float)
	if raw == nil {
		return nullResult(e)
	}
	if f, isNum := toFloat64(raw); isNum {
		return ok(e.DataType, e.IsPrimaryKey(), f)
	}
	if s, isStr := raw.(string); isStr {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: float: %v", ErrInvalidValue, err))
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: float: %q is not a finite number", ErrInvalidValue, s))
		}
		return ok(e.DataType, e.IsPrimaryKey(), f)
	}
	return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: float: unsupported value type %T", ErrInvalidValue, raw))
}

// GeometryValue returns e's value as an orb.Geometry.
func GeometryValue(e schema.Entry, raw any) Result {
	requireType(e, schema.Geometry)
	if raw == nil {
		return nullResult(e)
	}
	geom, isGeom := raw.(orb.Geometry)
	if !isGeom {
		return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: geometry: unsupported value type %T", ErrInvalidValue, raw))
	}
	if _, isCollection := geom.(orb.Collection); isCollection {
		return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: geometry: GeometryCollection is unsupported", ErrUnsupported))
	}
	return ok(e.DataType, e.IsPrimaryKey(), geom)
}

// Integer returns e's value as a *big.Int, accepting a native integer
// number or a `-?\d+` / `-?\d+n` string, and enforcing the declared
// signed bit-size range.
func Integer(e schema.Entry, raw any) Result {
	requireType(e, schema.Integer)
	if raw == nil {
		return nullResult(e)
	}

	var n *big.Int
	switch v := raw.(type) {
	case *big.Int:
		n = v
	case string:
		s := strings.TrimSuffix(v, "n")
		parsed, good := new(big.Int).SetString(s, 10)
		if !good {
			return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: integer: %q is not an integer literal", ErrInvalidValue, v))
		}
		n = parsed
	default:
		if i64, isInt := toInt64(raw); isInt {
			n = big.NewInt(i64)
		} else {
			return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: integer: unsupported value type %T", ErrInvalidValue, raw))
		}
	}

	size := e.Size
	if size == 0 {
		size = 64
	}
	lo, hi := signedRange(size)
	if n.Cmp(lo) < 0 || n.Cmp(hi) > 0 {
		return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: integer: %s does not fit in a signed %d-bit range", ErrInvalidValue, n.String(), size))
	}
	return ok(e.DataType, e.IsPrimaryKey(), n)
}

func signedRange(bits int) (lo, hi *big.Int) {
	hi = new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
	lo = new(big.Int).Neg(hi)
	hi.Sub(hi, big.NewInt(1))
	return lo, hi
}

// IntervalValue returns e's value as an Interval, accepting a native
// Interval or an ISO 8601 duration string that round-trips exactly.
func IntervalValue(e schema.Entry, raw any) Result {
	requireType(e, schema.Interval)
	if raw == nil {
		return nullResult(e)
	}
	switch v := raw.(type) {
	case Interval:
		return ok(e.DataType, e.IsPrimaryKey(), v)
	case string:
		iv, err := ParseInterval(v)
		if err != nil {
			return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: interval: %v", ErrInvalidValue, err))
		}
		return ok(e.DataType, e.IsPrimaryKey(), iv)
	default:
		return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: interval: unsupported value type %T", ErrInvalidValue, raw))
	}
}

// Numeric returns e's value as a decimal.Decimal, accepting a native
// decimal.Decimal or a string parseable to one that round-trips exactly.
// Precision/scale violations are reported in Errors but the value is
// still returned.
func Numeric(e schema.Entry, raw any) Result {
	requireType(e, schema.Numeric)
	if raw == nil {
		return nullResult(e)
	}

	var d decimal.Decimal
	switch v := raw.(type) {
	case decimal.Decimal:
		d = v
	case string:
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: numeric: %v", ErrInvalidValue, err))
		}
		if parsed.String() != v {
			return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: numeric: %v", ErrInvalidValue, ErrRoundTrip))
		}
		d = parsed
	default:
		return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: numeric: unsupported value type %T", ErrInvalidValue, raw))
	}

	var errs []error
	precision := d.NumDigits()
	scale := 0
	if exp := d.Exponent(); exp < 0 {
		scale = int(-exp)
	}
	if e.Precision > 0 && precision > e.Precision {
		errs = append(errs, fmt.Errorf("%w: numeric: precision %d exceeds schema precision %d", ErrInvalidValue, precision, e.Precision))
	}
	if e.Scale > 0 && scale > e.Scale {
		errs = append(errs, fmt.Errorf("%w: numeric: scale %d exceeds schema scale %d", ErrInvalidValue, scale, e.Scale))
	}
	return Result{Type: e.DataType, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: d, Errors: errs}
}

// Text returns e's value as a string, enforcing the declared max length.
func Text(e schema.Entry, raw any) Result {
	requireType(e, schema.Text)
	if raw == nil {
		return nullResult(e)
	}
	s, isStr := raw.(string)
	if !isStr {
		return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: text: unsupported value type %T", ErrInvalidValue, raw))
	}
	if e.HasLength && len([]rune(s)) > e.Length {
		return Result{
			Type: e.DataType, IsPrimaryKey: e.IsPrimaryKey(), OK: false, Data: s,
			Errors: []error{fmt.Errorf("%w: text: too_big: length exceeds %d", ErrInvalidValue, e.Length)},
		}
	}
	return ok(e.DataType, e.IsPrimaryKey(), s)
}

// TimeValue returns e's value as a Time, accepting a native Time or an
// ISO 8601 time string that round-trips exactly.
func TimeValue(e schema.Entry, raw any) Result {
	requireType(e, schema.Time)
	if raw == nil {
		return nullResult(e)
	}
	switch v := raw.(type) {
	case Time:
		return ok(e.DataType, e.IsPrimaryKey(), v)
	case string:
		t, err := ParseTime(v)
		if err != nil {
			return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: time: %v", ErrInvalidValue, err))
		}
		return ok(e.DataType, e.IsPrimaryKey(), t)
	default:
		return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: time: unsupported value type %T", ErrInvalidValue, raw))
	}
}

// Timestamp returns e's value as a DateTime, accepting a native DateTime
// or an ISO 8601 datetime string (no timezone offset) that round-trips
// exactly.
func Timestamp(e schema.Entry, raw any) Result {
	requireType(e, schema.Timestamp)
	if raw == nil {
		return nullResult(e)
	}
	switch v := raw.(type) {
	case DateTime:
		return ok(e.DataType, e.IsPrimaryKey(), v)
	case string:
		dt, err := ParseDateTime(v)
		if err != nil {
			return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: timestamp: %v", ErrInvalidValue, err))
		}
		return ok(e.DataType, e.IsPrimaryKey(), dt)
	default:
		return fail(e.DataType, e.IsPrimaryKey(), nil, fmt.Errorf("%w: timestamp: unsupported value type %T", ErrInvalidValue, raw))
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case float32:
		if n == float32(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		if i, isInt := toInt64(v); isInt {
			return float64(i), true
		}
	}
	return 0, false
}
