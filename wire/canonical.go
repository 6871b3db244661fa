// Canonical JSON rendering for diff/equality output: geometries as hex
// WKB, byte blobs as hex, big integers as raw (unquoted) JSON numbers, and
// temporal values as ISO-8601 strings (the temporal value types
// themselves, defined in package feature, already implement
// json.Marshaler the right way — Canonical passes them through).

package wire

import (
	"encoding/hex"
	"math/big"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// HexBytes returns the lowercase hex encoding of b.
func HexBytes(b []byte) string {
	return hex.EncodeToString(b)
}

// HexWKB returns the lowercase hex encoding of geom's plain WKB body (no
// geopackage envelope header — that header is an on-disk storage detail,
// not part of the canonical diff representation).
func HexWKB(geom orb.Geometry) (string, error) {
	b, err := wkb.Marshal(geom)
	if err != nil {
		return "", err
	}
	return HexBytes(b), nil
}

// RawBigInt marshals a *big.Int as a raw (unquoted) JSON number, rather
// than JSON's default string-quoted rendering.
type RawBigInt big.Int

// MarshalJSON implements json.Marshaler.
func (r *RawBigInt) MarshalJSON() ([]byte, error) {
	return []byte((*big.Int)(r).String()), nil
}

// Canonical converts v into the representation the canonical diff/equality
// serializer emits: orb.Geometry -> hex WKB string, []byte -> hex string,
// *big.Int -> RawBigInt. Any other value (including the feature package's
// temporal value types, which already implement json.Marshaler with
// ISO-8601 output) passes through unchanged.
func Canonical(v any) (any, error) {
	switch x := v.(type) {
	case orb.Geometry:
		if x == nil {
			return nil, nil
		}
		return HexWKB(x)
	case []byte:
		return HexBytes(x), nil
	case *big.Int:
		return (*RawBigInt)(x), nil
	default:
		return x, nil
	}
}
