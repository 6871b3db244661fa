// Geometry blob encode/decode: the geopackage-binary envelope form used by
// the dataset format, layered over WKB via github.com/paulmach/orb.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// ErrInvalidGeometryBlob is returned when a geometry blob does not start
// with the geopackage-binary magic header.
var ErrInvalidGeometryBlob = errors.New("wire: invalid geometry blob")

const (
	gpbMagic0 = 'G'
	gpbMagic1 = 'P'
	gpbVersion = 0x00

	// envelope indicator bits (flags bits 1-3).
	envelopeNone = 0
	envelopeXY   = 1
)

// EncodeGeometry renders geom as a geopackage-binary envelope blob: magic
// header, version, a little-endian flags byte, SRS ID 0, an xy envelope for
// every non-point geometry, and the WKB body.
func EncodeGeometry(geom orb.Geometry) ([]byte, error) {
	if geom == nil {
		return nil, nil
	}
	body, err := wkb.Marshal(geom)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal wkb: %w", err)
	}

	_, isPoint := geom.(orb.Point)
	flags := byte(0x01) // bit0=1: little-endian
	if !isPoint {
		flags |= envelopeXY << 1
	}

	buf := make([]byte, 0, 8+40+len(body))
	buf = append(buf, gpbMagic0, gpbMagic1, gpbVersion, flags)
	var srsID [4]byte
	binary.LittleEndian.PutUint32(srsID[:], 0)
	buf = append(buf, srsID[:]...)

	if !isPoint {
		minX, minY, maxX, maxY := boundsOf(geom)
		buf = appendFloat64LE(buf, minX)
		buf = appendFloat64LE(buf, maxX)
		buf = appendFloat64LE(buf, minY)
		buf = appendFloat64LE(buf, maxY)
	}

	buf = append(buf, body...)
	return buf, nil
}

// DecodeGeometry parses a geopackage-binary envelope blob back into a
// GeoJSON-compatible orb.Geometry, ignoring any envelope present.
func DecodeGeometry(blob []byte) (orb.Geometry, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < 8 || blob[0] != gpbMagic0 || blob[1] != gpbMagic1 {
		return nil, ErrInvalidGeometryBlob
	}
	flags := blob[3]
	littleEndian := flags&0x01 != 0
	envelopeKind := (flags >> 1) & 0x07

	order := binary.ByteOrder(binary.BigEndian)
	if littleEndian {
		order = binary.LittleEndian
	}
	_ = order // SRS ID is not needed downstream; kept for documentation.

	offset := 8
	var envelopeDoubles int
	switch envelopeKind {
	case envelopeNone:
		envelopeDoubles = 0
	case envelopeXY:
		envelopeDoubles = 4
	default:
		// xyz/xym/xyzm envelopes: 6 or 8 doubles. We don't need the values,
		// only to skip past them.
		switch envelopeKind {
		case 2, 3:
			envelopeDoubles = 6
		case 4:
			envelopeDoubles = 8
		default:
			return nil, ErrInvalidGeometryBlob
		}
	}
	offset += envelopeDoubles * 8
	if offset > len(blob) {
		return nil, ErrInvalidGeometryBlob
	}

	geom, err := wkb.Unmarshal(blob[offset:])
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal wkb: %w", err)
	}
	return geom, nil
}

func appendFloat64LE(buf []byte, v float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return append(buf, b[:]...)
}

// boundsOf computes a flat (minX, minY, maxX, maxY) bounding box for geom.
func boundsOf(geom orb.Geometry) (minX, minY, maxX, maxY float64) {
	b := geom.Bound()
	return b.Min[0], b.Min[1], b.Max[0], b.Max[1]
}
