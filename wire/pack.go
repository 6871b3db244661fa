// MessagePack pack/unpack wrappers registering the dataset's extension
// codec: type 71 ("G") for geometry blobs, and the standard msgpack
// timestamp extension (handled natively by vmihailenco/msgpack for
// time.Time values) for instant-in-time values.

package wire

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// GeometryExtID is the registered MessagePack extension type for geometry
// blobs.
const GeometryExtID = 71

// GeometryExt carries a raw geopackage-binary geometry blob through
// MessagePack's extension codec. Use DecodeGeometry/EncodeGeometry to
// convert to/from an orb.Geometry.
type GeometryExt struct {
	Blob []byte
}

// MarshalMsgpack implements msgpack.Marshaler for msgpack's extension
// codec.
func (g GeometryExt) MarshalMsgpack() ([]byte, error) {
	return g.Blob, nil
}

// UnmarshalMsgpack implements msgpack.Unmarshaler for msgpack's extension
// codec.
func (g *GeometryExt) UnmarshalMsgpack(b []byte) error {
	g.Blob = append([]byte(nil), b...)
	return nil
}

func init() {
	msgpack.RegisterExt(GeometryExtID, (*GeometryExt)(nil))
}

// Pack encodes v as MessagePack.
func Pack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("wire: pack: %w", err)
	}
	return buf.Bytes(), nil
}

// Unpack decodes the first MessagePack value in data into v. Any bytes in
// data after the first complete value are ignored.
func Unpack(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("wire: unpack: %w", err)
	}
	return nil
}

// UnpackTuple decodes the first MessagePack value in data as a generic
// array, tolerating trailing bytes.
func UnpackTuple(data []byte) ([]any, error) {
	var arr []any
	if err := Unpack(data, &arr); err != nil {
		return nil, err
	}
	return arr, nil
}
