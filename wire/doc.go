// Package wire implements the on-disk and canonical-JSON serialization
// primitives shared by the rest of this module: MessagePack pack/unpack
// with the dataset's extension codec (geometry, timestamp), truncated
// SHA-256 content hashing, and the hex rendering rules used by the
// canonical "kart.diff/v1+hexwkb" JSON form.
//
// Nothing in this package understands schemas, legends, or path
// structures; it is the leaf codec layer the rest of the module builds on.
package wire
