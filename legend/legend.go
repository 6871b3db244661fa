// Package legend parses the immutable per-legend blobs under
// meta/legend/ that record a past schema's column ordering, so rows
// written under an older schema can still be decoded.
package legend

import (
	"errors"
	"fmt"

	"github.com/kart-go/tabledataset/wire"
)

// ErrInvalidFileContents is returned when a legend blob fails to decode,
// or when its content hash does not match the filename it was loaded
// from.
var ErrInvalidFileContents = errors.New("legend: invalid file contents")

// Legend is an immutable snapshot of a schema's column ordering,
// identified by the content hash of its packed bytes.
type Legend struct {
	ID               string
	PrimaryKeyIDs    []string
	NonPrimaryKeyIDs []string
}

// Column describes one entry yielded by Legend.ColumnIDs: a column's
// identity, whether it was a primary key under this legend, and its
// position in the on-wire value tuple that position corresponds to.
type Column struct {
	ColumnID  string
	IsPrimary bool
	DataIndex int
}

// Parse decodes a legend blob's packed bytes, verifying that the content
// hash of those bytes equals wantID (normally the blob's filename stem).
func Parse(packed []byte, wantID string) (*Legend, error) {
	tuple, err := wire.UnpackTuple(packed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFileContents, err)
	}
	if len(tuple) != 2 {
		return nil, fmt.Errorf("%w: expected a 2-tuple, got %d elements", ErrInvalidFileContents, len(tuple))
	}
	pkIDs, err := toStringSlice(tuple[0])
	if err != nil {
		return nil, fmt.Errorf("%w: primaryKeyIds: %v", ErrInvalidFileContents, err)
	}
	npkIDs, err := toStringSlice(tuple[1])
	if err != nil {
		return nil, fmt.Errorf("%w: nonPrimaryKeyIds: %v", ErrInvalidFileContents, err)
	}

	gotID := wire.LegendID(packed)
	if gotID != wantID {
		return nil, fmt.Errorf("%w: hash %s does not match filename %s", ErrInvalidFileContents, gotID, wantID)
	}

	return &Legend{ID: gotID, PrimaryKeyIDs: pkIDs, NonPrimaryKeyIDs: npkIDs}, nil
}

// FromPacked builds a Legend directly from already-known column id slices
// and their packed representation, without re-verifying the hash. Used by
// Schema.ToLegend, which is the sole authority for "current" ordering.
func FromPacked(packed []byte, primaryKeyIDs, nonPrimaryKeyIDs []string) *Legend {
	return &Legend{
		ID:               wire.LegendID(packed),
		PrimaryKeyIDs:    append([]string(nil), primaryKeyIDs...),
		NonPrimaryKeyIDs: append([]string(nil), nonPrimaryKeyIDs...),
	}
}

// ColumnIDs yields every column this legend describes in on-wire order:
// primary keys first, then non-primary keys, each tagged with the raw
// data-tuple index it occupies within its own half of the tuple.
func (l *Legend) ColumnIDs() []Column {
	cols := make([]Column, 0, len(l.PrimaryKeyIDs)+len(l.NonPrimaryKeyIDs))
	for i, id := range l.PrimaryKeyIDs {
		cols = append(cols, Column{ColumnID: id, IsPrimary: true, DataIndex: i})
	}
	for i, id := range l.NonPrimaryKeyIDs {
		cols = append(cols, Column{ColumnID: id, IsPrimary: false, DataIndex: i})
	}
	return cols
}

func toStringSlice(v any) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("expected string at index %d, got %T", i, e)
		}
		out[i] = s
	}
	return out, nil
}
