package workingcopy

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kart-go/tabledataset/feature"
	"github.com/kart-go/tabledataset/schema"
	"github.com/kart-go/tabledataset/wire"
)

// DiffFormat names the wire format a dataset's Diff is keyed under once
// wrapped by a repository-wide diff: feature geometries, byte blobs, big
// integers, and temporals are all rendered through wire.Canonical rather
// than left as their in-memory Go types.
const DiffFormat = "kart.diff/v1+hexwkb"

// DiffOp is the per-entry operation a Diff records.
type DiffOp string

const (
	OpInsert DiffOp = "++"
	OpDelete DiffOp = "--"
	OpUpdate DiffOp = "+"
)

// DiffEntry is one feature's change, in DiffFormat's canonical
// rendering. New is populated for OpInsert and OpUpdate; Old is
// populated only for OpDelete. Eid is carried for callers that need it
// (tests, logging) but is not itself a wire member.
type DiffEntry struct {
	Op  DiffOp
	Eid string
	Old *orderedmap.OrderedMap[string, any]
	New *orderedmap.OrderedMap[string, any]
}

// MarshalJSON renders e as {"++": {...}}, {"--": {...}}, or {"+": {...}},
// the sole member naming the op.
func (e DiffEntry) MarshalJSON() ([]byte, error) {
	switch e.Op {
	case OpInsert:
		return json.Marshal(map[string]any{string(OpInsert): e.New})
	case OpDelete:
		return json.Marshal(map[string]any{string(OpDelete): e.Old})
	case OpUpdate:
		return json.Marshal(map[string]any{string(OpUpdate): e.New})
	default:
		return nil, fmt.Errorf("workingcopy: diff entry: unknown op %q", e.Op)
	}
}

// Diff is a WorkingFeatureCollection's pending changes against its
// baseline, one DiffEntry per tracked change.
type Diff struct {
	Entries []DiffEntry
}

// MarshalJSON renders d as {"feature": [...]}, or as an empty object
// when nothing is tracked — an untouched working copy's diff
// stringifies to {}.
func (d *Diff) MarshalJSON() ([]byte, error) {
	if len(d.Entries) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any{"feature": d.Entries})
}

// Diff synthesizes the tracker's pending changes against the baseline.
// Entries are emitted in caller order (the order changes were recorded).
// A change whose patched primary key differs from its baseline value
// emits a Delete of the old identity followed by an Insert of the new
// one, rather than a single Update.
func (c *Collection) Diff(ctx context.Context) (*Diff, error) {
	c.mu.Lock()
	order := append([]string(nil), c.order...)
	changes := make(map[string]*trackedChange, len(c.changes))
	for k, v := range c.changes {
		changes[k] = v
	}
	c.mu.Unlock()

	sch := c.baseline.Schema()
	entries := make([]DiffEntry, 0, len(order))
	for _, eid := range order {
		ch, ok := changes[eid]
		if !ok {
			continue // insert immediately deleted: net-zero, no diff entry.
		}
		switch ch.kind {
		case changeInsert:
			entries = append(entries, DiffEntry{Op: OpInsert, Eid: eid, New: insertPayload(sch, ch.feature)})

		case changeDelete:
			base, err := c.baseline.Get(ctx, eid)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInconsistentState, eid, err)
			}
			entries = append(entries, DiffEntry{Op: OpDelete, Eid: eid, Old: primaryKeyPayload(sch, base)})

		case changeUpdate:
			base, err := c.baseline.Get(ctx, eid)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInconsistentState, eid, err)
			}
			merged := c.applyUpdate(base, ch)

			if pkIdentityChanged(sch, base, merged) {
				entries = append(entries,
					DiffEntry{Op: OpDelete, Eid: eid, Old: primaryKeyPayload(sch, base)},
					DiffEntry{Op: OpInsert, Eid: merged.Eid, New: insertPayload(sch, merged)},
				)
				continue
			}
			entries = append(entries, DiffEntry{Op: OpUpdate, Eid: eid, New: updatePayload(sch, base, merged, ch)})
		}
	}
	return &Diff{Entries: entries}, nil
}

func pkIdentityChanged(sch *schema.Schema, base, merged *feature.Feature) bool {
	for _, name := range sch.PrimaryKeyNames() {
		if !reflect.DeepEqual(base.IDs[name], merged.IDs[name]) {
			return true
		}
	}
	return false
}

// columnValue renders e's typed, coerced value out of f in canonical
// wire form, or nil when the column doesn't resolve cleanly.
func columnValue(f *feature.Feature, e schema.Entry) any {
	res := f.Value(e)
	if !res.OK {
		return nil
	}
	v, err := wire.Canonical(res.Data)
	if err != nil {
		return nil
	}
	return v
}

// insertPayload renders f's primary keys (schema order), then the
// primary geometry column if the schema has one, then every remaining
// property — the full-row shape an Insert's "++" side carries.
func insertPayload(sch *schema.Schema, f *feature.Feature) *orderedmap.OrderedMap[string, any] {
	m := orderedmap.New[string, any]()
	ge, hasGeom := sch.PrimaryGeometry()

	for _, name := range sch.PrimaryKeyNames() {
		e, _ := sch.EntryByName(name)
		m.Set(name, columnValue(f, e))
	}
	if hasGeom {
		m.Set(ge.Name, columnValue(f, ge))
	}
	for _, name := range sch.NonPrimaryKeyNames() {
		if hasGeom && name == ge.Name {
			continue
		}
		e, _ := sch.EntryByName(name)
		m.Set(name, columnValue(f, e))
	}
	return m
}

// primaryKeyPayload renders only f's primary-key columns, in schema
// order, the shape a Delete's "--" side carries. A key absent from f
// (rather than merely null-valued) renders as null.
func primaryKeyPayload(sch *schema.Schema, f *feature.Feature) *orderedmap.OrderedMap[string, any] {
	m := orderedmap.New[string, any]()
	for _, name := range sch.PrimaryKeyNames() {
		v, ok := f.IDs[name]
		if !ok {
			m.Set(name, nil)
			continue
		}
		m.Set(name, canonical(v))
	}
	return m
}

// updatePayload renders the baseline's primary keys, the primary
// geometry column only if this change touched geometry, and only the
// properties ch actually changed (their new, merged values) — the
// shape an Update's "+" side carries.
func updatePayload(sch *schema.Schema, base, merged *feature.Feature, ch *trackedChange) *orderedmap.OrderedMap[string, any] {
	m := orderedmap.New[string, any]()
	for _, name := range sch.PrimaryKeyNames() {
		v, ok := base.IDs[name]
		if !ok {
			m.Set(name, nil)
			continue
		}
		m.Set(name, canonical(v))
	}

	ge, hasGeom := sch.PrimaryGeometry()
	if ch.geometrySet && hasGeom {
		m.Set(ge.Name, columnValue(merged, ge))
	}
	for _, name := range sch.NonPrimaryKeyNames() {
		if hasGeom && name == ge.Name {
			continue
		}
		if _, changed := ch.properties[name]; !changed {
			continue
		}
		e, _ := sch.EntryByName(name)
		m.Set(name, columnValue(merged, e))
	}
	return m
}

// canonical is wire.Canonical with marshal errors (a malformed geometry)
// collapsed to nil rather than propagated, matching the rest of this
// file's null-on-unresolvable-value convention.
func canonical(v any) any {
	c, err := wire.Canonical(v)
	if err != nil {
		return nil
	}
	return c
}
