// Package workingcopy tracks in-memory edits against a read-only
// baseline dataset and exposes an overlay view, a change-event stream,
// and canonical diff synthesis. An observer is kept in sync with
// mutations the way an index is kept in sync with table writes: every
// mutating call here holds Collection's lock while it reads and writes
// the change tracker and publishes its event only after releasing it.
// Existence checks, baseline lookups and validation run before the lock
// is taken, so concurrent mutations of the same eid are not serialized
// against each other.
package workingcopy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/kart-go/tabledataset/crs"
	"github.com/kart-go/tabledataset/feature"
	"github.com/kart-go/tabledataset/pathstructure"
	"github.com/kart-go/tabledataset/schema"
)

// ErrNotFound is returned when an operation targets an eid that is
// neither in the baseline nor tracked as an insert.
var ErrNotFound = errors.New("workingcopy: feature not found")

// ErrAlreadyExists is returned by Add when eid already resolves to a
// feature, in the baseline or the tracker.
var ErrAlreadyExists = errors.New("workingcopy: feature already exists")

// ErrGeometryTypeMismatch is returned when an added geometry's type
// disagrees with the dataset's declared geometry type, when an updated
// geometry's type differs from the feature's current one, and when
// UpdateGeometry targets a feature with no geometry column.
var ErrGeometryTypeMismatch = errors.New("workingcopy: geometry type mismatch")

// ErrInconsistentState is returned when the tracker references an eid
// the baseline can no longer resolve.
var ErrInconsistentState = errors.New("workingcopy: inconsistent state")

// Baseline is the read-only collaborator a Collection overlays. A
// *dataset.Dataset satisfies this structurally; workingcopy never
// imports the dataset package, so the dependency runs one way.
type Baseline interface {
	Has(ctx context.Context, eid string) (bool, error)
	Get(ctx context.Context, eid string) (*feature.Feature, error)
	ToGeoJSON(ctx context.Context, rp crs.Reprojector) (*geojson.FeatureCollection, error)
	Schema() *schema.Schema
	CRSRegistry() *crs.Registry
	PathStructure() *pathstructure.PathStructure
}

// EventName names the change events a Collection publishes.
type EventName string

const (
	EventAdded   EventName = "feature:added"
	EventDeleted EventName = "feature:deleted"
	EventUpdated EventName = "feature:updated"
	// EventAny fires for every change, alongside its specific event.
	EventAny EventName = "feature"
)

// Event is delivered to a Listener on every tracked change.
type Event struct {
	Name EventName
	Eid  string
}

// Listener receives published Events synchronously, on the goroutine
// that caused the change.
type Listener func(Event)

type changeKind int

const (
	changeInsert changeKind = iota
	changeDelete
	changeUpdate
)

type trackedChange struct {
	kind        changeKind
	feature     *feature.Feature // set for changeInsert
	properties  map[string]any   // set for changeUpdate; raw values, column-name keyed
	geometry    any              // set for changeUpdate when geometry was touched
	geometrySet bool
}

type subscription struct {
	id   uint64
	name EventName
	fn   Listener
}

// Collection is a WorkingFeatureCollection: a change tracker bound to a
// Baseline, with at most one tracked entry per eid.
type Collection struct {
	baseline Baseline

	mu      sync.Mutex
	order   []string // eid insertion order into the tracker, for deterministic replay
	changes map[string]*trackedChange

	subs      []subscription
	nextSubID uint64
}

// New binds a Collection to baseline with an empty tracker.
func New(baseline Baseline) *Collection {
	return &Collection{
		baseline: baseline,
		changes:  make(map[string]*trackedChange),
	}
}

// Subscribe registers l for events named name (or every event, for
// EventAny) and returns an unsubscribe function. Calling the returned
// function more than once is a no-op after the first call.
func (c *Collection) Subscribe(name EventName, l Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs = append(c.subs, subscription{id: id, name: name, fn: l})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// publish notifies listeners registered for name, then listeners
// registered for EventAny, each exactly once. A no-op when no listener
// matches.
func (c *Collection) publish(name EventName, eid string) {
	c.mu.Lock()
	subs := append([]subscription(nil), c.subs...)
	c.mu.Unlock()

	for _, s := range subs {
		if s.name == name {
			s.fn(Event{Name: name, Eid: eid})
		}
	}
	for _, s := range subs {
		if s.name == EventAny {
			s.fn(Event{Name: EventAny, Eid: eid})
		}
	}
}

// Has reports whether eid resolves to a live feature through the
// overlay: tracked inserts and updates count as present, tracked
// deletes as absent, anything untracked falls through to the baseline.
func (c *Collection) Has(ctx context.Context, eid string) (bool, error) {
	c.mu.Lock()
	ch, tracked := c.changes[eid]
	c.mu.Unlock()
	if tracked {
		return ch.kind != changeDelete, nil
	}
	return c.baseline.Has(ctx, eid)
}

// Get resolves eid through the overlay, applying any tracked update on
// top of the baseline feature.
func (c *Collection) Get(ctx context.Context, eid string) (*feature.Feature, error) {
	c.mu.Lock()
	ch, tracked := c.changes[eid]
	c.mu.Unlock()
	if !tracked {
		return c.baseline.Get(ctx, eid)
	}
	switch ch.kind {
	case changeDelete:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, eid)
	case changeInsert:
		return ch.feature, nil
	default: // changeUpdate
		base, err := c.baseline.Get(ctx, eid)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInconsistentState, eid, err)
		}
		return c.applyUpdate(base, ch), nil
	}
}

func (c *Collection) applyUpdate(base *feature.Feature, ch *trackedChange) *feature.Feature {
	sch := c.baseline.Schema()
	out := &feature.Feature{
		IDs:            cloneAnyMap(base.IDs),
		Properties:     cloneAnyMap(base.Properties),
		DroppedKeys:    append([]string(nil), base.DroppedKeys...),
		GeometryColumn: base.GeometryColumn,
		CRS:            base.CRS,
		Eid:            base.Eid,
	}
	for k, v := range ch.properties {
		if e, ok := sch.EntryByName(k); ok && e.IsPrimaryKey() {
			out.IDs[k] = v
		} else {
			out.Properties[k] = v
		}
	}
	if ch.geometrySet && out.GeometryColumn != "" {
		out.Properties[out.GeometryColumn] = ch.geometry
	}

	if pkNames := sch.PrimaryKeyNames(); len(pkNames) > 0 {
		idsInOrder := make([]any, len(pkNames))
		for i, n := range pkNames {
			idsInOrder[i] = out.IDs[n]
		}
		if eid, err := c.baseline.PathStructure().Eid(idsInOrder); err == nil {
			out.Eid = eid
		}
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (c *Collection) recordChange(eid string, ch *trackedChange) {
	if _, exists := c.changes[eid]; !exists {
		c.order = append(c.order, eid)
	}
	c.changes[eid] = ch
}

func (c *Collection) clearChange(eid string) {
	if _, exists := c.changes[eid]; !exists {
		return
	}
	delete(c.changes, eid)
	for i, e := range c.order {
		if e == eid {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Add records the insertion of f at eid. It fails if eid already
// resolves to a feature, if f's geometry type disagrees with the
// dataset's declared geometry type, or if f fails schema validation.
func (c *Collection) Add(ctx context.Context, eid string, f *feature.Feature) error {
	exists, err := c.Has(ctx, eid)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, eid)
	}
	if err := c.checkGeometryType(f); err != nil {
		return err
	}
	if err := f.Validate(c.baseline.Schema()); err != nil {
		return fmt.Errorf("workingcopy: add %s: %w", eid, err)
	}

	c.mu.Lock()
	c.recordChange(eid, &trackedChange{kind: changeInsert, feature: f})
	c.mu.Unlock()
	c.publish(EventAdded, eid)
	return nil
}

// checkGeometryType rejects a geometry whose type disagrees with the
// schema's declared geometry type: the dataset has a single dominant
// geometry type across all of its features. GeometryCollection is
// already rejected by the Geometry accessor itself (surfaced via
// Validate), so it never reaches the type-equality check here.
func (c *Collection) checkGeometryType(f *feature.Feature) error {
	ge, hasGeom := c.baseline.Schema().PrimaryGeometry()
	if !hasGeom || f.GeometryColumn == "" || ge.GeometryType == "" {
		return nil
	}
	res := f.Value(ge)
	if !res.OK || res.Data == nil {
		return nil // Validate will surface the real failure.
	}
	geom, ok := res.Data.(orb.Geometry)
	if !ok {
		return nil
	}
	if geom.GeoJSONType() != ge.GeometryType {
		return fmt.Errorf("%w: got %s, want %s", ErrGeometryTypeMismatch, geom.GeoJSONType(), ge.GeometryType)
	}
	return nil
}

// Delete records the removal of eid. It fails if eid is absent. If the
// tracker currently holds a pending insert for eid, the insert and the
// delete cancel out to a net-zero tracker entry (spec scenario: insert
// then delete yields an empty diff).
func (c *Collection) Delete(ctx context.Context, eid string) error {
	exists, err := c.Has(ctx, eid)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, eid)
	}

	c.mu.Lock()
	if ch, tracked := c.changes[eid]; tracked && ch.kind == changeInsert {
		c.clearChange(eid)
		c.mu.Unlock()
		c.publish(EventDeleted, eid)
		return nil
	}
	c.recordChange(eid, &trackedChange{kind: changeDelete})
	c.mu.Unlock()
	c.publish(EventDeleted, eid)
	return nil
}

// UpdateProperties patches eid's named columns with props. When merge
// is true, props is layered on top of any already-tracked patch;
// otherwise props replaces it outright. Keys whose patched value equals
// the baseline's current value are dropped, so a round-trip update
// collapses to a no-op. A patch against a column the schema marks as a
// primary key changes eid's identity (see Diff).
func (c *Collection) UpdateProperties(ctx context.Context, eid string, props map[string]any, merge bool) error {
	exists, err := c.Has(ctx, eid)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, eid)
	}

	c.mu.Lock()
	if ch, tracked := c.changes[eid]; tracked && ch.kind == changeInsert {
		for k, v := range props {
			if e, ok := c.baseline.Schema().EntryByName(k); ok && e.IsPrimaryKey() {
				ch.feature.IDs[k] = v
			} else {
				ch.feature.Properties[k] = v
			}
		}
		c.mu.Unlock()
		c.publish(EventUpdated, eid)
		return nil
	}
	c.mu.Unlock()

	base, err := c.baseline.Get(ctx, eid)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInconsistentState, eid, err)
	}

	c.mu.Lock()
	ch, tracked := c.changes[eid]
	merged := map[string]any{}
	if merge && tracked {
		for k, v := range ch.properties {
			merged[k] = v
		}
	}
	for k, v := range props {
		merged[k] = v
	}
	for k, v := range merged {
		if bv, ok := baselineRawValue(base, k); ok && reflect.DeepEqual(bv, v) {
			delete(merged, k)
		}
	}

	geom := any(nil)
	geomSet := false
	if tracked {
		geom, geomSet = ch.geometry, ch.geometrySet
	}
	c.recordChangeOrClear(eid, merged, geom, geomSet)
	c.mu.Unlock()

	c.publish(EventUpdated, eid)
	return nil
}

func (c *Collection) recordChangeOrClear(eid string, props map[string]any, geom any, geomSet bool) {
	if len(props) == 0 && !geomSet {
		c.clearChange(eid)
		return
	}
	c.recordChange(eid, &trackedChange{kind: changeUpdate, properties: props, geometry: geom, geometrySet: geomSet})
}

func baselineRawValue(base *feature.Feature, name string) (any, bool) {
	if v, ok := base.IDs[name]; ok {
		return v, true
	}
	if v, ok := base.Properties[name]; ok {
		return v, true
	}
	return nil, false
}

// UpdateGeometry replaces eid's geometry value. It fails if eid has no
// geometry column or if geom's type differs from the feature's current
// geometry type (a type change must go through Delete + Add instead).
func (c *Collection) UpdateGeometry(ctx context.Context, eid string, geom orb.Geometry) error {
	current, err := c.Get(ctx, eid)
	if err != nil {
		return err
	}
	if current.GeometryColumn == "" {
		return fmt.Errorf("%w: %s has no geometry column", ErrGeometryTypeMismatch, eid)
	}
	if ge, ok := c.baseline.Schema().EntryByName(current.GeometryColumn); ok {
		if res := current.Value(ge); res.OK && res.Data != nil {
			if cur, ok := res.Data.(orb.Geometry); ok && cur.GeoJSONType() != geom.GeoJSONType() {
				return fmt.Errorf("%w: %s to %s", ErrGeometryTypeMismatch, cur.GeoJSONType(), geom.GeoJSONType())
			}
		}
	}

	c.mu.Lock()
	if ch, tracked := c.changes[eid]; tracked && ch.kind == changeInsert {
		ch.feature.Properties[ch.feature.GeometryColumn] = geom
		c.mu.Unlock()
		c.publish(EventUpdated, eid)
		return nil
	}
	var props map[string]any
	if ch, tracked := c.changes[eid]; tracked && ch.kind == changeUpdate {
		props = ch.properties
	}
	c.recordChange(eid, &trackedChange{kind: changeUpdate, properties: props, geometry: geom, geometrySet: true})
	c.mu.Unlock()
	c.publish(EventUpdated, eid)
	return nil
}

// ToGeoJSON builds a new FeatureCollection each call: baseline features
// in baseline order with tracked updates applied and tracked deletes
// left out, followed by tracked inserts in caller order. The features are
// not deep copies: untouched baseline features are the baseline's own
// *geojson.Feature values, and a rendered feature can reference the same
// maps and geometry values as the tracked change it came from.
func (c *Collection) ToGeoJSON(ctx context.Context, rp crs.Reprojector) (*geojson.FeatureCollection, error) {
	base, err := c.baseline.ToGeoJSON(ctx, rp)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	order := append([]string(nil), c.order...)
	kinds := make(map[string]changeKind, len(c.changes))
	for k, v := range c.changes {
		kinds[k] = v.kind
	}
	c.mu.Unlock()

	fc := geojson.NewFeatureCollection()
	for _, bf := range base.Features {
		eid, _ := bf.ID.(string)
		kind, tracked := kinds[eid]
		if !tracked {
			fc.Append(bf)
			continue
		}
		if kind == changeDelete {
			continue
		}
		gf, err := c.renderGeoJSON(ctx, eid, rp)
		if err != nil {
			return nil, err
		}
		if gf != nil {
			fc.Append(gf)
		}
	}

	for _, eid := range order {
		if kinds[eid] != changeInsert {
			continue
		}
		gf, err := c.renderGeoJSON(ctx, eid, rp)
		if err != nil {
			return nil, err
		}
		if gf != nil {
			fc.Append(gf)
		}
	}
	return fc, nil
}

func (c *Collection) renderGeoJSON(ctx context.Context, eid string, rp crs.Reprojector) (*geojson.Feature, error) {
	f, err := c.Get(ctx, eid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInconsistentState, eid, err)
	}
	return f.ToGeoJSON(c.baseline.Schema(), c.baseline.CRSRegistry(), rp)
}
