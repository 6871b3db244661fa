package workingcopy

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kart-go/tabledataset/feature"
)

func TestDiffInsert(t *testing.T) {
	sch := plainSchema(t)
	c := New(newBaseline(sch))
	f := &feature.Feature{IDs: map[string]any{"id": int64(1)}, Properties: map[string]any{"name": "alpha"}, Eid: "eid1"}

	if err := c.Add(context.Background(), "eid1", f); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	diff, err := c.Diff(context.Background())
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(diff.Entries) != 1 || diff.Entries[0].Op != OpInsert {
		t.Fatalf("Diff().Entries = %+v, want one \"++\"", diff.Entries)
	}
	if v, _ := diff.Entries[0].New.Get("name"); v != "alpha" {
		t.Errorf("New[name] = %v, want \"alpha\"", v)
	}
}

func TestDiffDelete(t *testing.T) {
	sch := plainSchema(t)
	f := &feature.Feature{IDs: map[string]any{"id": int64(1)}, Properties: map[string]any{"name": "alpha"}, Eid: "eid1"}
	c := New(newBaseline(sch, f))

	if err := c.Delete(context.Background(), "eid1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	diff, err := c.Diff(context.Background())
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(diff.Entries) != 1 || diff.Entries[0].Op != OpDelete {
		t.Fatalf("Diff().Entries = %+v, want one \"--\"", diff.Entries)
	}
	if _, ok := diff.Entries[0].Old.Get("name"); ok {
		t.Errorf("Old has \"name\", want only primary keys")
	}
	if v, ok := diff.Entries[0].Old.Get("id"); !ok || v != int64(1) {
		t.Errorf("Old[id] = %v, ok=%v, want 1", v, ok)
	}
}

func TestDiffUpdate(t *testing.T) {
	sch := plainSchema(t)
	f := &feature.Feature{IDs: map[string]any{"id": int64(1)}, Properties: map[string]any{"name": "alpha"}, Eid: "eid1"}
	c := New(newBaseline(sch, f))

	if err := c.UpdateProperties(context.Background(), "eid1", map[string]any{"name": "renamed"}, true); err != nil {
		t.Fatalf("UpdateProperties() error = %v", err)
	}
	diff, err := c.Diff(context.Background())
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(diff.Entries) != 1 || diff.Entries[0].Op != OpUpdate {
		t.Fatalf("Diff().Entries = %+v, want one \"+\"", diff.Entries)
	}
	if v, _ := diff.Entries[0].New.Get("name"); v != "renamed" {
		t.Errorf("New[name] = %v, want \"renamed\"", v)
	}
	if v, ok := diff.Entries[0].New.Get("id"); !ok || v != int64(1) {
		t.Errorf("New[id] = %v, ok=%v, want the baseline primary key", v, ok)
	}
}

func TestDiffPrimaryKeyChangeEmitsDeleteAndInsert(t *testing.T) {
	sch := plainSchema(t)
	f := &feature.Feature{IDs: map[string]any{"id": int64(1)}, Properties: map[string]any{"name": "alpha"}, Eid: "eid1"}
	c := New(newBaseline(sch, f))

	if err := c.UpdateProperties(context.Background(), "eid1", map[string]any{"id": int64(2)}, true); err != nil {
		t.Fatalf("UpdateProperties() error = %v", err)
	}
	diff, err := c.Diff(context.Background())
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(diff.Entries) != 2 || diff.Entries[0].Op != OpDelete || diff.Entries[1].Op != OpInsert {
		t.Fatalf("Diff().Entries = %+v, want [\"--\", \"++\"]", diff.Entries)
	}
}

func TestDiffUntouchedFeatureProducesNoEntry(t *testing.T) {
	sch := plainSchema(t)
	f := &feature.Feature{IDs: map[string]any{"id": int64(1)}, Properties: map[string]any{"name": "alpha"}, Eid: "eid1"}
	c := New(newBaseline(sch, f))

	diff, err := c.Diff(context.Background())
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(diff.Entries) != 0 {
		t.Errorf("Diff().Entries = %+v, want empty", diff.Entries)
	}
}

func TestCanonicalCollapsesMarshalErrorToNil(t *testing.T) {
	if v := canonical(int64(5)); v != int64(5) {
		t.Errorf("canonical(int64) = %v, want 5", v)
	}
	if v := canonical(nil); v != nil {
		t.Errorf("canonical(nil) = %v, want nil", v)
	}
}

// TestDiffIntegerColumnsMarshalAsRawNumbers checks that an inserted row's
// integer primary key, which the insert payload decodes through
// *big.Int, marshals as an unquoted JSON number rather than a string.
func TestDiffIntegerColumnsMarshalAsRawNumbers(t *testing.T) {
	sch := plainSchema(t)
	c := New(newBaseline(sch))
	f := &feature.Feature{IDs: map[string]any{"id": int64(12345)}, Properties: map[string]any{"name": "alpha"}, Eid: "eid1"}
	if err := c.Add(context.Background(), "eid1", f); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	diff, err := c.Diff(context.Background())
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	b, err := json.Marshal(diff)
	if err != nil {
		t.Fatalf("json.Marshal(diff) error = %v", err)
	}
	if strings.Contains(string(b), `"12345"`) {
		t.Errorf("Diff() JSON = %s, want id rendered as a raw number, not a quoted string", b)
	}
	if !strings.Contains(string(b), `:12345`) {
		t.Errorf("Diff() JSON = %s, want id rendered as an unquoted 12345", b)
	}
}
