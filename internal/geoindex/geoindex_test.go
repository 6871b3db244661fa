package geoindex

import (
	"path/filepath"
	"sort"
	"testing"
)

func sampleEntries() []Entry {
	return []Entry{
		{Eid: "a", MinX: 0, MinY: 0, MaxX: 1, MaxY: 1},
		{Eid: "b", MinX: 5, MinY: 5, MaxX: 6, MaxY: 6},
		{Eid: "c", MinX: 0.5, MinY: 0.5, MaxX: 2, MaxY: 2},
	}
}

func TestQueryReturnsIntersectingEntries(t *testing.T) {
	idx := Build(sampleEntries())
	got := idx.Query(0, 0, 1.5, 1.5)
	sort.Strings(got)
	want := []string{"a", "c"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Query() = %v, want %v", got, want)
	}
}

func TestQueryNoMatches(t *testing.T) {
	idx := Build(sampleEntries())
	got := idx.Query(100, 100, 200, 200)
	if len(got) != 0 {
		t.Errorf("Query() = %v, want empty", got)
	}
}

func TestLen(t *testing.T) {
	idx := Build(sampleEntries())
	if idx.Len() != 3 {
		t.Errorf("Len() = %d, want 3", idx.Len())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx := Build(sampleEntries())
	if err := Save(dir, "index.cache", idx); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	path := filepath.Join(dir, "index.cache")
	if !Exists(path) {
		t.Fatalf("Exists(%q) = false after Save", path)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Len() != 3 {
		t.Errorf("Load().Len() = %d, want 3", loaded.Len())
	}
	got := loaded.Query(0, 0, 1.5, 1.5)
	sort.Strings(got)
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("loaded Query() = %v, want [a c]", got)
	}
}

func TestExistsFalseForMissingFile(t *testing.T) {
	if Exists(filepath.Join(t.TempDir(), "nope")) {
		t.Errorf("Exists() = true for a file that was never written")
	}
}
