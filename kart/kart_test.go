package kart

import (
	"context"
	"encoding/json"
	"testing"
	"testing/fstest"

	"github.com/kart-go/tabledataset/pathstructure"
	"github.com/kart-go/tabledataset/wire"
)

// buildDatasetFixture assembles an in-memory .table-dataset/ layout for
// id name with a single feature, mirroring dataset package's own fixture
// builder (duplicated here rather than exported, since dataset's test
// helpers are unexported and this is a different package's test file).
func buildDatasetFixture(t *testing.T, fsys fstest.MapFS, name string) {
	t.Helper()

	schemaJSON := []byte(`[{"id":"c0","name":"id","dataType":"integer","primaryKeyIndex":0,"size":64},{"id":"c1","name":"name","dataType":"text"}]`)
	ps, err := pathstructure.New(pathstructure.SchemeInt, 16, 1, pathstructure.Hex)
	if err != nil {
		t.Fatalf("pathstructure.New() error = %v", err)
	}
	psJSON := []byte(`{"scheme":"int","branches":16,"levels":1,"encoding":"hex"}`)

	legendPacked, err := wire.Pack([]any{[]string{"c0"}, []string{"c1"}})
	if err != nil {
		t.Fatalf("wire.Pack(legend) error = %v", err)
	}
	legendID := wire.LegendID(legendPacked)

	fsys[name+"/.table-dataset/meta/title"] = &fstest.MapFile{Data: []byte("Fixture")}
	fsys[name+"/.table-dataset/meta/schema.json"] = &fstest.MapFile{Data: schemaJSON}
	fsys[name+"/.table-dataset/meta/path-structure.json"] = &fstest.MapFile{Data: psJSON}
	fsys[name+"/.table-dataset/meta/legend/"+legendID] = &fstest.MapFile{Data: legendPacked}

	eid, err := ps.Eid([]any{int64(1)})
	if err != nil {
		t.Fatalf("ps.Eid() error = %v", err)
	}
	body, err := wire.Pack([]any{legendID, []any{"alpha"}})
	if err != nil {
		t.Fatalf("wire.Pack(body) error = %v", err)
	}
	fsys[name+"/.table-dataset/feature/"+eid] = &fstest.MapFile{Data: body}
}

func TestHasAndGet(t *testing.T) {
	fsys := fstest.MapFS{}
	buildDatasetFixture(t, fsys, "parcels")
	repo := OpenFS(fsys)

	if !repo.Has(context.Background(), "parcels") {
		t.Errorf("Has(parcels) = false, want true")
	}
	if repo.Has(context.Background(), "missing") {
		t.Errorf("Has(missing) = true, want false")
	}

	ds, err := repo.Get(context.Background(), "parcels")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ds.Title() != "Fixture" {
		t.Errorf("Title() = %q, want \"Fixture\"", ds.Title())
	}
}

func TestGetReturnsSameCachedInstance(t *testing.T) {
	fsys := fstest.MapFS{}
	buildDatasetFixture(t, fsys, "parcels")
	repo := OpenFS(fsys)

	ds1, err := repo.Get(context.Background(), "parcels")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	ds2, err := repo.Get(context.Background(), "parcels")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ds1 != ds2 {
		t.Errorf("Get() returned different instances across calls, want cached identity")
	}
}

func TestGetRejectsUnknownDataset(t *testing.T) {
	repo := OpenFS(fstest.MapFS{})
	if _, err := repo.Get(context.Background(), "missing"); err == nil {
		t.Errorf("Get(missing) error = nil, want ErrDatasetNotFound")
	}
}

func TestDatasetsListsOnlyValidDirectories(t *testing.T) {
	fsys := fstest.MapFS{
		"not-a-dataset/readme.txt": &fstest.MapFile{Data: []byte("hi")},
	}
	buildDatasetFixture(t, fsys, "parcels")
	buildDatasetFixture(t, fsys, "roads")
	repo := OpenFS(fsys)

	names, err := repo.Datasets(context.Background())
	if err != nil {
		t.Fatalf("Datasets() error = %v", err)
	}
	got := map[string]bool{}
	for _, n := range names {
		got[n] = true
	}
	if !got["parcels"] || !got["roads"] || got["not-a-dataset"] {
		t.Errorf("Datasets() = %v, want exactly parcels and roads", names)
	}
}

func TestDiffMergesAcrossDatasets(t *testing.T) {
	fsys := fstest.MapFS{}
	buildDatasetFixture(t, fsys, "parcels")
	buildDatasetFixture(t, fsys, "roads")
	repo := OpenFS(fsys)

	ctx := context.Background()
	parcels, err := repo.Get(ctx, "parcels")
	if err != nil {
		t.Fatalf("Get(parcels) error = %v", err)
	}
	roads, err := repo.Get(ctx, "roads")
	if err != nil {
		t.Fatalf("Get(roads) error = %v", err)
	}

	ps, _ := pathstructure.New(pathstructure.SchemeInt, 16, 1, pathstructure.Hex)
	eid, _ := ps.Eid([]any{int64(1)})
	if err := parcels.Changes().Delete(ctx, eid); err != nil {
		t.Fatalf("parcels Delete() error = %v", err)
	}

	diff, err := repo.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(diff.Datasets) != 2 {
		t.Fatalf("Diff().Datasets = %v, want exactly 2 (parcels, roads)", diff.Datasets)
	}
	parcelsDiff, ok := diff.Datasets["parcels"]
	if !ok || len(parcelsDiff.Entries) == 0 {
		t.Errorf("Diff().Datasets[parcels] = %v, want a non-empty diff", parcelsDiff)
	}
	roadsDiff, ok := diff.Datasets["roads"]
	if !ok || len(roadsDiff.Entries) != 0 {
		t.Errorf("Diff().Datasets[roads] = %v, want an untouched (empty) diff", roadsDiff)
	}
	_ = roads
}

func TestDiffMarshalsUnderPatchEnvelope(t *testing.T) {
	fsys := fstest.MapFS{}
	buildDatasetFixture(t, fsys, "parcels")
	repo := OpenFS(fsys)

	ctx := context.Background()
	if _, err := repo.Get(ctx, "parcels"); err != nil {
		t.Fatalf("Get(parcels) error = %v", err)
	}
	diff, err := repo.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}

	b, err := json.Marshal(diff)
	if err != nil {
		t.Fatalf("json.Marshal(diff) error = %v", err)
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(b, &envelope); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if _, ok := envelope["kart.patch/v1"]; !ok {
		t.Errorf("marshaled diff missing \"kart.patch/v1\": %s", b)
	}
	diffBody, ok := envelope["kart.diff/v1+hexwkb"]
	if !ok {
		t.Fatalf("marshaled diff missing \"kart.diff/v1+hexwkb\": %s", b)
	}
	var datasets map[string]json.RawMessage
	if err := json.Unmarshal(diffBody, &datasets); err != nil {
		t.Fatalf("json.Unmarshal(kart.diff/v1+hexwkb) error = %v", err)
	}
	if _, ok := datasets["parcels"]; !ok {
		t.Errorf("kart.diff/v1+hexwkb missing \"parcels\": %s", diffBody)
	}
}

func TestWatchRejectsFSOnlyFetcher(t *testing.T) {
	repo := OpenFS(fstest.MapFS{})
	if err := repo.Watch(context.Background()); err == nil {
		t.Errorf("Watch() error = nil, want error for fs.FS-only fetcher")
	}
}
