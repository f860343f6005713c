package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
	"github.com/efebarandurmaz/codelens/internal/metrics"
)

func assemble(t *testing.T, files, deps string) *depgraph.Graph {
	t.Helper()
	b := metrics.NewBundle("repo-1")
	payloads := map[metrics.Name]string{
		metrics.MetricFiles:        files,
		metrics.MetricDependencies: deps,
	}
	for name, raw := range payloads {
		if err := b.Decode(name, []byte(raw)); err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
	}
	return depgraph.Assemble(b, depgraph.Options{})
}

func baseGraph(t *testing.T) *depgraph.Graph {
	return assemble(t,
		`["src/a.ts", "src/b.ts", "main.ts"]`,
		`{"graph": {"main.ts": ["src/a.ts"], "src/a.ts": ["src/b.ts"]}}`)
}

func changedGraph(t *testing.T) *depgraph.Graph {
	return assemble(t,
		`["src/a.ts", "src/c.ts", "main.ts"]`,
		`{"graph": {"main.ts": ["src/a.ts", "src/c.ts"]}}`)
}

func TestContentHash(t *testing.T) {
	h1 := ContentHash([]byte("hello world"))
	if h1 != ContentHash([]byte("hello world")) {
		t.Fatal("ContentHash not deterministic")
	}
	if len(h1) != 64 {
		t.Fatalf("unexpected hash length: %d", len(h1))
	}
	if h1 == ContentHash([]byte("different")) {
		t.Fatal("different content produced same hash")
	}
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewStore(filepath.Join(dir, "store")); err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	for _, sub := range []string{"snapshots", "objects"} {
		if _, err := os.Stat(filepath.Join(dir, "store", sub)); err != nil {
			t.Fatalf("%s dir missing: %v", sub, err)
		}
	}
}

func TestStoreSaveAndLoadGraph(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g := baseGraph(t)

	snap, err := store.Save(g, "v1")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if snap.RepoID != "repo-1" || snap.Tag != "v1" || snap.Stats.FileCount != 3 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	loaded, err := store.Load(snap.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	back, err := store.LoadGraph(loaded)
	if err != nil {
		t.Fatalf("LoadGraph failed: %v", err)
	}
	if len(back.Nodes) != len(g.Nodes) || len(back.Links) != len(g.Links) {
		t.Errorf("graph changed on round trip: %d/%d nodes, %d/%d links",
			len(back.Nodes), len(g.Nodes), len(back.Links), len(g.Links))
	}
}

func TestStoreParentAndList(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	first, _ := store.Save(baseGraph(t), "")
	time.Sleep(2 * time.Millisecond)
	second, _ := store.Save(changedGraph(t), "")

	if first.ParentID != "" {
		t.Errorf("first snapshot should have no parent, got %q", first.ParentID)
	}
	if second.ParentID != first.ID {
		t.Errorf("expected parent %s, got %q", first.ID, second.ParentID)
	}

	list := store.List("repo-1")
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if got := store.List("other"); len(got) != 0 {
		t.Errorf("expected no snapshots for other repo, got %d", len(got))
	}
}

func TestStoreResolveAndTag(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	snap, _ := store.Save(baseGraph(t), "")

	if err := store.Tag(snap.ID, "release"); err != nil {
		t.Fatalf("Tag failed: %v", err)
	}
	byTag, err := store.Resolve("release")
	if err != nil || byTag.ID != snap.ID {
		t.Fatalf("expected to resolve tag, got %v", err)
	}
	byID, err := store.Resolve(snap.ID)
	if err != nil || byID.Tag != "release" {
		t.Fatalf("expected to resolve id with tag, got %+v %v", byID, err)
	}
	if _, err := store.Resolve("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Tag("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound tagging unknown snapshot, got %v", err)
	}
}

func TestStoreReopen(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	snap, _ := store.Save(baseGraph(t), "v1")

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if list := reopened.List(""); len(list) != 1 || list[0].ID != snap.ID {
		t.Errorf("expected index to survive reopen, got %+v", list)
	}
}

func TestStoreDelete(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	snap, _ := store.Save(baseGraph(t), "")

	if err := store.Delete(snap.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(store.List("")) != 0 {
		t.Error("expected empty list after delete")
	}
	if _, err := store.Load(snap.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestContentDeduplication(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	g := baseGraph(t)

	a, _ := store.Save(g, "")
	b, _ := store.Save(g, "")
	if a.ContentHash != b.ContentHash {
		t.Fatal("same graph produced different content hashes")
	}

	var objects int
	filepath.Walk(filepath.Join(dir, "objects"), func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			objects++
		}
		return nil
	})
	if objects != 1 {
		t.Errorf("expected 1 stored object, got %d", objects)
	}
}

func TestDiffIdentical(t *testing.T) {
	d := Diff(nil, nil, baseGraph(t), baseGraph(t))
	if !d.Summary.Unchanged || len(d.NodeDiffs) != 0 || len(d.LinkDiffs) != 0 {
		t.Errorf("expected no changes, got %+v", d.Summary)
	}
	if !strings.Contains(FormatDiff(d), "No structural changes") {
		t.Errorf("expected unchanged report, got %q", FormatDiff(d))
	}
}

func TestDiffNodesAndLinks(t *testing.T) {
	d := Diff(nil, nil, baseGraph(t), changedGraph(t))

	byID := map[string]DiffType{}
	for _, nd := range d.NodeDiffs {
		byID[nd.ID] = nd.Type
	}
	if byID["src/b.ts"] != DiffRemoved {
		t.Errorf("expected src/b.ts removed, got %q", byID["src/b.ts"])
	}
	if byID["src/c.ts"] != DiffAdded {
		t.Errorf("expected src/c.ts added, got %q", byID["src/c.ts"])
	}
	if _, ok := byID["main.ts"]; ok {
		t.Error("main.ts did not change")
	}

	var added, removed bool
	for _, ld := range d.LinkDiffs {
		if ld.Source == "main.ts" && ld.Target == "src/c.ts" && ld.Type == DiffAdded {
			added = true
		}
		if ld.Source == "src/a.ts" && ld.Target == "src/b.ts" && ld.Type == DiffRemoved {
			removed = true
		}
	}
	if !added || !removed {
		t.Errorf("expected added and removed dependency links, got %+v", d.LinkDiffs)
	}
	if d.Summary.NodesAdded != 1 || d.Summary.NodesRemoved != 1 || d.Summary.Unchanged {
		t.Errorf("unexpected summary: %+v", d.Summary)
	}
}

func TestDiffLinkWeight(t *testing.T) {
	oldG := &depgraph.Graph{Links: []depgraph.Edge{{Source: "a", Target: "b", Value: 1, Level: depgraph.LevelFile}}}
	newG := &depgraph.Graph{Links: []depgraph.Edge{{Source: "a", Target: "b", Value: 4, Level: depgraph.LevelFile}}}

	d := Diff(nil, nil, oldG, newG)
	if len(d.LinkDiffs) != 1 || d.LinkDiffs[0].Type != DiffModified || d.LinkDiffs[0].NewValue != 4 {
		t.Fatalf("expected weight change, got %+v", d.LinkDiffs)
	}
	if !strings.Contains(FormatDiff(d), "~ a -> b [file] 1 → 4") {
		t.Errorf("unexpected report:\n%s", FormatDiff(d))
	}
}

func TestFormatDiffWithSnapshots(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	oldG, newG := baseGraph(t), changedGraph(t)
	oldSnap, _ := store.Save(oldG, "v1")
	newSnap, _ := store.Save(newG, "v2")

	out := FormatDiff(Diff(oldSnap, newSnap, oldG, newG))
	for _, want := range []string{"Tags: v1 → v2", "+ src/c.ts (file)", "- src/b.ts (file)", "Nodes: +1 -1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in report:\n%s", want, out)
		}
	}
}
