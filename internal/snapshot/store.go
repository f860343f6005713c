package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
)

// ErrNotFound is returned when no snapshot matches an id or tag.
var ErrNotFound = errors.New("snapshot not found")

// Store is a directory holding
//
//	index.json           listing of every snapshot
//	snapshots/<id>.json  snapshot records
//	objects/ab/cdef...   graph bodies, named by content hash
//
// Saving an unchanged graph again adds a record but no object.
type Store struct {
	mu    sync.RWMutex
	root  string
	index SnapshotIndex
}

// NewStore opens the store at root, creating it if needed. A missing or
// unreadable index starts the store empty.
func NewStore(root string) (*Store, error) {
	for _, sub := range []string{"snapshots", "objects"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("snapshot store %s: %w", root, err)
		}
	}
	s := &Store{root: root}
	if err := readJSON(s.indexPath(), &s.index); err != nil {
		s.index = SnapshotIndex{Snapshots: []SnapshotSummary{}}
	}
	return s, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.root, "index.json") }

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.root, "snapshots", id+".json")
}

func (s *Store) objectPath(hash string) string {
	return filepath.Join(s.root, "objects", hash[:2], hash[2:])
}

// Save records g under tag. The newest earlier snapshot of the same
// repository becomes the parent.
func (s *Store) Save(g *depgraph.Graph, tag string) (*Snapshot, error) {
	snap, body, err := New(g)
	if err != nil {
		return nil, fmt.Errorf("encode graph: %w", err)
	}
	snap.Tag = tag

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.putObject(snap.ContentHash, body); err != nil {
		return nil, fmt.Errorf("store graph object: %w", err)
	}
	if i := s.latest(snap.RepoID); i >= 0 {
		snap.ParentID = s.index.Snapshots[i].ID
	}
	if err := writeJSON(s.recordPath(snap.ID), snap); err != nil {
		return nil, fmt.Errorf("write snapshot %s: %w", snap.ID, err)
	}
	s.index.Snapshots = append(s.index.Snapshots, snap.Summary())
	return snap, s.flushIndex()
}

// Load returns the snapshot with the given id.
func (s *Store) Load(id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

// Resolve looks ref up as an id first and then as a tag. When a tag was
// reused the oldest snapshot carrying it wins.
func (s *Store) Resolve(ref string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.find(func(e SnapshotSummary) bool { return e.ID == ref }); i >= 0 {
		return s.load(ref)
	}
	if i := s.find(func(e SnapshotSummary) bool { return e.Tag == ref }); i >= 0 {
		return s.load(s.index.Snapshots[i].ID)
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
}

// LoadGraph reads back the graph snap captured.
func (s *Store) LoadGraph(snap *Snapshot) (*depgraph.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var g depgraph.Graph
	if err := readJSON(s.objectPath(snap.ContentHash), &g); err != nil {
		return nil, fmt.Errorf("graph of snapshot %s: %w", snap.ID, err)
	}
	return &g, nil
}

// List returns the summaries of repoID, newest first; "" lists all.
func (s *Store) List(repoID string) []SnapshotSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SnapshotSummary, 0, len(s.index.Snapshots))
	for _, e := range s.index.Snapshots {
		if repoID == "" || e.RepoID == repoID {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b SnapshotSummary) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Tag replaces the tag of snapshot id.
func (s *Store) Tag(id, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load(id)
	if err != nil {
		return err
	}
	snap.Tag = tag
	if err := writeJSON(s.recordPath(id), snap); err != nil {
		return fmt.Errorf("write snapshot %s: %w", id, err)
	}
	if i := s.find(func(e SnapshotSummary) bool { return e.ID == id }); i >= 0 {
		s.index.Snapshots[i].Tag = tag
	}
	return s.flushIndex()
}

// Delete removes the record of snapshot id. Objects may be shared with other
// snapshots and are left alone.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.recordPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	s.index.Snapshots = slices.DeleteFunc(s.index.Snapshots, func(e SnapshotSummary) bool {
		return e.ID == id
	})
	return s.flushIndex()
}

func (s *Store) find(match func(SnapshotSummary) bool) int {
	return slices.IndexFunc(s.index.Snapshots, match)
}

// latest returns the index position of repoID's newest snapshot, or -1.
func (s *Store) latest(repoID string) int {
	best := -1
	for i, e := range s.index.Snapshots {
		if e.RepoID == repoID && (best < 0 || e.CreatedAt.After(s.index.Snapshots[best].CreatedAt)) {
			best = i
		}
	}
	return best
}

func (s *Store) load(id string) (*Snapshot, error) {
	var snap Snapshot
	err := readJSON(s.recordPath(id), &snap)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	return &snap, nil
}

func (s *Store) putObject(hash string, body []byte) error {
	path := s.objectPath(hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFile(path, body)
}

func (s *Store) flushIndex() error {
	s.index.UpdatedAt = time.Now()
	if err := writeJSON(s.indexPath(), &s.index); err != nil {
		return fmt.Errorf("write snapshot index: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// writeFile replaces path through a rename so readers never see a partial
// file.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
