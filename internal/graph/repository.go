// Package graph persists assembled code graphs so that a dashboard restart or
// a scheduled refresh can serve them without re-fetching every metric.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
)

// ErrNotFound is returned when no graph has been stored for a repository.
var ErrNotFound = errors.New("graph not found")

// Neighbor is one node adjacent to a queried node at some aggregation level.
type Neighbor struct {
	ID       string            `json:"id"`
	Type     depgraph.EdgeType `json:"type"`
	Level    depgraph.Level    `json:"level"`
	Value    int               `json:"value"`
	Outgoing bool              `json:"outgoing"`
}

// Repository provides graph storage keyed by repository id.
type Repository interface {
	// StoreGraph replaces the stored graph of g.RepoID.
	StoreGraph(ctx context.Context, g *depgraph.Graph) error
	// LoadGraph retrieves the stored graph for a repository.
	LoadGraph(ctx context.Context, repoID string) (*depgraph.Graph, error)
	// QueryNeighbors returns the nodes linked to nodeID in either direction.
	QueryNeighbors(ctx context.Context, repoID, nodeID string) ([]Neighbor, error)
	// Close releases resources.
	Close(ctx context.Context) error
}

// MemoryRepository keeps graphs in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	graphs map[string][]byte
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{graphs: make(map[string][]byte)}
}

// StoreGraph snapshots g so later mutation by the caller is not observed.
func (r *MemoryRepository) StoreGraph(ctx context.Context, g *depgraph.Graph) error {
	if g == nil {
		return errors.New("store graph: nil graph")
	}
	data, err := depgraph.ExportJSON(g)
	if err != nil {
		return fmt.Errorf("store graph %s: %w", g.RepoID, err)
	}
	r.mu.Lock()
	r.graphs[g.RepoID] = data
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) LoadGraph(ctx context.Context, repoID string) (*depgraph.Graph, error) {
	r.mu.RLock()
	data, ok := r.graphs[repoID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load graph %s: %w", repoID, ErrNotFound)
	}
	var g depgraph.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("load graph %s: %w", repoID, err)
	}
	return &g, nil
}

func (r *MemoryRepository) QueryNeighbors(ctx context.Context, repoID, nodeID string) ([]Neighbor, error) {
	g, err := r.LoadGraph(ctx, repoID)
	if err != nil {
		return nil, err
	}
	return Neighbors(g, nodeID), nil
}

// Repos lists the repositories with a stored graph.
func (r *MemoryRepository) Repos() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.graphs))
	for id := range r.graphs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *MemoryRepository) Close(ctx context.Context) error {
	return nil
}

// Neighbors collects the links touching nodeID, ordered by descending value
// and then by id.
func Neighbors(g *depgraph.Graph, nodeID string) []Neighbor {
	var out []Neighbor
	for _, e := range g.Links {
		switch nodeID {
		case e.Source:
			out = append(out, Neighbor{ID: e.Target, Type: e.Type, Level: e.Level, Value: e.Value, Outgoing: true})
		case e.Target:
			out = append(out, Neighbor{ID: e.Source, Type: e.Type, Level: e.Level, Value: e.Value})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].ID < out[j].ID
	})
	return out
}

var _ Repository = (*MemoryRepository)(nil)
