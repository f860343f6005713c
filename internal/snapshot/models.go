// Package snapshot keeps assembled graphs on disk so that two builds of a
// repository can be compared.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
)

// Snapshot is a point-in-time capture of one repository graph.
type Snapshot struct {
	ID          string         `json:"id"`
	ParentID    string         `json:"parent_id,omitempty"`
	RepoID      string         `json:"repo_id"`
	Tag         string         `json:"tag,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ContentHash string         `json:"content_hash"`
	Stats       depgraph.Stats `json:"stats"`
	Missing     []string       `json:"missing,omitempty"`
}

// SnapshotIndex is a lightweight listing of all snapshots for fast lookup.
type SnapshotIndex struct {
	Snapshots []SnapshotSummary `json:"snapshots"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SnapshotSummary is the minimal info for listing snapshots.
type SnapshotSummary struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	RepoID    string    `json:"repo_id"`
	Tag       string    `json:"tag,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Nodes     int       `json:"nodes"`
	Links     int       `json:"links"`
	Missing   int       `json:"missing"`
}

// New captures g. The graph body itself is stored by Store.Save.
func New(g *depgraph.Graph) (*Snapshot, []byte, error) {
	body, err := depgraph.ExportJSON(g)
	if err != nil {
		return nil, nil, err
	}
	snap := &Snapshot{
		RepoID:      g.RepoID,
		CreatedAt:   time.Now(),
		ContentHash: ContentHash(body),
		Stats:       g.Stats,
		Missing:     g.Missing,
	}
	snap.ID = generateSnapshotID(snap)
	return snap, body, nil
}

// ContentHash computes SHA-256 of content.
func ContentHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

func generateSnapshotID(snap *Snapshot) string {
	data, _ := json.Marshal(struct {
		Time    int64  `json:"t"`
		Repo    string `json:"r"`
		Content string `json:"c"`
	}{
		Time:    snap.CreatedAt.UnixNano(),
		Repo:    snap.RepoID,
		Content: snap.ContentHash,
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:8])
}

// Summary returns a lightweight summary of this snapshot.
func (s *Snapshot) Summary() SnapshotSummary {
	return SnapshotSummary{
		ID:        s.ID,
		ParentID:  s.ParentID,
		RepoID:    s.RepoID,
		Tag:       s.Tag,
		CreatedAt: s.CreatedAt,
		Nodes:     s.Stats.TotalNodes,
		Links:     s.Stats.TotalEdges,
		Missing:   len(s.Missing),
	}
}
