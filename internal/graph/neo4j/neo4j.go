package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
	"github.com/efebarandurmaz/codelens/internal/graph"
)

// Neo4jRepository implements graph.Repository using Neo4j. Every node carries
// the repository id so several scans share one database.
type Neo4jRepository struct {
	driver neo4j.DriverWithContext
}

// NewNeo4j creates a Neo4j-backed repository.
func NewNeo4j(ctx context.Context, uri, username, password string) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jRepository{driver: driver}, nil
}

// Ping checks connectivity; used by the health endpoint.
func (r *Neo4jRepository) Ping(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

const (
	clearQuery = `MATCH (n:CodeNode {repo: $repo}) DETACH DELETE n`

	repoQuery = `MERGE (r:Repo {id: $repo})
SET r.stats = $stats, r.missing = $missing, r.updatedAt = $updatedAt`

	nodesQuery = `UNWIND $nodes AS n
MERGE (c:CodeNode {repo: $repo, id: n.id})
SET c.label = n.label, c.type = n.type, c.parentId = n.parentId,
    c.depth = n.depth, c.loc = n.loc, c.sloc = n.sloc, c.ord = n.ord`

	containsQuery = `UNWIND $pairs AS p
MATCH (parent:CodeNode {repo: $repo, id: p.parent})
MATCH (child:CodeNode {repo: $repo, id: p.child})
MERGE (parent)-[:CONTAINS]->(child)`

	linksQuery = `UNWIND $links AS l
MATCH (a:CodeNode {repo: $repo, id: l.source})
MATCH (b:CodeNode {repo: $repo, id: l.target})
MERGE (a)-[e:LINKS {level: l.level}]->(b)
SET e.type = l.type, e.value = l.value, e.direction = l.direction, e.imports = l.imports`

	loadRepoQuery = `MATCH (r:Repo {id: $repo}) RETURN r.stats AS stats, r.missing AS missing`

	loadNodesQuery = `MATCH (c:CodeNode {repo: $repo})
RETURN c.id AS id, c.label AS label, c.type AS type, c.parentId AS parentId,
       c.depth AS depth, c.loc AS loc, c.sloc AS sloc
ORDER BY c.ord`

	loadLinksQuery = `MATCH (a:CodeNode {repo: $repo})-[e:LINKS]->(b:CodeNode {repo: $repo})
RETURN a.id AS source, b.id AS target, e.value AS value, e.type AS type,
       e.direction AS direction, e.level AS level, e.imports AS imports`

	neighborsQuery = `MATCH (a:CodeNode {repo: $repo, id: $id})-[e:LINKS]-(b:CodeNode)
RETURN b.id AS id, e.type AS type, e.level AS level, e.value AS value,
       startNode(e) = a AS outgoing
ORDER BY value DESC, id`
)

// StoreGraph replaces the repository's graph in one write transaction.
func (r *Neo4jRepository) StoreGraph(ctx context.Context, g *depgraph.Graph) error {
	stats, err := json.Marshal(g.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	nodes := make([]map[string]any, 0, len(g.Nodes))
	var pairs []map[string]any
	for i, n := range g.Nodes {
		nodes = append(nodes, map[string]any{
			"id": n.ID, "label": n.Label, "type": string(n.Type), "parentId": n.ParentID,
			"depth": n.Depth, "loc": n.LOC, "sloc": n.SLOC, "ord": i,
		})
		if n.ParentID != "" {
			pairs = append(pairs, map[string]any{"parent": n.ParentID, "child": n.ID})
		}
	}
	links := make([]map[string]any, 0, len(g.Links))
	for _, e := range g.Links {
		links = append(links, map[string]any{
			"source": e.Source, "target": e.Target, "value": e.Value, "type": string(e.Type),
			"direction": string(e.Direction), "level": string(e.Level), "imports": e.Imports,
		})
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		steps := []struct {
			query  string
			params map[string]any
		}{
			{clearQuery, map[string]any{"repo": g.RepoID}},
			{repoQuery, map[string]any{
				"repo": g.RepoID, "stats": string(stats), "missing": g.Missing,
				"updatedAt": time.Now().UTC().Format(time.RFC3339),
			}},
			{nodesQuery, map[string]any{"repo": g.RepoID, "nodes": nodes}},
			{containsQuery, map[string]any{"repo": g.RepoID, "pairs": pairs}},
			{linksQuery, map[string]any{"repo": g.RepoID, "links": links}},
		}
		for _, s := range steps {
			if _, err := tx.Run(ctx, s.query, s.params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store graph %s: %w", g.RepoID, err)
	}
	return nil
}

func (r *Neo4jRepository) LoadGraph(ctx context.Context, repoID string) (*depgraph.Graph, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{"repo": repoID}

		repoRes, err := tx.Run(ctx, loadRepoQuery, params)
		if err != nil {
			return nil, err
		}
		if !repoRes.Next(ctx) {
			return nil, graph.ErrNotFound
		}
		g := &depgraph.Graph{RepoID: repoID}
		rec := repoRes.Record()
		if raw, ok := rec.AsMap()["stats"].(string); ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &g.Stats); err != nil {
				return nil, fmt.Errorf("decode stats: %w", err)
			}
		}
		if missing, ok := rec.AsMap()["missing"].([]any); ok {
			for _, m := range missing {
				if s, ok := m.(string); ok {
					g.Missing = append(g.Missing, s)
				}
			}
		}

		nodeRes, err := tx.Run(ctx, loadNodesQuery, params)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]*depgraph.Node)
		for nodeRes.Next(ctx) {
			m := nodeRes.Record().AsMap()
			n := &depgraph.Node{
				ID:       str(m["id"]),
				Label:    str(m["label"]),
				Type:     depgraph.NodeType(str(m["type"])),
				ParentID: str(m["parentId"]),
				Depth:    num(m["depth"]),
				LOC:      num(m["loc"]),
				SLOC:     num(m["sloc"]),
			}
			g.Nodes = append(g.Nodes, n)
			byID[n.ID] = n
		}
		for _, n := range g.Nodes {
			if p, ok := byID[n.ParentID]; ok {
				p.Children = append(p.Children, n.ID)
			}
		}

		linkRes, err := tx.Run(ctx, loadLinksQuery, params)
		if err != nil {
			return nil, err
		}
		for linkRes.Next(ctx) {
			m := linkRes.Record().AsMap()
			g.Links = append(g.Links, depgraph.Edge{
				Source:    str(m["source"]),
				Target:    str(m["target"]),
				Value:     num(m["value"]),
				Type:      depgraph.EdgeType(str(m["type"])),
				Direction: depgraph.Direction(str(m["direction"])),
				Level:     depgraph.Level(str(m["level"])),
				Imports:   num(m["imports"]),
			})
		}
		return g, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load graph %s: %w", repoID, err)
	}
	return result.(*depgraph.Graph), nil
}

func (r *Neo4jRepository) QueryNeighbors(ctx context.Context, repoID, nodeID string) ([]graph.Neighbor, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, neighborsQuery, map[string]any{"repo": repoID, "id": nodeID})
		if err != nil {
			return nil, err
		}
		var out []graph.Neighbor
		for records.Next(ctx) {
			m := records.Record().AsMap()
			outgoing, _ := m["outgoing"].(bool)
			out = append(out, graph.Neighbor{
				ID:       str(m["id"]),
				Type:     depgraph.EdgeType(str(m["type"])),
				Level:    depgraph.Level(str(m["level"])),
				Value:    num(m["value"]),
				Outgoing: outgoing,
			})
		}
		return out, records.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query neighbors of %s: %w", nodeID, err)
	}
	return result.([]graph.Neighbor), nil
}

func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// num converts the driver's int64 (or float64 for computed values) to int.
func num(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

var _ graph.Repository = (*Neo4jRepository)(nil)
