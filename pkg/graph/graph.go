// Package graph holds the undirected entity graph and the rules used to
// accumulate weights, descriptions and source ids whenever it changes.
//
// Every mutating method keeps Node.Rank equal to the node degree.
package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrNodeExists is returned when creating a node whose id is already present.
	ErrNodeExists = errors.New("node already exists")
	// ErrNodeNotFound is returned when an operation requires a missing node.
	ErrNodeNotFound = errors.New("node not found")
	// ErrEdgeNotFound is returned when an operation requires a missing edge.
	ErrEdgeNotFound = errors.New("edge not found")
)

// Node is an entity keyed by its normalized display name.
type Node struct {
	ID          string
	EntityType  string
	Description string
	SourceID    []string
	Weight      int
	Rank        int
	Communities []string
	Attrs       map[string]any
}

// Edge is an undirected relationship between two nodes.
type Edge struct {
	Source      string
	Target      string
	Description string
	SourceID    []string
	Weight      float64
	Attrs       map[string]any
}

type edgeKey struct{ a, b string }

func keyOf(u, v string) edgeKey {
	if u > v {
		u, v = v, u
	}
	return edgeKey{a: u, b: v}
}

// Graph is an undirected simple graph. It is not safe for concurrent mutation.
type Graph struct {
	nodes map[string]*Node
	edges map[edgeKey]*Edge
	adj   map[string]map[string]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[edgeKey]*Edge),
		adj:   make(map[string]map[string]struct{}),
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// HasNode reports whether id is present.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// HasEdge reports whether an edge joins u and v.
func (g *Graph) HasEdge(u, v string) bool {
	_, ok := g.edges[keyOf(u, v)]
	return ok
}

// Node returns the node stored under id. The returned node may be modified
// in place for attribute changes; structural changes must go through Graph.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Edge returns the edge joining u and v.
func (g *Graph) Edge(u, v string) (*Edge, bool) {
	e, ok := g.edges[keyOf(u, v)]
	return e, ok
}

// Degree returns the number of neighbors of id.
func (g *Graph) Degree(id string) int {
	return len(g.adj[id])
}

// Nodes returns all nodes ordered by id.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, id := range slices.Sorted(maps.Keys(g.nodes)) {
		out = append(out, g.nodes[id])
	}
	return out
}

// NodeIDs returns all node ids in order.
func (g *Graph) NodeIDs() []string {
	return slices.Sorted(maps.Keys(g.nodes))
}

// Edges returns all edges ordered by their endpoints.
func (g *Graph) Edges() []*Edge {
	keys := slices.SortedFunc(maps.Keys(g.edges), func(x, y edgeKey) int {
		if c := strings.Compare(x.a, y.a); c != 0 {
			return c
		}
		return strings.Compare(x.b, y.b)
	})
	out := make([]*Edge, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.edges[k])
	}
	return out
}

// Neighbors returns the neighbors of id in order.
func (g *Graph) Neighbors(id string) []string {
	return slices.Sorted(maps.Keys(g.adj[id]))
}

func (g *Graph) insertNode(n *Node) {
	g.nodes[n.ID] = n
	if _, ok := g.adj[n.ID]; !ok {
		g.adj[n.ID] = make(map[string]struct{})
	}
	n.Rank = len(g.adj[n.ID])
}

func (g *Graph) insertEdge(e *Edge) {
	g.edges[keyOf(e.Source, e.Target)] = e
	g.adj[e.Source][e.Target] = struct{}{}
	g.adj[e.Target][e.Source] = struct{}{}
	g.touch(e.Source, e.Target)
}

func (g *Graph) deleteEdge(u, v string) {
	delete(g.edges, keyOf(u, v))
	delete(g.adj[u], v)
	delete(g.adj[v], u)
	g.touch(u, v)
}

func (g *Graph) touch(ids ...string) {
	for _, id := range ids {
		if n, ok := g.nodes[id]; ok {
			n.Rank = len(g.adj[id])
		}
	}
}

// AddNode inserts a new node. It fails with ErrNodeExists when the id is taken.
func (g *Graph) AddNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("add node: empty id")
	}
	if g.HasNode(n.ID) {
		return fmt.Errorf("add node %q: %w", n.ID, ErrNodeExists)
	}
	g.insertNode(n.clone())
	return nil
}

// MergeNodeMention records one extracted mention of an entity. A new node
// starts with weight 1; a repeated mention accumulates description and
// source ids and replaces the type only when the new one is non-empty.
func (g *Graph) MergeNodeMention(id, entityType, description, sourceID string) {
	if n, ok := g.nodes[id]; ok {
		n.Description = AppendDescription(n.Description, description)
		n.SourceID = UnionStrings(n.SourceID, splitSources(sourceID))
		if entityType != "" {
			n.EntityType = entityType
		}
		return
	}
	g.insertNode(&Node{
		ID:          id,
		EntityType:  entityType,
		Description: description,
		SourceID:    splitSources(sourceID),
		Weight:      1,
	})
}

// UpsertNode merges props into the node, creating it when absent.
// It reports whether the node was created.
func (g *Graph) UpsertNode(id string, props map[string]any) bool {
	n, ok := g.nodes[id]
	if !ok {
		n = &Node{ID: id, Weight: 1}
		g.insertNode(n)
	}
	n.applyProps(props)
	return !ok
}

// RemoveNode deletes id and its incident edges. It reports whether the node existed.
func (g *Graph) RemoveNode(id string) bool {
	if !g.HasNode(id) {
		return false
	}
	for nb := range g.adj[id] {
		g.deleteEdge(id, nb)
	}
	delete(g.adj, id)
	delete(g.nodes, id)
	return true
}

// MergeEdge asserts a relationship. Missing endpoints are created with an
// empty type. A repeated assertion adds its weight to the stored edge and
// accumulates description and source ids. Self loops are ignored.
func (g *Graph) MergeEdge(e Edge) {
	if e.Source == "" || e.Target == "" || e.Source == e.Target {
		return
	}
	for _, id := range []string{e.Source, e.Target} {
		if !g.HasNode(id) {
			g.insertNode(&Node{ID: id, SourceID: slices.Clone(e.SourceID), Weight: 1})
		}
	}
	cur, ok := g.edges[keyOf(e.Source, e.Target)]
	if !ok {
		g.insertEdge(e.clone())
		return
	}
	cur.accumulate(&e, true)
}

// SetEdge stores e, replacing any edge between the same endpoints.
// Both endpoints must exist.
func (g *Graph) SetEdge(e Edge) error {
	if e.Source == e.Target {
		return fmt.Errorf("set edge %q: self loop", e.Source)
	}
	for _, id := range []string{e.Source, e.Target} {
		if !g.HasNode(id) {
			return fmt.Errorf("set edge %q-%q: %w: %q", e.Source, e.Target, ErrNodeNotFound, id)
		}
	}
	g.insertEdge(e.clone())
	return nil
}

// UpdateEdge merges props into an existing edge. It reports whether the edge existed.
func (g *Graph) UpdateEdge(u, v string, props map[string]any) bool {
	e, ok := g.edges[keyOf(u, v)]
	if !ok {
		return false
	}
	e.applyProps(props)
	return true
}

// RemoveEdge deletes the edge joining u and v. It reports whether it existed.
func (g *Graph) RemoveEdge(u, v string) bool {
	if !g.HasEdge(u, v) {
		return false
	}
	g.deleteEdge(u, v)
	return true
}

// Contract folds every node in others into keep. Descriptions, weights,
// source ids and communities accumulate onto keep; edges are re-pointed to
// keep, accumulating on conflict; edges between contracted nodes and keep
// are dropped.
func (g *Graph) Contract(keep string, others ...string) error {
	k, ok := g.nodes[keep]
	if !ok {
		return fmt.Errorf("contract into %q: %w", keep, ErrNodeNotFound)
	}
	for _, id := range others {
		r, ok := g.nodes[id]
		if !ok || id == keep {
			continue
		}
		k.Description = AppendDescription(k.Description, r.Description)
		k.Weight += r.Weight
		k.SourceID = UnionStrings(k.SourceID, r.SourceID)
		k.Communities = UnionStrings(k.Communities, r.Communities)
		if k.EntityType == "" {
			k.EntityType = r.EntityType
		}
		k.fillAttrs(r.Attrs)

		for _, nb := range g.Neighbors(id) {
			e := g.edges[keyOf(id, nb)]
			g.deleteEdge(id, nb)
			if nb == keep {
				continue
			}
			if cur, ok := g.edges[keyOf(keep, nb)]; ok {
				cur.accumulate(e, true)
				continue
			}
			moved := e.clone()
			moved.Source, moved.Target = keep, nb
			g.insertEdge(moved)
		}
		delete(g.adj, id)
		delete(g.nodes, id)
	}
	return nil
}

// Copy returns a deep copy of g.
func (g *Graph) Copy() *Graph {
	out := New()
	for _, n := range g.nodes {
		out.insertNode(n.clone())
	}
	for _, e := range g.edges {
		out.insertEdge(e.clone())
	}
	return out
}

// CheckRanks returns an error naming the first node whose rank differs from its degree.
func (g *Graph) CheckRanks() error {
	for _, n := range g.Nodes() {
		if n.Rank != g.Degree(n.ID) {
			return fmt.Errorf("node %q: rank %d, degree %d", n.ID, n.Rank, g.Degree(n.ID))
		}
	}
	return nil
}

// AddCommunity appends title to the node's community list once.
func (n *Node) AddCommunity(title string) {
	if title == "" || slices.Contains(n.Communities, title) {
		return
	}
	n.Communities = append(n.Communities, title)
}

func (n *Node) clone() *Node {
	c := *n
	c.SourceID = slices.Clone(n.SourceID)
	c.Communities = slices.Clone(n.Communities)
	c.Attrs = maps.Clone(n.Attrs)
	return &c
}

func (n *Node) fillAttrs(attrs map[string]any) {
	for k, v := range attrs {
		if _, ok := n.Attrs[k]; ok {
			continue
		}
		if n.Attrs == nil {
			n.Attrs = make(map[string]any)
		}
		n.Attrs[k] = v
	}
}

func (e *Edge) clone() *Edge {
	c := *e
	c.SourceID = slices.Clone(e.SourceID)
	c.Attrs = maps.Clone(e.Attrs)
	return &c
}

// accumulate folds other into e. When additive is set the weight is summed.
func (e *Edge) accumulate(other *Edge, additive bool) {
	if additive {
		e.Weight += other.Weight
	}
	e.Description = AppendDescription(e.Description, other.Description)
	e.SourceID = UnionStrings(e.SourceID, other.SourceID)
	for k, v := range other.Attrs {
		if _, ok := e.Attrs[k]; ok {
			continue
		}
		if e.Attrs == nil {
			e.Attrs = make(map[string]any)
		}
		e.Attrs[k] = v
	}
}
