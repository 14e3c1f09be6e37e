package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type nodeLinkDoc struct {
	Directed   bool             `json:"directed"`
	Multigraph bool             `json:"multigraph"`
	Graph      map[string]any   `json:"graph"`
	Nodes      []map[string]any `json:"nodes"`
	Links      []map[string]any `json:"links"`
	Edges      []map[string]any `json:"edges,omitempty"`
}

// MarshalNodeLink serializes g in node-link form. Source ids are joined into
// one string per element.
func MarshalNodeLink(g *Graph, indent bool) ([]byte, error) {
	doc := nodeLinkDoc{
		Graph: map[string]any{},
		Nodes: make([]map[string]any, 0, g.Len()),
		Links: make([]map[string]any, 0, g.EdgeCount()),
	}
	for _, n := range g.Nodes() {
		doc.Nodes = append(doc.Nodes, n.Props())
	}
	for _, e := range g.Edges() {
		props := e.Props()
		props[AttrSource] = e.Source
		props[AttrTarget] = e.Target
		doc.Links = append(doc.Links, props)
	}
	if indent {
		return json.MarshalIndent(doc, "", "  ")
	}
	return json.Marshal(doc)
}

// ParseNodeLink builds a graph from node-link JSON. Both "links" and "edges"
// keys are accepted. Ranks are recomputed from the edges.
func ParseNodeLink(data []byte) (*Graph, error) {
	var doc nodeLinkDoc
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode node-link graph: %w", err)
	}

	g := New()
	for i, props := range doc.Nodes {
		id := toString(props[AttrID])
		if id == "" {
			return nil, fmt.Errorf("node-link graph: node %d has no id", i)
		}
		n := &Node{ID: id}
		n.applyProps(props)
		g.insertNode(n)
	}

	links := doc.Links
	if len(links) == 0 {
		links = doc.Edges
	}
	for i, props := range links {
		src, tgt := toString(props[AttrSource]), toString(props[AttrTarget])
		if src == "" || tgt == "" {
			return nil, fmt.Errorf("node-link graph: link %d lacks an endpoint", i)
		}
		if src == tgt {
			continue
		}
		for _, id := range []string{src, tgt} {
			if !g.HasNode(id) {
				g.insertNode(&Node{ID: id})
			}
		}
		e := &Edge{Source: src, Target: tgt}
		e.applyProps(props)
		g.insertEdge(e)
	}
	return g, nil
}
