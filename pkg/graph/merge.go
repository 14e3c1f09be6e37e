package graph

import "strings"

// Merge combines g1 into a copy of g2 and returns the result. Neither input
// is modified.
//
// A node or edge from g1 that is already present adds its weight only when it
// brings at least one source id the combined element does not have yet, so
// merging a graph with itself leaves weights unchanged. Descriptions and
// source ids accumulate. The order descriptions are joined in depends on the
// fold order.
func Merge(g1, g2 *Graph) *Graph {
	out := g2.Copy()
	for _, n := range g1.Nodes() {
		cur, ok := out.nodes[n.ID]
		if !ok {
			out.insertNode(n.clone())
			continue
		}
		if !isRepeat(cur.SourceID, cur.Description, n.SourceID, n.Description) {
			cur.Weight += n.Weight
		}
		cur.SourceID = UnionStrings(cur.SourceID, n.SourceID)
		cur.Description = AppendDescription(cur.Description, n.Description)
		cur.Communities = UnionStrings(cur.Communities, n.Communities)
		if cur.EntityType == "" {
			cur.EntityType = n.EntityType
		}
		cur.fillAttrs(n.Attrs)
	}
	for _, e := range g1.Edges() {
		cur, ok := out.edges[keyOf(e.Source, e.Target)]
		if !ok {
			out.insertEdge(e.clone())
			continue
		}
		cur.accumulate(e, !isRepeat(cur.SourceID, cur.Description, e.SourceID, e.Description))
	}
	return out
}

// MergeAll folds graphs from left to right. It returns an empty graph for no input.
func MergeAll(graphs ...*Graph) *Graph {
	out := New()
	for _, g := range graphs {
		if g == nil {
			continue
		}
		out = Merge(g, out)
	}
	return out
}

// isRepeat reports whether an element carrying sources and description has
// already been folded into one holding curSources and curDesc.
func isRepeat(curSources []string, curDesc string, sources []string, desc string) bool {
	if len(sources) > 0 {
		return isSubset(curSources, sources)
	}
	if desc == "" {
		return false
	}
	return AppendDescription(curDesc, desc) == curDesc && strings.TrimSpace(curDesc) != ""
}
