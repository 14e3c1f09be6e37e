package community

import (
	"github.com/soundprediction/go-vetgraph/pkg/graph"
)

// DetermineEntityCommunityResult is the community title chosen for one node.
type DetermineEntityCommunityResult struct {
	Title string
	// IsNew is false when the node already carried community titles.
	IsNew bool
}

// DetermineEntityCommunity picks a community title for a node added after
// the reports were written. A node with titles keeps them; otherwise it takes
// the title most common among its neighbors, ties broken by the smallest
// title. The result is empty when no neighbor belongs to a community.
func DetermineEntityCommunity(g *graph.Graph, id string) DetermineEntityCommunityResult {
	n, ok := g.Node(id)
	if !ok {
		return DetermineEntityCommunityResult{}
	}
	if len(n.Communities) > 0 {
		return DetermineEntityCommunityResult{Title: n.Communities[0]}
	}
	return DetermineEntityCommunityResult{Title: modalCommunity(g, id), IsNew: true}
}

func modalCommunity(g *graph.Graph, id string) string {
	counts := make(map[string]int)
	for _, nb := range g.Neighbors(id) {
		m, ok := g.Node(nb)
		if !ok {
			continue
		}
		for _, title := range m.Communities {
			counts[title]++
		}
	}
	var best string
	bestCount := 0
	for title, c := range counts {
		if c > bestCount || (c == bestCount && title < best) {
			best, bestCount = title, c
		}
	}
	return best
}

// UpdateCommunity attaches the title chosen by DetermineEntityCommunity to
// the node. It reports whether the node gained a title.
func UpdateCommunity(g *graph.Graph, id string) bool {
	res := DetermineEntityCommunity(g, id)
	if !res.IsNew || res.Title == "" {
		return false
	}
	n, _ := g.Node(id)
	n.AddCommunity(res.Title)
	return true
}
