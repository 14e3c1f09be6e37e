package community

import (
	"slices"
	"sort"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
)

// Neighbor is one weighted adjacency entry of the detection projection.
type Neighbor struct {
	NodeID string
	Weight float64
}

// projection is the weighted adjacency of a node subset, keyed by node id.
type projection map[string][]Neighbor

// buildProjection restricts g to members. Edges leaving the subset are ignored.
func buildProjection(g *graph.Graph, members []string) projection {
	in := make(map[string]struct{}, len(members))
	for _, id := range members {
		in[id] = struct{}{}
	}
	p := make(projection, len(members))
	for _, id := range members {
		var nbs []Neighbor
		for _, nb := range g.Neighbors(id) {
			if _, ok := in[nb]; !ok {
				continue
			}
			w := 1.0
			if e, ok := g.Edge(id, nb); ok && e.Weight > 0 {
				w = e.Weight
			}
			nbs = append(nbs, Neighbor{NodeID: nb, Weight: w})
		}
		p[id] = nbs
	}
	return p
}

func (p projection) ids() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// labelPropagation assigns every node the label carrying the largest
// neighbor weight, visiting nodes in id order. A node keeps its label when
// that label is among the best; otherwise the smallest best label wins.
func labelPropagation(p projection, maxIterations int) map[string]int {
	ids := p.ids()
	labels := make(map[string]int, len(ids))
	for i, id := range ids {
		labels[id] = i
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		changed := false
		for _, id := range ids {
			scores := make(map[int]float64)
			for _, nb := range p[id] {
				scores[labels[nb.NodeID]] += nb.Weight
			}
			if len(scores) == 0 {
				continue
			}
			best := -1.0
			var top []int
			for label, s := range scores {
				switch {
				case s > best:
					best = s
					top = []int{label}
				case s == best:
					top = append(top, label)
				}
			}
			current := labels[id]
			if slices.Contains(top, current) {
				continue
			}
			labels[id] = slices.Min(top)
			changed = true
		}
		if !changed {
			break
		}
	}
	return labels
}

// refineModularity moves single nodes between neighbouring communities while
// a move increases modularity. labels is updated in place.
func refineModularity(p projection, labels map[string]int, maxIterations int) {
	ids := p.ids()
	degree := make(map[string]float64, len(ids))
	var m2 float64
	for _, id := range ids {
		for _, nb := range p[id] {
			degree[id] += nb.Weight
		}
		m2 += degree[id]
	}
	if m2 == 0 {
		return
	}
	total := make(map[int]float64)
	for _, id := range ids {
		total[labels[id]] += degree[id]
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		moved := false
		for _, id := range ids {
			own := labels[id]
			ki := degree[id]
			links := make(map[int]float64)
			for _, nb := range p[id] {
				links[labels[nb.NodeID]] += nb.Weight
			}
			// gain of joining c relative to staying, with id taken out of own
			gain := func(c int) float64 {
				tot := total[c]
				if c == own {
					tot -= ki
				}
				return links[c] - ki*tot/m2
			}
			stay := gain(own)
			target, bestGain := own, stay
			cands := make([]int, 0, len(links))
			for c := range links {
				cands = append(cands, c)
			}
			sort.Ints(cands)
			for _, c := range cands {
				if c == own {
					continue
				}
				if g := gain(c); g > bestGain+1e-12 {
					target, bestGain = c, g
				}
			}
			if target == own {
				continue
			}
			total[own] -= ki
			total[target] += ki
			labels[id] = target
			moved = true
		}
		if !moved {
			break
		}
	}
}

// groups turns labels into member lists, each sorted, ordered by first member.
func groups(labels map[string]int) [][]string {
	byLabel := make(map[int][]string)
	for id, l := range labels {
		byLabel[l] = append(byLabel[l], id)
	}
	out := make([][]string, 0, len(byLabel))
	for _, members := range byLabel {
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
