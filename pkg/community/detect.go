// Package community groups graph nodes into communities and asks a language
// model to write a report for each of them.
package community

import (
	"fmt"
	"sort"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
)

const (
	// MinSplitSize is the component size above which a level-1 split is tried.
	MinSplitSize = 6
	// MaxIterations bounds label propagation and modularity refinement.
	MaxIterations = 100
)

// Community is one detected group of nodes.
type Community struct {
	ID      string
	Level   int
	Members []string
	// Weight is Σ(rank·weight) over members normalised by the level maximum.
	Weight float64
}

// Hierarchy holds the communities of every level, level 0 first.
type Hierarchy struct {
	Levels [][]*Community
}

// All returns every community, level by level.
func (h *Hierarchy) All() []*Community {
	var out []*Community
	for _, level := range h.Levels {
		out = append(out, level...)
	}
	return out
}

// Detector finds communities. The zero value uses the package defaults.
type Detector struct {
	MinSplitSize  int
	MaxIterations int
}

// Detect runs a default Detector.
func Detect(g *graph.Graph) *Hierarchy {
	return (&Detector{}).Detect(g)
}

// Detect returns the connected components of g as level 0 and, for each
// component larger than MinSplitSize, its label propagation split as level 1.
// Singleton communities are skipped. The result depends only on g.
func (d *Detector) Detect(g *graph.Graph) *Hierarchy {
	minSplit := d.MinSplitSize
	if minSplit <= 0 {
		minSplit = MinSplitSize
	}
	maxIter := d.MaxIterations
	if maxIter <= 0 {
		maxIter = MaxIterations
	}

	h := &Hierarchy{}
	components := connectedComponents(g)

	var level0 [][]string
	for _, c := range components {
		if len(c) > 1 {
			level0 = append(level0, c)
		}
	}
	if len(level0) == 0 {
		return h
	}
	h.Levels = append(h.Levels, newLevel(g, 0, level0))

	var level1 [][]string
	for _, c := range level0 {
		if len(c) <= minSplit {
			continue
		}
		p := buildProjection(g, c)
		labels := labelPropagation(p, maxIter)
		refineModularity(p, labels, maxIter)
		parts := groups(labels)
		if len(parts) < 2 {
			continue
		}
		for _, part := range parts {
			if len(part) > 1 {
				level1 = append(level1, part)
			}
		}
	}
	if len(level1) > 0 {
		h.Levels = append(h.Levels, newLevel(g, 1, level1))
	}
	return h
}

func newLevel(g *graph.Graph, level int, members [][]string) []*Community {
	out := make([]*Community, 0, len(members))
	var maxWeight float64
	for i, m := range members {
		c := &Community{
			ID:      fmt.Sprintf("community-%d-%d", level, i),
			Level:   level,
			Members: m,
		}
		for _, id := range m {
			if n, ok := g.Node(id); ok {
				c.Weight += float64(n.Rank * n.Weight)
			}
		}
		maxWeight = max(maxWeight, c.Weight)
		out = append(out, c)
	}
	if maxWeight > 0 {
		for _, c := range out {
			c.Weight /= maxWeight
		}
	}
	return out
}

// connectedComponents returns the components of g, members sorted,
// components ordered by smallest member.
func connectedComponents(g *graph.Graph) [][]string {
	seen := make(map[string]bool, g.Len())
	var out [][]string
	for _, id := range g.NodeIDs() {
		if seen[id] {
			continue
		}
		seen[id] = true
		queue := []string{id}
		var comp []string
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			comp = append(comp, cur)
			for _, nb := range g.Neighbors(cur) {
				if !seen[nb] {
					seen[nb] = true
					queue = append(queue, nb)
				}
			}
		}
		sort.Strings(comp)
		out = append(out, comp)
	}
	return out
}
