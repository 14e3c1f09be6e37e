package graph_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
)

// chunkGraph builds what extraction yields for one chunk: every node weight 1,
// every element sourced from the chunk.
func chunkGraph(chunk string, edges ...[2]string) *graph.Graph {
	g := graph.New()
	for _, e := range edges {
		g.MergeNodeMention(e[0], "DISEASE(疾病)", e[0]+" in "+chunk, chunk)
		g.MergeNodeMention(e[1], "SYMPTOM(症状)", e[1]+" in "+chunk, chunk)
		g.MergeEdge(graph.Edge{Source: e[0], Target: e[1], Weight: 2, Description: chunk, SourceID: []string{chunk}})
	}
	return g
}

func weights(g *graph.Graph) (map[string]int, map[string]float64) {
	nodes := make(map[string]int)
	for _, n := range g.Nodes() {
		nodes[n.ID] = n.Weight
	}
	edges := make(map[string]float64)
	for _, e := range g.Edges() {
		u, v := e.Source, e.Target
		if u > v {
			u, v = v, u
		}
		edges[u+"|"+v] = e.Weight
	}
	return nodes, edges
}

func TestMergeWeightIndependentOfGrouping(t *testing.T) {
	chunks := []*graph.Graph{
		chunkGraph("c1", [2]string{"PARVO(细小病毒)", "DIARRHEA(腹泻)"}),
		chunkGraph("c2", [2]string{"PARVO(细小病毒)", "VOMITING(呕吐)"}),
		chunkGraph("c3", [2]string{"PARVO(细小病毒)", "DIARRHEA(腹泻)"}),
		chunkGraph("c4", [2]string{"ROTAVIRUS(轮状病毒)", "DIARRHEA(腹泻)"}),
	}

	groupings := map[string]*graph.Graph{
		"left fold":  graph.MergeAll(chunks...),
		"pairs":      graph.Merge(graph.Merge(chunks[0], chunks[1]), graph.Merge(chunks[2], chunks[3])),
		"right fold": graph.Merge(chunks[0], graph.Merge(chunks[1], graph.Merge(chunks[2], chunks[3]))),
		"reversed":   graph.MergeAll(chunks[3], chunks[2], chunks[1], chunks[0]),
	}

	wantNodes, wantEdges := weights(groupings["left fold"])
	assert.Equal(t, 3, wantNodes["PARVO(细小病毒)"])
	assert.Equal(t, 3, wantNodes["DIARRHEA(腹泻)"])
	assert.Equal(t, 4.0, wantEdges["DIARRHEA(腹泻)|PARVO(细小病毒)"])

	for name, g := range groupings {
		t.Run(name, func(t *testing.T) {
			requireRanks(t, g)
			gotNodes, gotEdges := weights(g)
			assert.Equal(t, wantNodes, gotNodes)
			assert.Equal(t, wantEdges, gotEdges)
		})
	}
}

func TestMergeWithSelfIsIdempotent(t *testing.T) {
	g := graph.MergeAll(
		chunkGraph("c1", [2]string{"PARVO(细小病毒)", "DIARRHEA(腹泻)"}),
		chunkGraph("c2", [2]string{"PARVO(细小病毒)", "VOMITING(呕吐)"}),
	)
	before, beforeEdges := weights(g)

	again := graph.Merge(g, g)
	after, afterEdges := weights(again)

	assert.Equal(t, before, after)
	assert.Equal(t, beforeEdges, afterEdges)
	n, _ := again.Node("PARVO(细小病毒)")
	orig, _ := g.Node("PARVO(细小病毒)")
	assert.Equal(t, orig.Description, n.Description)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	g1 := chunkGraph("c1", [2]string{"A(甲)", "B(乙)"})
	g2 := chunkGraph("c2", [2]string{"A(甲)", "C(丙)"})

	merged := graph.Merge(g1, g2)
	assert.Equal(t, 3, merged.Len())
	assert.Equal(t, 2, g1.Len())
	assert.Equal(t, 2, g2.Len())

	a, _ := merged.Node("A(甲)")
	assert.Equal(t, 2, a.Weight)
	assert.Equal(t, 2, a.Rank)
	assert.Equal(t, []string{"c2", "c1"}, a.SourceID)

	a2, _ := g2.Node("A(甲)")
	assert.Equal(t, 1, a2.Weight)
}

func TestMergeDescriptionDedup(t *testing.T) {
	tests := []struct {
		existing, add, want string
	}{
		{"", "fever", "fever"},
		{"fever", "", "fever"},
		{"High fever in dogs", "high FEVER", "High fever in dogs"},
		{"fever", "cough", "fever\ncough"},
		{
			existing: "an acute gastrointestinal infectious disease of dogs caused by rotavirus",
			add:      "An acute gastrointestinal infectious disease with a different ending",
			want:     "an acute gastrointestinal infectious disease of dogs caused by rotavirus",
		},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			assert.Equal(t, tt.want, graph.AppendDescription(tt.existing, tt.add))
		})
	}
}

func TestExtractionScenarioRank(t *testing.T) {
	g1 := graph.New()
	g1.MergeNodeMention("CANINE-ROTAVIRUS-INFECTION(犬轮状病毒病感染)", "DISEASE(疾病)", "infection", "c1")
	g1.MergeNodeMention("CANINE-ROTAVIRUS(犬轮状病毒)", "VIRUS(病毒)", "virus", "c1")
	g1.MergeEdge(graph.Edge{Source: "CANINE-ROTAVIRUS(犬轮状病毒)", Target: "CANINE-ROTAVIRUS-INFECTION(犬轮状病毒病感染)", Weight: 5, SourceID: []string{"c1"}})

	g2 := graph.New()
	g2.MergeNodeMention("CANINE-ROTAVIRUS-INFECTION(犬轮状病毒病感染)", "DISEASE(疾病)", "infection", "c2")
	g2.MergeNodeMention("DIARRHEA(腹泻)", "SYMPTOM(症状)", "diarrhea", "c2")
	g2.MergeEdge(graph.Edge{Source: "CANINE-ROTAVIRUS-INFECTION(犬轮状病毒病感染)", Target: "DIARRHEA(腹泻)", Weight: 5, SourceID: []string{"c2"}})

	merged := graph.Merge(g2, g1)
	n, ok := merged.Node("CANINE-ROTAVIRUS-INFECTION(犬轮状病毒病感染)")
	require.True(t, ok)
	assert.Equal(t, 2, merged.Degree(n.ID))
	assert.Equal(t, 2, n.Rank)
}
