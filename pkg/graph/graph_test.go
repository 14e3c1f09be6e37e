package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
)

func requireRanks(t *testing.T, g *graph.Graph) {
	t.Helper()
	require.NoError(t, g.CheckRanks())
}

func TestAddNodeRejectsDuplicate(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(graph.Node{ID: "DOG(犬)", EntityType: "PET-SPECIES(宠物种类)", Weight: 1}))

	err := g.AddNode(graph.Node{ID: "DOG(犬)"})
	assert.ErrorIs(t, err, graph.ErrNodeExists)
	assert.Equal(t, 1, g.Len())
}

func TestRankFollowsDegree(t *testing.T) {
	g := graph.New()
	ops := []struct {
		name string
		op   func()
	}{
		{"merge edge creates endpoints", func() { g.MergeEdge(graph.Edge{Source: "A(甲)", Target: "B(乙)", Weight: 1}) }},
		{"second edge", func() { g.MergeEdge(graph.Edge{Source: "A(甲)", Target: "C(丙)", Weight: 2}) }},
		{"repeated edge", func() { g.MergeEdge(graph.Edge{Source: "B(乙)", Target: "A(甲)", Weight: 3}) }},
		{"set edge", func() { require.NoError(t, g.SetEdge(graph.Edge{Source: "B(乙)", Target: "C(丙)", Weight: 1})) }},
		{"remove edge", func() { g.RemoveEdge("A(甲)", "C(丙)") }},
		{"upsert node", func() { g.UpsertNode("D(丁)", map[string]any{"entity_type": "X(某)"}) }},
		{"remove node", func() { g.RemoveNode("B(乙)") }},
		{"self loop ignored", func() { g.MergeEdge(graph.Edge{Source: "A(甲)", Target: "A(甲)"}) }},
	}
	for _, tt := range ops {
		t.Run(tt.name, func(t *testing.T) {
			tt.op()
			requireRanks(t, g)
		})
	}

	assert.False(t, g.HasNode("B(乙)"))
	assert.Equal(t, 0, g.EdgeCount())
}

func TestMergeEdgeAccumulates(t *testing.T) {
	g := graph.New()
	g.MergeEdge(graph.Edge{Source: "A(甲)", Target: "B(乙)", Weight: 2, Description: "first", SourceID: []string{"c1"}})
	g.MergeEdge(graph.Edge{Source: "B(乙)", Target: "A(甲)", Weight: 3, Description: "second", SourceID: []string{"c2"}})

	e, ok := g.Edge("A(甲)", "B(乙)")
	require.True(t, ok)
	assert.Equal(t, 5.0, e.Weight)
	assert.Equal(t, "first\nsecond", e.Description)
	assert.Equal(t, []string{"c1", "c2"}, e.SourceID)

	a, _ := g.Node("A(甲)")
	assert.Equal(t, "", a.EntityType)
	assert.Equal(t, 1, a.Weight)
	assert.Equal(t, []string{"c1"}, a.SourceID)
}

func TestMergeNodeMention(t *testing.T) {
	g := graph.New()
	g.MergeNodeMention("DOG(犬)", "PET-SPECIES(宠物种类)", "a common pet", "c1")
	g.MergeNodeMention("DOG(犬)", "", "A COMMON PET", "c1")
	g.MergeNodeMention("DOG(犬)", "ANIMAL(动物)", "loyal", "c2")

	n, ok := g.Node("DOG(犬)")
	require.True(t, ok)
	assert.Equal(t, "ANIMAL(动物)", n.EntityType)
	assert.Equal(t, "a common pet\nloyal", n.Description)
	assert.Equal(t, []string{"c1", "c2"}, n.SourceID)
	assert.Equal(t, 1, n.Weight)
}

func TestUpdateAndRemoveMissingEdgeAreNoOps(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(graph.Node{ID: "A(甲)"}))

	assert.False(t, g.UpdateEdge("A(甲)", "B(乙)", map[string]any{"weight": 3}))
	assert.False(t, g.RemoveEdge("A(甲)", "B(乙)"))
	assert.False(t, g.RemoveNode("B(乙)"))
	assert.ErrorIs(t, g.SetEdge(graph.Edge{Source: "A(甲)", Target: "B(乙)"}), graph.ErrNodeNotFound)
}

func TestSetEdgeOverwrites(t *testing.T) {
	g := graph.New()
	g.MergeEdge(graph.Edge{Source: "A(甲)", Target: "B(乙)", Weight: 4, Description: "old"})
	require.NoError(t, g.SetEdge(graph.Edge{Source: "B(乙)", Target: "A(甲)", Weight: 1, Description: "new"}))

	e, ok := g.Edge("A(甲)", "B(乙)")
	require.True(t, ok)
	assert.Equal(t, 1.0, e.Weight)
	assert.Equal(t, "new", e.Description)
	assert.Equal(t, 1, g.EdgeCount())
}

func TestContract(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(graph.Node{ID: "RODENT(啮齿动物)", EntityType: "BREED(品种)", Description: "small mammal", Weight: 2, SourceID: []string{"d1"}}))
	require.NoError(t, g.AddNode(graph.Node{ID: "RODENT(啮齿类动物)", EntityType: "BREED(品种)", Description: "gnawing animal", Weight: 3, SourceID: []string{"d2"}}))
	g.MergeEdge(graph.Edge{Source: "RODENT(啮齿动物)", Target: "RODENT(啮齿类动物)", Weight: 1})
	g.MergeEdge(graph.Edge{Source: "RODENT(啮齿动物)", Target: "HAMSTER(仓鼠)", Weight: 1, Description: "kind of"})
	g.MergeEdge(graph.Edge{Source: "RODENT(啮齿类动物)", Target: "HAMSTER(仓鼠)", Weight: 2, Description: "includes"})
	g.MergeEdge(graph.Edge{Source: "RODENT(啮齿类动物)", Target: "RAT(大鼠)", Weight: 5})

	require.NoError(t, g.Contract("RODENT(啮齿动物)", "RODENT(啮齿类动物)"))
	requireRanks(t, g)

	assert.False(t, g.HasNode("RODENT(啮齿类动物)"))
	kept, ok := g.Node("RODENT(啮齿动物)")
	require.True(t, ok)
	assert.Equal(t, 5, kept.Weight)
	assert.Equal(t, "small mammal\ngnawing animal", kept.Description)
	assert.Equal(t, []string{"d1", "d2"}, kept.SourceID)
	assert.Equal(t, []string{"HAMSTER(仓鼠)", "RAT(大鼠)"}, g.Neighbors("RODENT(啮齿动物)"))

	hamster, ok := g.Edge("RODENT(啮齿动物)", "HAMSTER(仓鼠)")
	require.True(t, ok)
	assert.Equal(t, 3.0, hamster.Weight)
	assert.Equal(t, "kind of\nincludes", hamster.Description)

	rat, ok := g.Edge("RAT(大鼠)", "RODENT(啮齿动物)")
	require.True(t, ok)
	assert.Equal(t, 5.0, rat.Weight)
}

func TestContractMissingKeep(t *testing.T) {
	g := graph.New()
	assert.ErrorIs(t, g.Contract("NOPE(无)", "A(甲)"), graph.ErrNodeNotFound)
}

func TestCopyIsDeep(t *testing.T) {
	g := graph.New()
	g.MergeEdge(graph.Edge{Source: "A(甲)", Target: "B(乙)", Weight: 1, SourceID: []string{"c1"}})
	c := g.Copy()

	n, _ := c.Node("A(甲)")
	n.SourceID[0] = "changed"
	c.RemoveEdge("A(甲)", "B(乙)")

	orig, _ := g.Node("A(甲)")
	assert.Equal(t, "c1", orig.SourceID[0])
	assert.True(t, g.HasEdge("A(甲)", "B(乙)"))
	requireRanks(t, g)
	requireRanks(t, c)
}
