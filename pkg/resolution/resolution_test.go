package resolution_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
	"github.com/soundprediction/go-vetgraph/pkg/llm"
	"github.com/soundprediction/go-vetgraph/pkg/resolution"
)

const (
	petSpecies = "PET-SPECIES(宠物种类)"
	rodent     = "RODENT(啮齿动物)"
	rodents    = "RODENTS(啮齿类动物)"
	hamster    = "HAMSTER(仓鼠)"
	fever      = "FEVER(发烧)"
)

func TestIsSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"RODENT(啮齿动物)", "RODENT(啮齿类动物)", true},
		{"DIARRHEA(腹泻)", "DIARRHOEA(腹泻)", true},
		{"VOMIT(呕吐)", "EMESIS(呕吐)", true},
		{"DOG(犬)", "CAT(猫)", false},
		{"HAMSTER(仓鼠)", "RODENT(啮齿动物)", false},
		{"dog", "dogs", false},
		{"DOG(犬)", "dog", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, resolution.IsSimilarity(tt.a, tt.b))
			assert.Equal(t, tt.want, resolution.IsSimilarity(tt.b, tt.a))
		})
	}
}

func TestParseAnswers(t *testing.T) {
	r := resolution.NewResolver(nil, resolution.Options{})
	response := "(For question <|>1<|>, &&Yes&&, same)##\n" +
		"(For question <|>2<|>, &&No&&, different)##\n" +
		"(For question <|>3<|>, &&yes&&, same)##\n" +
		"(For question <|>0<|>, &&Yes&&, bad index)##\n" +
		"(For question <|>9<|>, &&Yes&&, out of range)##\n" +
		"garbage"
	assert.Equal(t, []int{1, 3}, r.ParseAnswers(response, 3))
}

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	require.NoError(t, g.AddNode(graph.Node{ID: rodent, EntityType: petSpecies, Description: "small mammal", SourceID: []string{"a-0"}, Weight: 1}))
	require.NoError(t, g.AddNode(graph.Node{ID: rodents, EntityType: petSpecies, Description: "gnawing animals", SourceID: []string{"a-1"}, Weight: 3}))
	require.NoError(t, g.AddNode(graph.Node{ID: hamster, EntityType: petSpecies, Weight: 1}))
	require.NoError(t, g.AddNode(graph.Node{ID: fever, EntityType: "SYMPTOM(症状)", Weight: 1}))
	g.MergeEdge(graph.Edge{Source: rodent, Target: hamster, Weight: 2, SourceID: []string{"a-0"}})
	g.MergeEdge(graph.Edge{Source: rodent, Target: fever, Weight: 1, SourceID: []string{"a-0"}})
	g.MergeEdge(graph.Edge{Source: rodents, Target: fever, Weight: 4, SourceID: []string{"a-1"}})
	return g
}

func TestCandidates(t *testing.T) {
	r := resolution.NewResolver(nil, resolution.Options{})
	cands := r.Candidates(testGraph(t))
	require.Len(t, cands, 1)
	assert.Equal(t, "res_0", cands[0].ID)
	assert.Equal(t, [][2]string{{rodent, rodents}}, cands[0].Pairs)
}

func TestCandidatesBatching(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"A1(甲)", "A2(甲)", "A3(甲)", "A4(甲)"} {
		require.NoError(t, g.AddNode(graph.Node{ID: id, EntityType: "T", Weight: 1}))
	}
	r := resolution.NewResolver(nil, resolution.Options{BatchSize: 4})
	cands := r.Candidates(g)
	require.Len(t, cands, 2)
	assert.Equal(t, "res_0", cands[0].ID)
	assert.Len(t, cands[0].Pairs, 4)
	assert.Equal(t, "res_1", cands[1].ID)
	assert.Len(t, cands[1].Pairs, 2)
}

type answerClient struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
}

func (c *answerClient) Chat(_ context.Context, msgs []llm.Message) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Content: c.answer}, nil
}

func (c *answerClient) Close() error { return nil }

func TestResolveOnline(t *testing.T) {
	g := testGraph(t)
	client := &answerClient{answer: "(For question <|>1<|>, &&Yes&&, same pet species)##"}
	r := resolution.NewResolver(client, resolution.Options{Workers: 2})

	res, err := r.Resolve(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, map[string][]string{rodents: {rodent}}, res.Merged)

	out := res.Graph
	assert.False(t, out.HasNode(rodent))
	require.NoError(t, out.CheckRanks())

	kept, ok := out.Node(rodents)
	require.True(t, ok)
	assert.Equal(t, 4, kept.Weight)
	assert.Equal(t, []string{"a-1", "a-0"}, kept.SourceID)
	assert.Equal(t, "gnawing animals\nsmall mammal", kept.Description)
	assert.Equal(t, 2, kept.Rank)

	e, ok := out.Edge(rodents, fever)
	require.True(t, ok)
	assert.Equal(t, 5.0, e.Weight)
	e, ok = out.Edge(hamster, rodents)
	require.True(t, ok)
	assert.Equal(t, 2.0, e.Weight)

	// Input untouched.
	assert.True(t, g.HasNode(rodent))
}

func TestResolveOnlineFailureKeepsGraph(t *testing.T) {
	boom := errors.New("boom")
	client := &answerClient{err: boom}
	var units []string
	r := resolution.NewResolver(client, resolution.Options{}, resolution.WithErrorHandler(func(err error, unit string, data map[string]any) {
		assert.ErrorIs(t, err, boom)
		units = append(units, data["batch_id"].(string))
	}))
	res, err := r.Resolve(context.Background(), testGraph(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"res_0"}, units)
	assert.Equal(t, 4, res.Graph.Len())
	assert.Empty(t, res.Merged)
}

type fakeRunner struct {
	result *llm.BatchResult
	ids    []string
}

func (f *fakeRunner) RunBatch(_ context.Context, reqs map[string][]llm.Message) (*llm.BatchResult, error) {
	for id := range reqs {
		f.ids = append(f.ids, id)
	}
	return f.result, nil
}

func TestResolveBatch(t *testing.T) {
	runner := &fakeRunner{result: &llm.BatchResult{Responses: map[string]string{
		"res_0": "(For question <|>1<|>, &&Yes&&, same)",
	}}}
	r := resolution.NewResolver(nil, resolution.Options{Mode: resolution.ModeBatch}, resolution.WithBatchRunner(runner))
	res, err := r.Resolve(context.Background(), testGraph(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"res_0"}, runner.ids)
	assert.Equal(t, 3, res.Graph.Len())
}

func TestResolveBatchSeparatesEntityTypes(t *testing.T) {
	const (
		rabies  = "RABIES(狂犬病)"
		rabiess = "RABIESS(狂犬病毒病)"
		vomit   = "VOMIT(呕吐)"
		emesis  = "EMESIS(呕吐)"
	)
	g := graph.New()
	require.NoError(t, g.AddNode(graph.Node{ID: rabies, EntityType: "疾病", Weight: 2}))
	require.NoError(t, g.AddNode(graph.Node{ID: rabiess, EntityType: "疾病", Weight: 1}))
	require.NoError(t, g.AddNode(graph.Node{ID: vomit, EntityType: "症状", Weight: 2}))
	require.NoError(t, g.AddNode(graph.Node{ID: emesis, EntityType: "症状", Weight: 1}))

	r := resolution.NewResolver(nil, resolution.Options{Mode: resolution.ModeBatch})
	cands := r.Candidates(g)
	require.Len(t, cands, 2)
	assert.NotEqual(t, cands[0].ID, cands[1].ID)
	assert.Equal(t, "疾病", cands[0].EntityType)
	assert.Equal(t, "症状", cands[1].EntityType)

	// Only the symptom pair is confirmed.
	runner := &fakeRunner{result: &llm.BatchResult{Responses: map[string]string{
		cands[0].ID: "(For question <|>1<|>, &&No&&, different)",
		cands[1].ID: "(For question <|>1<|>, &&Yes&&, same)",
	}}}
	r = resolution.NewResolver(nil, resolution.Options{Mode: resolution.ModeBatch}, resolution.WithBatchRunner(runner))
	res, err := r.Resolve(context.Background(), g)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{cands[0].ID, cands[1].ID}, runner.ids)
	assert.Equal(t, map[string][]string{vomit: {emesis}}, res.Merged)
	assert.True(t, res.Graph.HasNode(rabies))
	assert.True(t, res.Graph.HasNode(rabiess))
}

func TestApplyTieBreak(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"B(乙)", "A(甲)", "C(丙)"} {
		require.NoError(t, g.AddNode(graph.Node{ID: id, EntityType: "T", Weight: 2}))
	}
	g.MergeEdge(graph.Edge{Source: "A(甲)", Target: "B(乙)", Weight: 1})

	res, err := resolution.Apply(g, [][2]string{{"C(丙)", "B(乙)"}, {"B(乙)", "A(甲)"}})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"A(甲)": {"B(乙)", "C(丙)"}}, res.Merged)
	assert.Equal(t, []string{"A(甲)"}, res.Graph.NodeIDs())
	n, _ := res.Graph.Node("A(甲)")
	assert.Equal(t, 6, n.Weight)
	assert.Equal(t, 0, n.Rank)
	assert.Zero(t, res.Graph.EdgeCount())
}
