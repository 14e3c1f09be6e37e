package extractor_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-vetgraph/pkg/extractor"
	"github.com/soundprediction/go-vetgraph/pkg/llm"
	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

const (
	rotavirus = "CANINE-ROTAVIRUS-INFECTION(犬轮状病毒病感染)"
	diarrhea  = "DIARRHEA(腹泻)"
)

const completion = `("entity"<|>canine-rotavirus-infection (犬轮状病毒病感染)<|>disease (疾病)<|>由犬轮状病毒引起的急性胃肠道传染病)##
("entity"<|>diarrhea （腹泻）<|>symptom (症状)<|>水样便)##
("entity"<|>dog<|>pet-species (宠物种类)<|>no bracket, dropped)##
("entity"<|>disease (疾病)<|>disease (疾病)<|>name equals type, dropped)##
("entity"<|>too-short (太短))##
("relationship"<|>canine-rotavirus-infection (犬轮状病毒病感染)<|>diarrhea (腹泻)<|>腹泻是主要症状<|>9)##
("relationship"<|>canine-rotavirus-infection (犬轮状病毒病感染)<|>vomit<|>endpoint without bracket<|>3)##
<|COMPLETE|>`

type scriptedClient struct {
	mu      sync.Mutex
	replies []string
	prompts []string
}

func (c *scriptedClient) Chat(_ context.Context, msgs []llm.Message) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, msgs[0].Content)
	i := len(c.prompts) - 1
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	return &llm.Response{Content: c.replies[i]}, nil
}

func (c *scriptedClient) Close() error { return nil }

func TestParseRecords(t *testing.T) {
	g := extractor.ParseRecords(map[string]string{"doc.txt-0": completion}, "<|>", "##", "<|COMPLETE|>")

	assert.ElementsMatch(t, []string{rotavirus, diarrhea}, g.NodeIDs())
	require.NoError(t, g.CheckRanks())

	n, ok := g.Node(diarrhea)
	require.True(t, ok)
	assert.Equal(t, "SYMPTOM(症状)", n.EntityType)
	assert.Equal(t, []string{"doc.txt-0"}, n.SourceID)
	assert.Equal(t, 1, n.Rank)

	e, ok := g.Edge(diarrhea, rotavirus)
	require.True(t, ok)
	assert.Equal(t, 9.0, e.Weight)
	assert.Equal(t, "腹泻是主要症状", e.Description)
}

func TestParseRecordsDefaults(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantNodes  int
		wantWeight float64
	}{
		{
			name:       "non numeric strength defaults to one",
			text:       `("relationship"<|>a (甲)<|>b (乙)<|>related<|>strong)`,
			wantNodes:  2,
			wantWeight: 1,
		},
		{
			name:       "unquoted record type",
			text:       `(relationship<|>a (甲)<|>b (乙)<|>related<|>2.5)`,
			wantNodes:  2,
			wantWeight: 2.5,
		},
		{
			name:      "relationship needs five fields",
			text:      `("relationship"<|>a (甲)<|>b (乙)<|>2)`,
			wantNodes: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := extractor.ParseRecords(map[string]string{"d-0": tt.text}, "<|>", "##", "<|COMPLETE|>")
			assert.Equal(t, tt.wantNodes, g.Len())
			if tt.wantNodes > 0 {
				e, ok := g.Edge("A(甲)", "B(乙)")
				require.True(t, ok)
				assert.Equal(t, tt.wantWeight, e.Weight)
				n, _ := g.Node("A(甲)")
				assert.Equal(t, "", n.EntityType)
			}
		})
	}
}

func TestExtractOnline(t *testing.T) {
	client := &scriptedClient{replies: []string{completion, "**ERROR** overloaded"}}
	var failures []map[string]any
	ex := extractor.NewExtractor(client, extractor.Options{MaxLength: 100000},
		extractor.WithTokenCounter(utils.EstimateCounter{}),
		extractor.WithErrorHandler(func(err error, unit string, data map[string]any) {
			assert.ErrorIs(t, err, llm.ErrErrorSentinel)
			assert.Equal(t, "extract", unit)
			failures = append(failures, data)
		}),
	)

	chunks := []string{"犬轮状病毒", "腹泻", "呕吐", "精神沉郁", "ELISA"}
	res, err := ex.Extract(context.Background(), "doc.txt", chunks)
	require.NoError(t, err)

	// Two groups of at most four chunks; the second fails three times.
	assert.Len(t, client.prompts, 4)
	assert.Contains(t, client.prompts[0], "Text: 犬轮状病毒\n腹泻\n呕吐\n精神沉郁")
	require.Len(t, failures, 1)
	assert.Equal(t, 1, failures[0]["doc_index"])
	assert.Equal(t, "ELISA", failures[0]["text"])

	assert.Equal(t, map[int]string{0: "犬轮状病毒\n腹泻\n呕吐\n精神沉郁"}, res.SourceDocs)
	assert.ElementsMatch(t, []string{rotavirus, diarrhea}, res.Graph.NodeIDs())
	n, _ := res.Graph.Node(rotavirus)
	assert.Equal(t, []string{"doc.txt-0"}, n.SourceID)
	assert.Positive(t, res.TokenCount)
}

func TestExtractGleaning(t *testing.T) {
	more := `("entity"<|>vomiting (呕吐)<|>symptom (症状)<|>先吐后泻)`
	client := &scriptedClient{replies: []string{completion, more, "NO"}}
	ex := extractor.NewExtractor(client, extractor.Options{MaxLength: 100000, MaxGleanings: 2},
		extractor.WithTokenCounter(utils.EstimateCounter{}))

	res, err := ex.Extract(context.Background(), "doc.txt", []string{"text"})
	require.NoError(t, err)
	assert.Len(t, client.prompts, 3)
	assert.True(t, res.Graph.HasNode("VOMITING(呕吐)"))
}

type fakeRunner struct {
	requests map[string][]llm.Message
	result   *llm.BatchResult
	err      error
}

func (r *fakeRunner) RunBatch(_ context.Context, reqs map[string][]llm.Message) (*llm.BatchResult, error) {
	r.requests = reqs
	return r.result, r.err
}

func TestExtractBatch(t *testing.T) {
	second := strings.Replace(completion, "腹泻是主要症状", "以腹泻为特征", 1)
	runner := &fakeRunner{result: &llm.BatchResult{
		BatchID:   "b1",
		Responses: map[string]string{"graph_0": completion, "graph_1": second},
		Missing:   []string{"graph_2"},
	}}
	var missing []string
	ex := extractor.NewExtractor(nil, extractor.Options{Mode: extractor.ModeBatch, MaxLength: 100000},
		extractor.WithBatchRunner(runner),
		extractor.WithTokenCounter(utils.EstimateCounter{}),
		extractor.WithErrorHandler(func(err error, unit string, data map[string]any) {
			missing = append(missing, data["request_id"].(string))
		}),
	)

	res, err := ex.Extract(context.Background(), "doc.txt", []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Len(t, runner.requests, 3)
	assert.Contains(t, runner.requests["graph_2"][0].Content, "Text: c")
	assert.Equal(t, []string{"graph_2"}, missing)
	assert.Equal(t, map[int]string{0: "a", 1: "b"}, res.SourceDocs)

	n, _ := res.Graph.Node(rotavirus)
	assert.Equal(t, []string{"doc.txt-graph_0", "doc.txt-graph_1"}, n.SourceID)
	assert.Equal(t, 1, n.Weight)

	e, _ := res.Graph.Edge(rotavirus, diarrhea)
	assert.Equal(t, 18.0, e.Weight)
	assert.Equal(t, "腹泻是主要症状\n以腹泻为特征", e.Description)
	require.NoError(t, res.Graph.CheckRanks())
}

func TestExtractBatchSkipsUnknownResponses(t *testing.T) {
	runner := &fakeRunner{result: &llm.BatchResult{
		BatchID:   "b1",
		Responses: map[string]string{"graph_0": completion, "graph_x": completion, "other_1": completion, "graph_7": completion},
	}}
	ex := extractor.NewExtractor(nil, extractor.Options{Mode: extractor.ModeBatch, MaxLength: 100000},
		extractor.WithBatchRunner(runner), extractor.WithTokenCounter(utils.EstimateCounter{}))

	res, err := ex.Extract(context.Background(), "doc.txt", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{0: "a"}, res.SourceDocs)

	n, ok := res.Graph.Node(rotavirus)
	require.True(t, ok)
	assert.Equal(t, []string{"doc.txt-graph_0"}, n.SourceID)
}

func TestExtractBatchErrors(t *testing.T) {
	ex := extractor.NewExtractor(nil, extractor.Options{Mode: extractor.ModeBatch, MaxLength: 100000},
		extractor.WithTokenCounter(utils.EstimateCounter{}))
	_, err := ex.Extract(context.Background(), "doc.txt", []string{"a"})
	assert.Error(t, err)

	runner := &fakeRunner{err: llm.ErrBatchExpired}
	ex = extractor.NewExtractor(nil, extractor.Options{Mode: extractor.ModeBatch, MaxLength: 100000},
		extractor.WithBatchRunner(runner), extractor.WithTokenCounter(utils.EstimateCounter{}))
	_, err = ex.Extract(context.Background(), "doc.txt", []string{"a"})
	assert.True(t, errors.Is(err, llm.ErrBatchExpired))
}

func TestBudget(t *testing.T) {
	ex := extractor.NewExtractor(nil, extractor.Options{MaxLength: 1000}, extractor.WithTokenCounter(utils.EstimateCounter{}))
	budget, err := ex.Budget()
	require.NoError(t, err)
	assert.Equal(t, 600, budget)
}
