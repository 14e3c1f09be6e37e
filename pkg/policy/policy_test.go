package policy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-vetgraph/pkg/driver"
	"github.com/soundprediction/go-vetgraph/pkg/graph"
	"github.com/soundprediction/go-vetgraph/pkg/index"
	"github.com/soundprediction/go-vetgraph/pkg/policy"
	"github.com/soundprediction/go-vetgraph/pkg/projection"
	"github.com/soundprediction/go-vetgraph/pkg/types"
)

func clinicGraph(symptom, drug string) *graph.Graph {
	g := graph.New()
	g.MergeNodeMention("流鼻涕", symptom, "鼻腔分泌物增多", "canine.pdf.txt-graph")
	g.MergeNodeMention("发烧", symptom, "体温升高", "canine.pdf.txt-graph")
	g.MergeNodeMention("阿托品", drug, "抗胆碱药", "canine.pdf.txt-graph")
	g.MergeEdge(graph.Edge{Source: "发烧", Target: "阿托品", Weight: 1})
	return g
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		rule    string
		wantErr bool
	}{
		{"equality", "症状=流鼻涕", false},
		{"quoted", "'症状'='流鼻涕'", false},
		{"multi value", "症状=流鼻涕,发烧", false},
		{"attribute", "症状.description~体温", false},
		{"regexp", "症状=~'流.*'", false},
		{"not", "not 症状=发烧", false},
		{"upper case keywords", "NOT (症状=发烧 AND 药品=阿托品)", false},
		{"nested", "'症状'='流鼻涕' and ('药品'='阿托品' or '药品'='芬必得')", false},
		{"missing value", "症状=", true},
		{"missing operator", "症状 发烧", true},
		{"unbalanced", "(症状=发烧", true},
		{"keyword only", "and", true},
		{"contains with two values", "症状~a,b", true},
		{"empty values", "'症状'=' , '", true},
		{"bad regexp", "症状=~'('", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := policy.Parse(tt.rule)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, policy.ErrParse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rule, r.String())
		})
	}
}

func TestEvalGraph(t *testing.T) {
	g := clinicGraph("症状", "药品")
	tests := []struct {
		rule string
		want bool
	}{
		{"'症状'='流鼻涕,发烧'", true},
		{"症状=流鼻涕,呕吐", false},
		{"症状=流鼻涕 and 症状=发烧", true},
		{"药品=流鼻涕", false},
		{"not 症状.description=体温升高", false},
		{"NOT 症状.description=咳嗽", true},
		{"症状.description~体温", true},
		{"症状=~'流.*'", true},
		{"症状=~'流'", false},
		{"'症状'='流鼻涕' and ('药品'='阿托品' or '药品'='芬必得')", true},
		{"'症状'='流鼻涕' and ('药品'='青霉素' or '药品'='芬必得')", false},
		{"症状=咳嗽 or 药品=阿托品", true},
		{"症状.weight=1", false},
		{"疾病=犬瘟热", false},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.EvalGraph(policy.MustParse(tt.rule), g))
		})
	}
}

func TestCompile(t *testing.T) {
	query, params := policy.Compile(policy.MustParse("'症状'='流鼻涕' and ('药品'='阿托品' or '药品'='芬必得')"))
	assert.Equal(t, "CALL { MATCH (n:`症状`) WHERE n.`id` = $p0 RETURN count(n) > 0 AS t0 }\n"+
		"CALL { MATCH (n:`药品`) WHERE n.`id` = $p1 RETURN count(n) > 0 AS t1 }\n"+
		"CALL { MATCH (n:`药品`) WHERE n.`id` = $p2 RETURN count(n) > 0 AS t2 }\n"+
		"RETURN t0 AND (t1 OR t2) AS pass", query)
	assert.Equal(t, map[string]any{"p0": "流鼻涕", "p1": "阿托品", "p2": "芬必得"}, params)

	query, params = policy.Compile(policy.MustParse("not 症状.description~体温"))
	assert.Equal(t, "CALL { MATCH (n:`症状`) WHERE n.`description` CONTAINS $p0 RETURN count(n) > 0 AS t0 }\n"+
		"RETURN NOT (t0) AS pass", query)
	assert.Equal(t, "体温", params["p0"])

	query, _ = policy.Compile(policy.MustParse("症状=流鼻涕,发烧"))
	assert.Contains(t, query, "RETURN (t0 AND t1) AS pass")

	query, _ = policy.Compile(policy.MustParse("症状=~'流.*'"))
	assert.Contains(t, query, "n.`id` =~ $p0")
}

type passStore struct {
	pass    any
	err     error
	queries []string
}

func (s *passStore) ExecuteWrite(ctx context.Context, query string, params map[string]any) (driver.Counters, error) {
	return driver.Counters{}, nil
}

func (s *passStore) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	if s.pass == nil {
		return nil, nil
	}
	return []map[string]any{{"pass": s.pass}}, nil
}

func (s *passStore) Close(ctx context.Context) error { return nil }

func TestEvalStore(t *testing.T) {
	ctx := context.Background()
	r := policy.MustParse("症状=发烧")

	pass, err := policy.EvalStore(ctx, &passStore{pass: true}, r)
	require.NoError(t, err)
	assert.True(t, pass)

	pass, err = policy.EvalStore(ctx, &passStore{}, r)
	require.NoError(t, err)
	assert.False(t, pass)

	_, err = policy.EvalStore(ctx, &passStore{err: errors.New("connection refused")}, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "症状=发烧")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadRuleSets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "respiratory.yaml"), `
name: respiratory
rules:
  - "症状=流鼻涕"
  - "not 症状=咳嗽"
`)
	writeFile(t, filepath.Join(dir, "nested", "canine.yml"), `
source: canine.pdf.txt
disable: true
rules:
  - "药品=阿托品"
`)
	writeFile(t, filepath.Join(dir, "empty.yaml"), "name: empty\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "rules: [x]\n")

	sets, err := policy.LoadRuleSets(dir)
	require.NoError(t, err)
	require.Len(t, sets, 2)

	byName := map[string]policy.RuleSet{}
	for _, s := range sets {
		byName[s.Name] = s
	}
	resp := byName["respiratory"]
	assert.Equal(t, policy.ScopeGlobal, resp.Source)
	assert.Len(t, resp.Rules, 2)
	canine := byName["canine"]
	assert.Equal(t, "canine.pdf.txt", canine.Source)
	assert.True(t, canine.Disable)
	assert.Equal(t, filepath.Join(dir, "nested", "canine.yml"), canine.Path)

	sets, err = policy.LoadRuleSets(filepath.Join(dir, "respiratory.yaml"))
	require.NoError(t, err)
	assert.Len(t, sets, 1)

	_, err = policy.LoadRuleSets(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	writeFile(t, filepath.Join(dir, "broken.yaml"), "rules: [unclosed\n")
	_, err = policy.LoadRuleSets(dir)
	assert.Error(t, err)
}

func snapshotIndex(t *testing.T) index.Store {
	t.Helper()
	db, err := index.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := index.NewDuckDBStore(db)
	require.NoError(t, err)

	rec, err := projection.NewProjector().ProjectSnapshot(
		types.DocRef{KBID: "kb1", DocID: "doc-1", DocName: "canine.pdf.txt"}, clinicGraph("症状", "药品"))
	require.NoError(t, err)
	require.NoError(t, store.Bulk(context.Background(), "vetgraph_t1", []types.Record{rec}))
	return store
}

func TestIndexSnapshotLoader(t *testing.T) {
	load := policy.IndexSnapshotLoader(snapshotIndex(t), "vetgraph_t1", "kb1")
	ctx := context.Background()

	for _, doc := range []string{"doc-1", "canine.pdf.txt"} {
		g, err := load(ctx, doc)
		require.NoError(t, err, doc)
		assert.Equal(t, 3, g.Len())
	}
	_, err := load(ctx, "feline.pdf.txt")
	assert.ErrorIs(t, err, index.ErrDocumentNotFound)
}

func TestRunnerEvaluate(t *testing.T) {
	ctx := context.Background()
	store := &passStore{pass: true}
	runner := policy.NewRunner(store, policy.IndexSnapshotLoader(snapshotIndex(t), "vetgraph_t1", "kb1"), nil)

	res, err := runner.Evaluate(ctx, []string{"症状=流鼻涕", "药品=芬必得", "症状="}, "canine.pdf.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, policy.ErrParse)
	assert.Equal(t, map[string]bool{"症状=流鼻涕": true, "药品=芬必得": false, "症状=": false}, res)
	assert.Empty(t, store.queries)

	res, err = runner.Evaluate(ctx, []string{"药品=芬必得"}, "")
	require.NoError(t, err)
	assert.True(t, res["药品=芬必得"])
	assert.Len(t, store.queries, 1)

	_, err = runner.Evaluate(ctx, []string{"症状=流鼻涕"}, "missing.pdf.txt")
	assert.ErrorIs(t, err, index.ErrDocumentNotFound)

	_, err = policy.NewRunner(nil, nil, nil).Evaluate(ctx, []string{"症状=流鼻涕"}, policy.ScopeGlobal)
	assert.Error(t, err)
	_, err = policy.NewRunner(store, nil, nil).Evaluate(ctx, []string{"症状=流鼻涕"}, "canine.pdf.txt")
	assert.Error(t, err)
}

func TestRunnerRun(t *testing.T) {
	runner := policy.NewRunner(&passStore{pass: false}, policy.IndexSnapshotLoader(snapshotIndex(t), "vetgraph_t1", "kb1"), nil)
	results, err := runner.Run(context.Background(), []policy.RuleSet{
		{Name: "doc", Source: "doc-1", Rules: []string{"症状=流鼻涕", "症状=发烧", "药品=青霉素", "not 药品=阿托品"}},
		{Name: "global", Source: policy.ScopeGlobal, Rules: []string{"症状=流鼻涕"}},
		{Name: "off", Source: policy.ScopeGlobal, Disable: true, Rules: []string{"症状=流鼻涕"}},
		{Name: "lost", Source: "missing", Rules: []string{"症状=流鼻涕"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule set lost")
	require.Len(t, results, 2)

	assert.Equal(t, "doc", results[0].Name)
	assert.Equal(t, 2, results[0].Passed)
	assert.Equal(t, 2, results[0].Failed)
	assert.InDelta(t, 0.5, results[0].PassRate(), 1e-9)

	assert.Equal(t, "global", results[1].Name)
	assert.Zero(t, results[1].Passed)
	assert.Equal(t, 1, results[1].Failed)
	assert.Zero(t, policy.SetResult{}.PassRate())
}

func TestGraphAndStoreAgree(t *testing.T) {
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set")
	}
	user := os.Getenv("NEO4J_USER")
	if user == "" {
		user = "neo4j"
	}
	s, err := driver.NewNeo4jStore(uri, user, os.Getenv("NEO4J_PASSWORD"), os.Getenv("NEO4J_DATABASE"))
	if err != nil {
		t.Skipf("Neo4j not available at %s: %v", uri, err)
	}
	defer s.Close(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.VerifyConnectivity(ctx); err != nil {
		t.Skipf("Neo4j connection failed: %v", err)
	}

	const symptom, drug = "ITEST症状", "ITEST药品"
	cleanup := "MATCH (n) WHERE n.entity_type IN ['" + symptom + "', '" + drug + "'] DETACH DELETE n"
	_, err = s.ExecuteWrite(ctx, cleanup, nil)
	require.NoError(t, err)
	defer s.ExecuteWrite(context.Background(), cleanup, nil)

	g := clinicGraph(symptom, drug)
	_, err = driver.NewSynchronizer(s).Sync(ctx, g)
	require.NoError(t, err)

	for _, text := range []string{
		"'ITEST症状'='流鼻涕,发烧'",
		"ITEST症状=流鼻涕,呕吐",
		"not ITEST症状.description=体温升高",
		"ITEST症状.description~体温",
		"ITEST症状=~'流.*'",
		"ITEST症状=~'流'",
		"ITEST症状=流鼻涕 and (ITEST药品=阿托品 or ITEST药品=芬必得)",
		"ITEST症状=咳嗽 or ITEST药品=青霉素",
	} {
		r := policy.MustParse(text)
		fromStore, err := policy.EvalStore(ctx, s, r)
		require.NoError(t, err, text)
		assert.Equal(t, policy.EvalGraph(r, g), fromStore, text)
	}
}
