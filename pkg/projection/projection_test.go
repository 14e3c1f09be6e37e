package projection_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-vetgraph/pkg/community"
	"github.com/soundprediction/go-vetgraph/pkg/graph"
	"github.com/soundprediction/go-vetgraph/pkg/projection"
	"github.com/soundprediction/go-vetgraph/pkg/types"
)

const (
	parvo    = "PARVOVIRUS(细小病毒)"
	diarrhea = "DIARRHEA(腹泻)"
	lonely   = "LONELY(孤立)"
)

var (
	doc   = types.DocRef{TenantID: "t1", KBID: "kb1", DocID: "doc1", DocName: "parvo.txt"}
	fixed = time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
)

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	require.NoError(t, g.AddNode(graph.Node{ID: parvo, EntityType: "VIRUS(病毒)", Description: "犬细小病毒 causes enteritis", SourceID: []string{"parvo.txt-0"}, Weight: 2}))
	require.NoError(t, g.AddNode(graph.Node{ID: diarrhea, EntityType: "SYMPTOM(症状)", Description: "水样便", Weight: 1}))
	require.NoError(t, g.AddNode(graph.Node{ID: lonely, Weight: 1}))
	require.NoError(t, g.SetEdge(graph.Edge{Source: parvo, Target: diarrhea, Weight: 3, Description: "<b>main</b> symptom"}))
	return g
}

func TestTokenizer(t *testing.T) {
	tok := projection.NewTokenizer()
	tests := []struct {
		in, coarse, fine string
	}{
		{"PARVOVIRUS(细小病毒)", "parvovirus 细小病毒", "parvovirus 细小 小病 病毒"},
		{"Ｆｅｖｅｒ，发烧!", "fever 发烧", "fever 发烧"},
		{"dog-2 犬", "dog 2 犬", "dog 2 犬"},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			coarse := tok.Tokenize(tt.in)
			assert.Equal(t, tt.coarse, coarse)
			assert.Equal(t, tt.fine, tok.FineGrained(coarse))
		})
	}
}

func TestProject(t *testing.T) {
	p := projection.NewProjector(projection.WithClock(func() time.Time { return fixed }))
	reports := &community.Result{
		Reports: []*community.Report{{
			ID: "community-0-0", Title: "Parvo cluster", Summary: "s", Weight: 1,
			Entities: []string{diarrhea, parvo},
		}},
		Texts: []string{"# Parvo cluster\n\ns\n\n"},
	}

	recs, err := p.Project(doc, testGraph(t), reports)
	require.NoError(t, err)
	require.Len(t, recs, 4, "two ranked entities, one report, one snapshot")

	kinds := map[types.Kind]int{}
	for _, r := range recs {
		kinds[r.Kind()]++
		assert.Equal(t, "doc1", r[types.FieldDocID])
		assert.Equal(t, "kb1", r[types.FieldKBID])
		assert.Equal(t, "parvo.txt", r[types.FieldDocName])
		assert.Equal(t, "2024-05-01 08:30:00", r[types.FieldCreateTime])
		assert.Equal(t, projection.RecordID(r.String(types.FieldContent), "doc1"), r[types.FieldID])
	}
	assert.Equal(t, map[types.Kind]int{types.KindEntity: 2, types.KindCommunityReport: 1, types.KindGraph: 1}, kinds)

	var entity types.Record
	for _, r := range recs {
		if r.String(types.FieldName) == parvo {
			entity = r
		}
	}
	require.NotNil(t, entity)
	assert.Equal(t, []string{parvo}, entity[types.FieldImportant])
	assert.Equal(t, "parvovirus 细小病毒", entity[types.FieldTitleTokens])
	assert.Equal(t, 1, entity[types.FieldRank])
	assert.Equal(t, 2, entity[types.FieldWeightInt])
	assert.Equal(t, "犬细小病毒 causes enteritis", entity[types.FieldContentTokens])
	assert.Equal(t, "犬细 细小 小病 病毒 causes enteritis", entity[types.FieldContentSmallTokens])

	var content map[string]any
	require.NoError(t, json.Unmarshal([]byte(entity.String(types.FieldContent)), &content))
	assert.Equal(t, parvo, content["name"])
	assert.Equal(t, "VIRUS(病毒)", content["entity_type"])
	assert.Equal(t, "parvo.txt-0", content["source_id"])
	assert.NotContains(t, content, "id")
	assert.Contains(t, entity.String(types.FieldContent), "细小病毒", "non-ASCII is not escaped")

	report := recs[2]
	assert.Equal(t, types.KindCommunityReport, report.Kind())
	assert.Equal(t, "# Parvo cluster\n\ns\n\n", report[types.FieldContent])
	assert.Equal(t, 1.0, report[types.FieldWeightFloat])
	assert.Equal(t, []string{diarrhea, parvo}, report[types.FieldEntities])

	snap := recs[3]
	assert.Equal(t, types.KindGraph, snap.Kind())
	g, err := graph.ParseNodeLink([]byte(snap.String(types.FieldContent)))
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
	assert.True(t, g.HasEdge(parvo, diarrhea))
}

func TestProjectIDsStable(t *testing.T) {
	p := projection.NewProjector()
	a, err := p.ProjectNodes(doc, testGraph(t), []string{parvo})
	require.NoError(t, err)
	b, err := p.ProjectNodes(doc, testGraph(t), []string{parvo})
	require.NoError(t, err)
	assert.Equal(t, a[0][types.FieldID], b[0][types.FieldID])

	other := doc
	other.DocID = "doc2"
	c, err := p.ProjectNodes(other, testGraph(t), []string{parvo})
	require.NoError(t, err)
	assert.NotEqual(t, a[0][types.FieldID], c[0][types.FieldID])
}

func TestProjectNodes(t *testing.T) {
	p := projection.NewProjector()
	recs, err := p.ProjectNodes(doc, testGraph(t), []string{lonely, "MISSING(无)"})
	require.NoError(t, err)
	require.Len(t, recs, 1, "rank zero nodes are projected when asked for")
	assert.Equal(t, lonely, recs[0][types.FieldName])
	assert.Equal(t, 0, recs[0][types.FieldRank])
}

func TestMindMapRecord(t *testing.T) {
	p := projection.NewProjector()
	rec, err := p.MindMapRecord(doc, map[string]any{"id": "root", "children": []any{}})
	require.NoError(t, err)
	assert.Equal(t, types.KindMindMap, rec.Kind())
	assert.Contains(t, rec.String(types.FieldContent), "\"id\": \"root\"")
}
