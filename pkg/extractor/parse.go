package extractor

import (
	"sort"
	"strconv"
	"strings"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
)

// ParseRecords parses model output into a graph. results maps the source id
// each element should carry to the raw completion produced for it.
func (e *Extractor) ParseRecords(results map[string]string) *graph.Graph {
	return ParseRecords(results, e.opts.TupleDelimiter, e.opts.RecordDelimiter, e.opts.CompletionDelimiter)
}

// ParseRecords is the delimiter-explicit form of Extractor.ParseRecords.
func ParseRecords(results map[string]string, tupleDelim, recordDelim, completionDelim string) *graph.Graph {
	g := graph.New()
	sourceIDs := make([]string, 0, len(results))
	for id := range results {
		sourceIDs = append(sourceIDs, id)
	}
	sort.Strings(sourceIDs)

	for _, sourceID := range sourceIDs {
		text := results[sourceID]
		if completionDelim != "" {
			text = strings.ReplaceAll(text, completionDelim, "")
		}
		for _, record := range strings.Split(text, recordDelim) {
			fields := splitRecord(record, tupleDelim)
			if len(fields) == 0 {
				continue
			}
			switch recordType(fields[0]) {
			case "entity":
				addEntity(g, fields, sourceID)
			case "relationship":
				addRelationship(g, fields, sourceID)
			}
		}
	}
	return g
}

func splitRecord(record, tupleDelim string) []string {
	record = strings.TrimSpace(record)
	record = strings.TrimPrefix(record, "(")
	record = strings.TrimSuffix(record, ")")
	if record == "" {
		return nil
	}
	fields := strings.Split(record, tupleDelim)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

func recordType(field string) string {
	return strings.ToLower(strings.Trim(field, `"'`))
}

func addEntity(g *graph.Graph, fields []string, sourceID string) {
	if len(fields) < 4 {
		return
	}
	name := graph.NormalizeName(fields[1])
	entityType := graph.NormalizeName(fields[2])
	if name == "" || name == entityType || !graph.IsBracketName(name) {
		return
	}
	g.MergeNodeMention(name, entityType, graph.CleanStr(fields[3]), sourceID)
}

func addRelationship(g *graph.Graph, fields []string, sourceID string) {
	if len(fields) < 5 {
		return
	}
	source := graph.NormalizeName(fields[1])
	target := graph.NormalizeName(fields[2])
	if !graph.IsBracketName(source) || !graph.IsBracketName(target) {
		return
	}
	weight, err := strconv.ParseFloat(graph.CleanStr(fields[len(fields)-1]), 64)
	if err != nil {
		weight = 1.0
	}
	g.MergeEdge(graph.Edge{
		Source:      source,
		Target:      target,
		Description: graph.CleanStr(fields[3]),
		SourceID:    []string{sourceID},
		Weight:      weight,
	})
}
