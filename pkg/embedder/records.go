package embedder

import (
	"context"
	"fmt"

	"github.com/soundprediction/go-vetgraph/pkg/types"
	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

// TitleWeight is the share of the title vector in a record embedding.
const TitleWeight = 0.1

// EmbedRecords embeds the title and content of every record and stores
// TitleWeight·title + (1-TitleWeight)·content under q_<dim>_vec. It returns
// the number of tokens sent.
func EmbedRecords(ctx context.Context, client Client, counter utils.TokenCounter, records []types.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	titles := make([]string, len(records))
	contents := make([]string, len(records))
	tokens := 0
	for i, rec := range records {
		titles[i] = rec.String(types.FieldTitleTokens)
		if titles[i] == "" {
			titles[i] = rec.String(types.FieldName)
		}
		if titles[i] == "" {
			titles[i] = string(rec.Kind())
		}
		contents[i] = rec.String(types.FieldContent)
		tokens += counter.Count(titles[i]) + counter.Count(contents[i])
	}

	tv, err := client.Embed(ctx, titles)
	if err != nil {
		return 0, fmt.Errorf("embed titles: %w", err)
	}
	cv, err := client.Embed(ctx, contents)
	if err != nil {
		return 0, fmt.Errorf("embed contents: %w", err)
	}
	if len(tv) != len(records) || len(cv) != len(records) {
		return 0, fmt.Errorf("embedder returned %d/%d vectors for %d records", len(tv), len(cv), len(records))
	}

	for i, rec := range records {
		if len(tv[i]) != len(cv[i]) {
			return 0, fmt.Errorf("record %d: title and content vectors differ in size (%d, %d)", i, len(tv[i]), len(cv[i]))
		}
		vec := make([]float32, len(cv[i]))
		for j := range vec {
			vec[j] = TitleWeight*tv[i][j] + (1-TitleWeight)*cv[i][j]
		}
		rec[types.VectorField(len(vec))] = vec
	}
	return tokens, nil
}
