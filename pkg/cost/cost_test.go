package cost_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soundprediction/go-vetgraph/pkg/cost"
)

func TestEstimate(t *testing.T) {
	c := cost.NewCalculator()
	c.SetPrice("vet-local", cost.Price{Input: 1, Output: 2})

	tests := []struct {
		name       string
		model      string
		prompt     int
		completion int
		batch      bool
		want       float64
	}{
		{name: "exact", model: "gpt-4o-mini", prompt: 1_000_000, completion: 1_000_000, want: 0.75},
		{name: "case insensitive", model: "GPT-4o", prompt: 1_000_000, want: 2.50},
		{name: "longest prefix", model: "gpt-4o-mini-2024-07-18", prompt: 2_000_000, want: 0.30},
		{name: "batch discount", model: "vet-local", prompt: 1_000_000, completion: 1_000_000, batch: true, want: 1.5},
		{name: "unknown", model: "my-model", prompt: 1_000_000, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, c.Estimate(tt.model, tt.prompt, tt.completion, tt.batch), 1e-9)
		})
	}

	_, ok := c.Lookup("my-model")
	assert.False(t, ok)
}
