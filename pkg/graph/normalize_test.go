package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"canine-rotavirus-infection (犬轮状病毒病感染)", "CANINE-ROTAVIRUS-INFECTION(犬轮状病毒病感染)"},
		{"ｄｏｇ（犬）", "DOG(犬)"},
		{"  \"fever\" (发烧) ", "FEVER(发烧)"},
		{"sheep&amp;dog (牧羊犬)", "SHEEP&DOG(牧羊犬)"},
		{"runny\x07-nose　(流鼻涕)", "RUNNY-NOSE(流鼻涕)"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, graph.NormalizeName(tt.in))
		})
	}
}

func TestIsBracketName(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"DOG(犬)", true},
		{"SMALL INTESTINE(小肠)", true},
		{"DEHYDRATION(脱水)(体征)", true},
		{"DOG", false},
		{"(犬)", false},
		{"DOG()", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, graph.IsBracketName(tt.in))
		})
	}
}
