package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "lowercases", input: "Attention Is All You Need", want: "attention is all you need"},
		{name: "strips punctuation", input: "BERT: Pre-training of Deep (Bidirectional) Transformers.", want: "bert pretraining of deep bidirectional transformers"},
		{name: "collapses whitespace", input: "  many \t\n spaces  ", want: "many spaces"},
		{name: "keeps digits", input: "GPT-4 Technical Report", want: "gpt4 technical report"},
		{name: "keeps non-latin letters", input: "Über die Quantenmechanik", want: "über die quantenmechanik"},
		{name: "empty", input: "   ", want: ""},
		{name: "only punctuation", input: "?!.", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeTitle(tt.input))
		})
	}
}

func TestTitleSimilarity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, TitleSimilarity("same", "same"))
	assert.Zero(t, TitleSimilarity("", "x"))
	assert.Zero(t, TitleSimilarity("", ""))
	assert.InDelta(t, 0.75, TitleSimilarity("abcd", "abce"), 1e-9)

	// distances are counted in runes, not bytes
	assert.InDelta(t, 0.75, TitleSimilarity("über", "uber"), 1e-9)
}

func TestYearsCompatible(t *testing.T) {
	t.Parallel()

	assert.True(t, yearsCompatible(2020, 2021, 1))
	assert.True(t, yearsCompatible(2021, 2020, 1))
	assert.False(t, yearsCompatible(2017, 2021, 1))
	assert.True(t, yearsCompatible(0, 1990, 1))
	assert.True(t, yearsCompatible(2020, 2020, 0))
}
