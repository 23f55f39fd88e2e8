package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
	"grounded-rag/internal/reranker"
)

// wordCounter makes token arithmetic in tests exact: one word, one
// token.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func budgetCfg() config.BudgetConfig {
	return config.BudgetConfig{
		MaxTokens:              100,
		CharsPerToken:          5, // "word " is one token's worth of chars
		DiversityThreshold:     0.92,
		MinTruncationRemainder: 20,
		HighValueScore:         0.7,
	}
}

func scoredChunk(doc string, ordinal int, text string, final float64) reranker.Scored {
	return reranker.Scored{
		Candidate: models.Candidate{
			Chunk: models.Chunk{
				ID:         doc + "-" + strings.Repeat("x", ordinal+1),
				DocumentID: doc,
				Ordinal:    ordinal,
				Text:       text,
			},
		},
		Final: final,
	}
}

func nWords(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func TestSelectZeroBudget(t *testing.T) {
	cfg := budgetCfg()
	cfg.MaxTokens = 0
	s := NewSelector(cfg, wordCounter{})

	out := s.Select([]reranker.Scored{scoredChunk("d", 0, "some text.", 0.9)})
	assert.Empty(t, out)
}

func TestSelectAllFit(t *testing.T) {
	s := NewSelector(budgetCfg(), wordCounter{})

	out := s.Select([]reranker.Scored{
		scoredChunk("d", 0, nWords(30)+".", 0.9),
		scoredChunk("d", 5, "completely different content here.", 0.8),
	})
	require.Len(t, out, 2)
	for _, sel := range out {
		assert.Equal(t, models.ReasonRanked, sel.Reason)
		assert.False(t, sel.Truncated)
	}
	assert.Equal(t, 0, out[0].Chunk.Ordinal, "rank order preserved")
}

func TestSelectRespectsBudget(t *testing.T) {
	s := NewSelector(budgetCfg(), wordCounter{})

	out := s.Select([]reranker.Scored{
		scoredChunk("d", 0, nWords(60)+".", 0.5),
		scoredChunk("d", 3, nWords(60)+".", 0.5),
		scoredChunk("d", 7, nWords(60)+".", 0.5),
	})

	total := 0
	for _, sel := range out {
		total += sel.Tokens
	}
	assert.LessOrEqual(t, total, 100)
}

func TestSelectBestFitSkip(t *testing.T) {
	s := NewSelector(budgetCfg(), wordCounter{})

	// The middle chunk does not fit and is not high-value; the smaller
	// chunk after it still gets in.
	out := s.Select([]reranker.Scored{
		scoredChunk("d", 0, "first chunk entirely unlike anything. "+nWords(60)+".", 0.9),
		scoredChunk("d", 3, "second oversized block. "+nWords(70)+".", 0.5),
		scoredChunk("e", 1, "short tail piece fits fine.", 0.4),
	})
	require.Len(t, out, 2)
	assert.Equal(t, "d", out[0].Chunk.DocumentID)
	assert.Equal(t, "e", out[1].Chunk.DocumentID)
}

func TestSelectTruncatesHighValueTail(t *testing.T) {
	s := NewSelector(budgetCfg(), wordCounter{})

	out := s.Select([]reranker.Scored{
		scoredChunk("d", 0, "leading content wholly distinct. "+nWords(70)+".", 0.9),
		scoredChunk("e", 0, "crucial trailing policy statement. "+strings.TrimSpace(strings.Repeat("detail ", 50))+".", 0.95),
		scoredChunk("f", 0, "never reached after a truncation.", 0.9),
	})
	require.Len(t, out, 2)

	tail := out[1]
	assert.True(t, tail.Truncated)
	assert.Equal(t, models.ReasonTruncated, tail.Reason)
	assert.LessOrEqual(t, out[0].Tokens+tail.Tokens, 100)
	assert.NotEmpty(t, tail.Text)
	// Cut lands on a word boundary: the truncated text rejoined to the
	// original must align at a space.
	assert.True(t, strings.HasPrefix(out[1].Chunk.Text, tail.Text))
	assert.NotEqual(t, tail.Text, out[1].Chunk.Text)
}

func TestSelectSkipsLowValueTail(t *testing.T) {
	s := NewSelector(budgetCfg(), wordCounter{})

	out := s.Select([]reranker.Scored{
		scoredChunk("d", 0, "leading content wholly distinct. "+nWords(70)+".", 0.9),
		scoredChunk("e", 0, "mediocre trailing block. "+strings.TrimSpace(strings.Repeat("filler ", 50))+".", 0.4),
	})
	// Not high-value enough to spend the remainder on a fragment.
	require.Len(t, out, 1)
	assert.False(t, out[0].Truncated)
}

func TestSelectDiversityDemotion(t *testing.T) {
	s := NewSelector(budgetCfg(), wordCounter{})

	dup := "the accrual rate is one and a quarter days per month of service."
	out := s.Select([]reranker.Scored{
		scoredChunk("d", 0, dup, 0.9),
		scoredChunk("e", 0, dup, 0.85), // near-identical to the first
		scoredChunk("f", 0, "approval requires written notice two weeks ahead.", 0.8),
	})
	require.Len(t, out, 3)

	// The duplicate drops behind the diverse chunk and carries the
	// demotion reason; it is admitted, not excluded.
	assert.Equal(t, "d", out[0].Chunk.DocumentID)
	assert.Equal(t, "f", out[1].Chunk.DocumentID)
	assert.Equal(t, "e", out[2].Chunk.DocumentID)
	assert.Equal(t, models.ReasonDiversityDemoted, out[2].Reason)
}

func TestSelectCompletenessPullForward(t *testing.T) {
	s := NewSelector(budgetCfg(), wordCounter{})

	degraded := scoredChunk("d", 2, "| tier | rate |\n| basic | 1.25 |", 0.9)
	degraded.Chunk.DegradedSplit = true

	neighbor := scoredChunk("d", 3, "| senior | 1.75 |\n| principal | 2.00 |", 0.3)
	neighbor.Augmented = true

	other := scoredChunk("e", 0, "unrelated middle content on approvals.", 0.7)

	out := s.Select([]reranker.Scored{degraded, other, neighbor})
	require.Len(t, out, 3)

	// The split continuation follows its sibling directly instead of
	// waiting at the back of the ranking.
	assert.Equal(t, 2, out[0].Chunk.Ordinal)
	assert.Equal(t, 3, out[1].Chunk.Ordinal)
	assert.Equal(t, models.ReasonCompletenessIncluded, out[1].Reason)
	assert.Equal(t, "e", out[2].Chunk.DocumentID)
}

func TestCounterFallbackCeilDivision(t *testing.T) {
	c := NewCounter("no-such-encoding", 4)
	assert.Equal(t, 2, c.Count("abcdefgh"))
	assert.Equal(t, 3, c.Count("abcdefghi"))
	assert.Equal(t, 0, c.Count(""))
}
