package llmservice

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grounded-rag/internal/models"
)

func TestFormatContext(t *testing.T) {
	selected := []models.Selected{
		{
			Chunk: models.Chunk{
				DocumentName:     "handbook.pdf",
				PageNumbers:      []int{4, 5},
				SectionHierarchy: []string{"Leave", "Accrual"},
			},
			Text:  "Accrual is 1.25 days per month.",
			Final: 0.71,
		},
		{
			Chunk: models.Chunk{DocumentName: "memo.md"},
			Text:  "Approved by HR.",
		},
	}

	block := FormatContext(selected)
	assert.Contains(t, block, "[Chunk 0]\n")
	assert.Contains(t, block, "[Chunk 1]\n")
	assert.Contains(t, block, "Document: handbook.pdf\n")
	assert.Contains(t, block, "Page: 4\n")
	assert.Contains(t, block, "Section: Leave > Accrual\n")
	assert.Contains(t, block, "Score: 0.71\n")
	assert.Contains(t, block, "Text: Accrual is 1.25 days per month.\n")
	// The second chunk has no pages or section; those lines are absent,
	// not rendered empty.
	assert.NotContains(t, block, "Page: 0")
	assert.NotContains(t, block, "Section: \n")
}

func TestBuildAnswerPromptEmbedsContext(t *testing.T) {
	prompt := BuildAnswerPrompt("THE CONTEXT BLOCK")
	assert.True(t, strings.HasSuffix(prompt, "Context:\nTHE CONTEXT BLOCK"))
	assert.NotContains(t, prompt, "%s")
}

func TestBuildCitationPrompt(t *testing.T) {
	system, user := BuildCitationPrompt("How many days accrue?", "THE CONTEXT BLOCK")
	assert.Contains(t, system, "citation extraction assistant")
	assert.Contains(t, user, "User Question: How many days accrue?")
	assert.Contains(t, user, "THE CONTEXT BLOCK")
}

func TestParseCitations(t *testing.T) {
	resp := `Here are the citations you asked for:
` + "```json" + `
{
  "citations": [
    {
      "chunk_index": 2,
      "text_span": "Accrual is 1.25 days per month of continuous service.",
      "claim_text": "Employees accrue 1.25 days monthly.",
      "citation_type": "direct_quote",
      "extra_key": "ignored"
    }
  ]
}
` + "```"

	citations, err := ParseCitations(resp)
	require.NoError(t, err)
	require.Len(t, citations, 1)
	assert.Equal(t, 2, citations[0].ChunkIndex)
	assert.Equal(t, "direct_quote", citations[0].CitationType)
	assert.Equal(t, "Employees accrue 1.25 days monthly.", citations[0].ClaimText)
}

func TestParseCitationsEmptyArray(t *testing.T) {
	citations, err := ParseCitations(`{"citations": []}`)
	require.NoError(t, err)
	assert.Empty(t, citations)
}

func TestParseCitationsNoJSON(t *testing.T) {
	_, err := ParseCitations("I could not find any supporting passages.")
	assert.Error(t, err)
}

func TestParseCitationsMalformedJSON(t *testing.T) {
	_, err := ParseCitations(`{"citations": [{"chunk_index": }]}`)
	assert.Error(t, err)
}
