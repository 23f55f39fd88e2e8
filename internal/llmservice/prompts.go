package llmservice

import (
	"encoding/json"
	"fmt"
	"strings"

	"grounded-rag/internal/models"
)

// AnswerSystemPrompt instructs the model to answer strictly from the
// supplied context, stating clearly when the context does not contain
// the answer instead of guessing.
const AnswerSystemPrompt = `You are an intelligent and helpful AI assistant. Your goal is to provide accurate and concise answers based *only* on the provided context.

Here are the rules you must follow:
1.  **Answer from Context Only**: Use *only* the information present in the "Context" section below to answer the user's question. Do not use any outside knowledge.
2.  **Faithful Summarization/Quoting**: If the context directly answers the question, quote or summarize it accurately.
3.  **Handle Missing Information**: If the context does not contain enough information to answer the question, state clearly that you do not have that information. Do not make up answers.
4.  **Conciseness**: Provide answers that are as concise as possible while still being comprehensive. Avoid unnecessary verbosity.
5.  **Avoid Self-Reference**: Do not mention that you are using context or that you are an AI. Just provide the answer.

Context:
%s`

const citationSystemPrompt = `You are a citation extraction assistant. Analyze the user's question and the provided context chunks to identify which specific parts of the context support potential claims in an answer.

For each relevant piece of information, create a citation with:
1. The chunk number it comes from
2. The exact text span (50-200 characters) from that chunk
3. What claim this supports
4. Citation type: "direct_quote", "paraphrase", or "inference"

Return ONLY a valid JSON object with a "citations" array in this exact format:
{
  "citations": [
    {
      "chunk_index": 0,
      "text_span": "exact text from chunk (50-200 chars)",
      "claim_text": "the claim this supports",
      "citation_type": "direct_quote"
    }
  ]
}

Guidelines:
- For direct quotes, use exact wording from the source
- For paraphrases, the claim should closely match the source meaning
- For inferences, the claim should be a logical conclusion from the source
- Be thorough - identify all relevant citations that would support a complete answer
- Ensure text_span is between 50-200 characters
- Return valid JSON only, no additional text`

// FormatContext renders the selected chunks as the numbered context
// block shared by the answer and citation prompts.
func FormatContext(selected []models.Selected) string {
	var b strings.Builder
	for i, s := range selected {
		fmt.Fprintf(&b, "[Chunk %d]\n", i)
		fmt.Fprintf(&b, "Document: %s\n", s.Chunk.DocumentName)
		if len(s.Chunk.PageNumbers) > 0 {
			fmt.Fprintf(&b, "Page: %d\n", s.Chunk.PageNumbers[0])
		}
		if section := s.Chunk.Section(); section != "" {
			fmt.Fprintf(&b, "Section: %s\n", section)
		}
		fmt.Fprintf(&b, "Score: %.2f\n", s.Final)
		fmt.Fprintf(&b, "Text: %s\n", s.Text)
		if i < len(selected)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// BuildAnswerPrompt returns the system prompt for answer generation.
func BuildAnswerPrompt(contextBlock string) string {
	return fmt.Sprintf(AnswerSystemPrompt, contextBlock)
}

// BuildCitationPrompt returns the system and user messages for the
// citation extraction call.
func BuildCitationPrompt(query, contextBlock string) (system, user string) {
	user = fmt.Sprintf("User Question: %s\n\nContext Chunks:\n%s", query, contextBlock)
	return citationSystemPrompt, user
}

// RawCitation is the model's JSON shape for one extracted citation.
type RawCitation struct {
	ChunkIndex   int    `json:"chunk_index"`
	TextSpan     string `json:"text_span"`
	ClaimText    string `json:"claim_text"`
	CitationType string `json:"citation_type"`
}

// ParseCitations leniently decodes the extraction response: code
// fences and prose around the JSON object are tolerated, unknown keys
// are ignored.
func ParseCitations(response string) ([]RawCitation, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in citation response")
	}
	var payload struct {
		Citations []RawCitation `json:"citations"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("decoding citation response: %w", err)
	}
	return payload.Citations, nil
}
