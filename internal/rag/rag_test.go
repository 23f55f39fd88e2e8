package rag

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"

	"grounded-rag/internal/chromemdb"
	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

// staticClient is a deterministic embedder backend: a normalized
// character-histogram vector per text. Enough for round-tripping
// through the index without a model server.
type staticClient struct{}

func (staticClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, 8)
		for _, r := range text {
			v[int(r)%len(v)]++
		}
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			norm = 1
		}
		for j := range v {
			v[j] = float32(float64(v[j]) / norm)
		}
		out[i] = v
	}
	return out, nil
}

const testDoc = `# Leave Policy

Employees accrue vacation at a rate of one and a quarter days per month of continuous service.

Carry-over beyond March requires written approval from the leave committee.
`

func newTestRAG(t *testing.T) *RAG {
	t.Helper()

	cfg := config.Default()
	cfg.Vector.InMemory = true

	vectors, err := chromemdb.NewVectorDBManager(cfg.Vector)
	require.NoError(t, err)

	embedder, err := embeddings.NewEmbedder(staticClient{})
	require.NoError(t, err)

	pipeline, err := New(cfg, nil, vectors, embedder, nil)
	require.NoError(t, err)
	return pipeline
}

func writeTestDoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.md")
	require.NoError(t, os.WriteFile(path, []byte(testDoc), 0o644))
	return path
}

func TestIngestIndexesDocument(t *testing.T) {
	pipeline := newTestRAG(t)

	res, err := pipeline.Ingest(context.Background(), writeTestDoc(t))
	require.NoError(t, err)

	assert.NotEmpty(t, res.DocumentID)
	assert.Equal(t, "policy.md", res.Title)
	assert.Greater(t, res.Chunks, 0)
	assert.Equal(t, 1, res.Pages)
}

func TestIngestUnparseableFile(t *testing.T) {
	pipeline := newTestRAG(t)

	path := filepath.Join(t.TempDir(), "image.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89}, 0o644))

	_, err := pipeline.Ingest(context.Background(), path)
	assert.Error(t, err)
}

func TestVerifyRoundTrip(t *testing.T) {
	pipeline := newTestRAG(t)
	ctx := context.Background()

	res, err := pipeline.Ingest(ctx, writeTestDoc(t))
	require.NoError(t, err)

	resp, err := pipeline.Verify(ctx, models.VerificationRequest{
		DocumentID:       res.DocumentID,
		ChunkIndex:       0,
		ClaimText:        "Employees accrue one and a quarter vacation days per month.",
		ExpectedTextSpan: "Employees accrue vacation at a rate of one and a quarter days per month of continuous service.",
	})
	require.NoError(t, err)

	assert.True(t, resp.IsAccurate)
	assert.Equal(t, 1.0, resp.ConfidenceScore)
	require.NotNil(t, resp.Citation)
	assert.Equal(t, "policy.md", resp.Citation.DocumentName)
}

func TestVerifyUnknownDocument(t *testing.T) {
	pipeline := newTestRAG(t)

	_, err := pipeline.Verify(context.Background(), models.VerificationRequest{
		DocumentID:       "never-ingested",
		ChunkIndex:       0,
		ClaimText:        "anything",
		ExpectedTextSpan: "anything",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, chromemdb.ErrChunkNotFound)
}

func TestDeleteDocumentRemovesChunks(t *testing.T) {
	pipeline := newTestRAG(t)
	ctx := context.Background()

	res, err := pipeline.Ingest(ctx, writeTestDoc(t))
	require.NoError(t, err)
	require.NoError(t, pipeline.DeleteDocument(ctx, res.DocumentID))

	_, err = pipeline.Verify(ctx, models.VerificationRequest{
		DocumentID:       res.DocumentID,
		ChunkIndex:       0,
		ClaimText:        "anything",
		ExpectedTextSpan: "anything",
	})
	assert.ErrorIs(t, err, chromemdb.ErrChunkNotFound)
}

func TestQueryWithoutModelFails(t *testing.T) {
	pipeline := newTestRAG(t)
	_, err := pipeline.Query(context.Background(), "how many days accrue?")
	assert.Error(t, err)
}

// scriptedModel stands in for a chat model, answering the citation
// prompt and the answer prompt with canned responses.
type scriptedModel struct {
	answer    string
	citations string
}

func (m scriptedModel) GenerateContent(_ context.Context, system, _ string) (string, error) {
	if strings.Contains(system, "citation extraction") {
		return m.citations, nil
	}
	return m.answer, nil
}

func TestQueryFallsBackWhenModelCitesNothing(t *testing.T) {
	pipeline := newTestRAG(t)
	ctx := context.Background()

	_, err := pipeline.Ingest(ctx, writeTestDoc(t))
	require.NoError(t, err)

	// The model answers with a verbatim source sentence but proposes a
	// well-formed, empty citation list; local grounding takes over.
	pipeline.llm = scriptedModel{
		answer:    "Employees accrue vacation at a rate of one and a quarter days per month of continuous service.",
		citations: `{"citations": []}`,
	}

	resp, err := pipeline.Query(ctx, "How fast does vacation accrue?")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Citations)
	assert.Equal(t, models.DirectQuote, resp.Citations[0].CitationType)
	assert.Equal(t, 1.0, resp.Citations[0].ConfidenceScore)
}

func TestQueryKeepsModelCitations(t *testing.T) {
	pipeline := newTestRAG(t)
	ctx := context.Background()

	_, err := pipeline.Ingest(ctx, writeTestDoc(t))
	require.NoError(t, err)

	claim := "Carry-over past March needs written approval."
	pipeline.llm = scriptedModel{
		answer: "Approval is required for carry-over beyond March.",
		citations: `{"citations": [{"chunk_index": 0, "claim_text": "` + claim +
			`", "text_span": "Carry-over beyond March requires written approval from the leave committee."}]}`,
	}

	resp, err := pipeline.Query(ctx, "What does carry-over require?")
	require.NoError(t, err)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, claim, resp.Citations[0].ClaimText)
}
