package citation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grounded-rag/internal/chromemdb"
	"grounded-rag/internal/models"
)

type fakeChunkSource struct {
	chunks map[string]models.Candidate
}

func (f *fakeChunkSource) GetByOrdinal(_ context.Context, docID string, ordinal int, _ []float32) (*models.Candidate, error) {
	c, ok := f.chunks[fmt.Sprintf("%s#%d", docID, ordinal)]
	if !ok {
		return nil, fmt.Errorf("chunk %s#%d: %w", docID, ordinal, chromemdb.ErrChunkNotFound)
	}
	return &c, nil
}

type fakeNamer map[string]string

func (f fakeNamer) DocumentName(_ context.Context, id string) (string, error) {
	name, ok := f[id]
	if !ok {
		return "", fmt.Errorf("document %s not registered", id)
	}
	return name, nil
}

func sourceChunk(doc string, ordinal int, text string) models.Candidate {
	return models.Candidate{
		Chunk: models.Chunk{
			ID:               fmt.Sprintf("%s-%d", doc, ordinal),
			DocumentID:       doc,
			DocumentName:     doc + ".md",
			Ordinal:          ordinal,
			PageNumbers:      []int{2},
			SectionHierarchy: []string{"Handbook", "Leave"},
			Text:             text,
		},
	}
}

func newTestVerifier(source *fakeChunkSource, namer DocumentNamer) *Verifier {
	return NewVerifier(citationCfg(), source, namer)
}

func TestVerifyExactSpan(t *testing.T) {
	source := &fakeChunkSource{chunks: map[string]models.Candidate{
		"policy#2": sourceChunk("policy", 2, policyText),
	}}
	v := newTestVerifier(source, nil)

	resp, err := v.Verify(context.Background(), models.VerificationRequest{
		DocumentID:       "policy",
		ChunkIndex:       2,
		ClaimText:        "Unused vacation days carry over into the first quarter.",
		ExpectedTextSpan: "Unused days may be carried over into the first quarter of the following year.",
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, resp.ConfidenceScore)
	assert.True(t, resp.IsAccurate)
	assert.Empty(t, resp.Issues)
	assert.Equal(t, policyText, resp.SourceText)
	require.NotNil(t, resp.Citation)
	assert.Equal(t, models.DirectQuote, resp.Citation.CitationType)
	assert.Equal(t, "policy.md", resp.Citation.DocumentName)
	assert.Equal(t, "Handbook > Leave", resp.Citation.Section)
}

func TestVerifyFuzzySpanIsNotAccurate(t *testing.T) {
	source := &fakeChunkSource{chunks: map[string]models.Candidate{
		"policy#2": sourceChunk("policy", 2, policyText),
	}}
	v := newTestVerifier(source, nil)

	// Slight rewording: confidence stays high but the fuzzy issue makes
	// the verdict inaccurate.
	resp, err := v.Verify(context.Background(), models.VerificationRequest{
		DocumentID:       "policy",
		ChunkIndex:       2,
		ClaimText:        "Unused vacation days carry over into the first quarter of the year.",
		ExpectedTextSpan: "Unused days can be carried over into the first quarter of the following year.",
	})
	require.NoError(t, err)

	assert.Contains(t, resp.Issues, models.IssueSpanFuzzyMatch)
	assert.GreaterOrEqual(t, resp.ConfidenceScore, 0.7)
	assert.False(t, resp.IsAccurate)
}

func TestVerifyFabricatedSpan(t *testing.T) {
	source := &fakeChunkSource{chunks: map[string]models.Candidate{
		"policy#2": sourceChunk("policy", 2, policyText),
	}}
	v := newTestVerifier(source, nil)

	resp, err := v.Verify(context.Background(), models.VerificationRequest{
		DocumentID:       "policy",
		ChunkIndex:       2,
		ClaimText:        "Vacation days are forfeited at year end.",
		ExpectedTextSpan: "All unused balances are forfeited on December 31st without exception.",
	})
	require.NoError(t, err)

	assert.Contains(t, resp.Issues, models.IssueSpanNotFound)
	assert.Less(t, resp.ConfidenceScore, 0.7)
	assert.False(t, resp.IsAccurate)
}

func TestVerifyDeletedChunkIsAnError(t *testing.T) {
	v := newTestVerifier(&fakeChunkSource{chunks: map[string]models.Candidate{}}, nil)

	_, err := v.Verify(context.Background(), models.VerificationRequest{
		DocumentID:       "gone",
		ChunkIndex:       7,
		ClaimText:        "anything",
		ExpectedTextSpan: "anything",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, chromemdb.ErrChunkNotFound)
}

func TestVerifyUnregisteredDocumentIsAnError(t *testing.T) {
	source := &fakeChunkSource{chunks: map[string]models.Candidate{
		"policy#2": sourceChunk("policy", 2, policyText),
	}}
	v := newTestVerifier(source, fakeNamer{})

	_, err := v.Verify(context.Background(), models.VerificationRequest{
		DocumentID:       "policy",
		ChunkIndex:       2,
		ClaimText:        "anything",
		ExpectedTextSpan: "anything",
	})
	assert.Error(t, err)
}

func TestVerifyRegistryNameWins(t *testing.T) {
	source := &fakeChunkSource{chunks: map[string]models.Candidate{
		"policy#2": sourceChunk("policy", 2, policyText),
	}}
	v := newTestVerifier(source, fakeNamer{"policy": "Employee Handbook 2024"})

	resp, err := v.Verify(context.Background(), models.VerificationRequest{
		DocumentID:       "policy",
		ChunkIndex:       2,
		ClaimText:        "Carry-over beyond March requires written approval.",
		ExpectedTextSpan: "Carry-over beyond March requires written approval.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Employee Handbook 2024", resp.Citation.DocumentName)
}

func TestVerifyLowClaimRelevance(t *testing.T) {
	source := &fakeChunkSource{chunks: map[string]models.Candidate{
		"policy#2": sourceChunk("policy", 2, policyText),
	}}
	v := newTestVerifier(source, nil)

	resp, err := v.Verify(context.Background(), models.VerificationRequest{
		DocumentID:       "policy",
		ChunkIndex:       2,
		ClaimText:        "Parking permits renew each fiscal cycle automatically.",
		ExpectedTextSpan: "Carry-over beyond March requires written approval.",
	})
	require.NoError(t, err)

	assert.Contains(t, resp.Issues, models.IssueLowClaimRelevance)
	assert.False(t, resp.IsAccurate)
	// Even a verbatim span cannot lift an irrelevant claim past the cap.
	assert.LessOrEqual(t, resp.ConfidenceScore, 0.3+0.3)
}

func TestVerifyContextIncludesHeaderAndNeighbor(t *testing.T) {
	source := &fakeChunkSource{chunks: map[string]models.Candidate{
		"policy#2": sourceChunk("policy", 2, policyText),
		"policy#3": sourceChunk("policy", 3, "Appeals go to the leave committee."),
	}}
	v := newTestVerifier(source, nil)

	resp, err := v.Verify(context.Background(), models.VerificationRequest{
		DocumentID:       "policy",
		ChunkIndex:       2,
		ClaimText:        "Carry-over beyond March requires written approval.",
		ExpectedTextSpan: "Carry-over beyond March requires written approval.",
	})
	require.NoError(t, err)

	assert.Contains(t, resp.Context, "Leave")
	assert.Contains(t, resp.Context, policyText)
	assert.Contains(t, resp.Context, "Appeals go to the leave committee.")
}
