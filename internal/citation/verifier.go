package citation

import (
	"context"
	"fmt"
	"strings"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
	"grounded-rag/internal/similarity"
)

// ChunkSource loads chunks by (document, ordinal) from the vector
// index. A missing ordinal must be reported as an error, never as an
// empty candidate.
type ChunkSource interface {
	GetByOrdinal(ctx context.Context, docID string, ordinal int, queryEmbedding []float32) (*models.Candidate, error)
}

// DocumentNamer resolves a document id to its registered title.
type DocumentNamer interface {
	DocumentName(ctx context.Context, id string) (string, error)
}

type Verifier struct {
	cfg    config.CitationConfig
	chunks ChunkSource
	names  DocumentNamer
}

// NewVerifier builds a verifier over the given sources. names may be
// nil when no document registry is configured; the name stored in the
// chunk payload is used instead.
func NewVerifier(cfg config.CitationConfig, chunks ChunkSource, names DocumentNamer) *Verifier {
	return &Verifier{cfg: cfg, chunks: chunks, names: names}
}

// Verify checks a claim against the chunk it cites. A chunk or document
// that no longer exists is returned as an error, not as a
// low-confidence response.
func (v *Verifier) Verify(ctx context.Context, req models.VerificationRequest) (*models.VerificationResponse, error) {
	cand, err := v.chunks.GetByOrdinal(ctx, req.DocumentID, req.ChunkIndex, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load cited chunk %s#%d: %w", req.DocumentID, req.ChunkIndex, err)
	}

	name := cand.DocumentName
	if v.names != nil {
		name, err = v.names.DocumentName(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cited document %s: %w", req.DocumentID, err)
		}
	}

	source := cand.Text
	score, issues := spanMatch(req.ExpectedTextSpan, source, v.cfg.ParaphraseThreshold)

	relevance := similarity.TokenOverlap(req.ClaimText, source)
	if relevance < v.cfg.RelevanceThreshold {
		issues = append(issues, models.IssueLowClaimRelevance)
		if ceiling := relevance + v.cfg.RelevanceThreshold; score > ceiling {
			score = ceiling
		}
	}

	typ := models.Inference
	switch {
	case score >= 1.0:
		typ = models.DirectQuote
	case score >= v.cfg.ParaphraseThreshold:
		typ = models.Paraphrase
	}

	page := 0
	if len(cand.PageNumbers) > 0 {
		page = cand.PageNumbers[0]
	}
	resp := &models.VerificationResponse{
		SourceText:      source,
		Context:         v.buildContext(ctx, cand),
		ConfidenceScore: score,
		IsAccurate:      score >= accuracyThreshold && len(issues) == 0,
		Issues:          issues,
		Citation: &models.Citation{
			DocumentName:    name,
			DocumentID:      req.DocumentID,
			ChunkIndex:      req.ChunkIndex,
			PageNumber:      page,
			Section:         cand.Section(),
			ClaimText:       req.ClaimText,
			TextSpan:        req.ExpectedTextSpan,
			CitationType:    typ,
			ConfidenceScore: score,
			Issues:          issues,
		},
	}
	return resp, nil
}

// spanMatch rates how literally a span occurs in the source: 1.0 for a
// normalized substring, otherwise the best per-sentence fuzzy ratio,
// with a fuzzy-match or not-found issue depending on which side of the
// paraphrase threshold the ratio lands.
func spanMatch(span, source string, paraphraseThreshold float64) (float64, []string) {
	if span == "" {
		return 0, []string{models.IssueSpanNotFound}
	}
	if strings.Contains(normalize(source), normalize(span)) {
		return 1.0, nil
	}
	best := 0.0
	for _, sentence := range SplitSentences(source) {
		if r := similarity.Ratio(span, sentence); r > best {
			best = r
		}
	}
	if best >= paraphraseThreshold {
		return best, []string{models.IssueSpanFuzzyMatch}
	}
	return best, []string{models.IssueSpanNotFound}
}

// buildContext surrounds the cited text with its nearest enclosing
// header and the following chunk, when one exists.
func (v *Verifier) buildContext(ctx context.Context, cand *models.Candidate) string {
	var parts []string
	if h := cand.SectionHierarchy; len(h) > 0 {
		parts = append(parts, h[len(h)-1])
	}
	parts = append(parts, cand.Text)
	if next, err := v.chunks.GetByOrdinal(ctx, cand.DocumentID, cand.Ordinal+1, nil); err == nil {
		parts = append(parts, next.Text)
	}
	return strings.Join(parts, "\n\n")
}
