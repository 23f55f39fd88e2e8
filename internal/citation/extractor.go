// Package citation grounds generated answers in their source chunks and
// verifies citation accuracy against the index. Every citation links one
// claim to a literal span of exactly one chunk; answers synthesizing
// several chunks are decomposed into one citation per claim.
package citation

import (
	"strings"
	"unicode"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
	"grounded-rag/internal/similarity"
)

// accuracyThreshold is the confidence floor for an accurate citation.
const accuracyThreshold = 0.7

type Extractor struct {
	cfg config.CitationConfig
}

func NewExtractor(cfg config.CitationConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract decomposes the answer into sentence-level claims and grounds
// each in the best-matching chunk of the context set. Claims that match
// no chunk at all still yield an inference citation against the closest
// chunk, with the low-relevance issue attached.
func (e *Extractor) Extract(answer string, selected []models.Selected) []models.Citation {
	if len(selected) == 0 {
		return nil
	}
	var citations []models.Citation
	for _, claim := range SplitSentences(answer) {
		if c := e.Ground(claim, selected); c != nil {
			citations = append(citations, *c)
		}
	}
	return citations
}

// Ground finds the chunk that best supports a single claim and builds
// its citation. Returns nil only for empty claims.
func (e *Extractor) Ground(claim string, selected []models.Selected) *models.Citation {
	claim = strings.TrimSpace(claim)
	if claim == "" {
		return nil
	}
	var (
		best      *models.Selected
		bestScore float64
	)
	for i := range selected {
		score := e.spanScore(claim, selected[i].Text)
		if best == nil || score > bestScore {
			best = &selected[i]
			bestScore = score
		}
	}
	return e.buildCitation(claim, best, bestScore)
}

// Grade builds the citation for a claim whose supporting span and chunk
// were proposed externally (by the extraction model), re-scoring and
// re-classifying both against the chunk text. An empty span is replaced
// with the best local span.
func (e *Extractor) Grade(claim, span string, sel models.Selected) models.Citation {
	if span == "" {
		span = e.bestTextSpan(sel.Text, claim)
	}
	score, issues := spanMatch(span, sel.Text, e.cfg.ParaphraseThreshold)

	relevance := similarity.TokenOverlap(claim, sel.Text)
	if relevance < e.cfg.RelevanceThreshold {
		issues = append(issues, models.IssueLowClaimRelevance)
		if ceiling := relevance + e.cfg.RelevanceThreshold; score > ceiling {
			score = ceiling
		}
	}

	c := e.assemble(claim, sel.Chunk, score, issues)
	c.TextSpan = span
	return *c
}

// spanScore measures how literally the chunk supports the claim: 1.0
// for a normalized substring, otherwise the best per-sentence fuzzy
// ratio.
func (e *Extractor) spanScore(claim, chunkText string) float64 {
	if strings.Contains(normalize(chunkText), normalize(claim)) {
		return 1.0
	}
	best := 0.0
	for _, sentence := range SplitSentences(chunkText) {
		if r := similarity.Ratio(claim, sentence); r > best {
			best = r
		}
	}
	return best
}

func (e *Extractor) buildCitation(claim string, sel *models.Selected, score float64) *models.Citation {
	var issues []string
	relevance := similarity.TokenOverlap(claim, sel.Text)
	if relevance < e.cfg.RelevanceThreshold {
		issues = append(issues, models.IssueLowClaimRelevance)
		if ceiling := relevance + e.cfg.RelevanceThreshold; score > ceiling {
			score = ceiling
		}
	}
	c := e.assemble(claim, sel.Chunk, score, issues)
	c.TextSpan = e.bestTextSpan(sel.Text, claim)
	return c
}

func (e *Extractor) assemble(claim string, chunk models.Chunk, confidence float64, issues []string) *models.Citation {
	typ := models.Inference
	switch {
	case confidence >= 1.0:
		typ = models.DirectQuote
	case confidence >= e.cfg.ParaphraseThreshold:
		typ = models.Paraphrase
	}
	page := 0
	if len(chunk.PageNumbers) > 0 {
		page = chunk.PageNumbers[0]
	}
	return &models.Citation{
		DocumentName:    chunk.DocumentName,
		DocumentID:      chunk.DocumentID,
		ChunkIndex:      chunk.Ordinal,
		PageNumber:      page,
		Section:         chunk.Section(),
		ClaimText:       claim,
		CitationType:    typ,
		ConfidenceScore: confidence,
		Issues:          issues,
	}
}

// bestTextSpan picks the span of the chunk most relevant to the claim,
// clamped to the configured length band. The sentence sharing the most
// keywords with the claim wins; short winners are expanded in place and
// long ones trimmed with an ellipsis.
func (e *Extractor) bestTextSpan(chunkText, claim string) string {
	claimWords := wordSet(claim)

	var best string
	bestScore := 0
	for _, sentence := range SplitSentences(chunkText) {
		overlap := 0
		for w := range wordSet(sentence) {
			if _, ok := claimWords[w]; ok {
				overlap++
			}
		}
		if overlap > bestScore {
			bestScore = overlap
			best = sentence
		}
	}

	if best != "" {
		if len(best) < e.cfg.SpanMinChars {
			if idx := strings.Index(chunkText, best); idx != -1 {
				end := idx + e.cfg.SpanMaxChars
				if end > len(chunkText) {
					end = len(chunkText)
				}
				return strings.TrimSpace(chunkText[idx:end])
			}
		}
		if len(best) > e.cfg.SpanMaxChars {
			return strings.TrimSpace(best[:e.cfg.SpanMaxChars]) + "..."
		}
		return best
	}
	if len(chunkText) > e.cfg.SpanMaxChars {
		chunkText = chunkText[:e.cfg.SpanMaxChars]
	}
	return strings.TrimSpace(chunkText)
}

// SplitSentences segments text into sentence-level claims. A boundary
// is terminal punctuation followed by whitespace, or a newline.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	flush := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush(i + 1)
			}
		case '\n':
			flush(i)
			start = i + 1
		}
	}
	flush(len(runes))
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(w, ".,;:!?\"'()[]")] = struct{}{}
	}
	delete(set, "")
	return set
}
