package models

import "fmt"

// CitationType records how a generated claim uses its source.
type CitationType string

const (
	DirectQuote CitationType = "direct_quote"
	Paraphrase  CitationType = "paraphrase"
	Inference   CitationType = "inference"
)

// Issue codes attached to citations and verification responses.
const (
	IssueSpanNotFound      = "text_span_not_found_in_source"
	IssueSpanFuzzyMatch    = "text_span_fuzzy_match"
	IssueLowClaimRelevance = "low_claim_relevance"
)

// Citation links one generated claim to a literal span of one chunk.
// Claims synthesizing several chunks are represented as several
// citations; a citation never spans documents.
type Citation struct {
	DocumentName    string
	DocumentID      string
	ChunkIndex      int
	PageNumber      int
	Section         string
	ClaimText       string
	TextSpan        string
	CitationType    CitationType
	ConfidenceScore float64
	Issues          []string
}

// Validate checks the construction invariants of a citation.
func (c *Citation) Validate() error {
	if c.DocumentID == "" {
		return fmt.Errorf("citation has no document id")
	}
	if c.ChunkIndex < 0 {
		return fmt.Errorf("citation has negative chunk index %d", c.ChunkIndex)
	}
	switch c.CitationType {
	case DirectQuote, Paraphrase, Inference:
	default:
		return fmt.Errorf("unknown citation type %q", c.CitationType)
	}
	if c.ConfidenceScore < 0 || c.ConfidenceScore > 1 {
		return fmt.Errorf("confidence %f out of range", c.ConfidenceScore)
	}
	return nil
}

// VerificationRequest asks whether a claim is supported by a specific
// chunk of a specific document.
type VerificationRequest struct {
	DocumentID       string
	ChunkIndex       int
	ClaimText        string
	ExpectedTextSpan string
}

// VerificationResponse reports how well the claim matches the source.
// A deleted or reindexed chunk is a distinct not-found error from the
// verifier, never a low-confidence response.
type VerificationResponse struct {
	SourceText      string
	Context         string
	ConfidenceScore float64
	IsAccurate      bool
	Citation        *Citation
	Issues          []string
}
