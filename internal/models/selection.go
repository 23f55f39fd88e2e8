package models

// InclusionReason explains why the budget selector admitted a chunk.
type InclusionReason string

const (
	ReasonRanked               InclusionReason = "ranked"
	ReasonDiversityDemoted     InclusionReason = "diversity_demoted"
	ReasonCompletenessIncluded InclusionReason = "completeness_included"
	ReasonTruncated            InclusionReason = "truncated"
)

// Selected is one chunk of the final context set, tagged with the
// reason it was included. Text may be shorter than the chunk's own text
// when Truncated is set.
type Selected struct {
	Chunk     Chunk
	Text      string
	Tokens    int
	Final     float64
	Augmented bool
	Reason    InclusionReason
	Truncated bool
}
