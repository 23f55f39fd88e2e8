package models

import (
	"fmt"
	"time"
)

// StructuralType classifies the dominant content of a chunk.
type StructuralType string

const (
	TypeTable        StructuralType = "table"
	TypeNumberedList StructuralType = "numbered_list"
	TypeParagraph    StructuralType = "paragraph"
	TypeHeaderBlock  StructuralType = "header_block"
)

// Span is a half-open [Start, End) character range into the normalized
// document text.
type Span struct {
	Start int
	End   int
}

func (s Span) Len() int { return s.End - s.Start }

// Chunk is a retrieval-addressable unit of document text. Chunks are
// created once per ingestion pass and their ordinals are never reused
// or renumbered afterwards.
type Chunk struct {
	ID           string
	DocumentID   string
	DocumentName string

	// Ordinal is the 0-based insertion-order position within the document.
	Ordinal int

	// PageNumbers lists every page the chunk's text spans, ascending.
	PageNumbers []int

	// SectionHierarchy holds the enclosing heading texts, root first.
	SectionHierarchy []string

	Text string

	// CharSpan covers the chunk's fresh content in the normalized document
	// text; overlap prefixes duplicated from the previous chunk are part of
	// Text but not of the span.
	CharSpan Span

	IsAtomic          bool
	StructuralType    StructuralType
	HasCrossReference bool

	// DegradedSplit marks chunks produced by force-splitting an atomic
	// unit, or by processing a malformed table in degraded mode.
	DegradedSplit bool
}

// Validate checks the construction invariants of a chunk.
func (c *Chunk) Validate() error {
	if c.DocumentID == "" {
		return fmt.Errorf("chunk %q has no parent document", c.ID)
	}
	if c.Ordinal < 0 {
		return fmt.Errorf("chunk %q has negative ordinal %d", c.ID, c.Ordinal)
	}
	if c.Text == "" {
		return fmt.Errorf("chunk %d of document %s is empty", c.Ordinal, c.DocumentID)
	}
	if c.CharSpan.Start < 0 || c.CharSpan.End < c.CharSpan.Start {
		return fmt.Errorf("chunk %d of document %s has invalid span [%d,%d)",
			c.Ordinal, c.DocumentID, c.CharSpan.Start, c.CharSpan.End)
	}
	switch c.StructuralType {
	case TypeTable, TypeNumberedList, TypeParagraph, TypeHeaderBlock:
	default:
		return fmt.Errorf("chunk %d of document %s has unknown structural type %q",
			c.Ordinal, c.DocumentID, c.StructuralType)
	}
	return nil
}

// Section joins the section hierarchy for display, root first.
func (c *Chunk) Section() string {
	s := ""
	for i, h := range c.SectionHierarchy {
		if i > 0 {
			s += " > "
		}
		s += h
	}
	return s
}

// Candidate is a chunk returned by the vector index together with its
// raw similarity score and the parent document's upload time, as carried
// in the index payload. A zero UploadedAt means the timestamp is unknown.
type Candidate struct {
	Chunk
	Similarity float64
	UploadedAt time.Time
}
