package chunker

import (
	"strings"
	"unicode"

	"grounded-rag/internal/helper"
	"grounded-rag/internal/models"
)

// SlidingWindow chunks the flattened document text into fixed windows
// of at most maxChars characters, each window after the first repeating
// the trailing overlapChars of the previous one. Window boundaries back
// off to the nearest preceding whitespace so no word is split.
type SlidingWindow struct {
	maxChars     int
	overlapChars int
}

func (s *SlidingWindow) Name() string { return "sliding_window" }

func (s *SlidingWindow) Chunk(docID, docName string, units []models.StructuralUnit) ([]models.Chunk, error) {
	lay, err := prepare(units)
	if err != nil {
		return nil, err
	}
	text := lay.normalized

	var chunks []models.Chunk
	ordinal := 0
	start := 0
	for start < len(text) {
		end := start + s.maxChars
		if end >= len(text) {
			end = len(text)
		} else if !isBoundary(text, end) {
			if ws := lastSpace(text, start, end); ws > start {
				end = ws + 1
			}
		}
		// Guarantee forward progress past the overlap region even for
		// unbroken runs of non-whitespace.
		if end <= start {
			end = start + s.maxChars
			if end > len(text) {
				end = len(text)
			}
		}

		if strings.TrimSpace(text[start:end]) != "" {
			c := models.Chunk{
				ID:               helper.MustUUID(),
				DocumentID:       docID,
				DocumentName:     docName,
				Ordinal:          ordinal,
				PageNumbers:      lay.pagesInRange(start, end),
				SectionHierarchy: lay.hierarchyAt(start),
				Text:             text[start:end],
				CharSpan:         models.Span{Start: start, End: end},
				StructuralType:   models.TypeParagraph,
			}
			if err := c.Validate(); err != nil {
				return nil, err
			}
			chunks = append(chunks, c)
			ordinal++
		}

		if end == len(text) {
			break
		}
		next := end - s.overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks, nil
}

// isBoundary reports whether cutting at off would not split a word.
func isBoundary(text string, off int) bool {
	return unicode.IsSpace(rune(text[off])) || unicode.IsSpace(rune(text[off-1]))
}

// lastSpace returns the index of the last whitespace byte in
// (start, end), or -1.
func lastSpace(text string, start, end int) int {
	for i := end - 1; i > start; i-- {
		if unicode.IsSpace(rune(text[i])) {
			return i
		}
	}
	return -1
}
