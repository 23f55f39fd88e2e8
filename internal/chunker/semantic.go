package chunker

import (
	"strings"

	"github.com/rs/zerolog/log"

	"grounded-rag/internal/helper"
	"grounded-rag/internal/models"
)

// Semantic is the default structure-aware strategy. It accumulates
// structural units into a working buffer and flushes on size, keeping
// headers glued to their body, tables and numbered lists whole up to
// atomicTolerance*maxChars, and paragraphs merged across soft page
// boundaries.
type Semantic struct {
	maxChars        int
	minChars        int
	overlapChars    int
	atomicTolerance float64
}

func (s *Semantic) Name() string { return "semantic" }

// builder carries the per-document emission state of one Chunk() call.
type builder struct {
	lay     *layout
	docID   string
	docName string
	overlap int
	chunks  []models.Chunk
}

func (s *Semantic) Chunk(docID, docName string, units []models.StructuralUnit) ([]models.Chunk, error) {
	lay, err := prepare(units)
	if err != nil {
		return nil, err
	}
	b := &builder{lay: lay, docID: docID, docName: docName, overlap: s.overlapChars}
	tolerance := int(s.atomicTolerance * float64(s.maxChars))

	var buf []int // indices of buffered units
	bufLen := func() int {
		if len(buf) == 0 {
			return 0
		}
		first := lay.units[buf[0]]
		last := lay.units[buf[len(buf)-1]]
		return last.off + len(last.text) - first.off
	}
	headerOnly := func() bool {
		for _, i := range buf {
			if lay.units[i].typ != models.UnitHeading {
				return false
			}
		}
		return len(buf) > 0
	}

	for i := range lay.units {
		u := lay.units[i]
		atomic := u.typ == models.UnitTable || u.typ == models.UnitNumberedList

		if atomic && len(u.text) > s.maxChars {
			// Oversized atomic unit. Glue a pending header onto it,
			// flush anything else first.
			glue := buf
			if !headerOnly() {
				if len(buf) > 0 {
					b.flush(buf)
				}
				glue = nil
			}
			switch {
			case len(u.text) <= tolerance:
				b.flush(append(glue, i))
			case u.intraRef:
				// Intra-list references must resolve without cross-chunk
				// lookup, so the list stays whole even past tolerance.
				log.Warn().
					Str("document", docID).
					Int("size", len(u.text)).
					Int("tolerance", tolerance).
					Msg("numbered list with intra-list references kept whole past tolerance")
				b.flush(append(glue, i))
			default:
				b.forceSplit(glue, i, s.maxChars)
			}
			buf = nil
			continue
		}

		if !atomic && len(u.text) > s.maxChars {
			// An oversized paragraph has no row or item boundaries to
			// respect; it splits at sentence boundaries instead.
			glue := buf
			if !headerOnly() {
				if len(buf) > 0 {
					b.flush(buf)
				}
				glue = nil
			}
			b.splitSentences(glue, i, s.maxChars)
			buf = nil
			continue
		}

		if len(buf) > 0 && bufLen() >= s.minChars &&
			bufLen()+len(unitSeparator)+len(u.text) > s.maxChars &&
			!glued(lay, buf) {
			b.flush(buf)
			buf = nil
		}
		buf = append(buf, i)
	}

	if len(buf) > 0 {
		if headerOnly() && len(b.chunks) > 0 {
			// A trailing heading is never emitted as a content-less
			// chunk; it is absorbed into the previous one.
			b.absorbTail(buf)
		} else {
			b.flush(buf)
		}
	}
	return b.chunks, nil
}

// glued reports whether the buffer must not be flushed before the next
// unit: a header at the end of the buffer is always kept with at least
// the first portion of its following content.
func glued(lay *layout, buf []int) bool {
	if len(buf) == 0 {
		return false
	}
	return lay.units[buf[len(buf)-1]].typ == models.UnitHeading
}

// flush emits the buffered units as one chunk.
func (b *builder) flush(buf []int) {
	first := buf[0]
	last := buf[len(buf)-1]
	start := b.lay.units[first].off
	end := b.lay.spanEnd(last)
	fresh := b.lay.normalized[start:end]
	if strings.TrimSpace(fresh) == "" {
		return
	}

	c := models.Chunk{
		ID:               helper.MustUUID(),
		DocumentID:       b.docID,
		DocumentName:     b.docName,
		Ordinal:          len(b.chunks),
		PageNumbers:      b.lay.pagesInRange(start, end),
		SectionHierarchy: b.lay.units[first].hierarchy,
		Text:             b.overlapPrefix(first) + fresh,
		CharSpan:         models.Span{Start: start, End: end},
		StructuralType:   chunkType(b.lay, buf),
	}
	for _, i := range buf {
		u := b.lay.units[i]
		if crossRefRe.MatchString(u.text) {
			c.HasCrossReference = true
		}
		if u.ragged {
			c.DegradedSplit = true
			log.Warn().
				Str("document", b.docID).
				Int("ordinal", c.Ordinal).
				Msg("table with inconsistent row widths processed in degraded mode")
		}
	}
	if len(buf) == 1 || (len(buf) == 2 && b.lay.units[buf[0]].typ == models.UnitHeading) {
		u := b.lay.units[last]
		c.IsAtomic = u.typ == models.UnitTable || u.typ == models.UnitNumberedList
	}
	b.chunks = append(b.chunks, c)
}

// forceSplit splits an atomic unit past tolerance at row/item
// boundaries only, marking every resulting chunk degraded.
func (b *builder) forceSplit(glue []int, idx, maxChars int) {
	u := b.lay.units[idx]
	// The end of the unit acts as a final boundary so the last piece is
	// split like any other.
	parts := append(append([]int(nil), u.partOffs...), len(u.text))
	b.splitAt(glue, idx, parts, maxChars, true)
	log.Warn().
		Str("document", b.docID).
		Str("type", string(u.typ)).
		Int("size", len(u.text)).
		Msg("atomic unit force-split at part boundaries")
}

// splitSentences splits an oversized non-atomic unit at sentence
// boundaries. The pieces are ordinary paragraph chunks, not degraded
// ones: a paragraph has no structure a split could break.
func (b *builder) splitSentences(glue []int, idx, maxChars int) {
	u := b.lay.units[idx]
	parts := append(sentenceBounds(u.text), len(u.text))
	b.splitAt(glue, idx, parts, maxChars, false)
}

// splitAt emits one chunk per maximal run of parts fitting maxChars.
// A single part larger than the limit still goes out whole.
func (b *builder) splitAt(glue []int, idx int, parts []int, maxChars int, degraded bool) {
	u := b.lay.units[idx]
	pieceStart := 0 // offset within the unit text
	for pieceStart < len(u.text) {
		pieceEnd := len(u.text)
		for p := range parts {
			if parts[p] > pieceStart && parts[p]-pieceStart > maxChars {
				// Take everything up to the previous boundary.
				if prev := parts[p-1]; prev > pieceStart {
					pieceEnd = prev
				} else {
					pieceEnd = parts[p]
				}
				break
			}
		}
		if pieceEnd <= pieceStart {
			pieceEnd = len(u.text)
		}

		start := u.off + pieceStart
		end := u.off + pieceEnd
		if pieceEnd == len(u.text) {
			end = b.lay.spanEnd(idx)
		}
		text := b.lay.normalized[start:end]

		prefix := ""
		if len(glue) > 0 && pieceStart == 0 {
			gs := b.lay.units[glue[0]].off
			start = gs
			text = b.lay.normalized[gs:end]
		} else {
			prefix = b.overlapPrefix(idx)
		}

		typ := models.TypeParagraph
		switch {
		case degraded:
			typ = atomicType(u.typ)
		case len(glue) > 0 && pieceStart == 0:
			typ = models.TypeHeaderBlock
		}
		c := models.Chunk{
			ID:               helper.MustUUID(),
			DocumentID:       b.docID,
			DocumentName:     b.docName,
			Ordinal:          len(b.chunks),
			PageNumbers:      b.lay.pagesInRange(start, end),
			SectionHierarchy: b.lay.units[idx].hierarchy,
			Text:             prefix + text,
			CharSpan:         models.Span{Start: start, End: end},
			StructuralType:   typ,
			IsAtomic:         degraded,
			DegradedSplit:    degraded,
		}
		if crossRefRe.MatchString(text) {
			c.HasCrossReference = true
		}
		b.chunks = append(b.chunks, c)
		pieceStart = pieceEnd
		for pieceStart < len(u.text) && u.text[pieceStart] == '\n' {
			pieceStart++
		}
	}
}

// sentenceBounds returns the offsets at which a new sentence starts:
// after a terminal punctuation run and its trailing whitespace. A "."
// with no whitespace after it, as in a decimal number, is not a
// boundary.
func sentenceBounds(text string) []int {
	var bounds []int
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
		default:
			continue
		}
		j := i + 1
		for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\n') {
			j++
		}
		if j > i+1 && j < len(text) {
			bounds = append(bounds, j)
			i = j - 1
		}
	}
	return bounds
}

// absorbTail extends the last emitted chunk with a trailing heading.
func (b *builder) absorbTail(buf []int) {
	lastChunk := &b.chunks[len(b.chunks)-1]
	end := b.lay.spanEnd(buf[len(buf)-1])
	extra := b.lay.normalized[lastChunk.CharSpan.End:end]
	lastChunk.Text += extra
	lastChunk.CharSpan.End = end
}

// overlapPrefix chooses the context duplicated at the front of a new
// chunk: the nearest enclosing header first, trailing characters of the
// previous chunk otherwise. The prefix is not part of the chunk's char
// span.
func (b *builder) overlapPrefix(firstUnit int) string {
	if len(b.chunks) == 0 || b.overlap <= 0 {
		return ""
	}
	u := b.lay.units[firstUnit]
	if len(u.hierarchy) > 0 {
		header := u.hierarchy[len(u.hierarchy)-1]
		if u.typ != models.UnitHeading {
			return header + unitSeparator
		}
	}
	prev := b.chunks[len(b.chunks)-1]
	tail := prev.Text
	if len(tail) > b.overlap {
		tail = tail[len(tail)-b.overlap:]
		// Back off to a word boundary inside the tail.
		if i := strings.IndexAny(tail, " \t\n"); i >= 0 && i+1 < len(tail) {
			tail = tail[i+1:]
		}
	}
	tail = strings.TrimSpace(tail)
	if tail == "" {
		return ""
	}
	return tail + unitSeparator
}

func chunkType(lay *layout, buf []int) models.StructuralType {
	hasTable, hasList := false, false
	for _, i := range buf {
		switch lay.units[i].typ {
		case models.UnitTable:
			hasTable = true
		case models.UnitNumberedList:
			hasList = true
		}
	}
	switch {
	case hasTable:
		return models.TypeTable
	case hasList:
		return models.TypeNumberedList
	case lay.units[buf[0]].typ == models.UnitHeading:
		return models.TypeHeaderBlock
	default:
		return models.TypeParagraph
	}
}

func atomicType(t models.UnitType) models.StructuralType {
	if t == models.UnitTable {
		return models.TypeTable
	}
	return models.TypeNumberedList
}
