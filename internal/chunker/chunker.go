// Package chunker turns a parsed structural-unit stream into ordered,
// metadata-rich chunks. Two interchangeable strategies are provided:
// a flat sliding window and the default structure-aware semantic
// chunker.
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

// ErrTruncatedStream is returned for a malformed or truncated unit
// stream. Ingestion of the document is aborted; the chunker never
// silently drops source text.
var ErrTruncatedStream = errors.New("malformed structural unit stream")

// Strategy chunks one document's unit stream. Implementations are
// stateless and deterministic: the same stream always yields the same
// chunk sequence.
type Strategy interface {
	Name() string
	Chunk(docID, docName string, units []models.StructuralUnit) ([]models.Chunk, error)
}

// New returns the strategy selected by cfg, or
// config.ErrUnknownStrategy for a name it does not recognize.
func New(cfg config.ChunkerConfig) (Strategy, error) {
	switch cfg.Strategy {
	case config.StrategySlidingWindow:
		return &SlidingWindow{
			maxChars:     cfg.MaxChars,
			overlapChars: cfg.OverlapChars,
		}, nil
	case config.StrategySemantic:
		return &Semantic{
			maxChars:        cfg.MaxChars,
			minChars:        cfg.MinChars,
			overlapChars:    cfg.OverlapChars,
			atomicTolerance: cfg.AtomicTolerance,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownStrategy, cfg.Strategy)
	}
}

const unitSeparator = "\n\n"

var (
	intraListRefRe = regexp.MustCompile(`(?i)\b(see|refer to)\s+items?\s+\d+|\bitems?\s+\d+\s+(above|below)\b`)
	crossRefRe     = regexp.MustCompile(`(?i)\b(see\s+(also\s+)?|as\s+(defined|described|specified)\s+in\s+)(section|chapter|document|appendix|clause)\s+[\w.\-]+`)
)

// renderedUnit is a content unit laid out into the normalized document
// text. Page breaks never become rendered units; they only feed page
// bookkeeping.
type renderedUnit struct {
	typ       models.UnitType
	text      string
	off       int // start offset in the normalized text
	pages     []int
	level     int
	hierarchy []string // enclosing headings, root first, excluding self
	partOffs  []int    // row/item start offsets within text (atomic units)
	intraRef  bool
	ragged    bool
}

// layout is the normalized form of a document: the flattened text plus
// per-unit offsets. Chunk char spans index into normalized.
type layout struct {
	normalized string
	units      []renderedUnit
}

// spanEnd returns the end of unit i's region: the next unit's offset so
// that separators are covered and spans tile the text without gaps.
func (l *layout) spanEnd(i int) int {
	if i+1 < len(l.units) {
		return l.units[i+1].off
	}
	return len(l.normalized)
}

// pagesInRange returns the sorted distinct pages of units overlapping
// the half-open range [start, end).
func (l *layout) pagesInRange(start, end int) []int {
	seen := map[int]bool{}
	for i, u := range l.units {
		if u.off >= end || l.spanEnd(i) <= start {
			continue
		}
		for _, p := range u.pages {
			if p > 0 {
				seen[p] = true
			}
		}
	}
	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// hierarchyAt returns the section hierarchy of the unit containing off.
func (l *layout) hierarchyAt(off int) []string {
	for i, u := range l.units {
		if off >= u.off && off < l.spanEnd(i) {
			return u.hierarchy
		}
	}
	return nil
}

// prepare validates the unit stream, merges page-spanning paragraphs,
// assigns heading hierarchies and flattens everything into normalized
// text with stable offsets.
func prepare(units []models.StructuralUnit) (*layout, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: empty stream", ErrTruncatedStream)
	}
	for i, u := range units {
		if err := u.Validate(); err != nil {
			return nil, fmt.Errorf("%w: unit %d: %v", ErrTruncatedStream, i, err)
		}
	}

	merged := mergeContinuations(units)

	var (
		rendered []renderedUnit
		stack    []string // heading text per level, 1-based
		levels   []int
	)
	for _, m := range merged {
		if m.unit.Type == models.UnitPageBreak {
			continue
		}
		ru := renderedUnit{
			typ:   m.unit.Type,
			pages: m.pages,
			level: m.unit.Level,
		}
		// Hierarchy is the heading path above this unit.
		ru.hierarchy = append([]string(nil), stack...)

		switch m.unit.Type {
		case models.UnitHeading:
			ru.text = strings.TrimSpace(m.unit.Text)
			// Pop deeper or equal levels before snapshotting, so a
			// sibling heading is not its own ancestor.
			for len(levels) > 0 && levels[len(levels)-1] >= m.unit.Level {
				levels = levels[:len(levels)-1]
				stack = stack[:len(stack)-1]
			}
			ru.hierarchy = append([]string(nil), stack...)
			stack = append(stack, ru.text)
			levels = append(levels, m.unit.Level)
		case models.UnitParagraph:
			ru.text = strings.TrimSpace(m.unit.Text)
		case models.UnitTable:
			ru.text, ru.partOffs, ru.ragged = renderTable(m.unit.Rows)
		case models.UnitNumberedList:
			ru.text, ru.partOffs = renderList(m.unit.Items)
			ru.intraRef = intraListRefRe.MatchString(ru.text)
		}
		if strings.TrimSpace(ru.text) == "" {
			continue
		}
		rendered = append(rendered, ru)
	}
	if len(rendered) == 0 {
		return nil, fmt.Errorf("%w: no content units", ErrTruncatedStream)
	}

	var b strings.Builder
	for i := range rendered {
		rendered[i].off = b.Len()
		b.WriteString(rendered[i].text)
		if i < len(rendered)-1 {
			b.WriteString(unitSeparator)
		}
	}
	return &layout{normalized: b.String(), units: rendered}, nil
}

type mergedUnit struct {
	unit  models.StructuralUnit
	pages []int
}

// mergeContinuations joins a paragraph split by a page break with the
// paragraph that continues it on the next page. The continuation
// heuristics are the absence of terminal punctuation before the break
// and a lower-case token after it; the merged unit records both pages.
func mergeContinuations(units []models.StructuralUnit) []mergedUnit {
	var out []mergedUnit
	for i := 0; i < len(units); i++ {
		u := units[i]
		m := mergedUnit{unit: u}
		if u.Page > 0 {
			m.pages = []int{u.Page}
		}
		if u.Type == models.UnitParagraph {
			for i+2 < len(units) &&
				units[i+1].Type == models.UnitPageBreak &&
				units[i+2].Type == models.UnitParagraph &&
				continuesAcrossPage(m.unit.Text, units[i+2].Text) {
				next := units[i+2]
				m.unit.Text = strings.TrimSpace(m.unit.Text) + " " + strings.TrimSpace(next.Text)
				if next.Page > 0 {
					m.pages = append(m.pages, next.Page)
				}
				i += 2
			}
		}
		out = append(out, m)
	}
	return out
}

func continuesAcrossPage(before, after string) bool {
	before = strings.TrimSpace(before)
	after = strings.TrimSpace(after)
	if before == "" || after == "" {
		return false
	}
	last := before[len(before)-1]
	switch last {
	case '.', '!', '?', ':', ';', '"', '\'':
		// Terminal punctuation; still merge when the next page clearly
		// continues mid-sentence with a lower-case token.
	default:
		return true
	}
	first := []rune(after)[0]
	return first >= 'a' && first <= 'z'
}

// renderTable lays table rows out as pipe-delimited lines and reports
// whether the row widths are inconsistent (degraded mode, not an
// error).
func renderTable(rows [][]string) (string, []int, bool) {
	width := -1
	ragged := false
	var b strings.Builder
	offs := make([]int, 0, len(rows))
	for i, row := range rows {
		if width == -1 {
			width = len(row)
		} else if len(row) != width {
			ragged = true
		}
		offs = append(offs, b.Len())
		b.WriteString("| " + strings.Join(row, " | ") + " |")
		if i < len(rows)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String(), offs, ragged
}

// renderList lays list items out one per line, numbering items that do
// not already carry their own numbers.
func renderList(items []string) (string, []int) {
	var b strings.Builder
	offs := make([]int, 0, len(items))
	numbered := regexp.MustCompile(`^\d+[.)]\s`)
	for i, item := range items {
		offs = append(offs, b.Len())
		item = strings.TrimSpace(item)
		if !numbered.MatchString(item) {
			b.WriteString(fmt.Sprintf("%d. ", i+1))
		}
		b.WriteString(item)
		if i < len(items)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String(), offs
}
