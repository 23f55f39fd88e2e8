// Package budget assembles the final context set under a token budget,
// balancing rank order against diversity and completeness. Selection
// is a pure fold over the priority-ordered candidates producing
// (chunk, inclusion reason) pairs.
package budget

import (
	"strings"

	"github.com/rs/zerolog/log"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
	"grounded-rag/internal/reranker"
	"grounded-rag/internal/similarity"
)

type Selector struct {
	cfg     config.BudgetConfig
	counter Counter
}

func NewSelector(cfg config.BudgetConfig, counter Counter) *Selector {
	if counter == nil {
		counter = NewCounter(cfg.Encoding, cfg.CharsPerToken)
	}
	return &Selector{cfg: cfg, counter: counter}
}

type entry struct {
	sc     reranker.Scored
	reason models.InclusionReason
}

// Select picks a budget-respecting subset of the reranked candidates.
// A zero or negative budget yields an empty, non-error selection.
func (s *Selector) Select(scored []reranker.Scored) []models.Selected {
	if s.cfg.MaxTokens <= 0 || len(scored) == 0 {
		return nil
	}

	queue := s.orderForCompleteness(scored)

	var (
		selected []models.Selected
		demoted  []entry
		total    int
	)

	accept := func(e entry, text string, tokens int, truncated bool) {
		reason := e.reason
		if truncated {
			reason = models.ReasonTruncated
		}
		selected = append(selected, models.Selected{
			Chunk:     e.sc.Chunk,
			Text:      text,
			Tokens:    tokens,
			Final:     e.sc.Final,
			Augmented: e.sc.Augmented,
			Reason:    reason,
			Truncated: truncated,
		})
		total += tokens
	}

	// Main pass: rank order, near-duplicates pushed back instead of
	// dropped. Best-fit: a chunk that does not fit is skipped, smaller
	// later candidates still get considered.
	stopped := false
	for _, e := range queue {
		if s.isNearDuplicate(e.sc.Text, selected) {
			demoted = append(demoted, entry{sc: e.sc, reason: models.ReasonDiversityDemoted})
			continue
		}
		if done := s.place(e, accept, total); done {
			stopped = true
			break
		}
	}

	// Demoted pass: near-duplicates are admitted last, full-size only.
	if !stopped {
		for _, e := range demoted {
			tokens := s.counter.Count(e.sc.Text)
			if total+tokens <= s.cfg.MaxTokens {
				accept(e, e.sc.Text, tokens, false)
			}
		}
	}
	return selected
}

// place tries to admit one entry. It reports true when selection must
// stop because the budget tail was consumed by a truncated chunk.
func (s *Selector) place(e entry, accept func(entry, string, int, bool), total int) bool {
	tokens := s.counter.Count(e.sc.Text)
	if total+tokens <= s.cfg.MaxTokens {
		accept(e, e.sc.Text, tokens, false)
		return false
	}
	remaining := s.cfg.MaxTokens - total
	if remaining >= s.cfg.MinTruncationRemainder && e.sc.Final >= s.cfg.HighValueScore {
		text, tokens := s.truncate(e.sc.Text, remaining)
		if text != "" {
			accept(e, text, tokens, true)
			log.Debug().
				Str("document", e.sc.Chunk.DocumentID).
				Int("ordinal", e.sc.Chunk.Ordinal).
				Int("tokens", tokens).
				Msg("high-value chunk truncated to fill remaining budget")
			return true
		}
	}
	return false
}

// orderForCompleteness pulls an augmented neighbor forward to directly
// follow its sibling when that sibling was degraded-split or ends
// mid-thought, so truncated content arrives with its continuation.
func (s *Selector) orderForCompleteness(scored []reranker.Scored) []entry {
	pulled := make(map[int]bool, len(scored))
	queue := make([]entry, 0, len(scored))

	for i, sc := range scored {
		if pulled[i] {
			continue
		}
		queue = append(queue, entry{sc: sc, reason: models.ReasonRanked})
		if !sc.Chunk.DegradedSplit && endsWithTerminal(sc.Chunk.Text) {
			continue
		}
		for j := i + 1; j < len(scored); j++ {
			n := scored[j]
			if pulled[j] || !n.Augmented {
				continue
			}
			if n.Chunk.DocumentID != sc.Chunk.DocumentID {
				continue
			}
			d := n.Chunk.Ordinal - sc.Chunk.Ordinal
			if d != 1 && d != -1 {
				continue
			}
			pulled[j] = true
			queue = append(queue, entry{sc: n, reason: models.ReasonCompletenessIncluded})
		}
	}
	return queue
}

func (s *Selector) isNearDuplicate(text string, selected []models.Selected) bool {
	for _, acc := range selected {
		if similarity.Jaccard(text, acc.Text) >= s.cfg.DiversityThreshold {
			return true
		}
	}
	return false
}

// truncate cuts text down to at most maxTokens, backing off to a word
// boundary.
func (s *Selector) truncate(text string, maxTokens int) (string, int) {
	limit := maxTokens * s.cfg.CharsPerToken
	if limit >= len(text) {
		limit = len(text)
	}
	cut := text[:limit]
	for tokens := s.counter.Count(cut); tokens > maxTokens && len(cut) > 0; tokens = s.counter.Count(cut) {
		// Shave proportionally; converges in a few rounds.
		next := len(cut) * maxTokens / tokens
		if next >= len(cut) {
			next = len(cut) - 1
		}
		cut = cut[:next]
	}
	if i := strings.LastIndexAny(cut, " \t\n"); i > 0 {
		cut = cut[:i]
	}
	cut = strings.TrimSpace(cut)
	if cut == "" {
		return "", 0
	}
	return cut, s.counter.Count(cut)
}

func endsWithTerminal(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	switch text[len(text)-1] {
	case '.', '!', '?', '"', '\'', ')':
		return true
	}
	return false
}
